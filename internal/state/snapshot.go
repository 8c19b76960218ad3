package state

import "sort"

// SolvedSet is the set of problem ids a user scored fully in one contest.
type SolvedSet map[int]struct{}

func NewSolvedSet(ids ...int) SolvedSet {
	s := make(SolvedSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s SolvedSet) Has(id int) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the ids in ascending order.
func (s SolvedSet) Sorted() []int {
	out := make([]int, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

// Snapshot maps contest id → user name → solved set.
type Snapshot map[int]map[string]SolvedSet

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for cid, users := range s {
		cu := make(map[string]SolvedSet, len(users))
		for name, set := range users {
			cs := make(SolvedSet, len(set))
			for id := range set {
				cs[id] = struct{}{}
			}
			cu[name] = cs
		}
		out[cid] = cu
	}
	return out
}

// Solved returns the recorded set for (contest, user); nil when absent.
func (s Snapshot) Solved(contestID int, user string) SolvedSet {
	return s[contestID][user]
}

func (s Snapshot) Has(contestID int, user string, problemID int) bool {
	return s[contestID][user].Has(problemID)
}

// Add records problemID for (contest, user) and returns the resulting set size.
func (s Snapshot) Add(contestID int, user string, problemID int) int {
	users, ok := s[contestID]
	if !ok {
		users = map[string]SolvedSet{}
		s[contestID] = users
	}
	set, ok := users[user]
	if !ok {
		set = SolvedSet{}
		users[user] = set
	}
	set[problemID] = struct{}{}
	return len(set)
}

// Touch makes sure (contest, user) exists, even with an empty set.
func (s Snapshot) Touch(contestID int, user string) {
	users, ok := s[contestID]
	if !ok {
		users = map[string]SolvedSet{}
		s[contestID] = users
	}
	if _, ok := users[user]; !ok {
		users[user] = SolvedSet{}
	}
}

// Len is the total number of recorded (contest, user, problem) triples.
func (s Snapshot) Len() int {
	n := 0
	for _, users := range s {
		for _, set := range users {
			n += len(set)
		}
	}
	return n
}

// Contains reports whether every triple of other is also recorded in s.
func (s Snapshot) Contains(other Snapshot) bool {
	for cid, users := range other {
		for name, set := range users {
			got := s[cid][name]
			for id := range set {
				if !got.Has(id) {
					return false
				}
			}
		}
	}
	return true
}

// Equal reports whether s and other record the same triples. A missing user
// and a user with an empty set are considered different.
func (s Snapshot) Equal(other Snapshot) bool {
	if len(s) != len(other) {
		return false
	}
	for cid, users := range s {
		ou, ok := other[cid]
		if !ok || len(ou) != len(users) {
			return false
		}
		for name, set := range users {
			oset, ok := ou[name]
			if !ok || len(oset) != len(set) {
				return false
			}
			for id := range set {
				if !oset.Has(id) {
					return false
				}
			}
		}
	}
	return true
}

// ContestIDs returns the contest ids in ascending order.
func (s Snapshot) ContestIDs() []int {
	out := make([]int, 0, len(s))
	for cid := range s {
		out = append(out, cid)
	}
	sort.Ints(out)
	return out
}
