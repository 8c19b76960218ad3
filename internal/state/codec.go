package state

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	json "github.com/goccy/go-json"
)

// On-disk shape:
//
//	[{"contestId": 5, "data": [{"name": "bob", "problems": [3, 4]}]}]
type contestRecord struct {
	ContestID *int          `json:"contestId"`
	Data      *[]userRecord `json:"data"`
}

type userRecord struct {
	Name     *string `json:"name"`
	Problems *[]int  `json:"problems"`
}

// Encode renders s in the on-disk shape. Output is deterministic: contests
// ascending, users by name, problems ascending.
func Encode(s Snapshot) ([]byte, error) {
	out := make([]contestRecord, 0, len(s))
	for _, cid := range s.ContestIDs() {
		users := s[cid]
		names := make([]string, 0, len(users))
		for name := range users {
			names = append(names, name)
		}
		sort.Strings(names)

		data := make([]userRecord, 0, len(names))
		for _, name := range names {
			n := name
			problems := users[name].Sorted()
			data = append(data, userRecord{Name: &n, Problems: &problems})
		}
		id := cid
		out = append(out, contestRecord{ContestID: &id, Data: &data})
	}
	return json.MarshalIndent(out, "", "  ")
}

// Decode parses the on-disk shape. Unknown fields are ignored. An empty
// or null document is an error, as is a missing required field.
// Repeated contests or users are merged.
func Decode(b []byte) (Snapshot, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, errors.New("decode: empty document")
	}
	var recs *[]contestRecord
	if err := json.Unmarshal(b, &recs); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if recs == nil {
		return nil, errors.New("decode: top level is not a list")
	}
	s := Snapshot{}
	for i, rec := range *recs {
		if rec.ContestID == nil {
			return nil, fmt.Errorf("entry %d: missing contestId", i)
		}
		if rec.Data == nil {
			return nil, fmt.Errorf("contest %d: missing data", *rec.ContestID)
		}
		for j, u := range *rec.Data {
			if u.Name == nil {
				return nil, fmt.Errorf("contest %d user %d: missing name", *rec.ContestID, j)
			}
			if u.Problems == nil {
				return nil, fmt.Errorf("contest %d user %q: missing problems", *rec.ContestID, *u.Name)
			}
			if *u.Name == "" {
				return nil, fmt.Errorf("contest %d user %d: empty name", *rec.ContestID, j)
			}
			s.Touch(*rec.ContestID, *u.Name)
			for _, pid := range *u.Problems {
				s.Add(*rec.ContestID, *u.Name, pid)
			}
		}
		if _, ok := s[*rec.ContestID]; !ok {
			s[*rec.ContestID] = map[string]SolvedSet{}
		}
	}
	return s, nil
}
