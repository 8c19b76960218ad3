package reconcile

import (
	"simlog/internal/ranking"
	"simlog/internal/state"
)

// Diff returns the solves present in rk but absent from prev, restricted to
// users. Events follow ranking row order and, within a row, entry order.
//
// Done and Total are filled in as if every returned event were recorded;
// Cycle recomputes Done when a delivery policy skips some of them.
func Diff(prev state.Snapshot, meta ranking.ContestMeta, rk ranking.Ranking, users []User) []SolveEvent {
	tracked := make(map[string]User, len(users))
	for _, u := range users {
		tracked[u.Name] = u
	}

	// A user listed in several rows is taken from the last one.
	last := make(map[string]int, len(rk.Rows))
	for i, row := range rk.Rows {
		last[row.User] = i
	}

	var out []SolveEvent
	for i, row := range rk.Rows {
		u, ok := tracked[row.User]
		if !ok || last[row.User] != i {
			continue
		}

		have := prev.Solved(rk.ContestID, row.User)
		done := len(have)
		seq := 0
		for _, pid := range row.Solved {
			if have.Has(pid) {
				continue
			}
			seq++
			done++
			out = append(out, SolveEvent{
				ContestID:   rk.ContestID,
				ContestName: meta.Name,
				User:        u.Name,
				Pronouns:    u.Pronouns,
				ProblemID:   pid,
				ProblemName: meta.ProblemName(pid),
				Seq:         seq,
				Done:        done,
				Total:       meta.Total(),
			})
		}
	}
	return out
}
