package ranking

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	json "github.com/goccy/go-json"
)

// The contest API answers with positional JSON arrays rather than objects.
//
//	contest: [_, [_, name, ...], _, [[id, round, problem, can_view, label, name], ...], ...]
//	ranking: [header, [_, user, [[id, round, problem, status, score], ...]], ...]
const (
	metaContestIdx  = 1
	metaNameIdx     = 1
	metaProblemsIdx = 3

	problemIDIdx   = 0
	problemNameIdx = 5

	rowUserIdx    = 1
	rowEntriesIdx = 2

	entryProblemIdx = 2
	entryScoreIdx   = 4
)

// FetchContestMeta returns the contest name and its problem id→name mapping.
func (c *Client) FetchContestMeta(ctx context.Context, sess Session, contestID int) (ContestMeta, error) {
	body, err := c.post(ctx, sess, "contest", contestID, "/api/contest/c"+strconv.Itoa(contestID))
	if err != nil {
		return ContestMeta{}, err
	}
	meta, err := ParseContestMeta(body)
	if err != nil {
		return ContestMeta{}, &UpstreamError{Op: "contest", ContestID: contestID, Err: err}
	}
	meta.ID = contestID
	return meta, nil
}

// FetchRanking returns the solved problems of every user listed in the
// contest ranking.
func (c *Client) FetchRanking(ctx context.Context, sess Session, contestID int) (Ranking, error) {
	body, err := c.post(ctx, sess, "ranking", contestID, "/api/contest/c"+strconv.Itoa(contestID)+"/ranking")
	if err != nil {
		return Ranking{}, err
	}
	rk, err := ParseRanking(body)
	if err != nil {
		return Ranking{}, &UpstreamError{Op: "ranking", ContestID: contestID, Err: err}
	}
	rk.ContestID = contestID
	return rk, nil
}

// ParseContestMeta decodes a contest payload. Problem fields other than id and
// name are ignored.
func ParseContestMeta(body []byte) (ContestMeta, error) {
	var top []json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return ContestMeta{}, fmt.Errorf("decode contest: %w", err)
	}
	if len(top) <= metaProblemsIdx {
		return ContestMeta{}, fmt.Errorf("contest payload has %d elements, want > %d", len(top), metaProblemsIdx)
	}

	var contest []json.RawMessage
	if err := json.Unmarshal(top[metaContestIdx], &contest); err != nil {
		return ContestMeta{}, fmt.Errorf("decode contest header: %w", err)
	}
	if len(contest) <= metaNameIdx {
		return ContestMeta{}, errors.New("contest header too short")
	}
	meta := ContestMeta{Problems: map[int]string{}}
	if err := json.Unmarshal(contest[metaNameIdx], &meta.Name); err != nil {
		return ContestMeta{}, fmt.Errorf("decode contest name: %w", err)
	}

	var problems [][]json.RawMessage
	if err := json.Unmarshal(top[metaProblemsIdx], &problems); err != nil {
		return ContestMeta{}, fmt.Errorf("decode problems: %w", err)
	}
	for i, rec := range problems {
		if len(rec) <= problemNameIdx {
			return ContestMeta{}, fmt.Errorf("problem %d: record has %d fields", i, len(rec))
		}
		var id int
		if err := json.Unmarshal(rec[problemIDIdx], &id); err != nil {
			return ContestMeta{}, fmt.Errorf("problem %d: id: %w", i, err)
		}
		var name string
		if err := json.Unmarshal(rec[problemNameIdx], &name); err != nil {
			return ContestMeta{}, fmt.Errorf("problem %d: name: %w", i, err)
		}
		if _, dup := meta.Problems[id]; !dup {
			meta.Order = append(meta.Order, id)
		}
		meta.Problems[id] = name
	}
	return meta, nil
}

// ParseRanking decodes a ranking payload. The first row is a header and is
// skipped; an entry counts as solved only with a score of exactly MaxScore.
func ParseRanking(body []byte) (Ranking, error) {
	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return Ranking{}, fmt.Errorf("decode ranking: %w", err)
	}

	var rk Ranking
	if len(rows) <= 1 {
		return rk, nil
	}
	rk.Rows = make([]Row, 0, len(rows)-1)
	for i, rawRow := range rows[1:] {
		var raw []json.RawMessage
		if err := json.Unmarshal(rawRow, &raw); err != nil {
			return Ranking{}, fmt.Errorf("row %d: %w", i+1, err)
		}
		if len(raw) <= rowEntriesIdx {
			return Ranking{}, fmt.Errorf("row %d: has %d fields", i+1, len(raw))
		}
		var row Row
		if err := json.Unmarshal(raw[rowUserIdx], &row.User); err != nil {
			return Ranking{}, fmt.Errorf("row %d: user: %w", i+1, err)
		}
		var entries [][]json.RawMessage
		if err := json.Unmarshal(raw[rowEntriesIdx], &entries); err != nil {
			return Ranking{}, fmt.Errorf("row %d: entries: %w", i+1, err)
		}
		seen := make(map[int]struct{}, len(entries))
		for j, e := range entries {
			if len(e) <= entryScoreIdx {
				return Ranking{}, fmt.Errorf("row %d entry %d: has %d fields", i+1, j, len(e))
			}
			// Unsubmitted problems carry a null score.
			var score *float64
			if err := json.Unmarshal(e[entryScoreIdx], &score); err != nil {
				return Ranking{}, fmt.Errorf("row %d entry %d: score: %w", i+1, j, err)
			}
			if score == nil || *score != MaxScore {
				continue
			}
			var pid int
			if err := json.Unmarshal(e[entryProblemIdx], &pid); err != nil {
				return Ranking{}, fmt.Errorf("row %d entry %d: problem: %w", i+1, j, err)
			}
			if _, dup := seen[pid]; dup {
				continue
			}
			seen[pid] = struct{}{}
			row.Solved = append(row.Solved, pid)
		}
		rk.Rows = append(rk.Rows, row)
	}
	return rk, nil
}
