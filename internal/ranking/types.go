// Package ranking is a client for the SIM contest ranking service.
//
// It is a pure data fetcher: no state, no internal retries. Retrying is the
// scheduler's job.
package ranking

import (
	"errors"
	"fmt"
	"net/http"
)

// Session is the authorization material obtained via sign-in. It is passed
// explicitly to every call; refreshing means calling Authenticate again.
type Session struct {
	Token     string
	CSRFToken string
	UserID    int64
}

func (s Session) Valid() bool { return s.Token != "" && s.CSRFToken != "" && s.UserID != 0 }

func (s Session) apply(req *http.Request) {
	req.AddCookie(&http.Cookie{Name: cookieSession, Value: s.Token})
	req.AddCookie(&http.Cookie{Name: cookieCSRF, Value: s.CSRFToken})
}

// ContestMeta carries the display data of a contest. It is fetched fresh every
// cycle and never persisted.
type ContestMeta struct {
	ID       int
	Name     string
	Problems map[int]string
	// Order lists problem ids as the service returned them.
	Order []int
}

// Total is the number of problems in the contest.
func (m ContestMeta) Total() int { return len(m.Problems) }

// ProblemName returns the display name of id, or "#<id>" when unknown.
func (m ContestMeta) ProblemName(id int) string {
	if name, ok := m.Problems[id]; ok && name != "" {
		return name
	}
	return fmt.Sprintf("#%d", id)
}

// Ranking is the per-user solved view of one contest, in the row order the
// service returned.
type Ranking struct {
	ContestID int
	Rows      []Row
}

type Row struct {
	User string
	// Solved holds problem ids scored exactly MaxScore, de-duplicated, in entry order.
	Solved []int
}

// Row returns the row of user, if present. The last row wins when user is
// listed more than once.
func (r Ranking) Row(user string) (Row, bool) {
	for i := len(r.Rows) - 1; i >= 0; i-- {
		if r.Rows[i].User == user {
			return r.Rows[i], true
		}
	}
	return Row{}, false
}

// MaxScore is the score of a fully solved problem.
const MaxScore = 100

// AuthError reports that a session could not be established or is no longer
// accepted by the service.
type AuthError struct {
	Op     string
	Status int
	Err    error
}

func (e *AuthError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("ranking auth %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("ranking auth %s: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// UpstreamError reports a failed or unparsable ranking/metadata fetch.
type UpstreamError struct {
	Op        string
	ContestID int
	Status    int
	Err       error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("ranking %s contest %d: status %d: %v", e.Op, e.ContestID, e.Status, e.Err)
	}
	return fmt.Sprintf("ranking %s contest %d: %v", e.Op, e.ContestID, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// IsAuth reports whether err is (or wraps) an *AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
