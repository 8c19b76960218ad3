// Package reconcile runs the poll → diff → notify → persist cycle.
//
// A Reconciler owns no goroutines. The caller (the app's poll loop) invokes
// Cycle once per scheduler tick and keeps the returned snapshot as the
// authoritative previous state for the next call.
package reconcile

import (
	"context"
	"fmt"
	"strings"

	"simlog/internal/ranking"
	"simlog/internal/state"
	kit "simlog/internal/transport"
)

// Pronouns select the Polish verb form used in announcements.
const (
	PronounsHe  = "he/him"
	PronounsShe = "she/her"
)

// User is a tracked participant.
type User struct {
	Name     string
	Pronouns string
}

// SolveEvent is one newly observed solve.
type SolveEvent struct {
	ContestID   int
	ContestName string
	User        string
	Pronouns    string
	ProblemID   int
	ProblemName string
	// Seq is the 1-based position of the event among this user's events in
	// the current cycle.
	Seq int
	// Done is the size of the user's solved set once this event is recorded.
	Done  int
	Total int
}

func (e SolveEvent) String() string {
	return fmt.Sprintf("c%d/%s/%d", e.ContestID, e.User, e.ProblemID)
}

// Source is the subset of ranking.Client used by a cycle.
type Source interface {
	FetchRanking(ctx context.Context, sess ranking.Session, contestID int) (ranking.Ranking, error)
	FetchContestMeta(ctx context.Context, sess ranking.Session, contestID int) (ranking.ContestMeta, error)
}

// Notifier delivers one event.
type Notifier interface {
	Notify(ctx context.Context, ev SolveEvent) (kit.MessageRef, error)
}

// Delivery selects what happens to an event whose notification failed.
type Delivery string

const (
	// AtMostOnce records every detected solve regardless of delivery.
	AtMostOnce Delivery = "at_most_once"
	// AtLeastOnce leaves failed solves unrecorded so the next cycle detects
	// them again.
	AtLeastOnce Delivery = "at_least_once"
)

// ParseDelivery maps a config value onto a Delivery. Empty means AtMostOnce.
func ParseDelivery(s string) (Delivery, error) {
	switch Delivery(strings.ToLower(strings.TrimSpace(s))) {
	case "", AtMostOnce:
		return AtMostOnce, nil
	case AtLeastOnce:
		return AtLeastOnce, nil
	default:
		return "", fmt.Errorf("unknown delivery policy %q", s)
	}
}

// Phase is the reconciler state machine position.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseFetching
	PhaseDiffing
	PhaseNotifying
	PhasePersisting
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseFetching:
		return "fetching"
	case PhaseDiffing:
		return "diffing"
	case PhaseNotifying:
		return "notifying"
	case PhasePersisting:
		return "persisting"
	default:
		return "unknown"
	}
}

// Result summarizes a finished cycle.
type Result struct {
	CycleID string
	// Snapshot is the state after the cycle. On error it is the unchanged
	// previous snapshot.
	Snapshot  state.Snapshot
	Events    []SolveEvent
	Delivered int
	Failed    int
}
