package notifier

import (
	"fmt"
	"strings"

	"simlog/internal/reconcile"
)

// verb returns the past-tense "solved" matching the pronouns.
func verb(pronouns string) string {
	switch strings.ToLower(strings.TrimSpace(pronouns)) {
	case reconcile.PronounsHe:
		return "wbił"
	case reconcile.PronounsShe:
		return "wbiła"
	default:
		return "wbił(a)"
	}
}

// progress renders "(done/total, pct%)"; the percentage is omitted for
// contests without problems.
func progress(done, total int) string {
	if total <= 0 {
		return fmt.Sprintf("(%d/%d)", done, total)
	}
	return fmt.Sprintf("(%d/%d, %d%%)", done, total, done*100/total)
}

// Format builds the announcement text. Bold spans use **markup**; sinks
// translate it to their own syntax.
func Format(ev reconcile.SolveEvent) string {
	problem := ev.ProblemName
	if problem == "" {
		problem = fmt.Sprintf("#%d", ev.ProblemID)
	}
	contest := ev.ContestName
	if contest == "" {
		contest = fmt.Sprintf("c%d", ev.ContestID)
	}
	return fmt.Sprintf("**%s** właśnie %s zadanie **%s** z contestu **%s** %s",
		ev.User, verb(ev.Pronouns), problem, contest, progress(ev.Done, ev.Total))
}
