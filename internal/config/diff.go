package config

import (
	"slices"
	"strings"

	logx "simlog/pkg/logx"
)

// Sections applied without a restart. Everything else is read once at
// startup.
var liveSections = map[string]bool{
	"logging":       true,
	"observability": true,
	"contests":      true,
	"users":         true,
}

// SummarizeConfigChange returns (1) the changed sections, (2) safe
// structured attrs for logging (never secrets) and (3) the changed sections
// that only take effect after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	// Ranking (never log the password)
	o, n := oldCfg.Ranking, newCfg.Ranking
	if oldCfg.BaseURL() != newCfg.BaseURL() ||
		strings.TrimSpace(o.Username) != strings.TrimSpace(n.Username) ||
		o.Password != n.Password ||
		strings.TrimSpace(o.Timeout) != strings.TrimSpace(n.Timeout) {
		changed = append(changed, "ranking")
		attrs = append(attrs,
			logx.String("ranking.base_url", newCfg.BaseURL()),
			logx.String("ranking.username", strings.TrimSpace(n.Username)),
			logx.Bool("ranking.password_changed", o.Password != n.Password),
		)
	}

	// Notify (never log tokens)
	if notifyChanged(oldCfg.Notify, newCfg.Notify) {
		changed = append(changed, "notify")
		attrs = append(attrs,
			logx.String("notify.driver", newCfg.Notify.Driver),
			logx.String("notify.reaction", newCfg.Notify.Reaction),
			logx.Any("notify.rate_per_sec", newCfg.NotifyRate()),
		)
	}

	if oldCfg.ScheduleSpec() != newCfg.ScheduleSpec() ||
		strings.TrimSpace(oldCfg.Poll.RetryInterval) != strings.TrimSpace(newCfg.Poll.RetryInterval) ||
		strings.TrimSpace(oldCfg.Poll.Delivery) != strings.TrimSpace(newCfg.Poll.Delivery) ||
		strings.TrimSpace(oldCfg.Poll.Timezone) != strings.TrimSpace(newCfg.Poll.Timezone) {
		changed = append(changed, "poll")
		attrs = append(attrs,
			logx.String("poll.schedule", newCfg.ScheduleSpec()),
			logx.String("poll.delivery", newCfg.Poll.Delivery),
		)
	}

	if oldCfg.State != newCfg.State {
		changed = append(changed, "state")
		attrs = append(attrs,
			logx.String("state.driver", newCfg.State.Driver),
			logx.String("state.path", newCfg.StatePath()),
		)
	}

	ol, nl := oldCfg.Logging, newCfg.Logging
	oa, na := derefAlerts(ol.Alerts), derefAlerts(nl.Alerts)
	if ol.Level != nl.Level || ol.Console != nl.Console || ol.File != nl.File || oa != na {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", nl.Level),
			logx.Bool("logx.console", nl.Console),
			logx.Bool("logx.file_enabled", nl.File.Enabled),
			logx.Bool("logx.alerts_enabled", na.Enabled),
		)
	}

	// Observability (never log token)
	oo, no := derefObservability(oldCfg.Observability), derefObservability(newCfg.Observability)
	if oo != no {
		changed = append(changed, "observability")
		attrs = append(attrs,
			logx.Bool("observability.enabled", no.Enabled),
			logx.String("observability.addr", strings.TrimSpace(no.Addr)),
			logx.Bool("observability.token_set", strings.TrimSpace(no.Token) != ""),
		)
	}

	if !slices.Equal(oldCfg.Contests, newCfg.Contests) {
		changed = append(changed, "contests")
		attrs = append(attrs, logx.Ints("contests", newCfg.Contests))
	}

	if !slices.Equal(oldCfg.Users, newCfg.Users) {
		changed = append(changed, "users")
		added, removed := diffUsers(oldCfg.Users, newCfg.Users)
		attrs = append(attrs,
			logx.Int("users.count", len(newCfg.Users)),
			logx.Any("users.added", added),
			logx.Any("users.removed", removed),
		)
	}

	var restart []string
	for _, sec := range changed {
		if !liveSections[sec] {
			restart = append(restart, sec)
		}
	}
	return changed, attrs, restart
}

func notifyChanged(a, b NotifyConfig) bool {
	if a.Driver != b.Driver || a.Reaction != b.Reaction || a.RatePerSec != b.RatePerSec {
		return true
	}
	if (a.Discord == nil) != (b.Discord == nil) || (a.Telegram == nil) != (b.Telegram == nil) {
		return true
	}
	if a.Discord != nil && *a.Discord != *b.Discord {
		return true
	}
	return a.Telegram != nil && *a.Telegram != *b.Telegram
}

func derefAlerts(a *LoggingAlerts) LoggingAlerts {
	if a == nil {
		return LoggingAlerts{}
	}
	return *a
}

func derefObservability(o *ObservabilityConfig) ObservabilityConfig {
	if o == nil {
		return ObservabilityConfig{}
	}
	return *o
}

// diffUsers returns sorted added and removed user names.
func diffUsers(oldU, newU []User) ([]string, []string) {
	oldSet := make(map[string]bool, len(oldU))
	for _, u := range oldU {
		oldSet[u.Name] = true
	}
	newSet := make(map[string]bool, len(newU))
	for _, u := range newU {
		newSet[u.Name] = true
	}
	var added, removed []string
	for name := range newSet {
		if !oldSet[name] {
			added = append(added, name)
		}
	}
	for name := range oldSet {
		if !newSet[name] {
			removed = append(removed, name)
		}
	}
	slices.Sort(added)
	slices.Sort(removed)
	return added, removed
}
