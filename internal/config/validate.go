package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"simlog/internal/task/scheduler"
)

const (
	DefaultBaseURL        = "https://sim.13lo.pl"
	DefaultSchedule       = "1m"
	DefaultStatePath      = "./state.json"
	DefaultRankingTimeout = 20 * time.Second
	DefaultRetryInterval  = time.Minute
	DefaultNotifyRate     = 1.0
	DefaultObservAddr     = "127.0.0.1:9464"
)

// Validate reports every problem it finds, joined.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	bad := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if raw := strings.TrimSpace(c.Ranking.BaseURL); raw != "" {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			bad("ranking.base_url: must be an absolute http(s) url, got %q", raw)
		}
	}
	if strings.TrimSpace(c.Ranking.Username) == "" {
		bad("ranking.username: required")
	}
	if c.Ranking.Password == "" {
		bad("ranking.password: required")
	}
	if _, err := ParseDurationField("ranking.timeout", c.Ranking.Timeout); err != nil {
		errs = append(errs, err)
	}

	switch strings.ToLower(strings.TrimSpace(c.Notify.Driver)) {
	case "discord":
		d := c.Notify.Discord
		if d == nil || strings.TrimSpace(d.Token) == "" || strings.TrimSpace(d.ChannelID) == "" {
			bad("notify.discord: token and channel_id are required")
		}
	case "telegram":
		t := c.Notify.Telegram
		if t == nil || strings.TrimSpace(t.Token) == "" || t.ChatID == 0 {
			bad("notify.telegram: token and chat_id are required")
		}
	default:
		bad("notify.driver: must be discord or telegram, got %q", c.Notify.Driver)
	}

	if p, err := scheduler.ParseSchedule(c.ScheduleSpec()); err != nil {
		bad("poll.schedule: %v", err)
	} else if _, err := p.Schedule(nil); err != nil {
		bad("poll.schedule: %v", err)
	}
	if _, err := c.RetryInterval(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(strings.TrimSpace(c.Poll.Delivery)) {
	case "", "at_most_once", "at_least_once":
	default:
		bad("poll.delivery: must be at_most_once or at_least_once, got %q", c.Poll.Delivery)
	}
	if tz := strings.TrimSpace(c.Poll.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			bad("poll.timezone: %v", err)
		}
	}

	switch strings.ToLower(strings.TrimSpace(c.State.Driver)) {
	case "", "file", "json", "sqlite", "sqlite3":
	default:
		bad("state.driver: must be file or sqlite, got %q", c.State.Driver)
	}
	if _, err := ParseDurationField("state.busy_timeout", c.State.BusyTimeout); err != nil {
		errs = append(errs, err)
	}

	if a := c.Logging.Alerts; a != nil && a.Enabled && a.ChatID == 0 && strings.TrimSpace(a.ChannelID) == "" {
		bad("logging.alerts: chat_id or channel_id is required when enabled")
	}

	if o := c.Observability; o != nil {
		for _, f := range []struct{ path, raw string }{
			{"observability.read_timeout", o.ReadTimeout},
			{"observability.write_timeout", o.WriteTimeout},
			{"observability.idle_timeout", o.IdleTimeout},
		} {
			if _, err := ParseDurationField(f.path, f.raw); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if len(c.Contests) == 0 {
		bad("contests: at least one contest id is required")
	}
	seenContest := make(map[int]bool, len(c.Contests))
	for i, id := range c.Contests {
		if id <= 0 {
			bad("contests[%d]: id must be positive, got %d", i, id)
		}
		if seenContest[id] {
			bad("contests[%d]: duplicate id %d", i, id)
		}
		seenContest[id] = true
	}

	if len(c.Users) == 0 {
		bad("users: at least one user is required")
	}
	seenUser := make(map[string]bool, len(c.Users))
	for i, u := range c.Users {
		name := strings.TrimSpace(u.Name)
		if name == "" {
			bad("users[%d].name: required", i)
			continue
		}
		if seenUser[name] {
			bad("users[%d].name: duplicate %q", i, name)
		}
		seenUser[name] = true
		switch u.Pronouns {
		case PronounsHe, PronounsShe:
		default:
			bad("users[%d].pronouns: must be %q or %q, got %q", i, PronounsHe, PronounsShe, u.Pronouns)
		}
	}

	return errors.Join(errs...)
}

// ScheduleSpec returns poll.schedule or its default.
func (c *Config) ScheduleSpec() string {
	if s := strings.TrimSpace(c.Poll.Schedule); s != "" {
		return s
	}
	return DefaultSchedule
}

// RetryInterval is the pause between failed initialization attempts. It
// defaults to the poll interval, or one minute for cron schedules.
func (c *Config) RetryInterval() (time.Duration, error) {
	d, err := ParseDurationField("poll.retry_interval", c.Poll.RetryInterval)
	if err != nil || d > 0 {
		return d, err
	}
	if p, err := scheduler.ParseSchedule(c.ScheduleSpec()); err == nil && p.Kind == scheduler.SpecInterval {
		return p.Every, nil
	}
	return DefaultRetryInterval, nil
}

// BaseURL returns ranking.base_url or the default instance.
func (c *Config) BaseURL() string {
	if s := strings.TrimSpace(c.Ranking.BaseURL); s != "" {
		return s
	}
	return DefaultBaseURL
}

// StatePath returns state.path or the default location.
func (c *Config) StatePath() string {
	if s := strings.TrimSpace(c.State.Path); s != "" {
		return s
	}
	return DefaultStatePath
}

// NotifyRate returns the announcement rate limit; 0 disables it.
func (c *Config) NotifyRate() float64 {
	switch r := c.Notify.RatePerSec; {
	case r < 0:
		return 0
	case r == 0:
		return DefaultNotifyRate
	default:
		return r
	}
}
