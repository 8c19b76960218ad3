package app

import (
	"fmt"
	"strings"
	"time"

	"simlog/internal/config"
	"simlog/internal/notifier"
	"simlog/internal/observability"
	"simlog/internal/ranking"
	"simlog/internal/reconcile"
	"simlog/internal/state"
	kit "simlog/internal/transport"
	"simlog/internal/transport/discord"
	"simlog/internal/transport/telegram"
	logx "simlog/pkg/logx"
)

// Config sections map onto component configs here so components never
// import internal/config.

func mapRankingConfig(cfg *config.Config) (ranking.Config, error) {
	timeout, err := config.ParseDurationOrDefault("ranking.timeout", cfg.Ranking.Timeout, config.DefaultRankingTimeout)
	if err != nil {
		return ranking.Config{}, err
	}
	return ranking.Config{
		BaseURL:  cfg.BaseURL(),
		Username: strings.TrimSpace(cfg.Ranking.Username),
		Password: cfg.Ranking.Password,
		Timeout:  timeout,
	}, nil
}

func mapStateConfig(cfg *config.Config) (state.Config, error) {
	busy, err := config.ParseDurationField("state.busy_timeout", cfg.State.BusyTimeout)
	if err != nil {
		return state.Config{}, err
	}
	return state.Config{
		Driver:      cfg.State.Driver,
		Path:        cfg.StatePath(),
		BusyTimeout: busy,
	}, nil
}

// newAdapter builds the notification sink named by notify.driver.
func newAdapter(cfg *config.Config, log logx.Logger) (kit.Adapter, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Notify.Driver)) {
	case "discord":
		if cfg.Notify.Discord == nil {
			return nil, fmt.Errorf("notify.discord is required")
		}
		return discord.New(discord.Config{Token: cfg.Notify.Discord.Token, APIURL: cfg.Notify.Discord.APIURL}, log)
	case "telegram":
		if cfg.Notify.Telegram == nil {
			return nil, fmt.Errorf("notify.telegram is required")
		}
		return telegram.New(telegram.Config{Token: cfg.Notify.Telegram.Token, APIURL: cfg.Notify.Telegram.APIURL}, log)
	default:
		return nil, fmt.Errorf("unknown notify.driver %q", cfg.Notify.Driver)
	}
}

func mapNotifierConfig(cfg *config.Config) notifier.Config {
	nc := notifier.Config{
		Reaction:   strings.TrimSpace(cfg.Notify.Reaction),
		RatePerSec: cfg.NotifyRate(),
		Color:      notifier.DefaultColor,
	}
	switch {
	case cfg.Notify.Discord != nil && strings.EqualFold(cfg.Notify.Driver, "discord"):
		nc.Target = kit.ChatTarget{Channel: strings.TrimSpace(cfg.Notify.Discord.ChannelID)}
	case cfg.Notify.Telegram != nil:
		nc.Target = kit.ChatTarget{ChatID: cfg.Notify.Telegram.ChatID, ThreadID: cfg.Notify.Telegram.ThreadID}
	}
	return nc
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	lc := logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
	if a := cfg.Logging.Alerts; a != nil {
		lc.Alerts = logx.AlertConfig{
			Enabled:    a.Enabled,
			Target:     kit.ChatTarget{ChatID: a.ChatID, ThreadID: a.ThreadID, Channel: strings.TrimSpace(a.ChannelID)},
			MinLevel:   a.MinLevel,
			RatePerSec: a.RatePerSec,
		}
	}
	return lc
}

func mapObservabilityConfig(cfg *config.Config) (observability.Config, error) {
	o := cfg.Observability
	if o == nil {
		return observability.Config{}, nil
	}
	read, err := config.ParseDurationOrDefault("observability.read_timeout", o.ReadTimeout, 10*time.Second)
	if err != nil {
		return observability.Config{}, err
	}
	// 0 keeps /debug/pprof/profile (30s by default) working.
	write, err := config.ParseDurationField("observability.write_timeout", o.WriteTimeout)
	if err != nil {
		return observability.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("observability.idle_timeout", o.IdleTimeout, 60*time.Second)
	if err != nil {
		return observability.Config{}, err
	}
	addr := strings.TrimSpace(o.Addr)
	if addr == "" {
		addr = config.DefaultObservAddr
	}
	return observability.Config{
		Enabled:       o.Enabled,
		Addr:          addr,
		Token:         strings.TrimSpace(o.Token),
		AllowInsecure: o.AllowInsecure,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}

func mapTracking(cfg *config.Config) ([]int, []reconcile.User) {
	users := make([]reconcile.User, 0, len(cfg.Users))
	for _, u := range cfg.Users {
		users = append(users, reconcile.User{Name: strings.TrimSpace(u.Name), Pronouns: u.Pronouns})
	}
	return append([]int(nil), cfg.Contests...), users
}

func scheduleLocation(cfg *config.Config) (*time.Location, error) {
	tz := strings.TrimSpace(cfg.Poll.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("poll.timezone: %w", err)
	}
	return loc, nil
}
