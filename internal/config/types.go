package config

// Config is the on-disk configuration. Fields map 1:1 to the JSON/YAML keys;
// durations are Go duration strings ("500ms", "20s", "1m").
type Config struct {
	Ranking       RankingConfig        `json:"ranking"`
	Notify        NotifyConfig         `json:"notify"`
	Poll          PollConfig           `json:"poll"`
	State         StateConfig          `json:"state"`
	Logging       LoggingConfig        `json:"logging"`
	Observability *ObservabilityConfig `json:"observability,omitempty"`

	// Contests are polled in this order, which is also the order of
	// announcements within a cycle.
	Contests []int  `json:"contests"`
	Users    []User `json:"users"`
}

// RankingConfig points at the SIM instance and the account used to read the
// rankings.
//
// Defaults:
//   - base_url: https://sim.13lo.pl
//   - timeout: "20s"
type RankingConfig struct {
	BaseURL  string `json:"base_url,omitempty"`
	Username string `json:"username"`
	Password string `json:"password"`
	Timeout  string `json:"timeout,omitempty"`
}

// NotifyConfig selects and configures the notification sink.
//
// Exactly the block matching driver must be present.
type NotifyConfig struct {
	Driver   string          `json:"driver"` // discord | telegram
	Reaction string          `json:"reaction,omitempty"`
	Discord  *DiscordConfig  `json:"discord,omitempty"`
	Telegram *TelegramConfig `json:"telegram,omitempty"`

	// RatePerSec throttles announcements. 0 means the default (1/s); a
	// negative value disables throttling.
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
}

type DiscordConfig struct {
	Token     string `json:"token"`
	ChannelID string `json:"channel_id"`
	APIURL    string `json:"api_url,omitempty"`
}

// TelegramConfig addresses a chat (and optional forum thread). api_url
// points at a local Bot API server when set.
type TelegramConfig struct {
	Token    string `json:"token"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
	APIURL   string `json:"api_url,omitempty"`
}

// PollConfig controls the reconcile loop.
//
// Defaults:
//   - schedule: "1m"
//   - retry_interval: the poll interval, or "1m" for cron schedules
//   - delivery: "at_most_once"
type PollConfig struct {
	// Schedule accepts a Go duration ("1m"), an HH:MM interval ("00:05") or
	// a cron spec ("*/5 * * * *", "@hourly").
	Schedule      string `json:"schedule,omitempty"`
	RetryInterval string `json:"retry_interval,omitempty"`
	Delivery      string `json:"delivery,omitempty"`
	Timezone      string `json:"timezone,omitempty"`
}

// StateConfig selects the snapshot store.
type StateConfig struct {
	Driver      string `json:"driver,omitempty"` // file (default) | sqlite
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string         `json:"level"`
	Console bool           `json:"console"`
	File    LoggingFile    `json:"file"`
	Alerts  *LoggingAlerts `json:"alerts,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlerts relays warn+ log lines to an operator chat over the
// configured notification sink. ChatID/ThreadID address Telegram, ChannelID
// addresses Discord.
type LoggingAlerts struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id,omitempty"`
	ThreadID   int    `json:"thread_id,omitempty"`
	ChannelID  string `json:"channel_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// ObservabilityConfig controls the local debug HTTP server (/metrics,
// /healthz, /debug/pprof).
//
// By default it binds to loopback. Binding to a non-loopback address
// requires token or allow_insecure.
type ObservabilityConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	WriteTimeout  string `json:"write_timeout,omitempty"`
	IdleTimeout   string `json:"idle_timeout,omitempty"`
}

// User is a tracked contestant. Pronouns pick the verb form of the
// announcement.
type User struct {
	Name     string `json:"name"`
	Pronouns string `json:"pronouns"`
}

const (
	PronounsHe  = "he/him"
	PronounsShe = "she/her"
)
