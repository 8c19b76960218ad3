package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
ranking:
  username: bot
  password: secret
notify:
  driver: discord
  reaction: "🎉"
  discord:
    token: t0k
    channel_id: "123"
poll:
  schedule: 30s
logging:
  level: info
  console: true
contests: [5, 9]
users:
  - name: bob
    pronouns: he/him
  - name: alice
    pronouns: she/her
`

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := Decode("config.yaml", []byte(validYAML))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return cfg
}

func TestDecodeYAML(t *testing.T) {
	cfg := validConfig(t)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.Notify.Discord == nil || cfg.Notify.Discord.ChannelID != "123" {
		t.Fatalf("discord block = %+v", cfg.Notify.Discord)
	}
	if len(cfg.Users) != 2 || cfg.Users[1].Pronouns != PronounsShe {
		t.Fatalf("users = %+v", cfg.Users)
	}
	if cfg.BaseURL() != DefaultBaseURL {
		t.Fatalf("BaseURL = %q", cfg.BaseURL())
	}
	if cfg.StatePath() != DefaultStatePath {
		t.Fatalf("StatePath = %q", cfg.StatePath())
	}
	d, err := cfg.RetryInterval()
	if err != nil || d != 30*time.Second {
		t.Fatalf("RetryInterval = %v, %v; want poll interval", d, err)
	}
}

func TestDecodeStrict(t *testing.T) {
	cases := []struct {
		name string
		path string
		body string
	}{
		{"unknown key yaml", "c.yaml", "ranking:\n  usermane: x\n"},
		{"unknown key json", "c.json", `{"contests": [1], "extra": true}`},
		{"trailing data", "c.json", `{"contests": [1]} {"contests": [2]}`},
		{"bad yaml", "c.yml", "ranking: [\n"},
		{"wrong type", "c.json", `{"contests": "5"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decode(tc.path, []byte(tc.body)); err == nil {
				t.Fatalf("Decode(%s) succeeded", tc.body)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"missing username", func(c *Config) { c.Ranking.Username = "" }, "ranking.username"},
		{"bad base url", func(c *Config) { c.Ranking.BaseURL = "sim.13lo.pl" }, "ranking.base_url"},
		{"bad timeout", func(c *Config) { c.Ranking.Timeout = "soon" }, "ranking.timeout"},
		{"unknown driver", func(c *Config) { c.Notify.Driver = "slack" }, "notify.driver"},
		{"discord without channel", func(c *Config) { c.Notify.Discord.ChannelID = "" }, "notify.discord"},
		{"telegram without block", func(c *Config) { c.Notify.Driver = "telegram" }, "notify.telegram"},
		{"bad schedule", func(c *Config) { c.Poll.Schedule = "every now and then" }, "poll.schedule"},
		{"bad delivery", func(c *Config) { c.Poll.Delivery = "exactly_once" }, "poll.delivery"},
		{"bad timezone", func(c *Config) { c.Poll.Timezone = "Mars/Olympus" }, "poll.timezone"},
		{"bad store", func(c *Config) { c.State.Driver = "redis" }, "state.driver"},
		{"no contests", func(c *Config) { c.Contests = nil }, "contests"},
		{"duplicate contest", func(c *Config) { c.Contests = []int{5, 5} }, "duplicate id 5"},
		{"negative contest", func(c *Config) { c.Contests = []int{-1} }, "must be positive"},
		{"no users", func(c *Config) { c.Users = nil }, "users"},
		{"duplicate user", func(c *Config) { c.Users = append(c.Users, User{Name: "bob", Pronouns: PronounsHe}) }, `duplicate "bob"`},
		{"unknown pronouns", func(c *Config) { c.Users[0].Pronouns = "they/them" }, "users[0].pronouns"},
		{"alerts without target", func(c *Config) { c.Logging.Alerts = &LoggingAlerts{Enabled: true} }, "logging.alerts"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig(t)
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Validate succeeded")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Validate = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestRetryIntervalDefaults(t *testing.T) {
	cfg := validConfig(t)
	cfg.Poll.Schedule = "*/5 * * * *"
	if d, _ := cfg.RetryInterval(); d != DefaultRetryInterval {
		t.Fatalf("cron RetryInterval = %v, want %v", d, DefaultRetryInterval)
	}
	cfg.Poll.RetryInterval = "10s"
	if d, _ := cfg.RetryInterval(); d != 10*time.Second {
		t.Fatalf("explicit RetryInterval = %v", d)
	}
}

func TestNotifyRate(t *testing.T) {
	cfg := validConfig(t)
	for _, tc := range []struct {
		in, want float64
	}{{0, DefaultNotifyRate}, {-1, 0}, {2.5, 2.5}} {
		cfg.Notify.RatePerSec = tc.in
		if got := cfg.NotifyRate(); got != tc.want {
			t.Fatalf("NotifyRate(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	oldCfg := validConfig(t)

	newCfg := validConfig(t)
	newCfg.Logging.Level = "debug"
	newCfg.Contests = append(newCfg.Contests, 12)
	newCfg.Notify.Discord.Token = "rotated"
	changed, attrs, restart := SummarizeConfigChange(oldCfg, newCfg)

	want := []string{"notify", "logging", "contests"}
	if strings.Join(changed, ",") != strings.Join(want, ",") {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	if strings.Join(restart, ",") != "notify" {
		t.Fatalf("restart = %v, want [notify]", restart)
	}
	if len(attrs) == 0 {
		t.Fatalf("no attrs")
	}

	changed, _, restart = SummarizeConfigChange(oldCfg, validConfig(t))
	if len(changed) != 0 || len(restart) != 0 {
		t.Fatalf("identical configs reported %v / %v", changed, restart)
	}
}

func TestDiffUsers(t *testing.T) {
	added, removed := diffUsers(
		[]User{{Name: "bob"}, {Name: "carol"}},
		[]User{{Name: "bob"}, {Name: "zed"}, {Name: "alice"}},
	)
	if strings.Join(added, ",") != "alice,zed" || strings.Join(removed, ",") != "carol" {
		t.Fatalf("added=%v removed=%v", added, removed)
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, strings.Replace(validYAML, "he/him", "it/its", 1))
	m := NewConfigManager(path)
	if _, err := m.Load(); err == nil {
		t.Fatalf("Load accepted invalid pronouns")
	}
	if m.Get() != nil {
		t.Fatalf("invalid config was committed")
	}
}

func TestWatchPublishesValidChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, validYAML)

	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	sub := m.Subscribe(4)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	// An invalid edit is rejected and never published.
	writeFile(t, path, strings.Replace(validYAML, "contests: [5, 9]", "contests: []", 1))
	time.Sleep(3 * reloadDebounce)

	writeFile(t, path, strings.Replace(validYAML, "contests: [5, 9]", "contests: [5, 9, 12]", 1))
	select {
	case cfg := <-sub:
		if len(cfg.Contests) != 3 || cfg.Contests[2] != 12 {
			t.Fatalf("published contests = %v", cfg.Contests)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no config published")
	}
	if got := m.Get(); len(got.Contests) != 3 {
		t.Fatalf("committed contests = %v", got.Contests)
	}
}
