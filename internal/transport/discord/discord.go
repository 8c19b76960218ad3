// Package discord is the Discord notification sink. Messages are posted as a
// single embed through the REST API with a bot token.
package discord

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	kit "simlog/internal/transport"
	logx "simlog/pkg/logx"
)

const (
	defaultAPIURL = "https://discord.com/api"
	// Embed descriptions are capped at 4096 characters.
	descriptionLimit = 4096
)

type Config struct {
	Token string
	// APIURL overrides the REST base URL (tests).
	APIURL  string
	Timeout time.Duration
}

type Adapter struct {
	cfg  Config
	log  logx.Logger
	http *http.Client
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	cfg.Token = strings.TrimSpace(cfg.Token)
	if cfg.Token == "" {
		return nil, errors.New("discord token is empty")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{cfg: cfg, log: log, http: &http.Client{Timeout: cfg.Timeout}}, nil
}

func (a *Adapter) Name() string { return "discord" }

func (a *Adapter) Close() error {
	a.http.CloseIdleConnections()
	return nil
}

type embed struct {
	Description string `json:"description"`
	Color       int    `json:"color,omitempty"`
}

// SendText posts text as the description of one embed. **bold** spans are
// kept; any other markdown in text is escaped.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	if to.Channel == "" {
		return kit.MessageRef{}, errors.New("discord: channel is empty")
	}
	text = escapeMarkdown(text)
	if r := []rune(text); len(r) > descriptionLimit {
		text = string(r[:descriptionLimit-1]) + "…"
	}
	payload := struct {
		Embeds []embed `json:"embeds"`
	}{Embeds: []embed{{Description: text, Color: opt.Color}}}
	b, err := json.Marshal(payload)
	if err != nil {
		return kit.MessageRef{}, err
	}

	path := "/channels/" + url.PathEscape(to.Channel) + "/messages"
	resp, err := a.do(ctx, http.MethodPost, path, b)
	if err != nil {
		return kit.MessageRef{}, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode != http.StatusOK {
		return kit.MessageRef{}, &kit.StatusError{Op: "discord send", Status: resp.StatusCode, Body: snippet(body)}
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return kit.MessageRef{}, err
	}
	if out.ID == "" {
		return kit.MessageRef{}, errors.New("discord send: response has no message id")
	}
	return kit.MessageRef{Target: to, MessageID: out.ID}, nil
}

// React adds reaction to ref as the bot user. reaction is a unicode emoji or
// "name:id" for a custom one.
func (a *Adapter) React(ctx context.Context, ref kit.MessageRef, reaction string) error {
	if ref.Target.Channel == "" || ref.MessageID == "" {
		return errors.New("discord react: incomplete message ref")
	}
	path := "/channels/" + url.PathEscape(ref.Target.Channel) +
		"/messages/" + url.PathEscape(ref.MessageID) +
		"/reactions/" + url.PathEscape(reaction) + "/@me"
	resp, err := a.do(ctx, http.MethodPut, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &kit.StatusError{Op: "discord react", Status: resp.StatusCode, Body: snippet(body)}
	}
	return nil
}

func (a *Adapter) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var rd io.Reader = http.NoBody
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.cfg.APIURL+path, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bot "+a.cfg.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	a.log.Debug("discord request", logx.String("method", method), logx.String("path", path))
	return a.http.Do(req)
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "…"
	}
	return s
}

var _ kit.Adapter = (*Adapter)(nil)
