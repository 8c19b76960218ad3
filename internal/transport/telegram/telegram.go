// Package telegram is the Telegram notification sink.
package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	tele "gopkg.in/telebot.v4"

	kit "simlog/internal/transport"
	logx "simlog/pkg/logx"
)

const defaultAPIURL = "https://api.telegram.org"

type Config struct {
	Token string
	// APIURL overrides the Bot API base URL (tests, local bot API servers).
	APIURL  string
	Timeout time.Duration
}

// Adapter sends messages through the Bot API. It never polls for updates.
type Adapter struct {
	cfg  Config
	log  logx.Logger
	bot  *tele.Bot
	http *http.Client
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	cfg.Token = strings.TrimSpace(cfg.Token)
	if cfg.Token == "" {
		return nil, errors.New("telegram token is empty")
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
	client := &http.Client{Timeout: cfg.Timeout}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.APIURL,
		Client:  client,
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{cfg: cfg, log: log, bot: b, http: client}, nil
}

func (a *Adapter) Name() string { return "telegram" }

func (a *Adapter) Close() error { return nil }

// SendText renders **bold** as HTML and sends text, split into chunks when it
// exceeds the message limit. The returned ref points at the first chunk.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	if to.ChatID == 0 {
		return kit.MessageRef{}, errors.New("telegram: chat id is empty")
	}

	chunks := splitText(toHTML(text), textLimit, true)
	if len(chunks) > 1 {
		a.log.Debug("message split", logx.Int("chunks", len(chunks)), logx.Int64("chat_id", to.ChatID))
	}
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := a.bot.Send(chat, chunk, &tele.SendOptions{
			ParseMode:             tele.ModeHTML,
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		})
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{Target: to, MessageID: strconv.Itoa(msg.ID)}
		}
	}
	return first, nil
}

// React sets an emoji reaction on ref (Bot API setMessageReaction).
func (a *Adapter) React(ctx context.Context, ref kit.MessageRef, reaction string) error {
	mid, err := strconv.Atoi(ref.MessageID)
	if err != nil {
		return fmt.Errorf("telegram: bad message id %q", ref.MessageID)
	}
	type reactionType struct {
		Type  string `json:"type"`
		Emoji string `json:"emoji"`
	}
	payload := struct {
		ChatID    int64          `json:"chat_id"`
		MessageID int            `json:"message_id"`
		Reaction  []reactionType `json:"reaction"`
	}{
		ChatID:    ref.Target.ChatID,
		MessageID: mid,
		Reaction:  []reactionType{{Type: "emoji", Emoji: reaction}},
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	url := a.cfg.APIURL + "/bot" + a.cfg.Token + "/setMessageReaction"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var out struct {
		OK          bool   `json:"ok"`
		ErrorCode   int    `json:"error_code"`
		Description string `json:"description"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)

	if resp.StatusCode/100 != 2 || !out.OK {
		return &kit.StatusError{Op: "telegram setMessageReaction", Status: resp.StatusCode, Body: out.Description}
	}
	return nil
}

var _ kit.Adapter = (*Adapter)(nil)
