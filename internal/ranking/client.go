package ranking

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	logx "simlog/pkg/logx"
)

const (
	cookieSession = "session"
	cookieCSRF    = "csrf_token"

	// Rankings of large contests are a few MB at most.
	maxBodyBytes = 32 << 20
)

type Config struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
}

type Client struct {
	base *url.URL
	cfg  Config
	http *http.Client
	log  logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	raw := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if raw == "" {
		return nil, errors.New("ranking base url is empty")
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("ranking base url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		base: base,
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log,
	}, nil
}

func (c *Client) endpoint(path string) string {
	return c.base.String() + path
}

// Authenticate signs in with the configured credentials.
func (c *Client) Authenticate(ctx context.Context) (Session, error) {
	form := url.Values{}
	form.Set("username", c.cfg.Username)
	form.Set("password", c.cfg.Password)
	form.Set("remember_for_a_month", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/api/sign_in"), strings.NewReader(form.Encode()))
	if err != nil {
		return Session{}, &AuthError{Op: "sign_in", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("x-csrf-token", "")

	resp, err := c.http.Do(req)
	if err != nil {
		return Session{}, &AuthError{Op: "sign_in", Err: err}
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return Session{}, &AuthError{Op: "sign_in", Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return Session{}, &AuthError{Op: "sign_in", Status: resp.StatusCode, Err: errors.New(snippet(body))}
	}

	var sess Session
	for _, ck := range resp.Cookies() {
		switch ck.Name {
		case cookieSession:
			sess.Token = ck.Value
		case cookieCSRF:
			sess.CSRFToken = ck.Value
		}
	}
	if sess.Token == "" || sess.CSRFToken == "" {
		return Session{}, &AuthError{Op: "sign_in", Err: errors.New("missing session cookies")}
	}

	var payload struct {
		Session struct {
			UserID *int64 `json:"user_id"`
		} `json:"session"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Session{}, &AuthError{Op: "sign_in", Err: fmt.Errorf("decode body: %w", err)}
	}
	if payload.Session.UserID == nil {
		return Session{}, &AuthError{Op: "sign_in", Err: errors.New("missing user id")}
	}
	sess.UserID = *payload.Session.UserID

	c.log.Debug("signed in", logx.Int64("user_id", sess.UserID))
	return sess, nil
}

// VerifySession fetches the signed-in user's profile to confirm sess still
// authorizes requests.
func (c *Client) VerifySession(ctx context.Context, sess Session) error {
	path := "/api/user/" + strconv.FormatInt(sess.UserID, 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path), http.NoBody)
	if err != nil {
		return &AuthError{Op: "verify", Err: err}
	}
	sess.apply(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return &AuthError{Op: "verify", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := readBody(resp)
		return &AuthError{Op: "verify", Status: resp.StatusCode, Err: errors.New(snippet(body))}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
	return nil
}

// post issues an authorized contest API call and returns the raw body.
func (c *Client) post(ctx context.Context, sess Session, op string, contestID int, path string) ([]byte, error) {
	form := url.Values{}
	form.Set(cookieCSRF, sess.CSRFToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), bytes.NewBufferString(form.Encode()))
	if err != nil {
		return nil, &UpstreamError{Op: op, ContestID: contestID, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	sess.apply(req)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &UpstreamError{Op: op, ContestID: contestID, Err: err}
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return nil, &UpstreamError{Op: op, ContestID: contestID, Status: resp.StatusCode, Err: err}
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{Op: op, Status: resp.StatusCode, Err: errors.New(snippet(body))}
	case resp.StatusCode != http.StatusOK:
		return nil, &UpstreamError{Op: op, ContestID: contestID, Status: resp.StatusCode, Err: errors.New(snippet(body))}
	}

	c.log.Debug("fetched",
		logx.String("op", op),
		logx.Int("contest", contestID),
		logx.Int("bytes", len(body)),
		logx.Duration("took", time.Since(start)),
	)
	return body, nil
}

func readBody(resp *http.Response) ([]byte, error) {
	return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	if s == "" {
		return "empty body"
	}
	return s
}
