package ranking

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/google/go-cmp/cmp"

	logx "simlog/pkg/logx"
)

const (
	contestBody = `[null, [5, "Warmup", true], null, [
		[10, 1, 100, true, "A", "Two Sum"],
		[11, 1, 101, true, "B", "Paths"],
		[12, 2, 102, false, "C", "Trees"]
	]]`
	rankingBody = `[
		["header"],
		[1, "alice", [[1, 1, 10, "ok", 100], [2, 1, 11, "wa", 40], [3, 2, 12, "ok", 100], [4, 1, 10, "ok", 100]]],
		[2, "bob", [[5, 1, 11, null, null]]],
		[3, "carol", []]
	]`
)

type fakeSIM struct {
	t      *testing.T
	status map[string]int
	signIn func(w http.ResponseWriter, r *http.Request)
}

func (f *fakeSIM) handler() http.Handler {
	mux := http.NewServeMux()
	check := func(w http.ResponseWriter, r *http.Request) bool {
		if code, ok := f.status[r.URL.Path]; ok {
			http.Error(w, "nope", code)
			return false
		}
		s, err := r.Cookie(cookieSession)
		if err != nil || s.Value != "sess" {
			http.Error(w, "no session", http.StatusForbidden)
			return false
		}
		return true
	}
	checkCSRF := func(r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		v, _ := url.ParseQuery(string(b))
		if v.Get("csrf_token") != "csrf" {
			f.t.Errorf("%s: csrf_token = %q", r.URL.Path, v.Get("csrf_token"))
		}
		if r.Header.Get("Accept") != "application/json" {
			f.t.Errorf("%s: missing Accept header", r.URL.Path)
		}
	}
	mux.HandleFunc("/api/sign_in", func(w http.ResponseWriter, r *http.Request) {
		if f.signIn != nil {
			f.signIn(w, r)
			return
		}
		_ = r.ParseForm()
		if r.PostForm.Get("username") != "judge" || r.PostForm.Get("password") != "p&ss=1" {
			http.Error(w, "bad credentials", http.StatusForbidden)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "sess", Path: "/"})
		http.SetCookie(w, &http.Cookie{Name: "csrf_token", Value: "csrf", Path: "/"})
		_, _ = io.WriteString(w, `{"session":{"user_id":42,"username":"judge"}}`)
	})
	mux.HandleFunc("/api/user/42", func(w http.ResponseWriter, r *http.Request) {
		if check(w, r) {
			_, _ = io.WriteString(w, `{"id":42}`)
		}
	})
	mux.HandleFunc("/api/contest/c5", func(w http.ResponseWriter, r *http.Request) {
		if check(w, r) {
			checkCSRF(r)
			_, _ = io.WriteString(w, contestBody)
		}
	})
	mux.HandleFunc("/api/contest/c5/ranking", func(w http.ResponseWriter, r *http.Request) {
		if check(w, r) {
			checkCSRF(r)
			_, _ = io.WriteString(w, rankingBody)
		}
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeSIM) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL + "/", Username: "judge", Password: "p&ss=1"}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestAuthenticateAndVerify(t *testing.T) {
	f := &fakeSIM{t: t}
	c := newTestClient(t, f)
	ctx := context.Background()

	sess, err := c.Authenticate(ctx)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	want := Session{Token: "sess", CSRFToken: "csrf", UserID: 42}
	if diff := cmp.Diff(want, sess); diff != "" {
		t.Fatalf("session mismatch (-want +got):\n%s", diff)
	}
	if err := c.VerifySession(ctx, sess); err != nil {
		t.Fatalf("VerifySession: %v", err)
	}

	bad := sess
	bad.Token = "stale"
	err = c.VerifySession(ctx, bad)
	var ae *AuthError
	if !errors.As(err, &ae) || ae.Status != http.StatusForbidden {
		t.Fatalf("VerifySession(stale) = %v, want AuthError 403", err)
	}
}

func TestAuthenticateFailures(t *testing.T) {
	tests := []struct {
		name   string
		signIn func(w http.ResponseWriter, r *http.Request)
	}{
		{
			name: "missing csrf cookie",
			signIn: func(w http.ResponseWriter, r *http.Request) {
				http.SetCookie(w, &http.Cookie{Name: "session", Value: "sess"})
				_, _ = io.WriteString(w, `{"session":{"user_id":42}}`)
			},
		},
		{
			name: "missing user id",
			signIn: func(w http.ResponseWriter, r *http.Request) {
				http.SetCookie(w, &http.Cookie{Name: "session", Value: "sess"})
				http.SetCookie(w, &http.Cookie{Name: "csrf_token", Value: "csrf"})
				_, _ = io.WriteString(w, `{"session":{}}`)
			},
		},
		{
			name: "unparsable body",
			signIn: func(w http.ResponseWriter, r *http.Request) {
				http.SetCookie(w, &http.Cookie{Name: "session", Value: "sess"})
				http.SetCookie(w, &http.Cookie{Name: "csrf_token", Value: "csrf"})
				_, _ = io.WriteString(w, `<html>`)
			},
		},
		{
			name: "rejected",
			signIn: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "bad credentials", http.StatusForbidden)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, &fakeSIM{t: t, signIn: tt.signIn})
			_, err := c.Authenticate(context.Background())
			if !IsAuth(err) {
				t.Fatalf("Authenticate = %v, want AuthError", err)
			}
		})
	}
}

func TestFetchContestMetaAndRanking(t *testing.T) {
	c := newTestClient(t, &fakeSIM{t: t})
	sess := Session{Token: "sess", CSRFToken: "csrf", UserID: 42}
	ctx := context.Background()

	meta, err := c.FetchContestMeta(ctx, sess, 5)
	if err != nil {
		t.Fatalf("FetchContestMeta: %v", err)
	}
	wantMeta := ContestMeta{
		ID:       5,
		Name:     "Warmup",
		Problems: map[int]string{10: "Two Sum", 11: "Paths", 12: "Trees"},
		Order:    []int{10, 11, 12},
	}
	if diff := cmp.Diff(wantMeta, meta); diff != "" {
		t.Fatalf("meta mismatch (-want +got):\n%s", diff)
	}
	if meta.Total() != 3 {
		t.Fatalf("Total = %d, want 3", meta.Total())
	}

	rk, err := c.FetchRanking(ctx, sess, 5)
	if err != nil {
		t.Fatalf("FetchRanking: %v", err)
	}
	wantRk := Ranking{
		ContestID: 5,
		Rows: []Row{
			{User: "alice", Solved: []int{10, 12}},
			{User: "bob"},
			{User: "carol"},
		},
	}
	if diff := cmp.Diff(wantRk, rk); diff != "" {
		t.Fatalf("ranking mismatch (-want +got):\n%s", diff)
	}
}

func TestFetchUpstreamErrors(t *testing.T) {
	sess := Session{Token: "sess", CSRFToken: "csrf", UserID: 42}

	t.Run("server error", func(t *testing.T) {
		c := newTestClient(t, &fakeSIM{t: t, status: map[string]int{"/api/contest/c5/ranking": 500}})
		_, err := c.FetchRanking(context.Background(), sess, 5)
		var ue *UpstreamError
		if !errors.As(err, &ue) || ue.Status != 500 || ue.ContestID != 5 {
			t.Fatalf("FetchRanking = %v, want UpstreamError 500", err)
		}
	})

	t.Run("expired session", func(t *testing.T) {
		c := newTestClient(t, &fakeSIM{t: t})
		stale := sess
		stale.Token = "old"
		_, err := c.FetchContestMeta(context.Background(), stale, 5)
		if !IsAuth(err) {
			t.Fatalf("FetchContestMeta = %v, want AuthError", err)
		}
	})

	t.Run("unknown contest", func(t *testing.T) {
		c := newTestClient(t, &fakeSIM{t: t})
		_, err := c.FetchRanking(context.Background(), sess, 6)
		var ue *UpstreamError
		if !errors.As(err, &ue) || ue.Status != http.StatusNotFound {
			t.Fatalf("FetchRanking = %v, want UpstreamError 404", err)
		}
	})
}

func TestParseMalformed(t *testing.T) {
	t.Parallel()
	bad := []string{
		`{}`,
		`[null, [5], null, []]`,
		`[null, [5, "x"], null, [[1, 2]]]`,
		`[null, [5, "x"]]`,
	}
	for _, b := range bad {
		if _, err := ParseContestMeta([]byte(b)); err == nil {
			t.Errorf("ParseContestMeta(%s) expected error", b)
		}
	}

	badRanking := []string{
		`{"rows": []}`,
		`[[], [1, "a"]]`,
		`[[], [1, "a", [[1, 2, 3]]]]`,
		`[[], [1, "a", [[1, 1, "x", "ok", 100]]]]`,
	}
	for _, b := range badRanking {
		if _, err := ParseRanking([]byte(b)); err == nil {
			t.Errorf("ParseRanking(%s) expected error", b)
		}
	}

	rk, err := ParseRanking([]byte(`[["header"]]`))
	if err != nil || len(rk.Rows) != 0 {
		t.Fatalf("header-only ranking = %+v, %v", rk, err)
	}
}

func TestProblemNameFallback(t *testing.T) {
	t.Parallel()
	m := ContestMeta{Problems: map[int]string{1: "A"}}
	if got := m.ProblemName(1); got != "A" {
		t.Fatalf("ProblemName(1) = %q", got)
	}
	if got := m.ProblemName(7); got != "#7" {
		t.Fatalf("ProblemName(7) = %q", got)
	}
}
