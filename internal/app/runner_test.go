package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"simlog/internal/ranking"
	"simlog/internal/reconcile"
	"simlog/internal/state"
	"simlog/internal/task/scheduler"
	kit "simlog/internal/transport"
	logx "simlog/pkg/logx"
)

type fakeAPI struct {
	mu         sync.Mutex
	authErrs   []error
	auths      int
	rankingErr error
	stickyErr  bool // keep returning rankingErr instead of failing once
	fetches    int
	rankings   map[int]ranking.Ranking
	metas      map[int]ranking.ContestMeta
}

func (f *fakeAPI) Authenticate(context.Context) (ranking.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auths++
	if len(f.authErrs) > 0 {
		err := f.authErrs[0]
		f.authErrs = f.authErrs[1:]
		return ranking.Session{}, err
	}
	return ranking.Session{Token: "t", CSRFToken: "c", UserID: 7}, nil
}

func (f *fakeAPI) VerifySession(context.Context, ranking.Session) error { return nil }

func (f *fakeAPI) FetchRanking(_ context.Context, _ ranking.Session, cid int) (ranking.Ranking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if err := f.rankingErr; err != nil {
		if !f.stickyErr {
			f.rankingErr = nil
		}
		return ranking.Ranking{}, err
	}
	return f.rankings[cid], nil
}

func (f *fakeAPI) FetchContestMeta(_ context.Context, _ ranking.Session, cid int) (ranking.ContestMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.metas[cid], nil
}

func (f *fakeAPI) setRanking(rk ranking.Ranking) {
	f.mu.Lock()
	f.rankings[rk.ContestID] = rk
	f.mu.Unlock()
}

func (f *fakeAPI) authCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.auths
}

func (f *fakeAPI) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

type memStore struct {
	mu      sync.Mutex
	snap    state.Snapshot
	loadErr error
	loads   int
	saves   int
}

func (m *memStore) Exists(context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap != nil || m.loadErr != nil, nil
}

func (m *memStore) Load(context.Context) (state.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.snap.Clone(), nil
}

func (m *memStore) Save(_ context.Context, s state.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.snap = s.Clone()
	return nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) counts() (loads, saves int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loads, m.saves
}

type recNotifier struct {
	mu     sync.Mutex
	events []reconcile.SolveEvent
}

func (n *recNotifier) Notify(_ context.Context, ev reconcile.SolveEvent) (kit.MessageRef, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return kit.MessageRef{MessageID: "m"}, nil
}

func (n *recNotifier) got() []reconcile.SolveEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]reconcile.SolveEvent(nil), n.events...)
}

type runnerFixture struct {
	api    *fakeAPI
	store  *memStore
	notif  *recNotifier
	clock  clockwork.FakeClock
	runner *Runner
}

func newRunnerFixture(t *testing.T, store *memStore) *runnerFixture {
	t.Helper()
	f := &runnerFixture{
		api: &fakeAPI{
			rankings: map[int]ranking.Ranking{
				5: {ContestID: 5, Rows: []ranking.Row{{User: "bob", Solved: []int{1}}}},
			},
			metas: map[int]ranking.ContestMeta{
				5: {ID: 5, Name: "Finals", Problems: map[int]string{1: "Warmup", 4: "Two Sum"}},
			},
		},
		store: store,
		notif: &recNotifier{},
		clock: clockwork.NewFakeClock(),
	}
	rec, err := reconcile.New(reconcile.Config{
		Source:   f.api,
		Store:    f.store,
		Notifier: f.notif,
		Contests: []int{5},
		Users:    []reconcile.User{{Name: "bob", Pronouns: reconcile.PronounsHe}},
		Clock:    f.clock,
	})
	if err != nil {
		t.Fatal(err)
	}
	sched, err := scheduler.New("1m", logx.Nop(), scheduler.WithClock(f.clock), scheduler.WithStopOn(ranking.IsAuth))
	if err != nil {
		t.Fatal(err)
	}
	f.runner, err = NewRunner(RunnerConfig{
		API:           f.api,
		Store:         f.store,
		Reconciler:    rec,
		Scheduler:     sched,
		RetryInterval: 10 * time.Second,
		Clock:         f.clock,
	})
	if err != nil {
		t.Fatal(err)
	}
	return f
}

// start runs the runner until the test ends.
func (f *runnerFixture) start(t *testing.T) <-chan error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		done <- f.runner.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-stopped:
		case <-time.After(2 * time.Second):
			t.Errorf("runner did not stop")
		}
	})
	return done
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRunnerSeedsThenAnnounces(t *testing.T) {
	f := newRunnerFixture(t, &memStore{})
	f.start(t)

	// Seed plus the immediate first cycle.
	eventually(t, "seed and first cycle", func() bool { _, saves := f.store.counts(); return saves >= 2 })
	if got := f.notif.got(); len(got) != 0 {
		t.Fatalf("seed announced %v", got)
	}

	f.api.setRanking(ranking.Ranking{ContestID: 5, Rows: []ranking.Row{{User: "bob", Solved: []int{1, 4}}}})
	f.clock.BlockUntil(1)
	f.clock.Advance(time.Minute)

	eventually(t, "announcement", func() bool { return len(f.notif.got()) == 1 })
	ev := f.notif.got()[0]
	if ev.User != "bob" || ev.ProblemName != "Two Sum" || ev.Done != 2 || ev.Total != 2 {
		t.Fatalf("event = %+v", ev)
	}
	eventually(t, "healthy runner", func() bool {
		h := f.runner.Health()
		return h.Ready && h.Entries == 2 && !h.LastSuccess.IsZero()
	})
}

func TestRunnerRetriesInitialization(t *testing.T) {
	f := newRunnerFixture(t, &memStore{})
	boom := &ranking.AuthError{Op: "sign_in", Err: errors.New("down")}
	f.api.authErrs = []error{boom, boom}
	f.start(t)

	for i := 0; i < 2; i++ {
		f.clock.BlockUntil(1)
		if h := f.runner.Health(); h.Ready {
			t.Fatalf("ready after %d failed attempts", i+1)
		}
		f.clock.Advance(10 * time.Second)
	}
	eventually(t, "initialization", func() bool { return f.runner.Health().Ready })
	if got := f.api.authCount(); got != 3 {
		t.Fatalf("auths = %d, want 3", got)
	}
}

func TestRunnerCorruptStateIsFatal(t *testing.T) {
	f := newRunnerFixture(t, &memStore{loadErr: &state.CorruptStateError{Path: "x", Err: errors.New("bad")}})
	done := f.start(t)

	select {
	case err := <-done:
		if !state.IsCorrupt(err) {
			t.Fatalf("Run = %v, want CorruptStateError", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return on corrupt state")
	}
	if _, saves := f.store.counts(); saves != 0 {
		t.Fatalf("corrupt state was overwritten (%d saves)", saves)
	}
}

func TestRunnerReauthenticatesOnAuthError(t *testing.T) {
	f := newRunnerFixture(t, &memStore{snap: state.Snapshot{5: {"bob": state.NewSolvedSet(1)}}})
	f.api.rankingErr = &ranking.AuthError{Op: "ranking", Status: 403, Err: errors.New("expired")}
	f.start(t)

	f.clock.BlockUntil(1)
	if got := f.api.authCount(); got != 1 {
		t.Fatalf("re-authenticated before the retry interval (%d sign-ins)", got)
	}
	f.clock.Advance(10 * time.Second)

	eventually(t, "re-authentication", func() bool { return f.api.authCount() == 2 })
	eventually(t, "cycle after re-authentication", func() bool { _, saves := f.store.counts(); return saves >= 1 })
	if loads, _ := f.store.counts(); loads != 1 {
		t.Fatalf("state loaded %d times, want 1", loads)
	}
	if got := f.notif.got(); len(got) != 0 {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestRunnerPacesPersistentAuthErrors(t *testing.T) {
	f := newRunnerFixture(t, &memStore{snap: state.Snapshot{5: {"bob": state.NewSolvedSet(1)}}})
	f.api.rankingErr = &ranking.AuthError{Op: "ranking", Status: 403, Err: errors.New("forbidden")}
	f.api.stickyErr = true
	f.start(t)

	for want := 1; want <= 3; want++ {
		f.clock.BlockUntil(1)
		// Real time passes; the frozen clock must hold the runner.
		time.Sleep(50 * time.Millisecond)
		if got := f.api.authCount(); got != want {
			t.Fatalf("sign-ins = %d, want %d", got, want)
		}
		if got := f.api.fetchCount(); got != want {
			t.Fatalf("ranking fetches = %d, want %d", got, want)
		}
		if h := f.runner.Health(); h.Ready || h.LastError == "" {
			t.Fatalf("health while rejected = %+v", h)
		}
		f.clock.Advance(10 * time.Second)
	}
}
