package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jonboulle/clockwork"

	"simlog/internal/ranking"
	"simlog/internal/reconcile"
	"simlog/internal/state"
	"simlog/internal/task/scheduler"
	logx "simlog/pkg/logx"
)

// RankingAPI is the full ranking client surface the runner needs.
type RankingAPI interface {
	reconcile.Source
	Authenticate(ctx context.Context) (ranking.Session, error)
	VerifySession(ctx context.Context, sess ranking.Session) error
}

var _ RankingAPI = (*ranking.Client)(nil)

// Runner owns the process lifecycle of the poll loop:
// authenticate → verify → load or seed, then cycles on schedule. A rejected
// session sends it back to initialization after the retry interval.
type Runner struct {
	api   RankingAPI
	store state.Store
	rec   *reconcile.Reconciler
	sched *scheduler.Service
	retry time.Duration
	clock clockwork.Clock
	log   logx.Logger

	mu          sync.Mutex
	sess        ranking.Session
	snap        state.Snapshot
	ready       bool
	inits       int
	lastSuccess time.Time
	lastErr     error
}

type RunnerConfig struct {
	API        RankingAPI
	Store      state.Store
	Reconciler *reconcile.Reconciler
	Scheduler  *scheduler.Service
	// RetryInterval is the constant pause between failed initializations.
	RetryInterval time.Duration
	Clock         clockwork.Clock
	Log           logx.Logger
}

func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.API == nil || cfg.Store == nil || cfg.Reconciler == nil || cfg.Scheduler == nil {
		return nil, errors.New("runner: api, store, reconciler and scheduler are required")
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Log.IsZero() {
		cfg.Log = logx.Nop()
	}
	return &Runner{
		api:   cfg.API,
		store: cfg.Store,
		rec:   cfg.Reconciler,
		sched: cfg.Scheduler,
		retry: cfg.RetryInterval,
		clock: cfg.Clock,
		log:   cfg.Log,
	}, nil
}

// Run blocks until ctx is done (returning nil) or a fatal error occurs.
// Corrupt persisted state is fatal.
func (r *Runner) Run(ctx context.Context) error {
	for {
		if err := r.initialize(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		err := r.sched.Run(ctx, r.cycle)
		if ctx.Err() != nil {
			return nil
		}
		if ranking.IsAuth(err) {
			// Paced like a failed initialization; the rejection may persist.
			r.log.Warn("session rejected; re-initializing",
				logx.Duration("retry_in", r.retry),
				logx.Err(err),
			)
			r.setReady(false)
			r.setErr(err)
			if !r.sleep(ctx, r.retry) {
				return nil
			}
			continue
		}
		return err
	}
}

// sleep waits d on the runner clock. It reports false if ctx ended first.
func (r *Runner) sleep(ctx context.Context, d time.Duration) bool {
	t := r.clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.Chan():
		return true
	}
}

// initialize retries initOnce with a constant backoff until it succeeds, the
// state turns out corrupt, or ctx is done.
func (r *Runner) initialize(ctx context.Context) error {
	bo := backoff.NewConstantBackOff(r.retry)
	for attempt := 1; ; attempt++ {
		err := r.initOnce(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.setErr(err)
		if state.IsCorrupt(err) {
			r.log.Error("persisted state is corrupt; refusing to continue", logx.Err(err))
			return err
		}

		wait := bo.NextBackOff()
		r.log.Warn("initialization failed; retrying",
			logx.Int("attempt", attempt),
			logx.Duration("retry_in", wait),
			logx.Err(err),
		)
		if !r.sleep(ctx, wait) {
			return ctx.Err()
		}
	}
}

func (r *Runner) initOnce(ctx context.Context) error {
	sess, err := r.api.Authenticate(ctx)
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	if err := r.api.VerifySession(ctx, sess); err != nil {
		return fmt.Errorf("verify session: %w", err)
	}

	snap := r.snapshot()
	if snap == nil {
		ok, err := r.store.Exists(ctx)
		if err != nil {
			return fmt.Errorf("check state: %w", err)
		}
		if ok {
			snap, err = r.store.Load(ctx)
			if err != nil {
				return fmt.Errorf("load state: %w", err)
			}
			r.log.Info("state loaded", logx.Int("entries", snap.Len()))
		} else {
			snap, err = r.rec.Seed(ctx, sess)
			if err != nil {
				return fmt.Errorf("seed state: %w", err)
			}
		}
	}

	r.mu.Lock()
	r.sess = sess
	r.snap = snap
	r.ready = true
	r.inits++
	r.mu.Unlock()
	r.log.Info("poller initialized", logx.Int64("user_id", sess.UserID))
	return nil
}

// cycle is the scheduled job. The snapshot only advances on a persisted
// cycle.
func (r *Runner) cycle(ctx context.Context) error {
	r.mu.Lock()
	sess, prev := r.sess, r.snap
	r.mu.Unlock()

	res, err := r.rec.Cycle(ctx, sess, prev)
	r.mu.Lock()
	defer r.mu.Unlock()
	if res.Snapshot != nil {
		r.snap = res.Snapshot
	}
	if err != nil {
		r.lastErr = err
		return err
	}
	r.lastErr = nil
	r.lastSuccess = r.clock.Now()
	return nil
}

// Trigger requests a cycle as soon as the current one settles.
func (r *Runner) Trigger() { r.sched.Trigger() }

func (r *Runner) snapshot() state.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap
}

func (r *Runner) setReady(v bool) {
	r.mu.Lock()
	r.ready = v
	r.mu.Unlock()
}

func (r *Runner) setErr(err error) {
	r.mu.Lock()
	r.lastErr = err
	r.mu.Unlock()
}

// Health is the runner part of the /healthz report.
type Health struct {
	Ready       bool      `json:"ready"`
	Inits       int       `json:"initializations"`
	Phase       string    `json:"phase"`
	Entries     int       `json:"entries"`
	LastSuccess time.Time `json:"last_success,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	NextRun     time.Time `json:"next_run,omitempty"`
}

func (r *Runner) Health() Health {
	st := r.sched.Status()
	r.mu.Lock()
	defer r.mu.Unlock()
	h := Health{
		Ready:       r.ready,
		Inits:       r.inits,
		Phase:       r.rec.Phase().String(),
		Entries:     r.snap.Len(),
		LastSuccess: r.lastSuccess,
		NextRun:     st.Next,
	}
	if r.lastErr != nil {
		h.LastError = r.lastErr.Error()
	}
	return h
}
