package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"simlog/internal/ranking"
	"simlog/internal/state"
	"simlog/pkg/logx"
	"simlog/pkg/metrics"
)

// ErrBusy is returned when Cycle or Seed is called while another one runs.
var ErrBusy = errors.New("reconcile: cycle already running")

type Config struct {
	Source   Source
	Store    state.Store
	Notifier Notifier
	Delivery Delivery

	Contests []int
	Users    []User

	Log     logx.Logger
	Metrics *metrics.Manager
	Clock   clockwork.Clock
}

// Reconciler turns fresh rankings into solve events against a previous
// snapshot. It is safe for concurrent use, but cycles never overlap.
type Reconciler struct {
	src      Source
	store    state.Store
	notifier Notifier
	delivery Delivery

	log     logx.Logger
	metrics *metrics.Manager
	clock   clockwork.Clock

	mu       sync.Mutex
	contests []int
	users    []User

	busy  atomic.Bool
	phase atomic.Int32
}

func New(cfg Config) (*Reconciler, error) {
	if cfg.Source == nil {
		return nil, errors.New("reconcile: source is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("reconcile: store is required")
	}
	if cfg.Notifier == nil {
		return nil, errors.New("reconcile: notifier is required")
	}
	if cfg.Delivery == "" {
		cfg.Delivery = AtMostOnce
	}
	if cfg.Delivery != AtMostOnce && cfg.Delivery != AtLeastOnce {
		return nil, fmt.Errorf("reconcile: unknown delivery policy %q", cfg.Delivery)
	}
	if cfg.Log.IsZero() {
		cfg.Log = logx.Nop()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	r := &Reconciler{
		src:      cfg.Source,
		store:    cfg.Store,
		notifier: cfg.Notifier,
		delivery: cfg.Delivery,
		log:      cfg.Log,
		metrics:  cfg.Metrics,
		clock:    cfg.Clock,
	}
	r.SetTracking(cfg.Contests, cfg.Users)
	return r, nil
}

// SetTracking replaces the tracked contests and users. A running cycle keeps
// the lists it started with.
func (r *Reconciler) SetTracking(contests []int, users []User) {
	cs := append([]int(nil), contests...)
	us := append([]User(nil), users...)
	r.mu.Lock()
	r.contests, r.users = cs, us
	r.mu.Unlock()
	r.metrics.SetTracked(len(cs), len(us))
}

// Tracking returns copies of the tracked contests and users.
func (r *Reconciler) Tracking() ([]int, []User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.contests...), append([]User(nil), r.users...)
}

func (r *Reconciler) Phase() Phase { return Phase(r.phase.Load()) }

func (r *Reconciler) setPhase(p Phase) {
	r.phase.Store(int32(p))
	r.metrics.SetPhase(p.String())
}

// Seed builds the first snapshot from the current rankings without emitting
// events, and persists it.
func (r *Reconciler) Seed(ctx context.Context, sess ranking.Session) (state.Snapshot, error) {
	if !r.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer r.busy.Store(false)
	defer r.setPhase(PhaseIdle)

	start := r.clock.Now()
	contests, users := r.Tracking()
	log := r.log.With(logx.String("cycle_id", uuid.NewString()), logx.String("kind", "seed"))

	r.setPhase(PhaseFetching)
	rankings, err := r.fetchRankings(ctx, sess, contests)
	if err != nil {
		r.metrics.ObserveCycle(resultOf(ctx, err), r.clock.Since(start))
		return nil, err
	}

	snap := state.Snapshot{}
	for _, rk := range rankings {
		record(snap, rk, users)
	}

	r.setPhase(PhasePersisting)
	if err := r.store.Save(context.WithoutCancel(ctx), snap); err != nil {
		r.metrics.ObserveCycle(metrics.ResultPersist, r.clock.Since(start))
		return nil, fmt.Errorf("persist seed: %w", err)
	}
	r.metrics.ObserveCycle(metrics.ResultSeeded, r.clock.Since(start))
	log.Info("state seeded",
		logx.Int("contests", len(contests)),
		logx.Int("entries", snap.Len()),
		logx.Duration("took", r.clock.Since(start)),
	)
	return snap, nil
}

// Cycle runs one poll → diff → notify → persist pass against prev.
//
// All fetches happen before any event is emitted; a failing fetch aborts the
// cycle with nothing notified and nothing persisted. prev is never modified.
func (r *Reconciler) Cycle(ctx context.Context, sess ranking.Session, prev state.Snapshot) (Result, error) {
	if !r.busy.CompareAndSwap(false, true) {
		return Result{Snapshot: prev}, ErrBusy
	}
	defer r.busy.Store(false)
	defer r.setPhase(PhaseIdle)

	res := Result{CycleID: uuid.NewString(), Snapshot: prev}
	start := r.clock.Now()
	contests, users := r.Tracking()
	log := r.log.With(logx.String("cycle_id", res.CycleID))

	fail := func(result string, err error) (Result, error) {
		r.metrics.ObserveCycle(result, r.clock.Since(start))
		return res, err
	}

	r.setPhase(PhaseFetching)
	rankings, err := r.fetchRankings(ctx, sess, contests)
	if err != nil {
		return fail(resultOf(ctx, err), err)
	}
	metas := make([]ranking.ContestMeta, 0, len(contests))
	for _, cid := range contests {
		meta, err := r.src.FetchContestMeta(ctx, sess, cid)
		if err != nil {
			return fail(resultOf(ctx, err), fmt.Errorf("contest %d metadata: %w", cid, err))
		}
		metas = append(metas, meta)
	}

	r.setPhase(PhaseDiffing)
	work := prev.Clone()
	var events []SolveEvent
	for i := range contests {
		events = append(events, Diff(prev, metas[i], rankings[i], users)...)
		touch(work, rankings[i], users)
	}

	r.setPhase(PhaseNotifying)
	for i := range events {
		if ctx.Err() != nil {
			break
		}
		ev := &events[i]
		if r.delivery == AtMostOnce {
			ev.Done = work.Add(ev.ContestID, ev.User, ev.ProblemID)
		} else {
			ev.Done = len(work.Solved(ev.ContestID, ev.User)) + 1
		}

		_, err := r.notifier.Notify(ctx, *ev)
		if err != nil && ctx.Err() != nil {
			// Never sent; leave it for the next run.
			delete(work[ev.ContestID][ev.User], ev.ProblemID)
			break
		}
		res.Events = append(res.Events, *ev)
		r.metrics.SolveEvent()
		if err != nil {
			res.Failed++
			r.metrics.NotifyFailure(metrics.StageSend)
			log.Warn("notification failed",
				logx.String("event", ev.String()),
				logx.String("delivery", string(r.delivery)),
				logx.Err(err),
			)
			continue
		}
		res.Delivered++
		if r.delivery == AtLeastOnce {
			ev.Done = work.Add(ev.ContestID, ev.User, ev.ProblemID)
		}
		log.Debug("solve announced", logx.String("event", ev.String()), logx.Int("done", ev.Done), logx.Int("total", ev.Total))
	}

	r.setPhase(PhasePersisting)
	if !work.Contains(prev) {
		return fail(metrics.ResultPersist, errors.New("refusing to persist a snapshot smaller than the previous one"))
	}
	if err := r.store.Save(context.WithoutCancel(ctx), work); err != nil {
		return fail(metrics.ResultPersist, fmt.Errorf("persist: %w", err))
	}
	res.Snapshot = work

	if err := ctx.Err(); err != nil {
		log.Warn("cycle interrupted", logx.Int("announced", len(res.Events)), logx.Int("pending", len(events)-len(res.Events)))
		return fail(metrics.ResultCanceled, err)
	}

	took := r.clock.Since(start)
	r.metrics.ObserveCycle(metrics.ResultOK, took)
	if len(res.Events) > 0 || res.Failed > 0 {
		log.Info("cycle done",
			logx.Int("events", len(res.Events)),
			logx.Int("delivered", res.Delivered),
			logx.Int("failed", res.Failed),
			logx.Duration("took", took),
		)
	} else {
		log.Debug("cycle done", logx.Duration("took", took))
	}
	return res, nil
}

func (r *Reconciler) fetchRankings(ctx context.Context, sess ranking.Session, contests []int) ([]ranking.Ranking, error) {
	out := make([]ranking.Ranking, 0, len(contests))
	for _, cid := range contests {
		rk, err := r.src.FetchRanking(ctx, sess, cid)
		if err != nil {
			return nil, fmt.Errorf("contest %d ranking: %w", cid, err)
		}
		if rk.ContestID == 0 {
			rk.ContestID = cid
		}
		out = append(out, rk)
	}
	return out, nil
}

// record copies the solved sets of tracked users from rk into snap.
func record(snap state.Snapshot, rk ranking.Ranking, users []User) {
	touch(snap, rk, users)
	for _, u := range users {
		row, ok := rk.Row(u.Name)
		if !ok {
			continue
		}
		for _, pid := range row.Solved {
			snap.Add(rk.ContestID, u.Name, pid)
		}
	}
}

// touch makes the contest and every tracked user present in rk exist in snap.
func touch(snap state.Snapshot, rk ranking.Ranking, users []User) {
	if _, ok := snap[rk.ContestID]; !ok {
		snap[rk.ContestID] = map[string]state.SolvedSet{}
	}
	for _, u := range users {
		if _, ok := rk.Row(u.Name); ok {
			snap.Touch(rk.ContestID, u.Name)
		}
	}
}

func resultOf(ctx context.Context, err error) string {
	switch {
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		return metrics.ResultCanceled
	case ranking.IsAuth(err):
		return metrics.ResultAuth
	default:
		return metrics.ResultUpstream
	}
}

// ensure the real client keeps satisfying Source.
var _ Source = (*ranking.Client)(nil)
