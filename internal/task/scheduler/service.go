package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"

	logx "simlog/pkg/logx"
)

// Job is one scheduled run.
type Job func(ctx context.Context) error

type Option func(*Service)

func WithClock(c clockwork.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLocation sets the timezone cron expressions are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.loc = loc }
}

// WithStopOn makes Run return the first job error for which fn reports true.
// Other errors are logged and the schedule continues.
func WithStopOn(fn func(error) bool) Option {
	return func(s *Service) { s.stopOn = fn }
}

// WithDelayedStart skips the immediate first run; the job first runs at the
// first trigger.
func WithDelayedStart() Option {
	return func(s *Service) { s.delayed = true }
}

// Service runs one job sequentially on a schedule.
type Service struct {
	log     logx.Logger
	clock   clockwork.Clock
	loc     *time.Location
	spec    string
	sched   cron.Schedule
	stopOn  func(error) bool
	delayed bool

	trigger chan struct{}

	mu      sync.Mutex
	running bool
	next    time.Time
	lastRun time.Time
	lastErr error
}

func New(spec string, log logx.Logger, opts ...Option) (*Service, error) {
	ps, err := ParseSchedule(spec)
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:     log,
		clock:   clockwork.NewRealClock(),
		spec:    spec,
		trigger: make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(s)
	}
	s.sched, err = ps.Schedule(s.loc)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Trigger requests a run as soon as the current one (if any) settles.
// Requests made while one is already pending are dropped.
func (s *Service) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Status reports the next planned trigger and the outcome of the last run.
type Status struct {
	Spec    string
	Running bool
	Next    time.Time
	LastRun time.Time
	LastErr error
}

func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{Spec: s.spec, Running: s.running, Next: s.next, LastRun: s.lastRun, LastErr: s.lastErr}
}

// Run executes job until ctx is done or a job error matches WithStopOn. It
// returns nil on cancellation.
func (s *Service) Run(ctx context.Context, job Job) error {
	if job == nil {
		return errors.New("scheduler: job is nil")
	}
	first := !s.delayed
	for {
		if first {
			first = false
		} else if !s.wait(ctx) {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}

		err := s.runOnce(ctx, job)
		if err != nil {
			if s.stopOn != nil && s.stopOn(err) {
				return err
			}
			if ctx.Err() == nil {
				s.log.Warn("scheduled run failed", logx.String("spec", s.spec), logx.Err(err))
			}
		}
	}
}

// wait blocks until the next trigger, a manual Trigger, or ctx is done.
func (s *Service) wait(ctx context.Context) bool {
	now := s.clock.Now()
	next := s.sched.Next(now)
	s.mu.Lock()
	s.next = next
	s.mu.Unlock()

	d := next.Sub(now)
	if d < 0 {
		d = 0
	}
	timer := s.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	case <-s.trigger:
		s.log.Debug("manual trigger", logx.String("spec", s.spec))
		return true
	}
}

func (s *Service) runOnce(ctx context.Context, job Job) (err error) {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	start := s.clock.Now()

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduled job panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("scheduled job panicked: %v", r)
		}
		s.mu.Lock()
		s.running = false
		s.lastRun = start
		s.lastErr = err
		s.mu.Unlock()
	}()
	return job(ctx)
}
