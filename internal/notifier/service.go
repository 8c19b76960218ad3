package notifier

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"simlog/internal/reconcile"
	kit "simlog/internal/transport"
	logx "simlog/pkg/logx"
	"simlog/pkg/metrics"
)

// reactTimeout bounds the acknowledgement call so a slow sink cannot hold up
// the next event.
const reactTimeout = 10 * time.Second

// Service delivers solve events one at a time. It is safe for concurrent use.
type Service struct {
	adapter kit.Adapter
	log     logx.Logger
	metrics *metrics.Manager

	cfg     Config
	limiter *rate.Limiter
}

func New(cfg Config, adapter kit.Adapter, log logx.Logger, m *metrics.Manager) (*Service, error) {
	if adapter == nil {
		return nil, errors.New("notifier: adapter is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Color == 0 {
		cfg.Color = DefaultColor
	}
	s := &Service{adapter: adapter, log: log, metrics: m, cfg: cfg}
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	return s, nil
}

// Notify sends the announcement for ev and returns the created message.
// A non-accepted send yields a *DeliveryError.
func (s *Service) Notify(ctx context.Context, ev reconcile.SolveEvent) (kit.MessageRef, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return kit.MessageRef{}, err
		}
	}

	ref, err := s.adapter.SendText(ctx, s.cfg.Target, Format(ev), &kit.SendOptions{Color: s.cfg.Color, DisablePreview: true})
	if err != nil {
		return kit.MessageRef{}, &DeliveryError{Event: ev.String(), Err: err}
	}
	if ref.IsZero() {
		return kit.MessageRef{}, &DeliveryError{Event: ev.String(), Err: errors.New("sink returned no message id")}
	}

	if s.cfg.Reaction != "" {
		rctx, cancel := context.WithTimeout(ctx, reactTimeout)
		if err := s.adapter.React(rctx, ref, s.cfg.Reaction); err != nil {
			s.metrics.NotifyFailure(metrics.StageReact)
			s.log.Warn("reaction failed",
				logx.String("event", ev.String()),
				logx.String("message_id", ref.MessageID),
				logx.Err(err),
			)
		}
		cancel()
	}
	return ref, nil
}

var _ reconcile.Notifier = (*Service)(nil)
