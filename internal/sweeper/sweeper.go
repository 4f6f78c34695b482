package sweeper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/viajaya/reservations/internal/events"
	"github.com/viajaya/reservations/internal/metrics"
	"github.com/viajaya/reservations/internal/orders"
	"github.com/viajaya/reservations/internal/reservation"
)

// EventPublisher is the slice of the events publisher the sweeper needs
type EventPublisher interface {
	Publish(ctx context.Context, eventType, reference string, payload map[string]interface{}) error
}

// Sweeper periodically reaps stale holds and finalizes dated orders. It
// holds no state of its own; every run is a plain call into the engine, so
// overlapping invocations are safe (each transition is conditional).
type Sweeper struct {
	engine           *reservation.Engine
	orders           *orders.Service
	publisher        EventPublisher
	metrics          *metrics.Metrics
	interval         time.Duration
	finalizeInterval time.Duration
	log              *zap.Logger
}

// New creates a sweeper with the given cadences
func New(engine *reservation.Engine, orderSvc *orders.Service, publisher EventPublisher, m *metrics.Metrics, interval, finalizeInterval time.Duration, log *zap.Logger) *Sweeper {
	return &Sweeper{
		engine:           engine,
		orders:           orderSvc,
		publisher:        publisher,
		metrics:          m,
		interval:         interval,
		finalizeInterval: finalizeInterval,
		log:              log,
	}
}

// Run sweeps on every tick until ctx is cancelled. The finalize job rides
// the same loop on its own, longer cadence.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	lastFinalize := time.Now()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("Sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.log.Error("Sweep failed", zap.Error(err))
			}
			if time.Since(lastFinalize) >= s.finalizeInterval {
				lastFinalize = time.Now()
				if _, err := s.FinalizeOnce(ctx); err != nil {
					s.log.Error("Finalize failed", zap.Error(err))
				}
			}
		}
	}
}

// SweepOnce expires every due reservation and returns the count. Running
// with nothing due is a successful no-op.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	s.metrics.SweepRuns.Inc()

	expired, err := s.engine.ExpireDue(ctx)
	if err != nil {
		return 0, err
	}
	if expired == 0 {
		return 0, nil
	}

	s.metrics.SweepExpired.Add(float64(expired))
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, events.EventTypeReservationExpired, "", map[string]interface{}{
			"expired": expired,
		}); err != nil {
			s.log.Error("Failed to publish expiry event", zap.Error(err))
		}
	}

	return expired, nil
}

// FinalizeOnce closes out orders whose service date has passed
func (s *Sweeper) FinalizeOnce(ctx context.Context) (*orders.FinalizeReport, error) {
	report, err := s.orders.FinalizeDue(ctx)
	if err != nil {
		return nil, err
	}
	if report.OrdersCancelled > 0 {
		s.log.Info("Finalize run complete",
			zap.Int64("orders_cancelled", report.OrdersCancelled),
			zap.Int64("holds_cancelled", report.HoldsCancelled),
		)
	}
	return report, nil
}
