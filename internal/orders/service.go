package orders

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/viajaya/reservations/internal/db"
	"github.com/viajaya/reservations/internal/reservation"
)

// Order statuses. pending is the only non-terminal one.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// ErrOrderNotFound is returned when no order exists for a reference
var ErrOrderNotFound = errors.New("order not found")

// FinalizeReport summarizes one run of the service-date finalization job
type FinalizeReport struct {
	OrdersCancelled int64 `json:"orders_cancelled"`
	HoldsCancelled  int64 `json:"holds_cancelled"`
}

// Service owns the commercial order rows that share an external reference
// with their reservations. The payment outcome drives the order status
// through here; the reservation engine stays the single place stock moves.
type Service struct {
	db     *db.DB
	engine *reservation.Engine
	log    *zap.Logger
}

// NewService creates a new order service
func NewService(database *db.DB, engine *reservation.Engine, log *zap.Logger) *Service {
	return &Service{db: database, engine: engine, log: log}
}

// Create persists a new pending order for a checkout attempt
func (s *Service) Create(ctx context.Context, order *db.Order) error {
	if order.Status == "" {
		order.Status = StatusPending
	}
	return s.db.WithContext(ctx).Create(order).Error
}

// GetByReference returns the order of a checkout attempt
func (s *Service) GetByReference(ctx context.Context, ref string) (*db.Order, error) {
	var order db.Order
	err := s.db.WithContext(ctx).Where("external_reference = ?", ref).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// CompleteByReference moves a pending order to completed. A second call
// matches zero rows and reports false, mirroring the engine's idempotency.
func (s *Service) CompleteByReference(ctx context.Context, ref string) (bool, error) {
	return s.transition(ctx, ref, StatusCompleted)
}

// CancelByReference moves a pending order to cancelled
func (s *Service) CancelByReference(ctx context.Context, ref string) (bool, error) {
	return s.transition(ctx, ref, StatusCancelled)
}

func (s *Service) transition(ctx context.Context, ref, target string) (bool, error) {
	result := s.db.WithContext(ctx).Model(&db.Order{}).
		Where("external_reference = ? AND status = ?", ref, StatusPending).
		Updates(map[string]interface{}{
			"status":     target,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// CountDue returns how many pending orders FinalizeDue would close right now
func (s *Service) CountDue(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&db.Order{}).
		Where("status = ? AND service_date IS NOT NULL AND service_date <= ?", StatusPending, time.Now()).
		Count(&count).Error
	return count, err
}

// FinalizeDue closes out orders whose service date has passed. A pending
// order past its date never got a payment; the tour already departed, so the
// order is cancelled and its holds released through the engine. Completed
// and cancelled orders are untouched.
func (s *Service) FinalizeDue(ctx context.Context) (*FinalizeReport, error) {
	var due []db.Order
	err := s.db.WithContext(ctx).
		Where("status = ? AND service_date IS NOT NULL AND service_date <= ?", StatusPending, time.Now()).
		Find(&due).Error
	if err != nil {
		return nil, err
	}

	report := &FinalizeReport{}
	for _, order := range due {
		done, err := s.CancelByReference(ctx, order.ExternalReference)
		if err != nil {
			return report, err
		}
		if !done {
			// Raced with a webhook that settled the order first
			continue
		}
		report.OrdersCancelled++

		holds, err := s.engine.CancelByReference(ctx, order.ExternalReference, "service date passed")
		if err != nil {
			return report, err
		}
		report.HoldsCancelled += holds

		s.log.Info("Order finalized",
			zap.String("reference", order.ExternalReference),
			zap.Int64("holds_cancelled", holds),
		)
	}
	return report, nil
}
