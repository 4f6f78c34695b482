package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/viajaya/reservations/internal/db"
	"github.com/viajaya/reservations/internal/events"
	"github.com/viajaya/reservations/internal/metrics"
	"github.com/viajaya/reservations/internal/orders"
	"github.com/viajaya/reservations/internal/payments/wompi"
	"github.com/viajaya/reservations/internal/reservation"
)

// Payment statuses persisted locally
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusDeclined = "declined"
	StatusVoided   = "voided"
	StatusError    = "error"
)

// EventPublisher is the slice of the events publisher the processor needs
type EventPublisher interface {
	Publish(ctx context.Context, eventType, reference string, payload map[string]interface{}) error
}

// Processor translates gateway payment outcomes into reservation and order
// transitions. It is the single place a webhook becomes state.
type Processor struct {
	db        *db.DB
	engine    *reservation.Engine
	orders    *orders.Service
	publisher EventPublisher
	metrics   *metrics.Metrics
	log       *zap.Logger
}

// NewProcessor creates a new payment processor
func NewProcessor(database *db.DB, engine *reservation.Engine, orderSvc *orders.Service, publisher EventPublisher, m *metrics.Metrics, log *zap.Logger) *Processor {
	return &Processor{
		db:        database,
		engine:    engine,
		orders:    orderSvc,
		publisher: publisher,
		metrics:   m,
		log:       log,
	}
}

// CreatePayment records the pending payment for a fresh checkout attempt and
// links the reservations of the batch to it.
func (p *Processor) CreatePayment(ctx context.Context, ref, customerEmail, currency string, amountInCents int64) (*db.Payment, error) {
	payment := &db.Payment{
		ExternalReference: ref,
		Status:            StatusPending,
		AmountInCents:     amountInCents,
		Currency:          currency,
		CustomerEmail:     customerEmail,
	}
	if err := p.db.WithContext(ctx).Create(payment).Error; err != nil {
		return nil, err
	}
	if err := p.engine.AttachPayment(ctx, ref, payment.ID); err != nil {
		return nil, err
	}
	return payment, nil
}

// HandleTransaction applies one gateway transaction outcome. Approved
// payments confirm the batch; declined, voided or errored ones cancel it.
// Both directions are idempotent because the underlying transitions are.
func (p *Processor) HandleTransaction(ctx context.Context, txn *wompi.Transaction) error {
	ref := txn.Reference
	if ref == "" {
		return fmt.Errorf("transaction %s carries no reference", txn.ID)
	}

	if err := p.recordOutcome(ctx, txn); err != nil {
		return err
	}

	switch txn.Status {
	case wompi.StatusApproved:
		return p.handleApproved(ctx, txn)
	case wompi.StatusDeclined, wompi.StatusVoided, wompi.StatusError:
		return p.handleRejected(ctx, txn)
	case wompi.StatusPending:
		p.log.Info("Transaction still pending", zap.String("reference", ref))
		return nil
	default:
		p.log.Warn("Unknown transaction status",
			zap.String("reference", ref),
			zap.String("status", txn.Status),
		)
		return nil
	}
}

// recordOutcome upserts the local payment row with the gateway's view
func (p *Processor) recordOutcome(ctx context.Context, txn *wompi.Transaction) error {
	var payment db.Payment
	err := p.db.WithContext(ctx).Where("external_reference = ?", txn.Reference).First(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Webhook for a checkout this service never saw; keep the record
		// for reconciliation instead of dropping it.
		p.log.Warn("Payment record missing for webhook, creating",
			zap.String("reference", txn.Reference),
			zap.String("transaction_id", txn.ID),
		)
		payment = db.Payment{
			ExternalReference: txn.Reference,
			AmountInCents:     txn.AmountInCents,
			Currency:          txn.Currency,
			CustomerEmail:     txn.CustomerEmail,
		}
		if err := p.db.WithContext(ctx).Create(&payment).Error; err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	return p.db.WithContext(ctx).Model(&db.Payment{}).
		Where("id = ?", payment.ID).
		Updates(map[string]interface{}{
			"status":                 localStatus(txn.Status),
			"gateway_transaction_id": txn.ID,
			"updated_at":             time.Now(),
		}).Error
}

func (p *Processor) handleApproved(ctx context.Context, txn *wompi.Transaction) error {
	ref := txn.Reference

	result, err := p.engine.ConfirmByReference(ctx, ref)
	if err != nil {
		return err
	}

	if result.Empty() {
		return p.flagAnomaly(ctx, txn)
	}

	var confirmedValue int64
	ids := make([]uint, 0, len(result.Confirmed))
	for _, res := range result.Confirmed {
		confirmedValue += res.Subtotal
		ids = append(ids, res.ID)
	}
	p.metrics.ConfirmedValue.Add(float64(confirmedValue))

	if _, err := p.orders.CompleteByReference(ctx, ref); err != nil {
		return err
	}

	p.publish(ctx, events.EventTypePaymentApproved, ref, map[string]interface{}{
		"transaction_id":  txn.ID,
		"amount_in_cents": txn.AmountInCents,
	})
	p.publish(ctx, events.EventTypeReservationConfirmed, ref, map[string]interface{}{
		"reservation_ids": ids,
		"skipped_ids":     result.Skipped,
		"total_value":     confirmedValue,
	})
	// One stock movement per confirmed line, published after the commit
	for _, res := range result.Confirmed {
		p.publish(ctx, events.EventTypeStockUpdated, ref, map[string]interface{}{
			"product_id": res.ProductID,
			"delta":      -res.QuantityReserved,
			"reason":     "reservation confirmed",
		})
	}

	p.log.Info("Payment approved, batch confirmed",
		zap.String("reference", ref),
		zap.Int("confirmed", len(result.Confirmed)),
		zap.Int("skipped", len(result.Skipped)),
	)
	return nil
}

func (p *Processor) handleRejected(ctx context.Context, txn *wompi.Transaction) error {
	ref := txn.Reference
	reason := "payment " + strings.ToLower(txn.Status)
	if txn.StatusMessage != "" {
		reason = reason + ": " + txn.StatusMessage
	}

	cancelled, err := p.engine.CancelByReference(ctx, ref, reason)
	if err != nil {
		return err
	}

	if _, err := p.orders.CancelByReference(ctx, ref); err != nil {
		return err
	}

	p.publish(ctx, events.EventTypePaymentDeclined, ref, map[string]interface{}{
		"transaction_id": txn.ID,
		"status":         txn.Status,
		"reason":         reason,
	})
	if cancelled > 0 {
		p.publish(ctx, events.EventTypeReservationCancelled, ref, map[string]interface{}{
			"cancelled": cancelled,
			"reason":    reason,
		})
	}

	p.log.Info("Payment rejected, batch cancelled",
		zap.String("reference", ref),
		zap.String("status", txn.Status),
		zap.Int64("cancelled", cancelled),
	)
	return nil
}

// flagAnomaly handles an approved payment whose reservations were no longer
// active: the documented race with the expiry sweeper, or a duplicate
// webhook. Expired holds are never resurrected; re-confirming them could
// oversell stock already released to other checkouts. A duplicate approval
// (all reservations already confirmed) is expected and only logged.
func (p *Processor) flagAnomaly(ctx context.Context, txn *wompi.Transaction) error {
	ref := txn.Reference

	all, err := p.engine.FindByReference(ctx, ref)
	if err != nil {
		return err
	}

	states := make(map[string]int, len(all))
	for _, res := range all {
		states[res.State]++
	}

	if len(all) > 0 && states[string(reservation.StateConfirmed)] == len(all) {
		p.log.Info("Duplicate approval webhook, batch already confirmed",
			zap.String("reference", ref),
		)
		return nil
	}

	p.metrics.Anomalies.Inc()
	p.publish(ctx, events.EventTypeReconciliation, ref, map[string]interface{}{
		"transaction_id":  txn.ID,
		"amount_in_cents": txn.AmountInCents,
		"states":          states,
		"detail":          "approved payment with no active reservations",
	})

	p.log.Error("Reconciliation anomaly: approved payment with no active reservations",
		zap.String("reference", ref),
		zap.String("transaction_id", txn.ID),
		zap.Any("states", states),
	)
	return nil
}

func (p *Processor) publish(ctx context.Context, eventType, ref string, payload map[string]interface{}) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.Publish(ctx, eventType, ref, payload); err != nil {
		p.log.Error("Failed to publish event",
			zap.String("event_type", eventType),
			zap.String("reference", ref),
			zap.Error(err),
		)
	}
}

func localStatus(gatewayStatus string) string {
	switch gatewayStatus {
	case wompi.StatusApproved:
		return StatusApproved
	case wompi.StatusDeclined:
		return StatusDeclined
	case wompi.StatusVoided:
		return StatusVoided
	case wompi.StatusError:
		return StatusError
	default:
		return StatusPending
	}
}
