package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/viajaya/reservations/internal/db"
	"github.com/viajaya/reservations/internal/inventory"
)

// CartLine is one product/quantity pair of a checkout attempt
type CartLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"` // minor units; 0 means "use catalog price"
}

// Batch is the reservation set created for one checkout attempt
type Batch struct {
	ExternalReference string                `json:"external_reference"`
	ExpiresAt         time.Time             `json:"expires_at"`
	TotalAmount       int64                 `json:"total_amount"`
	Reservations      []db.StockReservation `json:"reservations"`
}

// ConfirmResult reports which reservations a confirmation actually moved.
// Skipped carries the IDs that were no longer active when the conditional
// update ran; an all-empty result means there was nothing to confirm, which
// callers must not treat as failure.
type ConfirmResult struct {
	Confirmed []db.StockReservation `json:"confirmed"`
	Skipped   []uint                `json:"skipped,omitempty"`
}

// Empty reports whether the confirmation found nothing to do
func (r *ConfirmResult) Empty() bool {
	return len(r.Confirmed) == 0 && len(r.Skipped) == 0
}

// StateStats is one row of the operational statistics query
type StateStats struct {
	State      string `json:"state"`
	Count      int64  `json:"count"`
	TotalValue int64  `json:"total_value"`
}

// Engine owns every state transition of stock reservations. All transitions
// are conditional updates scoped by (id, state=active), so concurrent
// confirm/cancel/expire calls converge: at most one wins per reservation and
// the losers match zero rows.
type Engine struct {
	db           *db.DB
	ledger       *inventory.Ledger
	holdDuration time.Duration
	log          *zap.Logger
}

// NewEngine creates a new reservation lifecycle engine
func NewEngine(database *db.DB, ledger *inventory.Ledger, holdDuration time.Duration, log *zap.Logger) *Engine {
	return &Engine{
		db:           database,
		ledger:       ledger,
		holdDuration: holdDuration,
		log:          log,
	}
}

// lockForUpdate adds a row lock on dialects that support it. The sqlite test
// driver has no FOR UPDATE; there the transaction itself serializes writers.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// CreateBatch places one active hold per cart line, all sharing ref and one
// expiry. The whole batch is rejected if any line fails validation or would
// drive available stock below zero; no partial set is ever persisted. An
// empty ref gets a generated UUID. Returns the created set.
func (e *Engine) CreateBatch(ctx context.Context, lines []CartLine, ref string) (*Batch, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: empty cart", ErrInvalidInput)
	}
	for _, line := range lines {
		if line.ProductID == "" {
			return nil, fmt.Errorf("%w: missing product id", ErrInvalidInput)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity %d for product %s", ErrInvalidInput, line.Quantity, line.ProductID)
		}
		if line.UnitPrice < 0 {
			return nil, fmt.Errorf("%w: negative unit price for product %s", ErrInvalidInput, line.ProductID)
		}
	}

	if ref == "" {
		ref = uuid.New().String()
	}

	batch := &Batch{
		ExternalReference: ref,
		ExpiresAt:         time.Now().Add(e.holdDuration),
	}

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, line := range lines {
			var product db.Product
			if err := lockForUpdate(tx).Where("sku = ? AND active = ?", line.ProductID, true).First(&product).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("%w: unknown product %s", ErrInvalidInput, line.ProductID)
				}
				return err
			}

			var reserved int64
			if err := tx.Model(&db.StockReservation{}).
				Where("product_id = ? AND state = ?", line.ProductID, StateActive).
				Select("COALESCE(SUM(quantity_reserved), 0)").
				Scan(&reserved).Error; err != nil {
				return err
			}

			available := product.Stock - int(reserved)
			if available < line.Quantity {
				return &InsufficientStockError{
					ProductID: line.ProductID,
					Requested: line.Quantity,
					Available: available,
				}
			}

			unitPrice := line.UnitPrice
			if unitPrice == 0 {
				unitPrice = product.Price
			}

			res := db.StockReservation{
				ProductID:         line.ProductID,
				ExternalReference: ref,
				QuantityReserved:  line.Quantity,
				UnitPrice:         unitPrice,
				Subtotal:          int64(line.Quantity) * unitPrice,
				State:             string(StateActive),
				ExpiresAt:         batch.ExpiresAt,
				Metadata: datatypes.JSONMap{
					"product_name":  product.Name,
					"price_at_hold": unitPrice,
				},
			}
			if err := tx.Create(&res).Error; err != nil {
				return err
			}

			batch.Reservations = append(batch.Reservations, res)
			batch.TotalAmount += res.Subtotal
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("Reservation batch created",
		zap.String("reference", ref),
		zap.Int("lines", len(batch.Reservations)),
		zap.Int64("total_amount", batch.TotalAmount),
		zap.Time("expires_at", batch.ExpiresAt),
	)
	return batch, nil
}

// AttachPayment links every reservation of a checkout attempt to its payment
// record once one exists.
func (e *Engine) AttachPayment(ctx context.Context, ref string, paymentID uint) error {
	return e.db.WithContext(ctx).Model(&db.StockReservation{}).
		Where("external_reference = ?", ref).
		Update("payment_id", paymentID).Error
}

// ConfirmByReference moves every active reservation of ref to confirmed and
// decrements physical stock by each reserved quantity, all in one
// transaction. Calling it again finds no active rows and returns an empty
// result, so stock moves exactly once per reservation.
func (e *Engine) ConfirmByReference(ctx context.Context, ref string) (*ConfirmResult, error) {
	target, ok := Next(StateActive, EventConfirm)
	if !ok {
		return nil, fmt.Errorf("confirm is not a legal transition from %s", StateActive)
	}

	result := &ConfirmResult{}
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var actives []db.StockReservation
		if err := lockForUpdate(tx).
			Where("external_reference = ? AND state = ?", ref, StateActive).
			Find(&actives).Error; err != nil {
			return err
		}

		now := time.Now()
		for _, res := range actives {
			update := tx.Model(&db.StockReservation{}).
				Where("id = ? AND state = ?", res.ID, StateActive).
				Updates(map[string]interface{}{
					"state":        string(target),
					"confirmed_at": now,
					"updated_at":   now,
				})
			if update.Error != nil {
				return update.Error
			}
			if update.RowsAffected == 0 {
				// Lost the race to a concurrent cancel/expire
				result.Skipped = append(result.Skipped, res.ID)
				continue
			}

			if err := e.ledger.Decrement(ctx, tx, res.ProductID, res.QuantityReserved); err != nil {
				return err
			}

			res.State = string(target)
			res.ConfirmedAt = &now
			result.Confirmed = append(result.Confirmed, res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("Reservations confirmed",
		zap.String("reference", ref),
		zap.Int("confirmed", len(result.Confirmed)),
		zap.Int("skipped", len(result.Skipped)),
	)
	return result, nil
}

// CancelByReference moves every active reservation of ref to cancelled,
// recording reason in metadata. Physical stock is untouched: active holds
// never decremented it. Returns the number of reservations cancelled;
// calling it again returns zero, not an error.
func (e *Engine) CancelByReference(ctx context.Context, ref, reason string) (int64, error) {
	target, ok := Next(StateActive, EventCancel)
	if !ok {
		return 0, fmt.Errorf("cancel is not a legal transition from %s", StateActive)
	}

	var cancelled int64
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var actives []db.StockReservation
		if err := lockForUpdate(tx).
			Where("external_reference = ? AND state = ?", ref, StateActive).
			Find(&actives).Error; err != nil {
			return err
		}

		now := time.Now()
		for _, res := range actives {
			meta := res.Metadata
			if meta == nil {
				meta = datatypes.JSONMap{}
			}
			meta["cancellation_reason"] = reason

			update := tx.Model(&db.StockReservation{}).
				Where("id = ? AND state = ?", res.ID, StateActive).
				Updates(map[string]interface{}{
					"state":        string(target),
					"cancelled_at": now,
					"updated_at":   now,
					"metadata":     meta,
				})
			if update.Error != nil {
				return update.Error
			}
			cancelled += update.RowsAffected
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	e.log.Info("Reservations cancelled",
		zap.String("reference", ref),
		zap.String("reason", reason),
		zap.Int64("cancelled", cancelled),
	)
	return cancelled, nil
}

// ExpireDue transitions every active reservation whose deadline has passed.
// Each row moves independently; a reservation confirmed or cancelled between
// the scan and the update simply matches zero rows. No stock effect, same as
// cancellation. Returns the number of reservations expired.
func (e *Engine) ExpireDue(ctx context.Context) (int64, error) {
	target, ok := Next(StateActive, EventExpire)
	if !ok {
		return 0, fmt.Errorf("expire is not a legal transition from %s", StateActive)
	}

	var expired int64
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()

		var due []db.StockReservation
		if err := tx.
			Where("state = ? AND expires_at <= ?", StateActive, now).
			Find(&due).Error; err != nil {
			return err
		}

		for _, res := range due {
			meta := res.Metadata
			if meta == nil {
				meta = datatypes.JSONMap{}
			}
			meta["expired_by"] = "sweeper"

			update := tx.Model(&db.StockReservation{}).
				Where("id = ? AND state = ?", res.ID, StateActive).
				Updates(map[string]interface{}{
					"state":        string(target),
					"cancelled_at": now,
					"updated_at":   now,
					"metadata":     meta,
				})
			if update.Error != nil {
				return update.Error
			}
			expired += update.RowsAffected
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if expired > 0 {
		e.log.Info("Expired stale reservations", zap.Int64("expired", expired))
	}
	return expired, nil
}

// CountDue returns how many reservations ExpireDue would act on right now
func (e *Engine) CountDue(ctx context.Context) (int64, error) {
	var count int64
	err := e.db.WithContext(ctx).Model(&db.StockReservation{}).
		Where("state = ? AND expires_at <= ?", StateActive, time.Now()).
		Count(&count).Error
	return count, err
}

// FindByReference returns all reservations of a checkout attempt in any state
func (e *Engine) FindByReference(ctx context.Context, ref string) ([]db.StockReservation, error) {
	var all []db.StockReservation
	err := e.db.WithContext(ctx).
		Where("external_reference = ?", ref).
		Order("id").
		Find(&all).Error
	return all, err
}

// AvailableStock returns a product's physical stock, the sum of its active
// holds, and the difference sellable right now.
func (e *Engine) AvailableStock(ctx context.Context, productID string) (physical, reserved, available int, err error) {
	tx := e.db.WithContext(ctx)

	physical, err = e.ledger.PhysicalStock(ctx, tx, productID)
	if err != nil {
		return 0, 0, 0, err
	}

	var held int64
	if err = tx.Model(&db.StockReservation{}).
		Where("product_id = ? AND state = ?", productID, StateActive).
		Select("COALESCE(SUM(quantity_reserved), 0)").
		Scan(&held).Error; err != nil {
		return 0, 0, 0, err
	}

	reserved = int(held)
	return physical, reserved, physical - reserved, nil
}

// Stats returns reservation counts and total reserved value grouped by state
func (e *Engine) Stats(ctx context.Context) ([]StateStats, error) {
	var stats []StateStats
	err := e.db.WithContext(ctx).Model(&db.StockReservation{}).
		Select("state, COUNT(*) as count, COALESCE(SUM(subtotal), 0) as total_value").
		Group("state").
		Order("state").
		Scan(&stats).Error
	if err != nil {
		return nil, err
	}
	return stats, nil
}
