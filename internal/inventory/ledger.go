package inventory

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/viajaya/reservations/internal/db"
)

// ErrProductNotFound is returned when a product does not exist in the ledger
var ErrProductNotFound = errors.New("product not found")

// UnderflowError is returned when a decrement would drive physical stock
// negative. The engine's availability check should prevent this; hitting it
// means reserved quantities and physical stock disagree.
type UnderflowError struct {
	ProductID string
	Requested int
	Stock     int
}

func (e *UnderflowError) Error() string {
	return fmt.Sprintf("stock underflow for product %s: requested %d, on hand %d", e.ProductID, e.Requested, e.Stock)
}

// Ledger is the authoritative physical-stock counter per product. It never
// moves stock for active holds; only confirmed reservations and manual
// adjustments touch it.
type Ledger struct {
	log *zap.Logger
}

// NewLedger creates a new inventory ledger
func NewLedger(log *zap.Logger) *Ledger {
	return &Ledger{log: log}
}

// PhysicalStock returns the units on hand for a product. tx may be a plain
// connection or an open transaction.
func (l *Ledger) PhysicalStock(ctx context.Context, tx *gorm.DB, productID string) (int, error) {
	var product db.Product
	err := tx.WithContext(ctx).Select("stock").Where("sku = ?", productID).First(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrProductNotFound
		}
		return 0, err
	}
	return product.Stock, nil
}

// Decrement removes amount units from a product's physical stock as a single
// conditional update, so concurrent confirmations cannot race it below zero.
func (l *Ledger) Decrement(ctx context.Context, tx *gorm.DB, productID string, amount int) error {
	if amount <= 0 {
		return fmt.Errorf("decrement amount must be positive, got %d", amount)
	}

	result := tx.WithContext(ctx).Model(&db.Product{}).
		Where("sku = ? AND stock >= ?", productID, amount).
		Update("stock", gorm.Expr("stock - ?", amount))
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		stock, err := l.PhysicalStock(ctx, tx, productID)
		if err != nil {
			return err
		}
		l.log.Error("Stock decrement refused",
			zap.String("product_id", productID),
			zap.Int("requested", amount),
			zap.Int("on_hand", stock),
		)
		return &UnderflowError{ProductID: productID, Requested: amount, Stock: stock}
	}

	return nil
}

// Adjust applies a manual correction (positive or negative) and returns the
// new level. Negative adjustments are refused if they would underflow.
func (l *Ledger) Adjust(ctx context.Context, tx *gorm.DB, productID string, delta int) (int, error) {
	if delta < 0 {
		if err := l.Decrement(ctx, tx, productID, -delta); err != nil {
			return 0, err
		}
	} else {
		result := tx.WithContext(ctx).Model(&db.Product{}).
			Where("sku = ?", productID).
			Update("stock", gorm.Expr("stock + ?", delta))
		if result.Error != nil {
			return 0, result.Error
		}
		if result.RowsAffected == 0 {
			return 0, ErrProductNotFound
		}
	}

	stock, err := l.PhysicalStock(ctx, tx, productID)
	if err != nil {
		return 0, err
	}

	l.log.Info("Stock adjusted",
		zap.String("product_id", productID),
		zap.Int("delta", delta),
		zap.Int("new_stock", stock),
	)
	return stock, nil
}
