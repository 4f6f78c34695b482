package reservation

import (
	"errors"
	"fmt"
)

// ErrInvalidInput is returned for malformed batch requests: empty carts,
// non-positive quantities, negative prices or unknown products. Nothing is
// persisted when it is returned.
var ErrInvalidInput = errors.New("invalid reservation input")

// InsufficientStockError rejects an entire batch when any line asks for more
// than the available stock (physical minus active holds) of its product.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d (short %d)",
		e.ProductID, e.Requested, e.Available, e.Requested-e.Available)
}
