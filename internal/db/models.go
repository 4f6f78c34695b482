package db

import (
	"time"

	"gorm.io/datatypes"
)

// Product is the inventoried item a reservation holds stock against. The
// catalog service owns the descriptive fields; this service owns Stock.
type Product struct {
	SKU       string    `gorm:"primaryKey;type:varchar(50)" json:"sku"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	Price     int64     `gorm:"not null" json:"price"`                                  // Price in smallest currency unit (cents)
	Currency  string    `gorm:"type:varchar(3);not null;default:'COP'" json:"currency"` // ISO 4217
	Stock     int       `gorm:"not null;default:0" json:"stock"`                        // Physical units on hand
	Active    bool      `gorm:"not null;default:true;index:idx_products_active" json:"active"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName specifies the table name for Product model
func (Product) TableName() string {
	return "products"
}

// StockReservation is a time-boxed hold on product stock tied to one
// checkout attempt. All rows from one attempt share an external reference
// and expiry. Physical stock is only decremented when the hold is confirmed.
type StockReservation struct {
	ID                uint              `gorm:"primaryKey" json:"id"`
	ProductID         string            `gorm:"type:varchar(50);not null" json:"product_id"`
	PaymentID         *uint             `gorm:"index:idx_reservations_payment" json:"payment_id,omitempty"`
	ExternalReference string            `gorm:"type:varchar(100);not null" json:"external_reference"`
	QuantityReserved  int               `gorm:"not null" json:"quantity_reserved"`
	UnitPrice         int64             `gorm:"not null" json:"unit_price"`
	Subtotal          int64             `gorm:"not null" json:"subtotal"` // Always quantity_reserved * unit_price
	State             string            `gorm:"type:varchar(20);not null" json:"state"`
	ExpiresAt         time.Time         `gorm:"not null" json:"expires_at"`
	ConfirmedAt       *time.Time        `json:"confirmed_at,omitempty"`
	CancelledAt       *time.Time        `json:"cancelled_at,omitempty"`
	Metadata          datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt         time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt         time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName specifies the table name for StockReservation model
func (StockReservation) TableName() string {
	return "stock_reservations"
}

// Payment mirrors the gateway transaction for one checkout attempt, keyed by
// the same external reference as its reservations.
type Payment struct {
	ID                   uint      `gorm:"primaryKey" json:"id"`
	ExternalReference    string    `gorm:"type:varchar(100);not null;uniqueIndex:idx_payments_reference" json:"external_reference"`
	Status               string    `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	AmountInCents        int64     `gorm:"not null" json:"amount_in_cents"`
	Currency             string    `gorm:"type:varchar(3);not null;default:'COP'" json:"currency"`
	GatewayTransactionID string    `gorm:"type:varchar(100)" json:"gateway_transaction_id,omitempty"`
	CustomerEmail        string    `gorm:"type:varchar(255)" json:"customer_email,omitempty"`
	CreatedAt            time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt            time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName specifies the table name for Payment model
func (Payment) TableName() string {
	return "payments"
}

// Order is the commercial order driven by the payment outcome. ServiceDate
// is the tour departure or delivery date used by the finalize job.
type Order struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	ExternalReference string     `gorm:"type:varchar(100);not null;uniqueIndex:idx_orders_reference" json:"external_reference"`
	Status            string     `gorm:"type:varchar(20);not null;default:'pending';index:idx_orders_status" json:"status"`
	TotalAmount       int64      `gorm:"not null" json:"total_amount"`
	Currency          string     `gorm:"type:varchar(3);not null;default:'COP'" json:"currency"`
	CustomerEmail     string     `gorm:"type:varchar(255)" json:"customer_email,omitempty"`
	ServiceDate       *time.Time `gorm:"index:idx_orders_service_date" json:"service_date,omitempty"`
	CreatedAt         time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName specifies the table name for Order model
func (Order) TableName() string {
	return "orders"
}
