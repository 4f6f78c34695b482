package db

import (
	"gorm.io/gorm"
)

// RunMigrations runs all database migrations
func RunMigrations(db *DB) error {
	if err := db.AutoMigrate(&Product{}, &StockReservation{}, &Payment{}, &Order{}); err != nil {
		return err
	}

	if err := createIndexes(db.DB); err != nil {
		return err
	}

	return nil
}

func createIndexes(db *gorm.DB) error {
	indexes := []string{
		// The sweeper scans active rows past their deadline
		`CREATE INDEX IF NOT EXISTS idx_reservations_state_expires ON stock_reservations(state, expires_at)`,

		// Confirm/cancel look up the active rows of one checkout attempt
		`CREATE INDEX IF NOT EXISTS idx_reservations_reference_state ON stock_reservations(external_reference, state)`,

		// Availability checks sum active holds per product
		`CREATE INDEX IF NOT EXISTS idx_reservations_product_state ON stock_reservations(product_id, state)`,
	}

	for _, indexSQL := range indexes {
		if err := db.Exec(indexSQL).Error; err != nil {
			return err
		}
	}

	return nil
}
