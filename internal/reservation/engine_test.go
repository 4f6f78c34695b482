package reservation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/viajaya/reservations/internal/db"
	"github.com/viajaya/reservations/internal/inventory"
	"github.com/viajaya/reservations/pkg/logger"
)

func setupTestDB(t *testing.T) *db.DB {
	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	database := &db.DB{DB: gormDB}
	require.NoError(t, db.RunMigrations(database))

	return database
}

func newTestEngine(t *testing.T, database *db.DB) *Engine {
	log := logger.NewLogger("test", "error")
	ledger := inventory.NewLedger(log)
	return NewEngine(database, ledger, 30*time.Minute, log)
}

func createProduct(t *testing.T, database *db.DB, sku string, stock int, price int64) {
	product := db.Product{
		SKU:      sku,
		Name:     "Tour " + sku,
		Price:    price,
		Currency: "COP",
		Stock:    stock,
		Active:   true,
	}
	require.NoError(t, database.Create(&product).Error)
}

func physicalStock(t *testing.T, database *db.DB, sku string) int {
	var product db.Product
	require.NoError(t, database.Where("sku = ?", sku).First(&product).Error)
	return product.Stock
}

func TestCreateBatch(t *testing.T) {
	database := setupTestDB(t)
	engine := newTestEngine(t, database)
	ctx := context.Background()

	createProduct(t, database, "TOUR-001", 10, 150_000_00)
	createProduct(t, database, "TOUR-002", 4, 80_000_00)

	batch, err := engine.CreateBatch(ctx, []CartLine{
		{ProductID: "TOUR-001", Quantity: 2},
		{ProductID: "TOUR-002", Quantity: 3},
	}, "REF-CREATE")
	require.NoError(t, err)

	assert.Equal(t, "REF-CREATE", batch.ExternalReference)
	require.Len(t, batch.Reservations, 2)
	assert.Equal(t, int64(2*150_000_00+3*80_000_00), batch.TotalAmount)

	for _, res := range batch.Reservations {
		assert.Equal(t, string(StateActive), res.State)
		assert.Equal(t, batch.ExpiresAt.Unix(), res.ExpiresAt.Unix(), "all lines share one expiry")
		assert.Equal(t, int64(res.QuantityReserved)*res.UnitPrice, res.Subtotal)
		assert.Nil(t, res.ConfirmedAt)
		assert.Nil(t, res.CancelledAt)
	}

	// Holds never touch physical stock
	assert.Equal(t, 10, physicalStock(t, database, "TOUR-001"))
	assert.Equal(t, 4, physicalStock(t, database, "TOUR-002"))
}

func TestCreateBatchGeneratesReference(t *testing.T) {
	database := setupTestDB(t)
	engine := newTestEngine(t, database)

	createProduct(t, database, "TOUR-003", 5, 1000)

	batch, err := engine.CreateBatch(context.Background(), []CartLine{
		{ProductID: "TOUR-003", Quantity: 1},
	}, "")
	require.NoError(t, err)
	assert.NotEmpty(t, batch.ExternalReference)
}

func TestCreateBatchAllOrNothing(t *testing.T) {
	database := setupTestDB(t)
	engine := newTestEngine(t, database)
	ctx := context.Background()

	createProduct(t, database, "TOUR-010", 10, 1000)
	createProduct(t, database, "TOUR-011", 1, 1000)

	_, err := engine.CreateBatch(ctx, []CartLine{
		{ProductID: "TOUR-010", Quantity: 2},
		{ProductID: "TOUR-011", Quantity: 5},
	}, "REF-PARTIAL")

	var short *InsufficientStockError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, "TOUR-011", short.ProductID)
	assert.Equal(t, 5, short.Requested)
	assert.Equal(t, 1, short.Available)

	// No row from the rejected attempt may persist
	var count int64
	require.NoError(t, database.Model(&db.StockReservation{}).
		Where("external_reference = ?", "REF-PARTIAL").Count(&count).Error)
	assert.Zero(t, count)
}

func TestCreateBatchInvalidInput(t *testing.T) {
	database := setupTestDB(t)
	engine := newTestEngine(t, database)
	ctx := context.Background()

	createProduct(t, database, "TOUR-020", 5, 1000)

	_, err := engine.CreateBatch(ctx, nil, "REF-EMPTY")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = engine.CreateBatch(ctx, []CartLine{{ProductID: "TOUR-020", Quantity: 0}}, "REF-ZERO")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = engine.CreateBatch(ctx, []CartLine{{ProductID: "TOUR-020", Quantity: -1}}, "REF-NEG")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = engine.CreateBatch(ctx, []CartLine{{ProductID: "NOPE", Quantity: 1}}, "REF-MISSING")
	assert.ErrorIs(t, err, ErrInvalidInput)

	var count int64
	require.NoError(t, database.Model(&db.StockReservation{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCancelledHoldsFreeAvailability(t *testing.T) {
	database := setupTestDB(t)
	engine := newTestEngine(t, database)
	ctx := context.Background()

	createProduct(t, database, "TOUR-030", 5, 1000)

	// Reserve the whole stock
	_, err := engine.CreateBatch(ctx, []CartLine{{ProductID: "TOUR-030", Quantity: 5}}, "REF1")
	require.NoError(t, err)

	// Nothing left
	_, err = engine.CreateBatch(ctx, []CartLine{{ProductID: "TOUR-030", Quantity: 1}}, "REF2")
	var short *InsufficientStockError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, 0, short.Available)

	// Cancelling the first hold frees everything again
	cancelled, err := engine.CancelByReference(ctx, "REF1", "customer abandoned")
	require.NoError(t, err)
	assert.Equal(t, int64(1), cancelled)

	batch, err := engine.CreateBatch(ctx, []CartLine{{ProductID: "TOUR-030", Quantity: 1}}, "REF2b")
	require.NoError(t, err)
	assert.Len(t, batch.Reservations, 1)

	// Stock itself never moved
	assert.Equal(t, 5, physicalStock(t, database, "TOUR-030"))
}

func TestConfirmByReference(t *testing.T) {
	database := setupTestDB(t)
	engine := newTestEngine(t, database)
	ctx := context.Background()

	createProduct(t, database, "TOUR-040", 10, 2000)
	createProduct(t, database, "TOUR-041", 10, 3000)

	_, err := engine.CreateBatch(ctx, []CartLine{
		{ProductID: "TOUR-040", Quantity: 2},
		{ProductID: "TOUR-041", Quantity: 1},
	}, "REF-CONFIRM")
	require.NoError(t, err)

	result, err := engine.ConfirmByReference(ctx, "REF-CONFIRM")
	require.NoError(t, err)
	require.Len(t, result.Confirmed, 2)
	assert.Empty(t, result.Skipped)
	for _, res := range result.Confirmed {
		assert.Equal(t, string(StateConfirmed), res.State)
		assert.NotNil(t, res.ConfirmedAt)
	}

	// Stock moves exactly on confirmation
	assert.Equal(t, 8, physicalStock(t, database, "TOUR-040"))
	assert.Equal(t, 9, physicalStock(t, database, "TOUR-041"))

	// Second call finds nothing: empty result, not an error, no double decrement
	again, err := engine.ConfirmByReference(ctx, "REF-CONFIRM")
	require.NoError(t, err)
	assert.True(t, again.Empty())
	assert.Equal(t, 8, physicalStock(t, database, "TOUR-040"))
	assert.Equal(t, 9, physicalStock(t, database, "TOUR-041"))
}

func TestConfirmRollsBackOnLedgerUnderflow(t *testing.T) {
	database := setupTestDB(t)
	engine := newTestEngine(t, database)
	ctx := context.Background()

	createProduct(t, database, "TOUR-050", 1, 1000)

	// Force disagreement between hold and stock by shrinking stock after
	// the hold was placed.
	_, err := engine.CreateBatch(ctx, []CartLine{{ProductID: "TOUR-050", Quantity: 1}}, "REF-UNDER")
	require.NoError(t, err)
	require.NoError(t, database.Model(&db.Product{}).
		Where("sku = ?", "TOUR-050").Update("stock", 0).Error)

	_, err = engine.ConfirmByReference(ctx, "REF-UNDER")
	var underflow *inventory.UnderflowError
	require.ErrorAs(t, err, &underflow)

	// The failed confirmation must roll back whole: hold still active
	var res db.StockReservation
	require.NoError(t, database.Where("external_reference = ?", "REF-UNDER").First(&res).Error)
	assert.Equal(t, string(StateActive), res.State)
}

func TestCancelByReference(t *testing.T) {
	database := setupTestDB(t)
	engine := newTestEngine(t, database)
	ctx := context.Background()

	createProduct(t, database, "TOUR-060", 5, 1000)

	_, err := engine.CreateBatch(ctx, []CartLine{{ProductID: "TOUR-060", Quantity: 3}}, "REF-CANCEL")
	require.NoError(t, err)

	cancelled, err := engine.CancelByReference(ctx, "REF-CANCEL", "payment declined")
	require.NoError(t, err)
	assert.Equal(t, int64(1), cancelled)

	var res db.StockReservation
	require.NoError(t, database.Where("external_reference = ?", "REF-CANCEL").First(&res).Error)
	assert.Equal(t, string(StateCancelled), res.State)
	assert.NotNil(t, res.CancelledAt)
	assert.Nil(t, res.ConfirmedAt)
	assert.Equal(t, "payment declined", res.Metadata["cancellation_reason"])

	// Cancel never touches physical stock
	assert.Equal(t, 5, physicalStock(t, database, "TOUR-060"))

	// Idempotent: second call affects zero rows
	cancelled, err = engine.CancelByReference(ctx, "REF-CANCEL", "duplicate webhook")
	require.NoError(t, err)
	assert.Zero(t, cancelled)
}

func forceExpiry(t *testing.T, database *db.DB, ref string) {
	require.NoError(t, database.Model(&db.StockReservation{}).
		Where("external_reference = ?", ref).
		Update("expires_at", time.Now().Add(-time.Second)).Error)
}

func TestExpireDue(t *testing.T) {
	database := setupTestDB(t)
	engine := newTestEngine(t, database)
	ctx := context.Background()

	createProduct(t, database, "TOUR-070", 10, 1000)

	_, err := engine.CreateBatch(ctx, []CartLine{{ProductID: "TOUR-070", Quantity: 2}}, "REF-DUE")
	require.NoError(t, err)
	_, err = engine.CreateBatch(ctx, []CartLine{{ProductID: "TOUR-070", Quantity: 1}}, "REF-FRESH")
	require.NoError(t, err)

	forceExpiry(t, database, "REF-DUE")

	due, err := engine.CountDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), due)

	expired, err := engine.ExpireDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), expired)

	var res db.StockReservation
	require.NoError(t, database.Where("external_reference = ?", "REF-DUE").First(&res).Error)
	assert.Equal(t, string(StateExpired), res.State)
	assert.Equal(t, "sweeper", res.Metadata["expired_by"])

	// The fresh hold is untouched and stock never moved. A fresh struct
	// here: reusing res would smuggle its primary key into the lookup.
	var fresh db.StockReservation
	require.NoError(t, database.Where("external_reference = ?", "REF-FRESH").First(&fresh).Error)
	assert.Equal(t, string(StateActive), fresh.State)
	assert.Equal(t, 10, physicalStock(t, database, "TOUR-070"))

	// Running again with nothing due is a successful no-op
	expired, err = engine.ExpireDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, expired)
}

func TestExpireThenConfirmRace(t *testing.T) {
	database := setupTestDB(t)
	engine := newTestEngine(t, database)
	ctx := context.Background()

	createProduct(t, database, "TOUR-080", 5, 1000)

	_, err := engine.CreateBatch(ctx, []CartLine{{ProductID: "TOUR-080", Quantity: 2}}, "REF3")
	require.NoError(t, err)
	forceExpiry(t, database, "REF3")

	expired, err := engine.ExpireDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), expired)

	// The late approval webhook finds nothing active: empty result, no
	// error, no silent re-confirmation and no stock movement.
	result, err := engine.ConfirmByReference(ctx, "REF3")
	require.NoError(t, err)
	assert.True(t, result.Empty())

	all, err := engine.FindByReference(ctx, "REF3")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, string(StateExpired), all[0].State)
	assert.Equal(t, 5, physicalStock(t, database, "TOUR-080"))
}

func TestAvailableStock(t *testing.T) {
	database := setupTestDB(t)
	engine := newTestEngine(t, database)
	ctx := context.Background()

	createProduct(t, database, "TOUR-090", 8, 1000)

	_, err := engine.CreateBatch(ctx, []CartLine{{ProductID: "TOUR-090", Quantity: 3}}, "REF-AVAIL")
	require.NoError(t, err)

	physical, reserved, available, err := engine.AvailableStock(ctx, "TOUR-090")
	require.NoError(t, err)
	assert.Equal(t, 8, physical)
	assert.Equal(t, 3, reserved)
	assert.Equal(t, 5, available)
	assert.GreaterOrEqual(t, available, 0)
}

func TestStats(t *testing.T) {
	database := setupTestDB(t)
	engine := newTestEngine(t, database)
	ctx := context.Background()

	createProduct(t, database, "TOUR-100", 20, 500)

	_, err := engine.CreateBatch(ctx, []CartLine{{ProductID: "TOUR-100", Quantity: 2}}, "S1")
	require.NoError(t, err)
	_, err = engine.CreateBatch(ctx, []CartLine{{ProductID: "TOUR-100", Quantity: 1}}, "S2")
	require.NoError(t, err)
	_, err = engine.ConfirmByReference(ctx, "S1")
	require.NoError(t, err)

	stats, err := engine.Stats(ctx)
	require.NoError(t, err)

	byState := make(map[string]StateStats, len(stats))
	for _, row := range stats {
		byState[row.State] = row
	}

	assert.Equal(t, int64(1), byState["active"].Count)
	assert.Equal(t, int64(500), byState["active"].TotalValue)
	assert.Equal(t, int64(1), byState["confirmed"].Count)
	assert.Equal(t, int64(1000), byState["confirmed"].TotalValue)
}
