package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/viajaya/reservations/internal/db"
	"github.com/viajaya/reservations/internal/events"
	"github.com/viajaya/reservations/internal/inventory"
	"github.com/viajaya/reservations/internal/payments/wompi"
	"github.com/viajaya/reservations/internal/reservation"
)

type checkoutItem struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required"`
}

type checkoutRequest struct {
	Items         []checkoutItem `json:"items" binding:"required,min=1,dive"`
	CustomerEmail string         `json:"customer_email" binding:"required,email"`
	Reference     string         `json:"reference,omitempty"`
	ServiceDate   *time.Time     `json:"service_date,omitempty"`
}

// Checkout places a hold batch for a cart, opens the pending payment and
// order for it, and hands back the gateway payment link.
func (h *Handler) Checkout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	lines := make([]reservation.CartLine, len(req.Items))
	for i, item := range req.Items {
		lines[i] = reservation.CartLine{ProductID: item.ProductID, Quantity: item.Quantity}
	}

	ctx := c.Request.Context()
	batch, err := h.engine.CreateBatch(ctx, lines, req.Reference)
	if err != nil {
		var short *reservation.InsufficientStockError
		switch {
		case errors.As(err, &short):
			h.metrics.BatchesRejected.WithLabelValues("insufficient_stock").Inc()
			c.JSON(http.StatusConflict, gin.H{
				"error":      "insufficient stock",
				"product_id": short.ProductID,
				"requested":  short.Requested,
				"available":  short.Available,
				"shortfall":  short.Requested - short.Available,
			})
		case errors.Is(err, reservation.ErrInvalidInput):
			h.metrics.BatchesRejected.WithLabelValues("invalid_input").Inc()
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			h.log.Error("Checkout failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create reservations"})
		}
		return
	}
	h.metrics.BatchesCreated.Inc()

	order := &db.Order{
		ExternalReference: batch.ExternalReference,
		TotalAmount:       batch.TotalAmount,
		Currency:          h.currency,
		CustomerEmail:     req.CustomerEmail,
		ServiceDate:       req.ServiceDate,
	}
	if err := h.orders.Create(c.Request.Context(), order); err != nil {
		h.log.Error("Failed to create order", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create order"})
		return
	}

	if _, err := h.processor.CreatePayment(ctx, batch.ExternalReference, req.CustomerEmail, h.currency, batch.TotalAmount); err != nil {
		h.log.Error("Failed to create payment", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create payment"})
		return
	}

	var paymentLink string
	if h.gateway != nil {
		link, err := h.gateway.CreatePaymentLink(ctx, wompi.PaymentLinkRequest{
			Name:          "Reserva " + batch.ExternalReference,
			Description:   "Compra Viajaya",
			SingleUse:     true,
			AmountInCents: batch.TotalAmount,
			Currency:      h.currency,
			RedirectURL:   h.redirectURL,
			Reference:     batch.ExternalReference,
		})
		if err != nil {
			// The hold stands; the customer can retry payment from the order page
			h.log.Error("Failed to create payment link", zap.Error(err))
		} else {
			paymentLink = link.URL
		}
	}

	h.publishEvent(c, events.EventTypeReservationCreated, batch.ExternalReference, map[string]interface{}{
		"lines":        len(batch.Reservations),
		"total_amount": batch.TotalAmount,
		"expires_at":   batch.ExpiresAt.UTC().Format(time.RFC3339),
	})

	c.JSON(http.StatusCreated, gin.H{
		"reference":    batch.ExternalReference,
		"expires_at":   batch.ExpiresAt,
		"total_amount": batch.TotalAmount,
		"currency":     h.currency,
		"reservations": batch.Reservations,
		"payment_link": paymentLink,
	})
}

// WompiWebhook receives gateway callbacks. Once the event authenticates, the
// response is 200 even if reconciliation fails internally; the gateway must
// not keep retrying over an internal issue.
func (h *Handler) WompiWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	event, err := wompi.ParseEvent(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if h.eventsSecret != "" && !event.Verify(h.eventsSecret) {
		h.log.Warn("Webhook signature rejected",
			zap.String("event", event.Event),
			zap.String("reference", event.Data.Transaction.Reference),
		)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	if event.Event != wompi.EventTransactionUpdated {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	txn := event.Data.Transaction
	if err := h.processor.HandleTransaction(c.Request.Context(), &txn); err != nil {
		h.log.Error("Webhook processing failed",
			zap.String("reference", txn.Reference),
			zap.Error(err),
		)
		c.JSON(http.StatusOK, gin.H{"status": "accepted", "detail": "processing deferred"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "processed"})
}

// ReservationStats returns counts and reserved value by state
func (h *Handler) ReservationStats(c *gin.Context) {
	stats, err := h.engine.Stats(c.Request.Context())
	if err != nil {
		h.log.Error("Failed to compute stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute stats"})
		return
	}

	for _, row := range stats {
		h.metrics.ReservationsByState.WithLabelValues(row.State).Set(float64(row.Count))
		h.metrics.ReservedValue.WithLabelValues(row.State).Set(float64(row.TotalValue))
	}

	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

// ReservationsByReference returns every reservation of one checkout attempt
func (h *Handler) ReservationsByReference(c *gin.Context) {
	ref := c.Param("reference")
	all, err := h.engine.FindByReference(c.Request.Context(), ref)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	if len(all) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no reservations for reference"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reference": ref, "reservations": all})
}

type createProductRequest struct {
	SKU      string `json:"sku" binding:"required"`
	Name     string `json:"name" binding:"required"`
	Price    int64  `json:"price" binding:"required"`
	Currency string `json:"currency,omitempty"`
	Stock    int    `json:"stock"`
}

// CreateProduct registers a product in the local ledger
func (h *Handler) CreateProduct(c *gin.Context) {
	var req createProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Currency == "" {
		req.Currency = h.currency
	}

	product := db.Product{
		SKU:      req.SKU,
		Name:     req.Name,
		Price:    req.Price,
		Currency: req.Currency,
		Stock:    req.Stock,
		Active:   true,
	}
	if err := h.db.WithContext(c.Request.Context()).Create(&product).Error; err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "product already exists or invalid"})
		return
	}
	c.JSON(http.StatusCreated, product)
}

type adjustStockRequest struct {
	Delta  int    `json:"delta" binding:"required"`
	Reason string `json:"reason,omitempty"`
}

// AdjustStock applies a manual physical-stock correction
func (h *Handler) AdjustStock(c *gin.Context) {
	sku := c.Param("sku")

	var req adjustStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	newStock, err := h.ledger.Adjust(ctx, h.db.DB, sku, req.Delta)
	if err != nil {
		var underflow *inventory.UnderflowError
		switch {
		case errors.Is(err, inventory.ErrProductNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "product not found"})
		case errors.As(err, &underflow):
			c.JSON(http.StatusConflict, gin.H{"error": underflow.Error()})
		default:
			h.log.Error("Stock adjustment failed", zap.String("sku", sku), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "adjustment failed"})
		}
		return
	}

	h.publishEvent(c, events.EventTypeStockUpdated, sku, map[string]interface{}{
		"product_id": sku,
		"delta":      req.Delta,
		"new_stock":  newStock,
		"reason":     req.Reason,
	})

	c.JSON(http.StatusOK, gin.H{"sku": sku, "stock": newStock})
}

// Availability reports physical stock, active holds and the sellable balance
func (h *Handler) Availability(c *gin.Context) {
	sku := c.Param("sku")

	physical, reserved, available, err := h.engine.AvailableStock(c.Request.Context(), sku)
	if err != nil {
		if errors.Is(err, inventory.ErrProductNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "product not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "availability lookup failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sku":       sku,
		"physical":  physical,
		"reserved":  reserved,
		"available": available,
	})
}

// Health reports liveness of the service and its dependencies
func (h *Handler) Health(c *gin.Context) {
	if err := h.db.Ping(); err != nil {
		h.log.Error("Database health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "detail": "database connection failed"})
		return
	}

	if h.broker != nil && !h.broker.IsHealthy() {
		h.log.Error("RabbitMQ health check failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "detail": "rabbitmq connection failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (h *Handler) publishEvent(c *gin.Context, eventType, ref string, payload map[string]interface{}) {
	if h.publisher == nil {
		return
	}
	if err := h.publisher.Publish(c.Request.Context(), eventType, ref, payload); err != nil {
		h.log.Error("Failed to publish event",
			zap.String("event_type", eventType),
			zap.String("reference", ref),
			zap.Error(err),
		)
	}
}
