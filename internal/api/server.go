package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/viajaya/reservations/internal/db"
	"github.com/viajaya/reservations/internal/inventory"
	"github.com/viajaya/reservations/internal/metrics"
	"github.com/viajaya/reservations/internal/orders"
	"github.com/viajaya/reservations/internal/payments"
	"github.com/viajaya/reservations/internal/payments/wompi"
	"github.com/viajaya/reservations/internal/reservation"
)

// PaymentLinker is the slice of the gateway client the checkout needs
type PaymentLinker interface {
	CreatePaymentLink(ctx context.Context, req wompi.PaymentLinkRequest) (*wompi.PaymentLink, error)
}

// EventPublisher is the slice of the events publisher the handlers need
type EventPublisher interface {
	Publish(ctx context.Context, eventType, reference string, payload map[string]interface{}) error
}

// HealthChecker reports whether a dependency is reachable
type HealthChecker interface {
	IsHealthy() bool
}

// Handler carries the wired collaborators of the HTTP surface
type Handler struct {
	db           *db.DB
	engine       *reservation.Engine
	ledger       *inventory.Ledger
	orders       *orders.Service
	processor    *payments.Processor
	gateway      PaymentLinker // nil when gateway keys are not configured
	publisher    EventPublisher
	broker       HealthChecker
	metrics      *metrics.Metrics
	eventsSecret string
	redirectURL  string
	currency     string
	log          *zap.Logger
}

// HandlerConfig bundles the collaborators for NewHandler
type HandlerConfig struct {
	DB           *db.DB
	Engine       *reservation.Engine
	Ledger       *inventory.Ledger
	Orders       *orders.Service
	Processor    *payments.Processor
	Gateway      PaymentLinker
	Publisher    EventPublisher
	Broker       HealthChecker
	Metrics      *metrics.Metrics
	EventsSecret string
	RedirectURL  string
	Currency     string
}

// NewHandler creates the HTTP handler set
func NewHandler(cfg HandlerConfig, log *zap.Logger) *Handler {
	currency := cfg.Currency
	if currency == "" {
		currency = "COP"
	}
	return &Handler{
		db:           cfg.DB,
		engine:       cfg.Engine,
		ledger:       cfg.Ledger,
		orders:       cfg.Orders,
		processor:    cfg.Processor,
		gateway:      cfg.Gateway,
		publisher:    cfg.Publisher,
		broker:       cfg.Broker,
		metrics:      cfg.Metrics,
		eventsSecret: cfg.EventsSecret,
		redirectURL:  cfg.RedirectURL,
		currency:     currency,
		log:          log,
	}
}

// NewRouter builds the gin router with all routes registered
func NewRouter(h *Handler, serviceName string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(serviceName))

	r.GET("/healthz", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		api.POST("/checkout", h.Checkout)
		api.POST("/webhooks/wompi", h.WompiWebhook)
		api.GET("/reservations/stats", h.ReservationStats)
		api.GET("/reservations/:reference", h.ReservationsByReference)
		api.POST("/products", h.CreateProduct)
		api.POST("/products/:sku/stock", h.AdjustStock)
		api.GET("/products/:sku/availability", h.Availability)
	}

	return r
}
