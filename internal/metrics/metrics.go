package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the prometheus collectors of the reservations service
type Metrics struct {
	ReservationsByState *prometheus.GaugeVec
	ReservedValue       *prometheus.GaugeVec
	BatchesCreated      prometheus.Counter
	BatchesRejected     *prometheus.CounterVec
	SweepRuns           prometheus.Counter
	SweepExpired        prometheus.Counter
	Anomalies           prometheus.Counter
	ConfirmedValue      prometheus.Counter
}

// New registers the service metrics on reg and returns them. Production
// passes prometheus.DefaultRegisterer; tests pass a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ReservationsByState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "reservations_total",
			Help: "Current number of stock reservations by state",
		}, []string{"state"}),
		ReservedValue: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "reservations_value_cents",
			Help: "Total subtotal of stock reservations by state, in minor units",
		}, []string{"state"}),
		BatchesCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "reservation_batches_created_total",
			Help: "Checkout attempts that successfully placed a hold batch",
		}),
		BatchesRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reservation_batches_rejected_total",
			Help: "Checkout attempts rejected before any hold was placed",
		}, []string{"reason"}),
		SweepRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "reservation_sweep_runs_total",
			Help: "Expiry sweeper invocations",
		}),
		SweepExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "reservation_sweep_expired_total",
			Help: "Reservations transitioned to expired by the sweeper",
		}),
		Anomalies: factory.NewCounter(prometheus.CounterOpts{
			Name: "reservation_reconciliation_anomalies_total",
			Help: "Approved payments whose reservations were no longer active",
		}),
		ConfirmedValue: factory.NewCounter(prometheus.CounterOpts{
			Name: "reservations_confirmed_value_cents_total",
			Help: "Total value of confirmed reservations, in minor units",
		}),
	}
}
