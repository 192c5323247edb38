// Package metrics holds the Prometheus collectors shared by the lifecycle
// managers, sweepers and the saga relay.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "afc_status_transitions_total",
		Help: "Status transitions applied, by entity and target status",
	}, []string{"entity", "to_status"})

	SweeperRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "afc_sweeper_runs_total",
		Help: "Sweeper iterations, by sweeper and outcome",
	}, []string{"sweeper", "outcome"})

	SweeperExpired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "afc_sweeper_expired_total",
		Help: "Entities expired by a sweeper",
	}, []string{"sweeper"})

	OutboxPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "afc_outbox_messages_processed_total",
		Help: "Outbox messages delivered, by message type",
	}, []string{"message_type"})

	OutboxErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "afc_outbox_errors_total",
		Help: "Failed outbox delivery attempts, by message type",
	}, []string{"message_type"})

	SagaCompensations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "afc_saga_compensations_total",
		Help: "Booking confirmations given up on and compensated with a refund",
	})

	Validations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "afc_ticket_validations_total",
		Help: "Gate validations, by validation type and result",
	}, []string{"validation_type", "result"})

	ValidationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "afc_ticket_validation_seconds",
		Help:    "Time to decide and record one gate validation",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
	})
)

// Handler exposes the default registry for gin
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
