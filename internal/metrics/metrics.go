package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus instruments.
type Metrics struct {
	CommandsTotal        *prometheus.CounterVec
	BroadcastsTotal      prometheus.Counter
	ConnectionsActive    *prometheus.GaugeVec
	LedgerRetryExhausted prometheus.Counter
}

// New registers the engine metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CommandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quiz",
			Name:      "commands_total",
			Help:      "Validated inbound commands processed, by type.",
		}, []string{"type"}),
		BroadcastsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "quiz",
			Name:      "broadcasts_total",
			Help:      "State broadcasts fanned out to session connections.",
		}),
		ConnectionsActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "quiz",
			Name:      "connections_active",
			Help:      "Open WebSocket connections, by role.",
		}, []string{"role"}),
		LedgerRetryExhausted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "quiz",
			Name:      "ledger_retry_exhausted_total",
			Help:      "Ledger writes that failed after all retry attempts.",
		}),
	}
}
