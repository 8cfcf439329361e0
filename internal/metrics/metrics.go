package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sweeper"

var (
	SweepAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sweep_attempts_total",
		Help:      "Sweep attempts by chain, final status and failure reason.",
	}, []string{"chain", "status", "reason"})

	SweepRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sweep_retries_total",
		Help:      "Retries of a transient backend failure by chain and sweep step.",
	}, []string{"chain", "step"})

	BackendState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "backend_state",
		Help:      "Backend connectivity: 0 unknown, 1 connected, 2 disconnected.",
	}, []string{"backend"})

	BalanceCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "balance_cache_lookups_total",
		Help:      "Balance lookups by cache result.",
	}, []string{"result"})
)

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
