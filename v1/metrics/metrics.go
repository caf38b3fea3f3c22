package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// AcquireCounter tracks successful lock acquisitions.
	AcquireCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "redlock_acquire_total",
		Help: "Total number of successful lock acquisitions",
	})
	// MissCounter tracks acquisitions that exhausted their attempts.
	MissCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "redlock_miss_total",
		Help: "Total number of acquisitions that exhausted their attempts",
	})
	// ReleaseCounter tracks lock releases.
	ReleaseCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "redlock_release_total",
		Help: "Total number of lock releases",
	})
	// HeldGauge reports the number of leases currently held by this process.
	HeldGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "redlock_held",
		Help: "Current number of leases held by this process",
	})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterCoreMetrics registers the process-wide lock metrics on the
// provided registry. Per-coordinator metrics are registered separately via
// redlock.WithMetrics.
func RegisterCoreMetrics(reg prometheus.Registerer) {
	reg.MustRegister(AcquireCounter, MissCounter, ReleaseCounter, HeldGauge)
}
