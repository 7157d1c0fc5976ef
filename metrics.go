package swoff

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Intercept outcomes.
const (
	outcomeNetwork     = "network"
	outcomeCacheHit    = "cache_hit"
	outcomeCacheMiss   = "cache_miss"
	outcomePassThrough = "pass_through"
)

// Metrics counts engine decisions. A nil *Metrics records nothing.
type Metrics struct {
	intercepts      *prometheus.CounterVec
	networkFailures *prometheus.CounterVec
	storeWrites     *prometheus.CounterVec
	installs        *prometheus.CounterVec
	networkDuration prometheus.Histogram
}

// NewMetrics creates the engine metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		intercepts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swoff_intercepts_total",
			Help: "Intercepted requests by how they were answered",
		}, []string{"outcome"}),
		networkFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swoff_network_failures_total",
			Help: "Network attempts that fell back to the store",
		}, []string{"reason"}),
		storeWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swoff_store_writes_total",
			Help: "Opportunistic writes of network responses to the store",
		}, []string{"result"}),
		installs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swoff_install_total",
			Help: "Installation attempts",
		}, []string{"result"}),
		networkDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "swoff_network_duration_seconds",
			Help:    "Time until the network answered, for answers within the timeout",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.intercepts, m.networkFailures, m.storeWrites, m.installs, m.networkDuration)
	}
	return m
}

func (m *Metrics) intercepted(outcome string) {
	if m == nil {
		return
	}
	m.intercepts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) networkFailed(reason string) {
	if m == nil {
		return
	}
	m.networkFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) networkAnswered(d time.Duration) {
	if m == nil {
		return
	}
	m.networkDuration.Observe(d.Seconds())
}

func (m *Metrics) stored(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.storeWrites.WithLabelValues(result).Inc()
}

func (m *Metrics) installed(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.installs.WithLabelValues(result).Inc()
}
