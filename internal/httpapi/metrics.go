package httpapi

import "github.com/prometheus/client_golang/prometheus"

// The hub's Prometheus instruments, registered with the default registry
// that the /metrics handler exposes. Code outside this package reaches
// them only through the Metrics methods below.
var (
	connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cdchub",
		Name:      "connections",
		Help:      "The current number of live branch sessions.",
	})
	messagesRouted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cdchub",
		Name:      "messages_routed_total",
		Help:      "The total number of envelopes routed, online or offline.",
	})
	conflictsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cdchub",
		Name:      "conflicts_total",
		Help:      "The total number of ConflictNotification envelopes persisted.",
	})
	sheddedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cdchub",
		Name:      "shedded_total",
		Help:      "The total number of low-priority frames dropped under backpressure.",
	})
	rateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cdchub",
		Name:      "rate_limited_total",
		Help:      "The total number of envelopes rejected by the per-branch rate limiter.",
	})
)

func init() {
	prometheus.MustRegister(connections)
	prometheus.MustRegister(messagesRouted)
	prometheus.MustRegister(conflictsTotal)
	prometheus.MustRegister(sheddedTotal)
	prometheus.MustRegister(rateLimitedTotal)
}

// Metrics is the handle the rest of the package threads through instead of
// reaching for the package-level collectors directly, mirroring the shape
// callers outside this package (session teardown, the router) already
// expect from a Metrics value.
type Metrics struct{}

func NewMetrics() *Metrics { return &Metrics{} }

func (m *Metrics) ConnectionOpened() { connections.Inc() }
func (m *Metrics) ConnectionClosed() { connections.Dec() }
func (m *Metrics) MessageRouted()    { messagesRouted.Inc() }
func (m *Metrics) ConflictRecorded() { conflictsTotal.Inc() }
func (m *Metrics) FrameShed()        { sheddedTotal.Inc() }
func (m *Metrics) RateLimited()      { rateLimitedTotal.Inc() }
