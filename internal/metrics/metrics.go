package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "marketplace"

// Metrics holds every collector the service exports. A single value is
// shared by the use cases, the ledger, the payout engine and the router.
type Metrics struct {
	useCases       *prometheus.CounterVec
	useCaseLatency *prometheus.HistogramVec
	httpRequests   *prometheus.CounterVec
	httpLatency    *prometheus.HistogramVec
	stockMovements *prometheus.CounterVec
	payoutCredits  *prometheus.CounterVec
	notifications  *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		useCases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "orders", Name: "use_case_total",
			Help: "Order use case executions by outcome.",
		}, []string{"use_case", "outcome"}),
		useCaseLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "orders", Name: "use_case_duration_seconds",
			Help:    "Order use case latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"use_case"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		stockMovements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "inventory", Name: "movements_total",
			Help: "Stock movements by direction and outcome.",
		}, []string{"direction", "outcome"}),
		payoutCredits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "payout", Name: "credits_total",
			Help: "Payout credit attempts; outcome=duplicate when already applied.",
		}, []string{"outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "notify", Name: "sent_total",
			Help: "Buyer notifications by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(
		m.useCases, m.useCaseLatency,
		m.httpRequests, m.httpLatency,
		m.stockMovements, m.payoutCredits, m.notifications,
	)
	return m
}

func (m *Metrics) ObserveUseCase(name, outcome string, d time.Duration) {
	m.useCases.WithLabelValues(name, outcome).Inc()
	m.useCaseLatency.WithLabelValues(name).Observe(d.Seconds())
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpLatency.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) ObserveMovement(direction, outcome string) {
	m.stockMovements.WithLabelValues(direction, outcome).Inc()
}

func (m *Metrics) ObservePayout(outcome string) {
	m.payoutCredits.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveNotification(outcome string) {
	m.notifications.WithLabelValues(outcome).Inc()
}
