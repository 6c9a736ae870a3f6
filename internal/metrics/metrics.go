package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vasiliy-maslov/omnichannel-ledger/internal/ledger"
)

const namespace = "ledger"

// Registry wraps a private prometheus registry so that tests and multiple
// servers in one process do not collide on the global one.
type Registry struct {
	reg *prometheus.Registry
}

func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Registry{reg: reg}
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

type ServerMetrics struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
}

func (r *Registry) NewServerMetrics() *ServerMetrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"handler", "method", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"handler"})

	r.reg.MustRegister(requests, latency)
	return &ServerMetrics{Requests: requests, LatencyMS: latency}
}

// Middleware labels requests by chi route pattern, so path parameters do not
// blow up label cardinality.
func (m *ServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		handler := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				handler = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		m.Requests.WithLabelValues(handler, r.Method, strconv.Itoa(status)).Inc()
		m.LatencyMS.WithLabelValues(handler).Observe(float64(time.Since(start).Milliseconds()))
	})
}

// LedgerMetrics counts business outcomes of the order ledger.
type LedgerMetrics struct {
	OrdersCreated      *prometheus.CounterVec
	PaymentsRegistered *prometheus.CounterVec
	DuplicatePayments  prometheus.Counter
	OrdersPaid         prometheus.Counter
	StatusChanges      *prometheus.CounterVec
}

var _ ledger.Recorder = (*LedgerMetrics)(nil)

func (r *Registry) NewLedgerMetrics() *LedgerMetrics {
	m := &LedgerMetrics{
		OrdersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_created_total",
			Help:      "Orders created, by sales channel.",
		}, []string{"channel"}),
		PaymentsRegistered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_registered_total",
			Help:      "Payments registered, by payment status.",
		}, []string{"status"}),
		DuplicatePayments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_duplicate_rejected_total",
			Help:      "Payments rejected by the duplicate guard.",
		}),
		OrdersPaid: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_paid_total",
			Help:      "Orders moved to PAID by payment aggregation.",
		}),
		StatusChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_status_changes_total",
			Help:      "Manual order status transitions.",
		}, []string{"from", "to"}),
	}

	r.reg.MustRegister(m.OrdersCreated, m.PaymentsRegistered, m.DuplicatePayments, m.OrdersPaid, m.StatusChanges)
	return m
}

func (m *LedgerMetrics) OrderCreated(channel string) {
	m.OrdersCreated.WithLabelValues(channel).Inc()
}

func (m *LedgerMetrics) PaymentRegistered(status ledger.PaymentStatus) {
	m.PaymentsRegistered.WithLabelValues(string(status)).Inc()
}

func (m *LedgerMetrics) DuplicatePaymentRejected() {
	m.DuplicatePayments.Inc()
}

func (m *LedgerMetrics) OrderPaid() {
	m.OrdersPaid.Inc()
}

func (m *LedgerMetrics) StatusChanged(from, to ledger.OrderStatus) {
	m.StatusChanges.WithLabelValues(string(from), string(to)).Inc()
}
