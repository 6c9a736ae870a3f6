package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/omnichannel-ledger/internal/ledger"
	"github.com/vasiliy-maslov/omnichannel-ledger/internal/metrics"
)

func TestServerMetrics_Middleware(t *testing.T) {
	reg := metrics.NewRegistry()
	m := reg.NewServerMetrics()

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/orders/{ref}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	for _, path := range []string{"/orders/ORD-1", "/orders/ORD-2", "/health"} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Requests.WithLabelValues("/orders/{ref}", "GET", "404")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("/health", "GET", "200")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.LatencyMS))
}

func TestLedgerMetrics_Recorder(t *testing.T) {
	reg := metrics.NewRegistry()
	m := reg.NewLedgerMetrics()

	m.OrderCreated("WEB")
	m.OrderCreated("WEB")
	m.PaymentRegistered(ledger.PaymentApproved)
	m.DuplicatePaymentRejected()
	m.OrderPaid()
	m.StatusChanged(ledger.StatusPaid, ledger.StatusPreparing)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.OrdersCreated.WithLabelValues("WEB")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PaymentsRegistered.WithLabelValues("APPROVED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DuplicatePayments))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OrdersPaid))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StatusChanges.WithLabelValues("PAID", "PREPARING")))
}

func TestRegistry_Handler(t *testing.T) {
	reg := metrics.NewRegistry()
	m := reg.NewLedgerMetrics()
	m.OrderPaid()

	rr := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "ledger_orders_paid_total 1"))
}
