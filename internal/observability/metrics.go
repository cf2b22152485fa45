package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics mengumpulkan metrik Prometheus untuk aplikasi.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	reservationsCreated  prometheus.Counter
	reservationsReleased *prometheus.CounterVec
	transfersDispatched  prometheus.Counter
	insufficientStock    prometheus.Counter
}

// NewMetrics menginisialisasi registry dan metrik dasar.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stocklane_http_requests_total",
		Help: "Jumlah permintaan HTTP berdasarkan route dan status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stocklane_http_request_duration_seconds",
		Help:    "Durasi permintaan HTTP per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	reservationsCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stocklane_reservations_created_total",
		Help: "Jumlah reservasi stok yang berhasil dibuat.",
	})
	reservationsReleased := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stocklane_reservations_released_total",
		Help: "Jumlah reservasi yang dilepas, per penyebab.",
	}, []string{"cause"})
	transfersDispatched := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stocklane_transfers_dispatched_total",
		Help: "Jumlah transfer stok yang dikirim.",
	})
	insufficientStock := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stocklane_insufficient_stock_total",
		Help: "Jumlah operasi yang ditolak karena stok tidak cukup.",
	})
	registry.MustRegister(requests, duration, reservationsCreated, reservationsReleased, transfersDispatched, insufficientStock)
	return &Metrics{
		registry:             registry,
		handler:              promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:        requests,
		requestDuration:      duration,
		reservationsCreated:  reservationsCreated,
		reservationsReleased: reservationsReleased,
		transfersDispatched:  transfersDispatched,
		insufficientStock:    insufficientStock,
	}
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// ReservationCreated menambah counter reservasi baru.
func (m *Metrics) ReservationCreated() {
	if m == nil {
		return
	}
	m.reservationsCreated.Inc()
}

// ReservationsReleased menambah counter pelepasan reservasi per penyebab,
// misalnya "expired", "abandoned", atau "manual".
func (m *Metrics) ReservationsReleased(cause string, count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.reservationsReleased.WithLabelValues(cause).Add(float64(count))
}

// TransferDispatched menambah counter transfer yang dikirim.
func (m *Metrics) TransferDispatched() {
	if m == nil {
		return
	}
	m.transfersDispatched.Inc()
}

// InsufficientStock menambah counter penolakan karena stok kurang.
func (m *Metrics) InsufficientStock() {
	if m == nil {
		return
	}
	m.insufficientStock.Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
