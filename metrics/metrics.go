package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the application counters. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	imports         *prometheus.CounterVec
	importRows      *prometheus.CounterVec
	reconciliations prometheus.Counter
	records         *prometheus.CounterVec
	notifications   *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewWithRegistry(reg, reg)
}

func NewWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	m := &Metrics{
		gatherer: gatherer,
		imports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_imports_total",
			Help: "Roster imports by result (success, empty, fatal, failed).",
		}, []string{"result"}),
		importRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_import_rows_total",
			Help: "Roster rows by outcome (imported, skipped, invalid, duplicate).",
		}, []string{"outcome"}),
		reconciliations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "attendance_reconciliations_total",
			Help: "Attendance submissions reconciled.",
		}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_records_total",
			Help: "Attendance records written by operation (created, updated).",
		}, []string{"op"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_notifications_total",
			Help: "Absence notifications by outcome (sent, failed, skipped).",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.imports, m.importRows, m.reconciliations, m.records, m.notifications)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) Import(result string) {
	if m == nil {
		return
	}
	m.imports.WithLabelValues(result).Inc()
}

func (m *Metrics) ImportRows(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.importRows.WithLabelValues(outcome).Add(float64(n))
}

func (m *Metrics) Reconciled(created, updated int) {
	if m == nil {
		return
	}
	m.reconciliations.Inc()
	if created > 0 {
		m.records.WithLabelValues("created").Add(float64(created))
	}
	if updated > 0 {
		m.records.WithLabelValues("updated").Add(float64(updated))
	}
}

func (m *Metrics) Notification(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.notifications.WithLabelValues(outcome).Add(float64(n))
}
