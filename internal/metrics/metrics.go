// Package metrics holds the prometheus instruments for the core. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sync item results.
const (
	ResultSynced = "synced"
	ResultFailed = "failed"
)

// Metrics holds all Prometheus metrics for cercasp.
type Metrics struct {
	SyncItems          *prometheus.CounterVec
	SyncPasses         prometheus.Counter
	QueueDepth         *prometheus.GaugeVec
	AuditWriteFailures prometheus.Counter
	AuditEntries       *prometheus.CounterVec
	SignIns            *prometheus.CounterVec
	SessionsExpired    prometheus.Counter
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SyncItems: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cercasp_sync_items_total",
			Help: "Queued items replayed to the remote store, by collection and result",
		}, []string{"collection", "result"}),
		SyncPasses: f.NewCounter(prometheus.CounterOpts{
			Name: "cercasp_sync_passes_total",
			Help: "Completed sync passes",
		}),
		QueueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cercasp_queue_depth",
			Help: "Pending offline items per collection after the last sync pass",
		}, []string{"collection"}),
		AuditWriteFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "cercasp_audit_write_failures_total",
			Help: "Audit entries that could not be written",
		}),
		AuditEntries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cercasp_audit_entries_total",
			Help: "Audit entries written, by action",
		}, []string{"action"}),
		SignIns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cercasp_sign_ins_total",
			Help: "Sign-in attempts, by outcome",
		}, []string{"outcome"}),
		SessionsExpired: f.NewCounter(prometheus.CounterOpts{
			Name: "cercasp_sessions_expired_total",
			Help: "Sessions ended by the inactivity timeout",
		}),
	}
}

func (m *Metrics) IncrementSyncItem(collection, result string) {
	if m == nil {
		return
	}
	m.SyncItems.WithLabelValues(collection, result).Inc()
}

func (m *Metrics) IncrementSyncPasses() {
	if m == nil {
		return
	}
	m.SyncPasses.Inc()
}

func (m *Metrics) SetQueueDepth(collection string, n int) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(collection).Set(float64(n))
}

func (m *Metrics) IncrementAuditWriteFailures() {
	if m == nil {
		return
	}
	m.AuditWriteFailures.Inc()
}

func (m *Metrics) IncrementAuditEntries(action string) {
	if m == nil {
		return
	}
	m.AuditEntries.WithLabelValues(action).Inc()
}

// IncrementSignIns counts a sign-in attempt. outcome is "success" or an
// AuthCause such as "invalid_credentials".
func (m *Metrics) IncrementSignIns(outcome string) {
	if m == nil {
		return
	}
	m.SignIns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementSessionsExpired() {
	if m == nil {
		return
	}
	m.SessionsExpired.Inc()
}
