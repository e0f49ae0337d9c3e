package audit

import (
	"context"
	"fmt"

	"cercasp-go/internal/cercasp"
	"cercasp-go/internal/metrics"
)

// Recorder is the best-effort audit path used by the session and record
// services. A failed write never fails the audited operation. When the remote
// store is unreachable the sealed entry is parked in the offline queue under
// system_logs and replayed by the sync coordinator; only when that also fails
// is the entry logged and counted as lost.
type Recorder struct {
	ledger  *Ledger
	queue   cercasp.OfflineQueue
	logger  cercasp.Logger
	metrics *metrics.Metrics
}

var _ cercasp.AuditRecorder = (*Recorder)(nil)

// NewRecorder creates a Recorder. queue and m may be nil.
func NewRecorder(ledger *Ledger, queue cercasp.OfflineQueue, logger cercasp.Logger, m *metrics.Metrics) *Recorder {
	return &Recorder{ledger: ledger, queue: queue, logger: logger, metrics: m}
}

func (r *Recorder) Record(ctx context.Context, actor cercasp.Actor, action string, details map[string]any) {
	entry := cercasp.LogEntry{
		ActorID:    actor.ID,
		ActorEmail: actor.Email,
		ActorRole:  string(actor.Role),
		Action:     action,
		Details:    details,
		UserAgent:  actor.UserAgent,
	}

	sealed, err := r.ledger.Seal(entry)
	if err != nil {
		r.lost(action, actor.ID, err)
		return
	}

	writeErr := r.ledger.Write(ctx, sealed)
	if writeErr == nil {
		r.metrics.IncrementAuditEntries(action)
		return
	}
	if r.queue == nil {
		r.lost(action, actor.ID, writeErr)
		return
	}

	queueID, err := r.park(ctx, sealed)
	if err != nil {
		r.lost(action, actor.ID, fmt.Errorf("%w; queueing: %w", writeErr, err))
		return
	}
	r.logger.Warn("audit entry queued for sync", "action", action, "queue_id", queueID, "error", writeErr)
	r.metrics.IncrementAuditEntries(action)
}

// park enqueues the sealed entry. The checksum is already set, so the entry
// verifies the same once the coordinator replays it.
func (r *Recorder) park(ctx context.Context, sealed cercasp.LogEntry) (int64, error) {
	record, err := toRecord(sealed)
	if err != nil {
		return 0, err
	}
	record[cercasp.FieldCreatedBy] = sealed.ActorID
	return r.queue.Enqueue(ctx, cercasp.CollectionSystemLogs, record)
}

func (r *Recorder) lost(action, actorID string, err error) {
	r.logger.Error("audit write failed", "action", action, "actor", actorID, "error", err)
	r.metrics.IncrementAuditWriteFailures()
}
