package cercasp

import (
	"context"
	"errors"
	"fmt"
)

// RecordValidator checks a plaintext record before it is encrypted.
type RecordValidator interface {
	Validate(collection string, r Record) error
}

// Connectivity reports the last known reachability of the remote store.
type Connectivity interface {
	Online() bool
}

// CreateResult reports where a created record ended up.
type CreateResult struct {
	ID      string // remote id; empty when queued
	Queued  bool
	QueueID int64
}

// RecordService is the write and read path for sensitive records: it gates on
// permissions, encrypts the collection's sensitive fields, writes to the remote
// store (or the offline queue) and audits every mutation.
type RecordService struct {
	remote    RemoteStore
	queue     OfflineQueue
	cipher    FieldCipher
	auth      Authorizer
	audit     AuditRecorder
	validator RecordValidator
	catalog   Catalog
	logger    Logger

	connectivity Connectivity
}

// NewRecordService creates a RecordService. queue and validator may be nil:
// without a queue, offline writes fail instead of being buffered.
func NewRecordService(remote RemoteStore, queue OfflineQueue, cipher FieldCipher, auth Authorizer, audit AuditRecorder, validator RecordValidator, catalog Catalog, logger Logger) *RecordService {
	if audit == nil {
		audit = NopAuditRecorder{}
	}
	return &RecordService{
		remote:    remote,
		queue:     queue,
		cipher:    cipher,
		auth:      auth,
		audit:     audit,
		validator: validator,
		catalog:   catalog,
		logger:    logger,
	}
}

// SetConnectivity lets the service skip the remote call while the store is
// known to be offline.
func (s *RecordService) SetConnectivity(c Connectivity) {
	s.connectivity = c
}

// Create stores a new record. When the remote store cannot be reached the
// encrypted payload is queued and Create still succeeds.
func (s *RecordService) Create(ctx context.Context, collection string, record Record) (CreateResult, error) {
	col, identity, err := s.gate(collection, true)
	if err != nil {
		return CreateResult{}, err
	}

	payload, err := s.prepare(col, record)
	if err != nil {
		return CreateResult{}, err
	}

	actor := ActorFromIdentity(identity, "")

	if s.connectivity == nil || s.connectivity.Online() {
		id, err := s.remote.Add(ctx, col.Name, payload, identity.ID)
		if err == nil {
			s.audit.Record(ctx, actor, ActionCreate, map[string]any{"collection": col.Name, "id": id})
			return CreateResult{ID: id}, nil
		}
		if ctx.Err() != nil {
			return CreateResult{}, fmt.Errorf("writing %s: %w", col.Name, err)
		}
		s.logger.Warn("remote write failed, queueing", "collection", col.Name, "error", err)
	}

	if s.queue == nil {
		return CreateResult{}, fmt.Errorf("writing %s: %w", col.Name, ErrOffline)
	}
	// The queue has no actor column; the replay reads the author from here.
	queued := payload.Clone()
	queued[FieldCreatedBy] = identity.ID
	queueID, err := s.queue.Enqueue(ctx, col.Name, queued)
	if err != nil {
		return CreateResult{}, fmt.Errorf("queueing %s: %w", col.Name, err)
	}
	s.logger.Info("record queued for sync", "collection", col.Name, "queue_id", queueID)
	s.audit.Record(ctx, actor, ActionQueued, map[string]any{"collection": col.Name, "queueId": queueID})
	return CreateResult{Queued: true, QueueID: queueID}, nil
}

// Update overlays record on an existing remote document. Updates are not
// queued: they need the current remote document to exist.
func (s *RecordService) Update(ctx context.Context, collection, id string, record Record) error {
	col, identity, err := s.gate(collection, true)
	if err != nil {
		return err
	}

	payload, err := s.prepare(col, record)
	if err != nil {
		return err
	}

	if err := s.remote.Update(ctx, col.Name, id, payload, identity.ID); err != nil {
		return fmt.Errorf("updating %s/%s: %w", col.Name, id, err)
	}
	s.audit.Record(ctx, ActorFromIdentity(identity, ""), ActionUpdate, map[string]any{"collection": col.Name, "id": id})
	return nil
}

// Get fetches and decrypts one record.
func (s *RecordService) Get(ctx context.Context, collection, id string) (Record, error) {
	col, _, err := s.gate(collection, false)
	if err != nil {
		return nil, err
	}

	r, err := s.remote.Get(ctx, col.Name, id)
	if err != nil {
		return nil, fmt.Errorf("reading %s/%s: %w", col.Name, id, err)
	}
	return s.cipher.DecryptObject(r, col.SensitiveFields), nil
}

// Query runs constraints against the remote collection and decrypts each result.
func (s *RecordService) Query(ctx context.Context, collection string, constraints ...Constraint) ([]Record, error) {
	col, _, err := s.gate(collection, false)
	if err != nil {
		return nil, err
	}

	records, err := s.remote.Query(ctx, col.Name, constraints...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", col.Name, err)
	}
	out := make([]Record, len(records))
	for i, r := range records {
		out[i] = s.cipher.DecryptObject(r, col.SensitiveFields)
	}
	return out, nil
}

func (s *RecordService) gate(collection string, write bool) (Collection, Identity, error) {
	col, err := s.catalog.Lookup(collection)
	if err != nil {
		return Collection{}, Identity{}, err
	}

	identity, ok := s.auth.Current()
	if !ok {
		return Collection{}, Identity{}, ErrNotAuthenticated
	}

	perm := col.Read
	if write {
		perm = col.Write
	}
	if !s.auth.Authorize(perm) {
		return Collection{}, Identity{}, fmt.Errorf("%w (%s)", ErrUnauthorized, perm)
	}
	s.auth.Touch()
	return col, identity, nil
}

func (s *RecordService) prepare(col Collection, record Record) (Record, error) {
	if s.validator != nil {
		if err := s.validator.Validate(col.Name, record); err != nil {
			return nil, fmt.Errorf("validating %s: %w", col.Name, err)
		}
	}

	payload, err := s.cipher.EncryptObject(record, col.SensitiveFields)
	if err != nil {
		var encErr *EncryptionError
		if errors.As(err, &encErr) {
			return nil, err
		}
		return nil, &EncryptionError{Err: err}
	}
	return payload, nil
}
