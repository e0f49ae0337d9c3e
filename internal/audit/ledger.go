// Package audit writes tamper-evident entries to the system_logs collection.
//
// Each entry carries a checksum: the SHA-256 of the entry's RFC 8785 canonical
// JSON with the checksum field left out. Any later change to a stored field
// makes Verify fail.
package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"

	"cercasp-go/internal/cercasp"
)

// Ledger appends and verifies checksummed audit entries.
type Ledger struct {
	store    cercasp.RemoteStore
	digester cercasp.Digester
	clock    cercasp.Clock
}

// NewLedger creates a Ledger writing to store.
func NewLedger(store cercasp.RemoteStore, digester cercasp.Digester, clock cercasp.Clock) *Ledger {
	return &Ledger{store: store, digester: digester, clock: clock}
}

// Canonicalize returns the RFC 8785 form of entry: sorted keys, shortest
// number form and no HTML escaping.
func Canonicalize(entry cercasp.LogEntry) ([]byte, error) {
	raw, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("encoding audit entry: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalizing audit entry: %w", err)
	}
	return canonical, nil
}

// Checksum digests the canonical form of entry without its checksum.
func (l *Ledger) Checksum(entry cercasp.LogEntry) (string, error) {
	entry.Checksum = ""
	canonical, err := Canonicalize(entry)
	if err != nil {
		return "", err
	}
	return l.digester.Digest(string(canonical)), nil
}

// Verify reports whether entry's checksum matches its contents.
func (l *Ledger) Verify(entry cercasp.LogEntry) bool {
	if entry.Checksum == "" {
		return false
	}
	sum, err := l.Checksum(entry)
	if err != nil {
		return false
	}
	return sum == entry.Checksum
}

// Seal stamps entry with a timestamp when unset, then with its checksum.
func (l *Ledger) Seal(entry cercasp.LogEntry) (cercasp.LogEntry, error) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.clock.Now().UTC()
	}
	if entry.Details == nil {
		entry.Details = map[string]any{}
	}

	sum, err := l.Checksum(entry)
	if err != nil {
		return cercasp.LogEntry{}, err
	}
	entry.Checksum = sum
	return entry, nil
}

// Append seals entry and writes it to system_logs. It returns the entry as
// written.
func (l *Ledger) Append(ctx context.Context, entry cercasp.LogEntry) (cercasp.LogEntry, error) {
	sealed, err := l.Seal(entry)
	if err != nil {
		return cercasp.LogEntry{}, err
	}
	if err := l.Write(ctx, sealed); err != nil {
		return cercasp.LogEntry{}, err
	}
	return sealed, nil
}

// Write stores an already sealed entry in system_logs.
func (l *Ledger) Write(ctx context.Context, sealed cercasp.LogEntry) error {
	record, err := toRecord(sealed)
	if err != nil {
		return err
	}
	if _, err := l.store.Add(ctx, cercasp.CollectionSystemLogs, record, sealed.ActorID); err != nil {
		return fmt.Errorf("writing audit entry: %w", err)
	}
	return nil
}

// VerifyReport summarizes a full ledger check.
type VerifyReport struct {
	Checked  int
	Tampered []string // document ids whose checksum does not match
}

// OK reports whether every entry verified.
func (r VerifyReport) OK() bool { return len(r.Tampered) == 0 }

// VerifyAll reads every stored entry and reports the ones that fail Verify.
func (l *Ledger) VerifyAll(ctx context.Context) (VerifyReport, error) {
	records, err := l.store.Query(ctx, cercasp.CollectionSystemLogs, cercasp.OrderBy(cercasp.FieldCreatedAt, false))
	if err != nil {
		return VerifyReport{}, fmt.Errorf("reading audit entries: %w", err)
	}

	var report VerifyReport
	for _, r := range records {
		report.Checked++
		id, _ := r.String(cercasp.FieldID)

		entry, err := fromRecord(r)
		if err != nil || !l.Verify(entry) {
			report.Tampered = append(report.Tampered, id)
		}
	}
	return report, nil
}

func toRecord(entry cercasp.LogEntry) (cercasp.Record, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("encoding audit entry: %w", err)
	}
	var r cercasp.Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decoding audit entry: %w", err)
	}
	return r, nil
}

// fromRecord reads a stored document back into an entry. Store metadata such
// as id and createdAt is not part of the entry and is dropped.
func fromRecord(r cercasp.Record) (cercasp.LogEntry, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return cercasp.LogEntry{}, err
	}
	var entry cercasp.LogEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return cercasp.LogEntry{}, err
	}
	return entry, nil
}
