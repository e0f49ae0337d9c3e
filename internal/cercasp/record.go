package cercasp

import (
	"encoding/json"
	"fmt"
	"time"
)

// Record is a JSON-shaped document: field name to plaintext, ciphertext or
// nested value. Encrypted fields carry a sibling "<field>_encrypted" marker.
type Record map[string]any

// TimestampLayout is the fixed-width UTC layout used for server timestamps, so
// they sort correctly as strings.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// String returns the field as a string and whether it was one.
func (r Record) String(field string) (string, bool) {
	s, ok := r[field].(string)
	return s, ok
}

// Normalize round-trips r through JSON so every backend sees the same value
// shapes (numbers as float64, nested objects as map[string]any).
func (r Record) Normalize() (Record, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	var out Record
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding record: %w", err)
	}
	if out == nil {
		out = Record{}
	}
	return out, nil
}

// EncryptedMarker returns the companion marker field name for field.
func EncryptedMarker(field string) string {
	return field + "_encrypted"
}

// IsEncrypted reports whether field carries a true encryption marker.
func (r Record) IsEncrypted(field string) bool {
	v, _ := r[EncryptedMarker(field)].(bool)
	return v
}
