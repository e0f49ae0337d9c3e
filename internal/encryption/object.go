package encryption

import (
	"encoding/json"
	"fmt"

	"cercasp-go/internal/cercasp"
)

// DecryptFailedValue replaces a field whose ciphertext could not be opened.
const DecryptFailedValue = "[Error al desencriptar]"

// EncryptObject returns a copy of r with each named, non-empty field encrypted
// and its "<field>_encrypted" marker set. Fields that already carry the marker
// are left alone, so encrypting twice is harmless.
func (b *CryptoBox) EncryptObject(r cercasp.Record, fields []string) (cercasp.Record, error) {
	out := r.Clone()
	for _, field := range fields {
		v, ok := r[field]
		if !ok || isEmpty(v) || r.IsEncrypted(field) {
			continue
		}

		plain, err := stringify(v)
		if err != nil {
			return nil, &cercasp.EncryptionError{Err: fmt.Errorf("field %s: %w", field, err)}
		}

		ct, err := b.Encrypt(plain)
		if err != nil {
			return nil, err
		}
		out[field] = ct
		out[cercasp.EncryptedMarker(field)] = true
	}
	return out, nil
}

// DecryptObject returns a copy of r with each marked field decrypted and its
// marker removed. A field that fails to decrypt, including a marked value that
// is not a ciphertext string, is set to DecryptFailedValue and keeps its
// marker; the remaining fields are still processed.
func (b *CryptoBox) DecryptObject(r cercasp.Record, fields []string) cercasp.Record {
	out := r.Clone()
	for _, field := range fields {
		if _, present := r[field]; !present || !r.IsEncrypted(field) {
			continue
		}

		ct, ok := r.String(field)
		if !ok || ct == "" {
			b.logger.Warn("marked field is not a ciphertext", "field", field)
			out[field] = DecryptFailedValue
			continue
		}

		plain, err := b.Decrypt(ct)
		if err != nil {
			b.logger.Warn("field decryption failed", "field", field)
			out[field] = DecryptFailedValue
			continue
		}
		out[field] = plain
		delete(out, cercasp.EncryptedMarker(field))
	}
	return out
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

// stringify renders scalars the way they are displayed and anything
// structured as JSON.
func stringify(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case fmt.Stringer:
		return t.String(), nil
	case bool, int, int32, int64, uint, uint32, uint64, float32, float64:
		return fmt.Sprint(t), nil
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}
