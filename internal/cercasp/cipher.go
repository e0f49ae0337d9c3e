package cercasp

// KeyDerivation turns a passphrase and salt into a symmetric key.
type KeyDerivation interface {
	DeriveKey(passphrase, salt []byte) ([]byte, error)
}

// AuthenticatedCipher seals and opens byte slices under a key. Open must fail
// on any modification of the sealed blob.
type AuthenticatedCipher interface {
	Seal(key, plaintext []byte) ([]byte, error)
	Open(key, sealed []byte) ([]byte, error)
}

// Digester produces a fixed-length hex digest of text.
type Digester interface {
	Digest(text string) string
}

// FieldCipher encrypts individual string fields and whole records.
type FieldCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
	EncryptObject(r Record, fields []string) (Record, error)
	DecryptObject(r Record, fields []string) Record
}
