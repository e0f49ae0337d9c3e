package encryption

import (
	"errors"
	"fmt"
	"io"

	"filippo.io/age"
)

// ArchiveSealer encrypts whole files, such as local queue snapshots, with
// age's scrypt passphrase mode. The same passphrase that keys the CryptoBox is
// used, so a snapshot can be restored on any machine that can read the data.
type ArchiveSealer struct {
	passphrase string
	workFactor int
}

// NewArchiveSealer creates a sealer. workFactor is the scrypt log2(N); zero
// keeps age's default.
func NewArchiveSealer(passphrase string, workFactor int) (*ArchiveSealer, error) {
	if passphrase == "" {
		return nil, errors.New("archive passphrase is empty")
	}
	return &ArchiveSealer{passphrase: passphrase, workFactor: workFactor}, nil
}

// Seal reads plaintext from r and writes an age file to w.
func (s *ArchiveSealer) Seal(r io.Reader, w io.Writer) error {
	recipient, err := age.NewScryptRecipient(s.passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt recipient: %w", err)
	}
	if s.workFactor > 0 {
		recipient.SetWorkFactor(s.workFactor)
	}

	encWriter, err := age.Encrypt(w, recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.Copy(encWriter, r); err != nil {
		return fmt.Errorf("sealing archive: %w", err)
	}
	if err := encWriter.Close(); err != nil {
		return fmt.Errorf("finalizing archive: %w", err)
	}
	return nil
}

// Open reads an age file from r and writes the plaintext to w. A wrong
// passphrase fails before anything is written.
func (s *ArchiveSealer) Open(r io.Reader, w io.Writer) error {
	identity, err := age.NewScryptIdentity(s.passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt identity: %w", err)
	}

	decReader, err := age.Decrypt(r, identity)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	if _, err := io.Copy(w, decReader); err != nil {
		return fmt.Errorf("reading archive: %w", err)
	}
	return nil
}
