package cercasp

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by stores when a document or item does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnknownCollection is returned for collection names outside the catalog.
	ErrUnknownCollection = errors.New("unknown collection")

	// ErrUnauthorized is returned when the active identity lacks a permission.
	ErrUnauthorized = errors.New(MessageUnauthorized)

	// ErrNotAuthenticated is returned by operations that need an active session.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrSignInCancelled is returned when a sign-out overtook an in-flight sign-in.
	ErrSignInCancelled = errors.New("sign-in cancelled by sign-out")

	// ErrOffline is returned by remote stores that are known to be unreachable.
	ErrOffline = errors.New("remote store offline")
)

// KeyDerivationError reports that a key could not be derived from a passphrase.
type KeyDerivationError struct {
	Err error
}

func (e *KeyDerivationError) Error() string {
	if e.Err == nil {
		return "key derivation failed"
	}
	return fmt.Sprintf("key derivation failed: %v", e.Err)
}

func (e *KeyDerivationError) Unwrap() error { return e.Err }

// EncryptionError reports an encryption failure, including use before Initialize.
type EncryptionError struct {
	Err error
}

func (e *EncryptionError) Error() string {
	if e.Err == nil {
		return "encryption failed"
	}
	return fmt.Sprintf("encryption failed: %v", e.Err)
}

func (e *EncryptionError) Unwrap() error { return e.Err }

// DecryptionError reports that a ciphertext could not be opened. It carries no
// cause: a wrong key, a tampered blob and malformed input all look the same.
type DecryptionError struct{}

func (e *DecryptionError) Error() string { return "decryption failed" }

// AccessDeniedError is returned when a production sign-in comes from an
// address outside the allow-list.
type AccessDeniedError struct {
	IP string
}

func (e *AccessDeniedError) Error() string { return "Acceso denegado desde esta ubicación IP" }

// AuthCause is the fixed set of reasons an identity provider may reject a sign-in.
type AuthCause string

const (
	AuthInvalidCredentials AuthCause = "invalid_credentials"
	AuthInvalidEmail       AuthCause = "invalid_email"
	AuthAccountDisabled    AuthCause = "account_disabled"
	AuthUnknownAccount     AuthCause = "unknown_account"
	AuthRateLimited        AuthCause = "rate_limited"
	AuthNetwork            AuthCause = "network"
	AuthUnknown            AuthCause = "unknown"
)

var authMessages = map[AuthCause]string{
	AuthInvalidCredentials: "Contraseña incorrecta",
	AuthInvalidEmail:       "Email inválido",
	AuthAccountDisabled:    "Usuario deshabilitado",
	AuthUnknownAccount:     "Usuario no encontrado",
	AuthRateLimited:        "Demasiados intentos fallidos. Intenta más tarde.",
	AuthNetwork:            "Error de red. Verifica tu conexión.",
	AuthUnknown:            MessageError,
}

// AuthError is a credential or account problem reported by the identity provider.
// Error returns a message safe to show to the user.
type AuthError struct {
	Cause AuthCause
	Err   error
}

// NewAuthError builds an AuthError for cause wrapping err.
func NewAuthError(cause AuthCause, err error) *AuthError {
	return &AuthError{Cause: cause, Err: err}
}

func (e *AuthError) Error() string {
	if msg, ok := authMessages[e.Cause]; ok {
		return msg
	}
	return MessageError
}

func (e *AuthError) Unwrap() error { return e.Err }

// SyncError reports a queue item the remote store did not accept.
type SyncError struct {
	Collection string
	ItemID     int64
	Err        error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("syncing %s item %d: %v", e.Collection, e.ItemID, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// StorageError reports a failure of the local durable store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("local store %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
