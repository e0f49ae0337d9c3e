package cercasp

import "context"

// Identity is the authenticated principal. It is never persisted encrypted.
type Identity struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Role        Role   `json:"role"`
	Token       string `json:"-"`
}

// AuthStateFunc receives the new identity, or nil after a sign-out.
type AuthStateFunc func(identity *Identity)

// IdentityProvider verifies credentials and manages account passwords.
// Implementations track the currently signed-in account.
type IdentityProvider interface {
	SignIn(ctx context.Context, email, password string) (Identity, error)
	SignOut(ctx context.Context) error
	OnAuthStateChange(fn AuthStateFunc) (unsubscribe func())
	SendPasswordReset(ctx context.Context, email string) error
	UpdatePassword(ctx context.Context, newPassword string) error
}

// Authorizer answers permission questions about the active session.
type Authorizer interface {
	Authorize(p Permission) bool
	Current() (Identity, bool)

	// Touch records user activity and extends the session.
	Touch()
}
