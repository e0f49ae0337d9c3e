package identity

import (
	"context"

	"cercasp-go/internal/cercasp"
)

// ResetNotifier delivers password reset tokens to account holders.
type ResetNotifier interface {
	SendReset(ctx context.Context, email, token string) error
}

// LogNotifier writes reset tokens to the log. Suitable for single-operator
// installs where the operator relays the token by hand.
type LogNotifier struct {
	Logger cercasp.Logger
}

func (n LogNotifier) SendReset(_ context.Context, email, token string) error {
	n.Logger.Info("password reset requested", "email", email, "token", token)
	return nil
}
