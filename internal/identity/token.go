package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"cercasp-go/internal/cercasp"
)

// ErrInvalidToken is returned for session tokens that fail verification.
var ErrInvalidToken = errors.New("invalid session token")

// Claims is the session token payload.
type Claims struct {
	jwt.RegisteredClaims
	Email string       `json:"email"`
	Role  cercasp.Role `json:"role"`
}

type tokenIssuer struct {
	secret []byte
	ttl    time.Duration
	clock  cercasp.Clock
	ids    cercasp.IDGenerator
}

func (t *tokenIssuer) issue(id cercasp.Identity) (string, error) {
	now := t.clock.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        t.ids.New(),
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
		Email: id.Email,
		Role:  id.Role,
	})
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("signing session token: %w", err)
	}
	return signed, nil
}

func (t *tokenIssuer) verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
