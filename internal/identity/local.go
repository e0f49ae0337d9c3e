// Package identity is the built-in identity provider: accounts live in a TOML
// file with bcrypt password hashes, and sessions are HS256 JWTs.
package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"cercasp-go/internal/cercasp"
	"cercasp-go/internal/validate"
)

const (
	// MinPasswordLength is the shortest password accepted for a new password.
	MinPasswordLength = 6

	defaultTokenTTL    = 8 * time.Hour
	defaultSignInRate  = 5.0 // attempts per minute
	defaultSignInBurst = 5
	resetTokenLifetime = time.Hour
)

var (
	// ErrWeakPassword is returned for passwords shorter than MinPasswordLength.
	ErrWeakPassword = errors.New("La contraseña debe tener al menos 6 caracteres")

	// ErrInvalidResetToken is returned for unknown, used or expired reset tokens.
	ErrInvalidResetToken = errors.New("token de restablecimiento inválido o expirado")

	// ErrAccountExists is returned by AddAccount for a taken email.
	ErrAccountExists = errors.New("account already exists")
)

// Options configures a LocalProvider.
type Options struct {
	// AccountsFile is where accounts are persisted. Empty keeps them in memory.
	AccountsFile string

	TokenSecret []byte
	TokenTTL    time.Duration

	// SignInRatePerMinute and SignInBurst bound sign-in attempts per email.
	SignInRatePerMinute float64
	SignInBurst         int

	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
}

type resetToken struct {
	email   string
	expires time.Time
}

// LocalProvider implements cercasp.IdentityProvider over a local accounts file.
// It is safe for concurrent use.
type LocalProvider struct {
	opts     Options
	tokens   *tokenIssuer
	notifier ResetNotifier
	clock    cercasp.Clock
	ids      cercasp.IDGenerator
	logger   cercasp.Logger

	mu           sync.Mutex
	accounts     map[string]*Account // by normalized email
	current      *cercasp.Identity
	limiters     map[string]*rate.Limiter
	resets       map[string]resetToken
	listeners    map[int]cercasp.AuthStateFunc
	nextListener int
}

var _ cercasp.IdentityProvider = (*LocalProvider)(nil)

// NewLocalProvider loads the accounts file (if any) and returns a provider.
func NewLocalProvider(opts Options, notifier ResetNotifier, clock cercasp.Clock, ids cercasp.IDGenerator, logger cercasp.Logger) (*LocalProvider, error) {
	if len(opts.TokenSecret) == 0 {
		return nil, fmt.Errorf("token secret required")
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = defaultTokenTTL
	}
	if opts.SignInRatePerMinute <= 0 {
		opts.SignInRatePerMinute = defaultSignInRate
	}
	if opts.SignInBurst <= 0 {
		opts.SignInBurst = defaultSignInBurst
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}

	p := &LocalProvider{
		opts:      opts,
		tokens:    &tokenIssuer{secret: opts.TokenSecret, ttl: opts.TokenTTL, clock: clock, ids: ids},
		notifier:  notifier,
		clock:     clock,
		ids:       ids,
		logger:    logger,
		accounts:  make(map[string]*Account),
		limiters:  make(map[string]*rate.Limiter),
		resets:    make(map[string]resetToken),
		listeners: make(map[int]cercasp.AuthStateFunc),
	}

	if opts.AccountsFile != "" {
		accounts, err := loadAccountsFile(opts.AccountsFile)
		if err != nil {
			return nil, err
		}
		for i := range accounts {
			p.accounts[accounts[i].Email] = &accounts[i]
		}
	}
	return p, nil
}

// AddAccount creates an account and persists the accounts file.
func (p *LocalProvider) AddAccount(email, displayName string, role cercasp.Role, password string) (cercasp.Identity, error) {
	if !validate.IsEmail(email) {
		return cercasp.Identity{}, cercasp.NewAuthError(cercasp.AuthInvalidEmail, nil)
	}
	if !role.Valid() {
		return cercasp.Identity{}, fmt.Errorf("unknown role %q", role)
	}
	hash, err := p.hash(password)
	if err != nil {
		return cercasp.Identity{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	key := normalizeEmail(email)
	if _, exists := p.accounts[key]; exists {
		return cercasp.Identity{}, fmt.Errorf("%w: %s", ErrAccountExists, key)
	}
	acct := &Account{
		ID:           p.ids.New(),
		Email:        key,
		DisplayName:  displayName,
		Role:         role,
		PasswordHash: hash,
	}
	p.accounts[key] = acct
	if err := p.persistLocked(); err != nil {
		delete(p.accounts, key)
		return cercasp.Identity{}, err
	}
	p.logger.Info("account created", "email", key, "role", string(role))
	return acct.identity(), nil
}

// SetDisabled enables or disables an account.
func (p *LocalProvider) SetDisabled(email string, disabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	acct, found := p.accounts[normalizeEmail(email)]
	if !found {
		return cercasp.NewAuthError(cercasp.AuthUnknownAccount, nil)
	}
	acct.Disabled = disabled
	return p.persistLocked()
}

func (p *LocalProvider) SignIn(ctx context.Context, email, password string) (cercasp.Identity, error) {
	if err := ctx.Err(); err != nil {
		return cercasp.Identity{}, cercasp.NewAuthError(cercasp.AuthNetwork, err)
	}
	if !validate.IsEmail(email) {
		return cercasp.Identity{}, cercasp.NewAuthError(cercasp.AuthInvalidEmail, nil)
	}
	key := normalizeEmail(email)

	p.mu.Lock()
	if !p.limiterLocked(key).AllowN(p.clock.Now(), 1) {
		p.mu.Unlock()
		return cercasp.Identity{}, cercasp.NewAuthError(cercasp.AuthRateLimited, nil)
	}
	acct, found := p.accounts[key]
	var snapshot Account
	if found {
		snapshot = *acct
	}
	p.mu.Unlock()

	if !found {
		return cercasp.Identity{}, cercasp.NewAuthError(cercasp.AuthUnknownAccount, nil)
	}
	if snapshot.Disabled {
		return cercasp.Identity{}, cercasp.NewAuthError(cercasp.AuthAccountDisabled, nil)
	}
	// bcrypt runs outside the lock; it is deliberately slow.
	if err := bcrypt.CompareHashAndPassword([]byte(snapshot.PasswordHash), []byte(password)); err != nil {
		return cercasp.Identity{}, cercasp.NewAuthError(cercasp.AuthInvalidCredentials, err)
	}

	id := snapshot.identity()
	token, err := p.tokens.issue(id)
	if err != nil {
		return cercasp.Identity{}, cercasp.NewAuthError(cercasp.AuthUnknown, err)
	}
	id.Token = token

	p.mu.Lock()
	p.current = &id
	listeners := p.listenersLocked()
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(&id)
	}
	return id, nil
}

func (p *LocalProvider) SignOut(context.Context) error {
	p.mu.Lock()
	p.current = nil
	listeners := p.listenersLocked()
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(nil)
	}
	return nil
}

func (p *LocalProvider) OnAuthStateChange(fn cercasp.AuthStateFunc) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextListener++
	key := p.nextListener
	p.listeners[key] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, key)
	}
}

// SendPasswordReset issues a one-hour reset token and hands it to the notifier.
func (p *LocalProvider) SendPasswordReset(ctx context.Context, email string) error {
	if !validate.IsEmail(email) {
		return cercasp.NewAuthError(cercasp.AuthInvalidEmail, nil)
	}
	key := normalizeEmail(email)

	p.mu.Lock()
	if _, found := p.accounts[key]; !found {
		p.mu.Unlock()
		return cercasp.NewAuthError(cercasp.AuthUnknownAccount, nil)
	}
	token := uuid.NewString()
	p.resets[token] = resetToken{email: key, expires: p.clock.Now().Add(resetTokenLifetime)}
	p.mu.Unlock()

	if err := p.notifier.SendReset(ctx, key, token); err != nil {
		p.mu.Lock()
		delete(p.resets, token)
		p.mu.Unlock()
		return cercasp.NewAuthError(cercasp.AuthNetwork, err)
	}
	return nil
}

// ConfirmPasswordReset sets a new password using a token from SendPasswordReset.
// Tokens are single use.
func (p *LocalProvider) ConfirmPasswordReset(token, newPassword string) error {
	hash, err := p.hash(newPassword)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	rt, found := p.resets[token]
	if !found || !p.clock.Now().Before(rt.expires) {
		delete(p.resets, token)
		return ErrInvalidResetToken
	}
	delete(p.resets, token)

	acct, found := p.accounts[rt.email]
	if !found {
		return ErrInvalidResetToken
	}
	return p.setHashLocked(acct, hash)
}

// UpdatePassword changes the password of the signed-in account.
func (p *LocalProvider) UpdatePassword(_ context.Context, newPassword string) error {
	hash, err := p.hash(newPassword)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == nil {
		return cercasp.ErrNotAuthenticated
	}
	acct, found := p.accounts[normalizeEmail(p.current.Email)]
	if !found {
		return cercasp.NewAuthError(cercasp.AuthUnknownAccount, nil)
	}
	return p.setHashLocked(acct, hash)
}

// VerifyToken checks a session token and returns the identity it was issued
// for. Tokens of disabled or removed accounts are rejected.
func (p *LocalProvider) VerifyToken(token string) (cercasp.Identity, error) {
	claims, err := p.tokens.verify(token)
	if err != nil {
		return cercasp.Identity{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	acct, found := p.accounts[normalizeEmail(claims.Email)]
	if !found || acct.Disabled || acct.ID != claims.Subject {
		return cercasp.Identity{}, ErrInvalidToken
	}
	id := acct.identity()
	id.Token = token
	return id, nil
}

func (p *LocalProvider) hash(password string) (string, error) {
	if len([]rune(password)) < MinPasswordLength {
		return "", ErrWeakPassword
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), p.opts.BcryptCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(h), nil
}

func (p *LocalProvider) setHashLocked(acct *Account, hash string) error {
	old := acct.PasswordHash
	acct.PasswordHash = hash
	if err := p.persistLocked(); err != nil {
		acct.PasswordHash = old
		return err
	}
	p.logger.Info("password updated", "email", acct.Email)
	return nil
}

func (p *LocalProvider) limiterLocked(key string) *rate.Limiter {
	l, found := p.limiters[key]
	if !found {
		l = rate.NewLimiter(rate.Limit(p.opts.SignInRatePerMinute/60), p.opts.SignInBurst)
		p.limiters[key] = l
	}
	return l
}

func (p *LocalProvider) listenersLocked() []cercasp.AuthStateFunc {
	out := make([]cercasp.AuthStateFunc, 0, len(p.listeners))
	for _, fn := range p.listeners {
		out = append(out, fn)
	}
	return out
}

func (p *LocalProvider) persistLocked() error {
	if p.opts.AccountsFile == "" {
		return nil
	}
	accounts := make([]Account, 0, len(p.accounts))
	for _, a := range p.accounts {
		accounts = append(accounts, *a)
	}
	sortAccounts(accounts)
	return saveAccountsFile(p.opts.AccountsFile, accounts)
}
