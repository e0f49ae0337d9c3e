// Package session tracks who is signed in, for how long, and what they may do.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cercasp-go/internal/cercasp"
	"cercasp-go/internal/config"
	"cercasp-go/internal/metrics"
)

// State is the lifecycle position of a Guard.
type State int

const (
	StateSignedOut State = iota
	StateAuthenticating
	StateActive
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateSignedOut:
		return "signed_out"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	case StateExpired:
		return "expired"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

const (
	defaultTimeout   = 15 * time.Minute
	maxCheckInterval = time.Minute
)

// Sign-in outcomes besides the AuthCause values.
const (
	outcomeSuccess      = "success"
	outcomeAccessDenied = "access_denied"
	outcomeCancelled    = "cancelled"
)

// ClientInfo describes where a sign-in comes from.
type ClientInfo struct {
	IP        string
	UserAgent string
}

// Session is a snapshot of the active session.
type Session struct {
	Identity       cercasp.Identity
	LastActivityAt time.Time
	ExpiresAt      time.Time
}

// Options configures a Guard.
type Options struct {
	Timeout       time.Duration
	CheckInterval time.Duration

	// Production enables the IP allow-list.
	Production      bool
	AllowedIPRanges []string
}

// OptionsFromConfig reads the session settings out of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Timeout:         cfg.SessionTimeout(),
		CheckInterval:   cfg.CheckInterval(),
		Production:      cfg.IsProduction(),
		AllowedIPRanges: cfg.Session.AllowedIPRanges,
	}
}

// Guard owns the session state machine:
//
//	SignedOut → Authenticating → Active → Expired | SignedOut
//
// It implements cercasp.Authorizer and is safe for concurrent use.
type Guard struct {
	provider cercasp.IdentityProvider
	audit    cercasp.AuditRecorder
	notifier Notifier
	clock    cercasp.Clock
	logger   cercasp.Logger
	metrics  *metrics.Metrics

	timeout    time.Duration
	interval   time.Duration
	production bool
	allow      *AllowList

	mu           sync.Mutex
	state        State
	identity     *cercasp.Identity
	userAgent    string
	lastActivity time.Time
	expiresAt    time.Time
	// generation changes on every sign-in and sign-out so work started under
	// an older generation can tell it was overtaken.
	generation uint64
}

var _ cercasp.Authorizer = (*Guard)(nil)

// NewGuard creates a signed-out Guard. m may be nil.
func NewGuard(provider cercasp.IdentityProvider, audit cercasp.AuditRecorder, notifier Notifier, clock cercasp.Clock, logger cercasp.Logger, m *metrics.Metrics, opts Options) (*Guard, error) {
	allow, err := ParseAllowList(opts.AllowedIPRanges)
	if err != nil {
		return nil, err
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.CheckInterval <= 0 || opts.CheckInterval > maxCheckInterval {
		opts.CheckInterval = maxCheckInterval
	}
	if audit == nil {
		audit = cercasp.NopAuditRecorder{}
	}
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}
	return &Guard{
		provider:   provider,
		audit:      audit,
		notifier:   notifier,
		clock:      clock,
		logger:     logger,
		metrics:    m,
		timeout:    opts.Timeout,
		interval:   opts.CheckInterval,
		production: opts.Production,
		allow:      allow,
	}, nil
}

// SignIn authenticates with the provider and starts a session.
func (g *Guard) SignIn(ctx context.Context, email, password string, client ClientInfo) (cercasp.Identity, error) {
	g.mu.Lock()
	g.generation++
	gen := g.generation
	g.state = StateAuthenticating
	g.identity = nil
	g.mu.Unlock()

	id, err := g.provider.SignIn(ctx, email, password)
	if err != nil {
		authErr := mapProviderError(err)
		g.resetIfCurrent(gen)
		g.metrics.IncrementSignIns(string(authErr.Cause))
		g.logger.Info("sign-in rejected", "email", email, "cause", string(authErr.Cause))
		return cercasp.Identity{}, authErr
	}

	if g.production && !g.allow.Allows(client.IP) {
		g.resetIfCurrent(gen)
		g.metrics.IncrementSignIns(outcomeAccessDenied)
		g.logger.Warn("sign-in denied by IP allow-list", "email", id.Email, "ip", client.IP)
		if err := g.provider.SignOut(ctx); err != nil {
			g.logger.Error("provider sign-out failed", "error", err)
		}
		return cercasp.Identity{}, &cercasp.AccessDeniedError{IP: client.IP}
	}

	g.mu.Lock()
	if g.generation != gen {
		g.mu.Unlock()
		g.metrics.IncrementSignIns(outcomeCancelled)
		g.logger.Info("discarding sign-in overtaken by sign-out", "email", id.Email)
		if err := g.provider.SignOut(ctx); err != nil {
			g.logger.Error("provider sign-out failed", "error", err)
		}
		return cercasp.Identity{}, cercasp.ErrSignInCancelled
	}
	now := g.clock.Now()
	g.state = StateActive
	g.identity = &id
	g.userAgent = client.UserAgent
	g.lastActivity = now
	g.expiresAt = now.Add(g.timeout)
	g.mu.Unlock()

	g.metrics.IncrementSignIns(outcomeSuccess)
	g.logger.Info("signed in", "email", id.Email, "role", string(id.Role))
	g.audit.Record(ctx, cercasp.ActorFromIdentity(id, client.UserAgent), cercasp.ActionLogin,
		map[string]any{"email": id.Email})
	return id, nil
}

// SignOut ends the session locally, then signs out of the provider. A provider
// error is returned after the local state has been cleared.
func (g *Guard) SignOut(ctx context.Context) error {
	g.mu.Lock()
	g.generation++
	id, ua := g.identity, g.userAgent
	g.clearLocked(StateSignedOut)
	g.mu.Unlock()

	return g.finishSignOut(ctx, id, ua)
}

func (g *Guard) finishSignOut(ctx context.Context, id *cercasp.Identity, userAgent string) error {
	if id != nil {
		g.audit.Record(ctx, cercasp.ActorFromIdentity(*id, userAgent), cercasp.ActionLogout,
			map[string]any{"email": id.Email})
	}
	if err := g.provider.SignOut(ctx); err != nil {
		return fmt.Errorf("signing out of identity provider: %w", err)
	}
	return nil
}

// Authorize reports whether the active session's role grants p.
func (g *Guard) Authorize(p cercasp.Permission) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.liveLocked() {
		return false
	}
	return g.identity.Role.Grants(p)
}

// HasRole reports whether the active session has exactly role.
func (g *Guard) HasRole(role cercasp.Role) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.liveLocked() && g.identity.Role == role
}

// Current returns the active identity.
func (g *Guard) Current() (cercasp.Identity, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.liveLocked() {
		return cercasp.Identity{}, false
	}
	return *g.identity, true
}

// State reports StateExpired as soon as the deadline passes, even before Check
// has cleared the session.
func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == StateActive && !g.liveLocked() {
		return StateExpired
	}
	return g.state
}

// Session returns a snapshot of the active session.
func (g *Guard) Session() (Session, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.liveLocked() {
		return Session{}, false
	}
	return Session{
		Identity:       *g.identity,
		LastActivityAt: g.lastActivity,
		ExpiresAt:      g.expiresAt,
	}, true
}

// Touch records user activity, pushing expiry out by the full timeout. A
// session already past its deadline stays expired.
func (g *Guard) Touch() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.liveLocked() {
		return
	}
	now := g.clock.Now()
	g.lastActivity = now
	g.expiresAt = now.Add(g.timeout)
}

// Run checks for expiry every check interval until ctx ends.
func (g *Guard) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			g.Check(ctx)
		}
	}
}

// Check expires the session if its deadline has passed. It reports whether
// the session was expired by this call.
func (g *Guard) Check(ctx context.Context) bool {
	g.mu.Lock()
	if g.state != StateActive || g.clock.Now().Before(g.expiresAt) {
		g.mu.Unlock()
		return false
	}
	g.state = StateExpired
	gen := g.generation
	id, ua := *g.identity, g.userAgent
	g.mu.Unlock()

	g.metrics.IncrementSessionsExpired()
	g.logger.Info("session expired", "email", id.Email)
	g.notifier.Notify(cercasp.MessageSessionExpired)
	g.audit.Record(ctx, cercasp.ActorFromIdentity(id, ua), cercasp.ActionSessionExpired,
		map[string]any{"email": id.Email})

	g.mu.Lock()
	if g.generation != gen {
		// A new sign-in or an explicit sign-out already replaced this session.
		g.mu.Unlock()
		return true
	}
	g.generation++
	g.clearLocked(StateExpired)
	g.mu.Unlock()

	if err := g.finishSignOut(ctx, &id, ua); err != nil {
		g.logger.Error("sign-out after expiry failed", "error", err)
	}
	return true
}

// ChangePassword sets a new password for the signed-in account.
func (g *Guard) ChangePassword(ctx context.Context, newPassword string) error {
	id, ok := g.Current()
	if !ok {
		return cercasp.ErrNotAuthenticated
	}
	if err := g.provider.UpdatePassword(ctx, newPassword); err != nil {
		var authErr *cercasp.AuthError
		if errors.As(err, &authErr) || errors.Is(err, cercasp.ErrNotAuthenticated) {
			return err
		}
		return fmt.Errorf("changing password: %w", err)
	}

	g.Touch()
	g.mu.Lock()
	ua := g.userAgent
	g.mu.Unlock()
	g.audit.Record(ctx, cercasp.ActorFromIdentity(id, ua), cercasp.ActionPasswordChanged, nil)
	return nil
}

// ResetPassword asks the provider to send a reset to email.
func (g *Guard) ResetPassword(ctx context.Context, email string) error {
	if err := g.provider.SendPasswordReset(ctx, email); err != nil {
		return mapProviderError(err)
	}
	g.logger.Info("password reset requested", "email", email)
	return nil
}

// liveLocked reports whether the session is active and inside its deadline.
// Run may notice an expiry up to one interval late; permission checks do not
// wait for it.
func (g *Guard) liveLocked() bool {
	return g.state == StateActive && g.clock.Now().Before(g.expiresAt)
}

func (g *Guard) clearLocked(next State) {
	g.state = next
	g.identity = nil
	g.userAgent = ""
	g.lastActivity = time.Time{}
	g.expiresAt = time.Time{}
}

func (g *Guard) resetIfCurrent(gen uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.generation == gen {
		g.clearLocked(StateSignedOut)
	}
}

// mapProviderError folds any provider failure into an *AuthError.
func mapProviderError(err error) *cercasp.AuthError {
	var authErr *cercasp.AuthError
	if errors.As(err, &authErr) {
		return authErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return cercasp.NewAuthError(cercasp.AuthNetwork, err)
	}
	return cercasp.NewAuthError(cercasp.AuthUnknown, err)
}
