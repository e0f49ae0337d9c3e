package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"cercasp-go/internal/cercasp"
	"cercasp-go/internal/session"
	"cercasp-go/internal/testutil"
)

type auditCall struct {
	actor   cercasp.Actor
	action  string
	details map[string]any
}

type recordingAudit struct {
	mu    sync.Mutex
	calls []auditCall
}

func (r *recordingAudit) Record(_ context.Context, actor cercasp.Actor, action string, details map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, auditCall{actor: actor, action: action, details: details})
}

func (r *recordingAudit) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	for i, c := range r.calls {
		out[i] = c.action
	}
	return out
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(message string) {
	m.Called(message)
}

type harness struct {
	guard    *session.Guard
	provider *testutil.FakeProvider
	audit    *recordingAudit
	notifier *mockNotifier
	clock    *testutil.StubClock
	staff    cercasp.Identity
}

func newHarness(t *testing.T, opts session.Options) *harness {
	t.Helper()
	h := &harness{
		provider: testutil.NewFakeProvider(),
		audit:    &recordingAudit{},
		notifier: &mockNotifier{},
		clock:    testutil.FixedClock(),
	}
	h.staff = h.provider.AddAccount("ana@example.com", "secreto1", cercasp.RoleStaff)
	h.provider.AddAccount("founder@example.com", "secreto2", cercasp.RoleFounder)

	g, err := session.NewGuard(h.provider, h.audit, h.notifier, h.clock, cercasp.NewNopLogger(), nil, opts)
	require.NoError(t, err)
	h.guard = g
	return h
}

var office = session.ClientInfo{IP: "10.1.2.3", UserAgent: "test-agent"}

func TestSignIn_StartsSession(t *testing.T) {
	h := newHarness(t, session.Options{Timeout: 15 * time.Minute})
	assert.Equal(t, session.StateSignedOut, h.guard.State())

	id, err := h.guard.SignIn(context.Background(), "ana@example.com", "secreto1", office)
	require.NoError(t, err)
	assert.Equal(t, h.staff.ID, id.ID)
	assert.Equal(t, session.StateActive, h.guard.State())

	current, ok := h.guard.Current()
	require.True(t, ok)
	assert.Equal(t, "ana@example.com", current.Email)

	s, ok := h.guard.Session()
	require.True(t, ok)
	assert.Equal(t, h.clock.Now().Add(15*time.Minute), s.ExpiresAt)
	assert.Equal(t, h.clock.Now(), s.LastActivityAt)

	require.Len(t, h.audit.calls, 1)
	call := h.audit.calls[0]
	assert.Equal(t, cercasp.ActionLogin, call.action)
	assert.Equal(t, h.staff.ID, call.actor.ID)
	assert.Equal(t, "test-agent", call.actor.UserAgent)
	assert.Equal(t, "ana@example.com", call.details["email"])
}

func TestSignIn_ProviderErrors(t *testing.T) {
	h := newHarness(t, session.Options{})

	_, err := h.guard.SignIn(context.Background(), "ana@example.com", "mala", office)
	var authErr *cercasp.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, cercasp.AuthInvalidCredentials, authErr.Cause)
	assert.Equal(t, "Contraseña incorrecta", err.Error())

	_, err = h.guard.SignIn(context.Background(), "nadie@example.com", "x", office)
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "Usuario no encontrado", err.Error())

	assert.Equal(t, session.StateSignedOut, h.guard.State())
	assert.Empty(t, h.audit.calls)
}

func TestAuthorize(t *testing.T) {
	h := newHarness(t, session.Options{})

	assert.False(t, h.guard.Authorize(cercasp.PermissionPatientsRead), "signed out")

	_, err := h.guard.SignIn(context.Background(), "ana@example.com", "secreto1", office)
	require.NoError(t, err)

	assert.True(t, h.guard.Authorize(cercasp.PermissionPatientsRead))
	assert.True(t, h.guard.Authorize(cercasp.PermissionMedicalWrite))
	assert.False(t, h.guard.Authorize(cercasp.PermissionFinanceRead))
	assert.True(t, h.guard.HasRole(cercasp.RoleStaff))
	assert.False(t, h.guard.HasRole(cercasp.RoleFounder))

	_, err = h.guard.SignIn(context.Background(), "founder@example.com", "secreto2", office)
	require.NoError(t, err)
	assert.True(t, h.guard.Authorize(cercasp.WritePermission("psychology")), "founder holds all")

	require.NoError(t, h.guard.SignOut(context.Background()))
	assert.False(t, h.guard.Authorize(cercasp.PermissionPatientsRead))
	_, ok := h.guard.Current()
	assert.False(t, ok)
}

func TestSignOut(t *testing.T) {
	h := newHarness(t, session.Options{})
	_, err := h.guard.SignIn(context.Background(), "ana@example.com", "secreto1", office)
	require.NoError(t, err)

	require.NoError(t, h.guard.SignOut(context.Background()))
	assert.Equal(t, session.StateSignedOut, h.guard.State())
	assert.Equal(t, []string{cercasp.ActionLogin, cercasp.ActionLogout}, h.audit.actions())
	assert.Equal(t, 1, h.provider.SignOuts())

	// Signing out with no session does not log a logout.
	require.NoError(t, h.guard.SignOut(context.Background()))
	assert.Len(t, h.audit.calls, 2)
}

func TestExpiry(t *testing.T) {
	h := newHarness(t, session.Options{Timeout: 15 * time.Minute})
	h.notifier.On("Notify", cercasp.MessageSessionExpired).Once()

	_, err := h.guard.SignIn(context.Background(), "ana@example.com", "secreto1", office)
	require.NoError(t, err)

	h.clock.Advance(14 * time.Minute)
	assert.False(t, h.guard.Check(context.Background()))
	h.guard.Touch()

	h.clock.Advance(14 * time.Minute)
	assert.False(t, h.guard.Check(context.Background()), "activity pushed expiry forward")
	assert.True(t, h.guard.Authorize(cercasp.PermissionPatientsRead))

	h.clock.Advance(time.Minute)
	assert.False(t, h.guard.Authorize(cercasp.PermissionPatientsRead), "deadline reached")
	assert.True(t, h.guard.Check(context.Background()))

	assert.Equal(t, session.StateExpired, h.guard.State())
	assert.Equal(t, []string{cercasp.ActionLogin, cercasp.ActionSessionExpired, cercasp.ActionLogout}, h.audit.actions())
	assert.Equal(t, 1, h.provider.SignOuts())
	h.notifier.AssertExpectations(t)

	assert.False(t, h.guard.Check(context.Background()), "already expired")
}

func TestExpiry_VisibleBeforeCheck(t *testing.T) {
	h := newHarness(t, session.Options{Timeout: 15 * time.Minute})

	_, err := h.guard.SignIn(context.Background(), "ana@example.com", "secreto1", office)
	require.NoError(t, err)

	h.clock.Advance(15 * time.Minute)
	assert.Equal(t, session.StateExpired, h.guard.State())
	_, ok := h.guard.Session()
	assert.False(t, ok)
	_, ok = h.guard.Current()
	assert.False(t, ok)

	h.guard.Touch()
	assert.Equal(t, session.StateExpired, h.guard.State(), "touch revived an expired session")
	assert.False(t, h.guard.Authorize(cercasp.PermissionPatientsRead))
}

func TestRun_ExpiresSession(t *testing.T) {
	h := newHarness(t, session.Options{Timeout: time.Minute, CheckInterval: 5 * time.Millisecond})
	h.notifier.On("Notify", cercasp.MessageSessionExpired).Once()

	_, err := h.guard.SignIn(context.Background(), "ana@example.com", "secreto1", office)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.guard.Run(ctx) }()

	h.clock.Set(testutil.ClinicMorning.Add(2 * time.Minute))
	assert.Eventually(t, func() bool {
		return h.guard.State() == session.StateExpired
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	h.notifier.AssertExpectations(t)
}

func TestSignIn_IPAllowList(t *testing.T) {
	opts := session.Options{Production: true, AllowedIPRanges: []string{"10.0.0.0/8", "201.175.10.4"}}

	t.Run("allowed range", func(t *testing.T) {
		h := newHarness(t, opts)
		_, err := h.guard.SignIn(context.Background(), "ana@example.com", "secreto1", office)
		require.NoError(t, err)
	})

	t.Run("outside allow-list", func(t *testing.T) {
		h := newHarness(t, opts)
		_, err := h.guard.SignIn(context.Background(), "ana@example.com", "secreto1",
			session.ClientInfo{IP: "192.168.1.20"})

		var denied *cercasp.AccessDeniedError
		require.ErrorAs(t, err, &denied)
		assert.Equal(t, "192.168.1.20", denied.IP)
		assert.Equal(t, "Acceso denegado desde esta ubicación IP", err.Error())
		assert.Equal(t, session.StateSignedOut, h.guard.State())
		assert.Equal(t, 1, h.provider.SignOuts(), "provider session is revoked")
		assert.Empty(t, h.audit.calls)
	})

	t.Run("unparsable address", func(t *testing.T) {
		h := newHarness(t, opts)
		_, err := h.guard.SignIn(context.Background(), "ana@example.com", "secreto1",
			session.ClientInfo{IP: "unknown"})
		var denied *cercasp.AccessDeniedError
		assert.ErrorAs(t, err, &denied)
	})

	t.Run("not enforced outside production", func(t *testing.T) {
		h := newHarness(t, session.Options{AllowedIPRanges: opts.AllowedIPRanges})
		_, err := h.guard.SignIn(context.Background(), "ana@example.com", "secreto1",
			session.ClientInfo{IP: "192.168.1.20"})
		assert.NoError(t, err)
	})

	t.Run("empty list allows all", func(t *testing.T) {
		h := newHarness(t, session.Options{Production: true})
		_, err := h.guard.SignIn(context.Background(), "ana@example.com", "secreto1",
			session.ClientInfo{IP: "192.168.1.20"})
		assert.NoError(t, err)
	})
}

func TestNewGuard_InvalidAllowList(t *testing.T) {
	_, err := session.NewGuard(testutil.NewFakeProvider(), nil, nil, testutil.FixedClock(),
		cercasp.NewNopLogger(), nil, session.Options{AllowedIPRanges: []string{"10.0.0.0/99"}})
	assert.Error(t, err)
}

func TestSignIn_OvertakenBySignOut(t *testing.T) {
	h := newHarness(t, session.Options{})
	entered, release := h.provider.BlockSignIn()
	defer release()

	errc := make(chan error, 1)
	go func() {
		_, err := h.guard.SignIn(context.Background(), "ana@example.com", "secreto1", office)
		errc <- err
	}()

	<-entered
	assert.Equal(t, session.StateAuthenticating, h.guard.State())
	require.NoError(t, h.guard.SignOut(context.Background()))
	release()

	err := <-errc
	assert.ErrorIs(t, err, cercasp.ErrSignInCancelled)
	assert.Equal(t, session.StateSignedOut, h.guard.State())
	assert.False(t, h.guard.Authorize(cercasp.PermissionPatientsRead))
	assert.Equal(t, 2, h.provider.SignOuts(), "late provider session is signed out")
	assert.Empty(t, h.audit.calls)
}

func TestChangePassword(t *testing.T) {
	h := newHarness(t, session.Options{})

	err := h.guard.ChangePassword(context.Background(), "nueva123")
	assert.ErrorIs(t, err, cercasp.ErrNotAuthenticated)

	_, err = h.guard.SignIn(context.Background(), "ana@example.com", "secreto1", office)
	require.NoError(t, err)
	require.NoError(t, h.guard.ChangePassword(context.Background(), "nueva123"))
	assert.Equal(t, []string{cercasp.ActionLogin, cercasp.ActionPasswordChanged}, h.audit.actions())

	require.NoError(t, h.guard.SignOut(context.Background()))
	_, err = h.guard.SignIn(context.Background(), "ana@example.com", "nueva123", office)
	assert.NoError(t, err)
}

func TestResetPassword(t *testing.T) {
	h := newHarness(t, session.Options{})

	require.NoError(t, h.guard.ResetPassword(context.Background(), "ana@example.com"))
	assert.Equal(t, []string{"ana@example.com"}, h.provider.Resets())

	err := h.guard.ResetPassword(context.Background(), "nadie@example.com")
	var authErr *cercasp.AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, cercasp.AuthUnknownAccount, authErr.Cause)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "active", session.StateActive.String())
	assert.Equal(t, "expired", session.StateExpired.String())
}
