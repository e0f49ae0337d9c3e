package testutil

import (
	"context"
	"fmt"
	"sync"

	"cercasp-go/internal/cercasp"
)

type fakeAccount struct {
	password string
	identity cercasp.Identity
}

// FakeProvider is an in-memory IdentityProvider. SignIn can be paused with
// BlockSignIn to exercise sign-outs that overtake a sign-in.
type FakeProvider struct {
	mu        sync.Mutex
	accounts  map[string]*fakeAccount
	current   *cercasp.Identity
	listeners map[int]cercasp.AuthStateFunc
	nextID    int
	gate      chan struct{}
	entered   chan struct{}
	signOuts  int
	resets    []string
}

var _ cercasp.IdentityProvider = (*FakeProvider)(nil)

func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		accounts:  make(map[string]*fakeAccount),
		listeners: make(map[int]cercasp.AuthStateFunc),
	}
}

// AddAccount registers an account and returns its identity.
func (p *FakeProvider) AddAccount(email, password string, role cercasp.Role) cercasp.Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := cercasp.Identity{
		ID:          fmt.Sprintf("uid-%d", len(p.accounts)+1),
		Email:       email,
		DisplayName: email,
		Role:        role,
		Token:       "token-" + email,
	}
	p.accounts[email] = &fakeAccount{password: password, identity: id}
	return id
}

// BlockSignIn makes subsequent SignIn calls wait until release is called.
// entered receives one value each time a SignIn reaches the gate.
func (p *FakeProvider) BlockSignIn() (entered <-chan struct{}, release func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gate = make(chan struct{})
	p.entered = make(chan struct{}, 8)
	gate := p.gate
	var once sync.Once
	return p.entered, func() { once.Do(func() { close(gate) }) }
}

// SignOuts returns how many times SignOut was called.
func (p *FakeProvider) SignOuts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signOuts
}

// Resets returns the emails password resets were requested for.
func (p *FakeProvider) Resets() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.resets...)
}

func (p *FakeProvider) SignIn(ctx context.Context, email, password string) (cercasp.Identity, error) {
	p.mu.Lock()
	gate, entered := p.gate, p.entered
	p.mu.Unlock()

	if gate != nil {
		entered <- struct{}{}
		select {
		case <-gate:
		case <-ctx.Done():
			return cercasp.Identity{}, cercasp.NewAuthError(cercasp.AuthNetwork, ctx.Err())
		}
	}

	p.mu.Lock()
	acct, ok := p.accounts[email]
	if !ok {
		p.mu.Unlock()
		return cercasp.Identity{}, cercasp.NewAuthError(cercasp.AuthUnknownAccount, nil)
	}
	if acct.password != password {
		p.mu.Unlock()
		return cercasp.Identity{}, cercasp.NewAuthError(cercasp.AuthInvalidCredentials, nil)
	}
	id := acct.identity
	p.current = &id
	listeners := p.snapshotListeners()
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(&id)
	}
	return id, nil
}

func (p *FakeProvider) SignOut(context.Context) error {
	p.mu.Lock()
	p.signOuts++
	p.current = nil
	listeners := p.snapshotListeners()
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(nil)
	}
	return nil
}

func (p *FakeProvider) OnAuthStateChange(fn cercasp.AuthStateFunc) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	key := p.nextID
	p.listeners[key] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, key)
	}
}

func (p *FakeProvider) SendPasswordReset(_ context.Context, email string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.accounts[email]; !ok {
		return cercasp.NewAuthError(cercasp.AuthUnknownAccount, nil)
	}
	p.resets = append(p.resets, email)
	return nil
}

func (p *FakeProvider) UpdatePassword(_ context.Context, newPassword string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return cercasp.ErrNotAuthenticated
	}
	p.accounts[p.current.Email].password = newPassword
	return nil
}

func (p *FakeProvider) snapshotListeners() []cercasp.AuthStateFunc {
	out := make([]cercasp.AuthStateFunc, 0, len(p.listeners))
	for _, fn := range p.listeners {
		out = append(out, fn)
	}
	return out
}
