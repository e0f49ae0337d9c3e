package testutil

import (
	"context"
	"sync"

	"cercasp-go/internal/cercasp"
	"cercasp-go/internal/remote"
)

// NewTestRemote creates an in-memory remote store with sequential ids.
func NewTestRemote(clock cercasp.Clock) *remote.Store {
	return remote.NewMemoryStore(NewStubIDGenerator(), clock, cercasp.NewNopLogger())
}

// FlakyRemote wraps a RemoteStore and fails writes on demand.
type FlakyRemote struct {
	cercasp.RemoteStore

	mu      sync.Mutex
	offline bool
	failAdd func(collection string, data cercasp.Record) error
	adds    int
}

// NewFlakyRemote wraps inner.
func NewFlakyRemote(inner cercasp.RemoteStore) *FlakyRemote {
	return &FlakyRemote{RemoteStore: inner}
}

// SetOffline makes every call fail with ErrOffline until reset.
func (f *FlakyRemote) SetOffline(offline bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = offline
}

// FailAddWhen installs a hook consulted before every Add. A non-nil result
// fails that Add.
func (f *FlakyRemote) FailAddWhen(fn func(collection string, data cercasp.Record) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAdd = fn
}

// Adds returns the number of Add calls that reached the inner store.
func (f *FlakyRemote) Adds() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.adds
}

func (f *FlakyRemote) Add(ctx context.Context, collection string, data cercasp.Record, actorID string) (string, error) {
	f.mu.Lock()
	offline, hook := f.offline, f.failAdd
	f.mu.Unlock()

	if offline {
		return "", cercasp.ErrOffline
	}
	if hook != nil {
		if err := hook(collection, data); err != nil {
			return "", err
		}
	}

	id, err := f.RemoteStore.Add(ctx, collection, data, actorID)
	if err == nil {
		f.mu.Lock()
		f.adds++
		f.mu.Unlock()
	}
	return id, err
}

func (f *FlakyRemote) Ping(ctx context.Context) error {
	f.mu.Lock()
	offline := f.offline
	f.mu.Unlock()
	if offline {
		return cercasp.ErrOffline
	}
	return f.RemoteStore.Ping(ctx)
}
