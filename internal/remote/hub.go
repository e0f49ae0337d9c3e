package remote

import (
	"context"
	"sync"

	"cercasp-go/internal/cercasp"
)

// hub fans changes out to in-process subscribers. Callbacks run on the
// writer's goroutine after the write is stored.
type hub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]subscription
}

type subscription struct {
	collection string
	id         string
	fn         cercasp.ChangeFunc
}

var _ changeFeed = (*hub)(nil)

func newHub() *hub {
	return &hub{subs: make(map[int]subscription)}
}

func (h *hub) publish(_ context.Context, c cercasp.Change) error {
	h.mu.RLock()
	var targets []cercasp.ChangeFunc
	for _, s := range h.subs {
		if s.collection == c.Collection && (s.id == "" || s.id == c.ID) {
			targets = append(targets, s.fn)
		}
	}
	h.mu.RUnlock()

	for _, fn := range targets {
		fn(c)
	}
	return nil
}

func (h *hub) subscribe(ctx context.Context, collection, id string, fn cercasp.ChangeFunc) (cercasp.Unsubscribe, error) {
	h.mu.Lock()
	h.nextID++
	key := h.nextID
	h.subs[key] = subscription{collection: collection, id: id, fn: fn}
	h.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, key)
			h.mu.Unlock()
		})
	}
	stop := context.AfterFunc(ctx, unsub)
	return func() {
		stop()
		unsub()
	}, nil
}
