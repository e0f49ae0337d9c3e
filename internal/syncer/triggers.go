package syncer

import (
	"context"
	"sync"
	"time"

	"cercasp-go/internal/cercasp"
)

const pingTimeout = 10 * time.Second

// Pinger reports whether the remote store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ManualTrigger fires when Fire is called.
type ManualTrigger struct {
	c chan struct{}
}

var _ cercasp.BackgroundTrigger = (*ManualTrigger)(nil)

func NewManualTrigger() *ManualTrigger {
	return &ManualTrigger{c: make(chan struct{}, 1)}
}

// Fire requests a pass. It never blocks; repeated calls before the pass
// starts collapse into one.
func (t *ManualTrigger) Fire() { signal(t.c) }

func (t *ManualTrigger) C() <-chan struct{} { return t.c }
func (t *ManualTrigger) Stop()              {}

// TickerTrigger fires every interval.
type TickerTrigger struct {
	ticker *time.Ticker
	c      chan struct{}
	stop   chan struct{}
	once   sync.Once
}

var _ cercasp.BackgroundTrigger = (*TickerTrigger)(nil)

func NewTickerTrigger(interval time.Duration) *TickerTrigger {
	t := &TickerTrigger{
		ticker: time.NewTicker(interval),
		c:      make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
	go t.loop()
	return t
}

func (t *TickerTrigger) loop() {
	for {
		select {
		case <-t.stop:
			return
		case <-t.ticker.C:
			signal(t.c)
		}
	}
}

func (t *TickerTrigger) C() <-chan struct{} { return t.c }

func (t *TickerTrigger) Stop() {
	t.once.Do(func() {
		t.ticker.Stop()
		close(t.stop)
	})
}

// ConnectivityTrigger polls a Pinger and fires when the store comes back
// online. It starts out offline, so the first successful probe fires too.
// It also implements cercasp.Connectivity.
type ConnectivityTrigger struct {
	pinger Pinger
	logger cercasp.Logger
	ticker *time.Ticker
	c      chan struct{}
	stop   chan struct{}
	once   sync.Once

	mu     sync.Mutex
	online bool
}

var (
	_ cercasp.BackgroundTrigger = (*ConnectivityTrigger)(nil)
	_ cercasp.Connectivity      = (*ConnectivityTrigger)(nil)
)

func NewConnectivityTrigger(pinger Pinger, interval time.Duration, logger cercasp.Logger) *ConnectivityTrigger {
	t := &ConnectivityTrigger{
		pinger: pinger,
		logger: logger,
		ticker: time.NewTicker(interval),
		c:      make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
	go t.loop()
	return t
}

func (t *ConnectivityTrigger) loop() {
	for {
		select {
		case <-t.stop:
			return
		case <-t.ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
			t.Probe(ctx)
			cancel()
		}
	}
}

// Probe pings once, updates the online state and fires on an offline to
// online transition. It returns the new state.
func (t *ConnectivityTrigger) Probe(ctx context.Context) bool {
	err := t.pinger.Ping(ctx)
	up := err == nil

	t.mu.Lock()
	was := t.online
	t.online = up
	t.mu.Unlock()

	switch {
	case up && !was:
		t.logger.Info("remote store reachable")
		signal(t.c)
	case !up && was:
		t.logger.Warn("remote store unreachable", "error", err)
	}
	return up
}

// Online reports the result of the last probe.
func (t *ConnectivityTrigger) Online() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.online
}

func (t *ConnectivityTrigger) C() <-chan struct{} { return t.c }

func (t *ConnectivityTrigger) Stop() {
	t.once.Do(func() {
		t.ticker.Stop()
		close(t.stop)
	})
}
