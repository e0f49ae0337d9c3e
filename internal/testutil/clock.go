package testutil

import (
	"strconv"
	"sync"
	"time"

	"cercasp-go/internal/cercasp"
)

var (
	_ cercasp.Clock       = (*StubClock)(nil)
	_ cercasp.IDGenerator = (*StubIDGenerator)(nil)
)

// ClinicMorning is the instant FixedClock starts at.
var ClinicMorning = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

// StubClock is a manually driven cercasp.Clock. Guards, queues and stores
// under test share one so session expiry and timestamps line up.
type StubClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t}
}

// FixedClock returns a StubClock set to ClinicMorning.
func FixedClock() *StubClock {
	return NewStubClock(ClinicMorning)
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	t := c.now
	c.mu.Unlock()
	return t
}

// Advance moves the clock forward by d, e.g. past a session timeout.
func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Set jumps the clock to t.
func (c *StubClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// StubIDGenerator hands out document ids "<prefix>-1", "<prefix>-2", ...
type StubIDGenerator struct {
	prefix string

	mu   sync.Mutex
	next int
}

// NewStubIDGenerator numbers ids as "id-N".
func NewStubIDGenerator() *StubIDGenerator {
	return NewPrefixedIDGenerator("id")
}

func NewPrefixedIDGenerator(prefix string) *StubIDGenerator {
	return &StubIDGenerator{prefix: prefix}
}

func (g *StubIDGenerator) New() string {
	g.mu.Lock()
	g.next++
	n := g.next
	g.mu.Unlock()
	return g.prefix + "-" + strconv.Itoa(n)
}

// Issued reports how many ids have been handed out.
func (g *StubIDGenerator) Issued() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.next
}
