package resilience

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrCircuitOpen is returned without calling the host while its breaker is open.
var ErrCircuitOpen = eris.New("resilience: circuit open")

// State is a breaker state.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker opens after Threshold consecutive failures and lets one trial
// through once Cooldown has passed. A failed trial reopens it.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
}

// NewBreaker creates a closed breaker. Non-positive values fall back to
// five failures and a 30s cooldown.
func NewBreaker(name string, threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{name: name, threshold: threshold, cooldown: cooldown, now: time.Now}
}

// Allow returns ErrCircuitOpen while the breaker is open and the cooldown
// has not elapsed.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open {
		if b.now().Sub(b.openedAt) < b.cooldown {
			return eris.Wrapf(ErrCircuitOpen, "host %s", b.name)
		}
		b.setState(HalfOpen)
	}
	return nil
}

// Record counts a call outcome. Only transient errors count as failures.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !IsTransient(err) {
		b.failures = 0
		if b.state == HalfOpen {
			b.setState(Closed)
		}
		return
	}
	b.failures++
	if b.state == HalfOpen || b.failures >= b.threshold {
		b.openedAt = b.now()
		b.setState(Open)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) setState(to State) {
	if b.state == to {
		return
	}
	zap.L().Info("resilience: breaker state change",
		zap.String("host", b.name),
		zap.Stringer("from", b.state),
		zap.Stringer("to", to),
	)
	b.state = to
}

// Breakers hands out one Breaker per host.
type Breakers struct {
	threshold int
	cooldown  time.Duration

	mu    sync.Mutex
	hosts map[string]*Breaker
}

// NewBreakers creates an empty per-host registry.
func NewBreakers(threshold int, cooldown time.Duration) *Breakers {
	return &Breakers{threshold: threshold, cooldown: cooldown, hosts: make(map[string]*Breaker)}
}

// For returns the breaker for host, creating it on first use.
func (bs *Breakers) For(host string) *Breaker {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	b, ok := bs.hosts[host]
	if !ok {
		b = NewBreaker(host, bs.threshold, bs.cooldown)
		bs.hosts[host] = b
	}
	return b
}
