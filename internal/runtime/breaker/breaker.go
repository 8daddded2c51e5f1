// Package breaker tracks the health of outbound dependencies with one
// consecutive-failure circuit breaker per key.
//
// A key opens once Threshold consecutive failures have been reported through
// Update. While open, Allow rejects calls until Cooldown has passed since the
// last failure; after that a single probe call is admitted and its reported
// outcome closes the circuit or restarts the cooldown.
//
//	b := breaker.New(breaker.Config{})
//	if err := b.Allow("broker"); err != nil {
//		return err
//	}
//	err := send()
//	b.Update("broker", err == nil)
package breaker

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Defaults applied by New.
const (
	DefaultThreshold = 5
	DefaultCooldown  = 30 * time.Second
)

// ErrOpen is matched by every error Allow returns.
var ErrOpen = errors.New("breaker: circuit open")

// OpenError reports a rejected call.
type OpenError struct {
	Key string
	// RetryAfter is the time left until a probe will be admitted. Zero when
	// a probe is already in flight.
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("breaker: circuit %q open, retry after %s", e.Key, e.RetryAfter)
	}
	return fmt.Sprintf("breaker: circuit %q open", e.Key)
}

func (e *OpenError) Is(target error) bool {
	return target == ErrOpen
}

// Clock abstracts time for testing.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Config holds breaker settings. Zero values select the defaults.
type Config struct {
	Threshold int
	Cooldown  time.Duration
	Clock     Clock

	// OnStateChange is called after a key opens or closes, outside any lock.
	OnStateChange func(key string, open bool)
}

// Snapshot is the observable state of one key.
type Snapshot struct {
	Key             string
	FailureCount    int
	IsOpen          bool
	LastFailureTime time.Time
}

type entry struct {
	mu      sync.Mutex
	state   atomic.Pointer[Snapshot]
	probeAt atomic.Int64
}

// Breaker is safe for concurrent use. Updates are serialised per key and
// reads never block.
type Breaker struct {
	threshold     int
	cooldown      time.Duration
	clock         Clock
	onStateChange func(key string, open bool)

	mu      sync.Mutex
	entries atomic.Pointer[map[string]*entry]
}

// New returns a breaker with every key closed.
func New(cfg Config) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.Clock == nil {
		cfg.Clock = realClock{}
	}

	b := &Breaker{
		threshold:     cfg.Threshold,
		cooldown:      cfg.Cooldown,
		clock:         cfg.Clock,
		onStateChange: cfg.OnStateChange,
	}
	empty := map[string]*entry{}
	b.entries.Store(&empty)
	return b
}

// Threshold returns the consecutive failure count that opens a key.
func (b *Breaker) Threshold() int { return b.threshold }

// Cooldown returns how long an open key rejects calls.
func (b *Breaker) Cooldown() time.Duration { return b.cooldown }

// Register starts monitoring key so it takes part in AllClosed and Keys
// before the first call.
func (b *Breaker) Register(key string) {
	b.entry(key)
}

// Allow reports whether a call guarded by key may proceed.
func (b *Breaker) Allow(key string) error {
	e := b.entry(key)
	s := e.state.Load()
	if !s.IsOpen {
		return nil
	}

	now := b.clock.Now()
	elapsed := now.Sub(s.LastFailureTime)
	if elapsed < b.cooldown {
		return &OpenError{Key: key, RetryAfter: b.cooldown - elapsed}
	}

	// One probe at a time. A probe whose outcome never arrives is replaced
	// after another cooldown.
	started := e.probeAt.Load()
	if started != 0 && now.Sub(time.Unix(0, started)) < b.cooldown {
		return &OpenError{Key: key}
	}
	if !e.probeAt.CompareAndSwap(started, now.UnixNano()) {
		return &OpenError{Key: key}
	}
	return nil
}

// Update records the outcome of a call guarded by key.
func (b *Breaker) Update(key string, success bool) {
	e := b.entry(key)

	e.mu.Lock()
	prev := e.state.Load()
	next := *prev
	if success {
		next.FailureCount = 0
		next.IsOpen = false
	} else {
		next.FailureCount++
		next.LastFailureTime = b.clock.Now()
		next.IsOpen = next.FailureCount >= b.threshold
	}
	e.state.Store(&next)
	e.probeAt.Store(0)
	e.mu.Unlock()

	if prev.IsOpen != next.IsOpen && b.onStateChange != nil {
		b.onStateChange(key, next.IsOpen)
	}
}

// IsOpen reports whether key is currently open.
func (b *Breaker) IsOpen(key string) bool {
	e, ok := (*b.entries.Load())[key]
	if !ok {
		return false
	}
	return e.state.Load().IsOpen
}

// State returns the snapshot for key. Unknown keys are closed.
func (b *Breaker) State(key string) Snapshot {
	e, ok := (*b.entries.Load())[key]
	if !ok {
		return Snapshot{Key: key}
	}
	return *e.state.Load()
}

// Keys returns the monitored keys in sorted order.
func (b *Breaker) Keys() []string {
	entries := *b.entries.Load()
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

// AllClosed reports whether no monitored key is open.
func (b *Breaker) AllClosed() bool {
	for _, e := range *b.entries.Load() {
		if e.state.Load().IsOpen {
			return false
		}
	}
	return true
}

func (b *Breaker) entry(key string) *entry {
	if e, ok := (*b.entries.Load())[key]; ok {
		return e
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	current := *b.entries.Load()
	if e, ok := current[key]; ok {
		return e
	}
	next := make(map[string]*entry, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	e := &entry{}
	e.state.Store(&Snapshot{Key: key})
	next[key] = e
	b.entries.Store(&next)
	return e
}
