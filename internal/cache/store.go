package cache

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultCleanupInterval is how often the background sweep removes expired entries
const DefaultCleanupInterval = 10 * time.Minute

// DefaultLoadTimeout bounds a shared Load, which outlives the caller that started it
const DefaultLoadTimeout = 15 * time.Second

// eviction reasons passed to OnEvict
const (
	ReasonExpired     = "expired"
	ReasonDeleted     = "deleted"
	ReasonInvalidated = "invalidated"
	ReasonCleared     = "cleared"
)

type entry struct {
	value     any
	expiresAt time.Time
}

// Store is a TTL key/value store. The zero value is not usable, use New.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry
	// epoch counts removals. Load only stores its result if no removal happened while it ran.
	epoch uint64

	// loads coalesces concurrent misses for the same key, see Load
	loads singleflight.Group

	now             func() time.Time
	cleanupInterval time.Duration
	loadTimeout     time.Duration

	// OnHit and OnMiss are called with the key after every Get, outside the lock
	OnHit  func(key string)
	OnMiss func(key string)

	// OnEvict is called with a reason and the number of entries removed
	OnEvict func(reason string, n int)
}

type Option func(*Store)

// WithClock replaces time.Now, used by tests to step time deterministically
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithCleanupInterval sets the sweep period. zero or negative disables the background sweep.
func WithCleanupInterval(d time.Duration) Option {
	return func(s *Store) {
		s.cleanupInterval = d
	}
}

// WithLoadTimeout bounds each shared Load. zero or negative means no bound.
func WithLoadTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.loadTimeout = d
	}
}

// WithOnHit sets a callback for cache hits, used for prometheus counters
func WithOnHit(fn func(key string)) Option {
	return func(s *Store) {
		s.OnHit = fn
	}
}

// WithOnMiss sets a callback for cache misses, including reads that found a stale entry
func WithOnMiss(fn func(key string)) Option {
	return func(s *Store) {
		s.OnMiss = fn
	}
}

// WithOnEvict sets a callback for removals
func WithOnEvict(fn func(reason string, n int)) Option {
	return func(s *Store) {
		s.OnEvict = fn
	}
}

// New creates a Store and starts the cleanup goroutine, which stops when ctx is cancelled
func New(ctx context.Context, opts ...Option) *Store {
	s := &Store{
		entries:         make(map[string]entry),
		now:             time.Now,
		cleanupInterval: DefaultCleanupInterval,
		loadTimeout:     DefaultLoadTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	if s.cleanupInterval > 0 {
		go s.cleanup(ctx)
	}
	return s
}

// Set stores value under key until now+ttl, replacing any existing entry.
// A ttl <= 0 stores nothing and removes the existing entry.
func (s *Store) Set(key string, value any, ttl time.Duration) {
	s.mu.Lock()
	if ttl <= 0 {
		_, existed := s.entries[key]
		delete(s.entries, key)
		s.epoch++
		s.mu.Unlock()
		if existed {
			s.evicted(ReasonDeleted, 1)
		}
		return
	}
	s.entries[key] = entry{value: value, expiresAt: s.now().Add(ttl)}
	s.mu.Unlock()
}

// currentEpoch snapshots the removal counter before a load starts
func (s *Store) currentEpoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// setIfEpoch stores value only when nothing was removed since epoch was taken.
// It reports whether the value was stored.
func (s *Store) setIfEpoch(key string, value any, ttl time.Duration, epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch || ttl <= 0 {
		return false
	}
	s.entries[key] = entry{value: value, expiresAt: s.now().Add(ttl)}
	return true
}

// Get returns the value for key if present and not expired. A stale entry is
// deleted as a side effect of the read.
func (s *Store) Get(key string) (any, bool) {
	s.mu.Lock()
	e, ok := s.entries[key]
	stale := ok && s.now().After(e.expiresAt)
	if stale {
		delete(s.entries, key)
	}
	s.mu.Unlock()

	if stale {
		s.evicted(ReasonExpired, 1)
	}
	if !ok || stale {
		if s.OnMiss != nil {
			s.OnMiss(key)
		}
		return nil, false
	}
	if s.OnHit != nil {
		s.OnHit(key)
	}
	return e.value, true
}

// Delete removes key. Missing keys are a no-op.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	_, ok := s.entries[key]
	delete(s.entries, key)
	s.epoch++
	s.mu.Unlock()
	if ok {
		s.evicted(ReasonDeleted, 1)
	}
}

// InvalidateFunc deletes every key for which match returns true and reports how many were removed.
// match runs under the store lock and must not call back into the Store.
func (s *Store) InvalidateFunc(match func(key string) bool) int {
	s.mu.Lock()
	n := 0
	for k := range s.entries {
		if match(k) {
			delete(s.entries, k)
			n++
		}
	}
	s.epoch++
	s.mu.Unlock()
	s.evicted(ReasonInvalidated, n)
	return n
}

// InvalidatePrefix deletes every key starting with prefix. Pair with Scope to drop all
// variants of one namespace and scope.
func (s *Store) InvalidatePrefix(prefix string) int {
	return s.InvalidateFunc(func(k string) bool { return strings.HasPrefix(k, prefix) })
}

// InvalidatePattern deletes every key re matches anywhere in the key, the same
// semantics as regexp.MatchString. Anchor the expression for whole-key matches.
func (s *Store) InvalidatePattern(re *regexp.Regexp) int {
	if re == nil {
		return 0
	}
	return s.InvalidateFunc(re.MatchString)
}

// Cleanup removes every expired entry and returns how many were removed
func (s *Store) Cleanup() int {
	s.mu.Lock()
	now := s.now()
	n := 0
	for k, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, k)
			n++
		}
	}
	s.mu.Unlock()
	s.evicted(ReasonExpired, n)
	return n
}

// Len is the number of stored entries, including expired ones not yet swept
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Clear drops every entry
func (s *Store) Clear() {
	s.mu.Lock()
	n := len(s.entries)
	s.entries = make(map[string]entry)
	s.epoch++
	s.mu.Unlock()
	s.evicted(ReasonCleared, n)
}

func (s *Store) evicted(reason string, n int) {
	if n > 0 && s.OnEvict != nil {
		s.OnEvict(reason, n)
	}
}

func (s *Store) cleanup(ctx context.Context) {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Cleanup()
		}
	}
}
