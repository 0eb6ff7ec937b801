package ratelimit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/keithlinneman/stancemap/internal/httpmw"
)

const (
	DefaultCleanupInterval = 5 * time.Minute
	DefaultMaxKeys         = 100_000
)

// record is one fixed window for one key
type record struct {
	count   int
	resetAt time.Time
	// logged tracks whether OnFirstDenied already fired for this window
	logged bool
}

// Rule is a limit applied to one action
type Rule struct {
	// Action names the rule in metrics and logs
	Action      string
	MaxRequests int
	Window      time.Duration
	// KeyFunc derives the counter key from the request and the authenticated
	// user id ("" for anonymous). nil uses DefaultKey.
	KeyFunc func(r *http.Request, userID string) string
}

// Result is the outcome of one Check
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
	Limit     int
}

// Limiter holds fixed-window counters with background eviction
type Limiter struct {
	mu      sync.Mutex
	records map[string]*record

	now             func() time.Time
	cleanupInterval time.Duration

	// maxKeys caps live records so unique keys cannot grow the map without bound
	maxKeys    int
	atCapacity bool

	// userID resolves the authenticated user for CheckRequest and Middleware
	userID func(ctx context.Context) string

	// OnDenied is called on every denied request, used for incrementing prometheus counters
	OnDenied func(action, key string)

	// OnFirstDenied is called once per key per window, used for logging
	OnFirstDenied func(action, key string)

	// OnCapacity is called once each time the limiter fills up
	OnCapacity func()
}

type Option func(*Limiter)

// WithClock replaces time.Now, used by tests
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// WithCleanupInterval sets how often expired windows are swept. zero or negative disables the sweep.
func WithCleanupInterval(d time.Duration) Option {
	return func(l *Limiter) {
		l.cleanupInterval = d
	}
}

// WithMaxKeys caps the number of live records. zero or negative removes the cap.
func WithMaxKeys(n int) Option {
	return func(l *Limiter) {
		l.maxKeys = n
	}
}

// WithUserID sets how the authenticated user id is read from the request context
func WithUserID(fn func(ctx context.Context) string) Option {
	return func(l *Limiter) {
		l.userID = fn
	}
}

// WithOnDenied sets a callback for every denied request
func WithOnDenied(fn func(action, key string)) Option {
	return func(l *Limiter) {
		l.OnDenied = fn
	}
}

// WithOnFirstDenied sets a callback for the first denial per key per window.
// Separate from OnDenied so we log once but count every denial.
func WithOnFirstDenied(fn func(action, key string)) Option {
	return func(l *Limiter) {
		l.OnFirstDenied = fn
	}
}

// WithOnCapacity sets a callback for when the limiter is full and starts rejecting new keys
func WithOnCapacity(fn func()) Option {
	return func(l *Limiter) {
		l.OnCapacity = fn
	}
}

// New creates a Limiter and starts the background cleanup goroutine, which stops when ctx is cancelled
func New(ctx context.Context, opts ...Option) *Limiter {
	l := &Limiter{
		records:         make(map[string]*record),
		now:             time.Now,
		cleanupInterval: DefaultCleanupInterval,
		maxKeys:         DefaultMaxKeys,
		userID:          httpmw.UserIDFromContext,
	}
	for _, o := range opts {
		o(l)
	}
	if l.cleanupInterval > 0 {
		go l.cleanup(ctx)
	}
	return l
}

// Check counts one request against key under rule. Denied requests are not counted.
func (l *Limiter) Check(key string, rule Rule) Result {
	l.mu.Lock()
	now := l.now()

	rec, ok := l.records[key]
	if ok && now.After(rec.resetAt) {
		// window rolled over
		delete(l.records, key)
		ok = false
	}

	if !ok {
		if rule.MaxRequests <= 0 {
			l.mu.Unlock()
			l.denied(rule.Action, key, false)
			return Result{ResetAt: now.Add(rule.Window), Limit: rule.MaxRequests}
		}
		if l.full(now) {
			fire := !l.atCapacity
			l.atCapacity = true
			l.mu.Unlock()
			if fire && l.OnCapacity != nil {
				l.OnCapacity()
			}
			l.denied(rule.Action, key, false)
			return Result{ResetAt: now.Add(rule.Window), Limit: rule.MaxRequests}
		}
		l.atCapacity = false
		rec = &record{count: 1, resetAt: now.Add(rule.Window)}
		l.records[key] = rec
		l.mu.Unlock()
		return Result{
			Allowed:   true,
			Remaining: rule.MaxRequests - 1,
			ResetAt:   rec.resetAt,
			Limit:     rule.MaxRequests,
		}
	}

	if rec.count >= rule.MaxRequests {
		first := !rec.logged
		rec.logged = true
		resetAt := rec.resetAt
		// release lock before calling hooks, they may do slow work
		l.mu.Unlock()
		l.denied(rule.Action, key, first)
		return Result{ResetAt: resetAt, Limit: rule.MaxRequests}
	}

	rec.count++
	res := Result{
		Allowed:   true,
		Remaining: rule.MaxRequests - rec.count,
		ResetAt:   rec.resetAt,
		Limit:     rule.MaxRequests,
	}
	l.mu.Unlock()
	return res
}

// full reports whether a new record would exceed maxKeys, evicting expired
// windows first. Caller holds l.mu.
func (l *Limiter) full(now time.Time) bool {
	if l.maxKeys <= 0 || len(l.records) < l.maxKeys {
		return false
	}
	l.evictExpired(now)
	return len(l.records) >= l.maxKeys
}

func (l *Limiter) evictExpired(now time.Time) int {
	n := 0
	for k, rec := range l.records {
		if now.After(rec.resetAt) {
			delete(l.records, k)
			n++
		}
	}
	return n
}

func (l *Limiter) denied(action, key string, first bool) {
	if first && l.OnFirstDenied != nil {
		l.OnFirstDenied(action, key)
	}
	if l.OnDenied != nil {
		l.OnDenied(action, key)
	}
}

// Cleanup removes records whose window has passed and returns how many were removed
func (l *Limiter) Cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := l.evictExpired(l.now())
	if len(l.records) < l.maxKeys {
		l.atCapacity = false
	}
	return n
}

// Len is the number of live records
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

func (l *Limiter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Cleanup()
		}
	}
}
