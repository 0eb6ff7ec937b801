package ratelimit

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/keithlinneman/stancemap/internal/httpmw"
)

const rejectMessage = "Too many requests. Please try again later."

// DefaultKey is rate_limit:<userID|anonymous>:<ip>
func DefaultKey(r *http.Request, userID string) string {
	if userID == "" {
		userID = "anonymous"
	}
	return "rate_limit:" + userID + ":" + clientIP(r)
}

// ActionKey keys by action and user id, falling back to the client ip for
// anonymous requests: <action>:<userID> or <action>:ip:<ip>
func ActionKey(action string) func(r *http.Request, userID string) string {
	return func(r *http.Request, userID string) string {
		if userID != "" {
			return action + ":" + userID
		}
		return action + ":ip:" + clientIP(r)
	}
}

// IPKey keys by action and client ip regardless of identity
func IPKey(action string) func(r *http.Request, userID string) string {
	return func(r *http.Request, _ string) string {
		return action + ":ip:" + clientIP(r)
	}
}

// clientIP uses the httpmw resolver, which applies the trusted proxy hop policy
func clientIP(r *http.Request) string {
	if ip := httpmw.ClientIPFromContext(r.Context()); ip != "" {
		return ip
	}
	return "unknown"
}

// CheckRequest derives the key for r with rule.KeyFunc (or DefaultKey) and counts it
func (l *Limiter) CheckRequest(r *http.Request, userID string, rule Rule) Result {
	keyFn := rule.KeyFunc
	if keyFn == nil {
		keyFn = DefaultKey
	}
	return l.Check(keyFn(r, userID), rule)
}

// Middleware returns middleware that answers 429 once rule is exhausted for the request's key
func (l *Limiter) Middleware(rule Rule) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := l.CheckRequest(r, l.userID(r.Context()), rule)
			if !res.Allowed {
				Reject(w, res)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Reject writes the 429 response for a denied Result
func Reject(w http.ResponseWriter, res Result) {
	RejectAt(w, res, time.Now())
}

// RejectAt is Reject with an explicit current time
func RejectAt(w http.ResponseWriter, res Result, now time.Time) {
	secs := int(math.Ceil(res.ResetAt.Sub(now).Seconds()))
	if secs < 1 {
		secs = 1
	}
	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("Retry-After", strconv.Itoa(secs))
	h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	h.Set("X-RateLimit-Remaining", "0")
	h.Set("X-RateLimit-Reset", res.ResetAt.UTC().Format(time.RFC3339))
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": rejectMessage})
}
