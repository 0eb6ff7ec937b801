package httpserver_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/keithlinneman/stancemap/internal/api"
	"github.com/keithlinneman/stancemap/internal/auth"
	"github.com/keithlinneman/stancemap/internal/cache"
	"github.com/keithlinneman/stancemap/internal/health"
	"github.com/keithlinneman/stancemap/internal/httpserver"
	"github.com/keithlinneman/stancemap/internal/log"
	"github.com/keithlinneman/stancemap/internal/ratelimit"
	"github.com/keithlinneman/stancemap/internal/store"
)

var testSecret = []byte("integration-secret")

func bearer(t *testing.T, sub string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return "Bearer " + tok
}

// newStack wires httpserver.NewHandler with the real api, session verifier,
// response cache, and limiter over an in-memory store.
func newStack(t *testing.T, apiPerMinute int) http.Handler {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	c := cache.New(ctx, cache.WithCleanupInterval(0))
	lim := ratelimit.New(ctx, ratelimit.WithCleanupInterval(0))
	a, err := api.New(api.Options{
		Logger:  log.Nop(),
		Store:   store.NewMemory(),
		Cache:   c,
		Limiter: lim,
	})
	if err != nil {
		t.Fatalf("api.New: %v", err)
	}
	v, err := auth.NewVerifier(auth.Options{Secret: testSecret})
	if err != nil {
		t.Fatalf("auth.NewVerifier: %v", err)
	}

	return httpserver.NewHandler(httpserver.Options{
		Logger:       log.Nop(),
		UseRecoverMW: true,
		Health:       health.Fixed(true, ""),
		Readiness:    health.Fixed(true, ""),
		APIRoutes:    a.RegisterRoutes,
		IdentityMW:   v.Identify,
		RateLimitMW:  lim.Middleware(ratelimit.APIRule(apiPerMinute)),
	})
}

// TestIntegration_FullStack sends requests through every middleware layer
// down to the api handlers.
func TestIntegration_FullStack(t *testing.T) {
	handler := newStack(t, 1000)

	t.Run("anonymous vote is rejected with security headers", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/rooms/default/votes", strings.NewReader(`{"stance":"support"}`))
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
		for _, hdr := range []string{
			"Strict-Transport-Security",
			"Content-Security-Policy",
			"X-Content-Type-Options",
			"X-Frame-Options",
			"Referrer-Policy",
			"Cross-Origin-Opener-Policy",
			"Cross-Origin-Resource-Policy",
			"Permissions-Policy",
			"X-Request-Id",
		} {
			if rec.Header().Get(hdr) == "" {
				t.Errorf("missing header: %s", hdr)
			}
		}
	})

	t.Run("signed vote is accepted and shows up in threads", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/rooms/default/votes",
			strings.NewReader(`{"stance":"support","comment":"  great press  "}`))
		req.Header.Set("Authorization", bearer(t, "user-1"))
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("vote status = %d, want 200, body %s", rec.Code, rec.Body.String())
		}

		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rooms/default/threads?stance=support", http.NoBody))
		if rec.Code != http.StatusOK {
			t.Fatalf("threads status = %d, want 200", rec.Code)
		}
		var body struct {
			Items []struct {
				Comment string `json:"comment"`
			} `json:"items"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode threads: %v", err)
		}
		if len(body.Items) != 1 || body.Items[0].Comment != "great press" {
			t.Fatalf("items = %+v, want one trimmed comment", body.Items)
		}
	})

	t.Run("invalid token leaves the request anonymous", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/rooms/default/votes", strings.NewReader(`{"stance":"oppose"}`))
		req.Header.Set("Authorization", "Bearer not-a-jwt")
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("unknown route answers json 404", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/does-not-exist", http.NoBody))

		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
			t.Fatalf("Content-Type = %q", ct)
		}
	})
}

func TestIntegration_APIRateLimit(t *testing.T) {
	handler := newStack(t, 3)

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/matches", http.NoBody))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/matches", http.NoBody))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("Retry-After missing on 429")
	}
	if rec.Header().Get("Strict-Transport-Security") == "" {
		t.Fatal("HSTS missing on 429 response")
	}

	// the caller is over its API budget, health checks still answer
	for _, p := range []string{"/-/healthy", "/-/ready", "/-/healthy"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, p, http.NoBody))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s = %d, want 200 after the API limit is hit", p, rec.Code)
		}
	}
}
