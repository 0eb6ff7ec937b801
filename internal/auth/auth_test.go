package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("test-secret")

func sign(t *testing.T, secret []byte, claims jwt.RegisteredClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func validClaims() jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Subject:   "user-1",
		Issuer:    "stancemap-web",
		Audience:  jwt.ClaimStrings{"stancemap"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
}

func newTestVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(Options{Secret: testSecret, Issuer: "stancemap-web", Audience: "stancemap"})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	return v
}

func TestNewVerifier_RequiresSecret(t *testing.T) {
	if _, err := NewVerifier(Options{}); err == nil {
		t.Fatal("empty secret should fail")
	}
}

func TestVerify(t *testing.T) {
	v := newTestVerifier(t)

	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	wrongIss := validClaims()
	wrongIss.Issuer = "someone-else"
	wrongAud := validClaims()
	wrongAud.Audience = jwt.ClaimStrings{"other"}
	noSub := validClaims()
	noSub.Subject = ""
	noExp := validClaims()
	noExp.ExpiresAt = nil

	tests := []struct {
		name  string
		token string
		ok    bool
	}{
		{"valid", sign(t, testSecret, validClaims()), true},
		{"wrong secret", sign(t, []byte("nope"), validClaims()), false},
		{"expired", sign(t, testSecret, expired), false},
		{"wrong issuer", sign(t, testSecret, wrongIss), false},
		{"wrong audience", sign(t, testSecret, wrongAud), false},
		{"no subject", sign(t, testSecret, noSub), false},
		{"no expiry", sign(t, testSecret, noExp), false},
		{"garbage", "not.a.jwt", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub, err := v.Verify(tt.token)
			if tt.ok && (err != nil || sub != "user-1") {
				t.Fatalf("Verify = %q, %v", sub, err)
			}
			if !tt.ok && err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestVerify_RejectsOtherAlgorithms(t *testing.T) {
	v := newTestVerifier(t)
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS512, validClaims()).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := v.Verify(tok); err == nil {
		t.Fatal("HS512 token should be rejected")
	}
}

func identify(v *Verifier, r *http.Request) string {
	var got string
	h := v.Identify(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = UserIDFromContext(r.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), r)
	return got
}

func TestIdentify(t *testing.T) {
	v := newTestVerifier(t)
	tok := sign(t, testSecret, validClaims())

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+tok)
	if got := identify(v, r); got != "user-1" {
		t.Errorf("bearer: user = %q", got)
	}

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: tok})
	if got := identify(v, r); got != "user-1" {
		t.Errorf("cookie: user = %q", got)
	}

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer junk")
	if got := identify(v, r); got != "" {
		t.Errorf("invalid token should be anonymous, got %q", got)
	}

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	if got := identify(v, r); got != "" {
		t.Errorf("no token should be anonymous, got %q", got)
	}
}
