// Package auth resolves the caller's identity from a session JWT.
//
// Tokens are issued elsewhere (the web frontend's session layer). This
// package only verifies the HS256 signature and the optional issuer and
// audience, then exposes the subject as the user id.
package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/keithlinneman/stancemap/internal/httpmw"
	"github.com/keithlinneman/stancemap/internal/xerrors"
)

// DefaultCookieName is the session cookie read when no Authorization header is present
const DefaultCookieName = "stancemap_session"

type Options struct {
	// Secret is the shared HS256 key
	Secret []byte
	// Issuer and Audience are checked when set
	Issuer   string
	Audience string
	// CookieName overrides DefaultCookieName
	CookieName string
	// Leeway tolerates clock skew on exp/nbf/iat
	Leeway time.Duration
}

type Verifier struct {
	parser *jwt.Parser
	secret []byte
	cookie string
}

func NewVerifier(opts Options) (*Verifier, error) {
	if len(opts.Secret) == 0 {
		return nil, xerrors.New("session secret is required")
	}
	popts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(opts.Leeway),
	}
	if opts.Issuer != "" {
		popts = append(popts, jwt.WithIssuer(opts.Issuer))
	}
	if opts.Audience != "" {
		popts = append(popts, jwt.WithAudience(opts.Audience))
	}
	cookie := opts.CookieName
	if cookie == "" {
		cookie = DefaultCookieName
	}
	return &Verifier{parser: jwt.NewParser(popts...), secret: opts.Secret, cookie: cookie}, nil
}

// Verify returns the subject of a valid token
func (v *Verifier) Verify(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return "", xerrors.Wrap(err, "verify session token")
	}
	if claims.Subject == "" {
		return "", xerrors.New("session token has no subject")
	}
	return claims.Subject, nil
}

// tokenFromRequest reads a bearer token, falling back to the session cookie
func (v *Verifier) tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	if c, err := r.Cookie(v.cookie); err == nil {
		return c.Value
	}
	return ""
}

// Identify stores the verified user id in the request context. Missing or
// invalid tokens leave the request anonymous; routes that need a user answer
// 401 themselves.
func (v *Verifier) Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tok := v.tokenFromRequest(r); tok != "" {
			if sub, err := v.Verify(tok); err == nil {
				r = r.WithContext(httpmw.WithUserID(r.Context(), sub))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// UserIDFromContext returns the verified user id, or "" for anonymous requests
func UserIDFromContext(ctx context.Context) string {
	return httpmw.UserIDFromContext(ctx)
}
