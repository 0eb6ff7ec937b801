// Package httpmw provides HTTP middleware for the public-facing server.
//
// Middleware is composed in a specific order in httpserver.NewHandler:
// security headers, recovery, request ID, client IP extraction, session
// identity, API rate limiting, OTEL tracing, metrics, structured logging,
// and the chi router.
//
// Each middleware is an independent function that can be tested, reordered,
// or removed individually. User-supplied data (query params, user-agent,
// headers, vote comments) is intentionally excluded from logs to prevent PII
// leaks and log injection.
//
// The authenticated user id travels in the request context via WithUserID so
// the rate limiter and API handlers do not depend on the auth package.
package httpmw
