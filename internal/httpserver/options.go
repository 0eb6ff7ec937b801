package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/stancemap/internal/health"
	"github.com/keithlinneman/stancemap/internal/httpmw"
	"github.com/keithlinneman/stancemap/internal/log"
)

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func()
	MetricsMW    func(http.Handler) http.Handler
	Health       health.Probe
	Readiness    health.Probe

	// APIRoutes mounts the JSON API on the root router
	APIRoutes func(chi.Router)

	// IdentityMW resolves the session user into the request context, see httpmw.WithUserID
	IdentityMW func(http.Handler) http.Handler

	// RateLimitMW is the coarse per-client limit applied to the APIRoutes only
	RateLimitMW  func(http.Handler) http.Handler
	ClientIPOpts httpmw.ClientIPOptions

	// MaxBodyBytes caps request bodies, DefaultMaxBodyBytes when zero
	MaxBodyBytes int64

	// WriteTimeout overrides DefaultWriteTimeout, the summarize job waits on the model
	WriteTimeout time.Duration
}
