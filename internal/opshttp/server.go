package opshttp

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/keithlinneman/stancemap/internal/health"
	"github.com/keithlinneman/stancemap/internal/httpmw"
	"github.com/keithlinneman/stancemap/internal/httpserver"
	"github.com/keithlinneman/stancemap/internal/log"
	"github.com/keithlinneman/stancemap/internal/xerrors"
)

const (
	DefaultPort = 9000

	// pprof profile and trace stream for up to 30s by default
	writeTimeout = 40 * time.Second
)

// NewHandler serves /metrics, /-/healthy, /-/ready and optionally pprof,
// to private and loopback callers only.
func NewHandler(L log.Logger, opts Options) http.Handler {
	if L == nil {
		L = log.Nop()
	}
	mux := http.NewServeMux()

	mux.Handle("/-/healthy", health.HealthzHandler(opts.Health))
	mux.Handle("/-/ready", health.ReadyzHandler(opts.Readiness))

	if opts.Metrics != nil {
		mux.Handle("/metrics", opts.Metrics)
	}

	if opts.EnablePprof {
		RegisterPprof(mux)
	} else {
		// shadow the prefix so a stray DefaultServeMux registration cannot leak
		mux.Handle("/debug/pprof/", http.NotFoundHandler())
	}

	var recoverMW func(http.Handler) http.Handler
	if opts.UseRecoverMW {
		recoverMW = httpmw.Recover(L, opts.OnPanic)
	}
	return httpmw.Chain(mux,
		recoverMW,
		func(next http.Handler) http.Handler { return requireNonPublicNetwork(L, next) },
	)
}

// Start runs the admin listener and returns stop(ctx) for graceful shutdown.
func Start(ctx context.Context, L log.Logger, opts Options) (func(context.Context) error, error) {
	if L == nil {
		L = log.Nop()
	}
	port := opts.Port
	if port == 0 {
		port = DefaultPort
	}
	addr := fmt.Sprintf(":%d", port)

	srv := httpserver.NewServer(addr, NewHandler(L, opts))
	srv.WriteTimeout = writeTimeout

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, xerrors.Wrapf(err, "could not listen for admin port on addr=%v", addr)
	}

	go func() {
		L.Info(ctx, "ops http server listening", "addr", addr)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			L.Error(ctx, err, "ops http server error")
		}
	}()

	var once sync.Once
	stop := func(sctx context.Context) (retErr error) {
		once.Do(func() {
			L.Info(sctx, "ops http server shutting down")
			c, cancel := context.WithTimeout(sctx, 5*time.Second)
			defer cancel()
			retErr = srv.Shutdown(c)
		})
		return retErr
	}
	return stop, nil
}

// requireNonPublicNetwork rejects requests from public addresses and any request
// that came through a proxy. The security group already restricts the admin port;
// this keeps it closed if that is ever misconfigured.
func requireNonPublicNetwork(L log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		ip := net.ParseIP(host)
		switch {
		case err != nil || ip == nil:
			L.Warn(r.Context(), "ops http: rejecting request with unparseable remote addr")
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		case r.Header.Get("X-Forwarded-For") != "":
			L.Warn(r.Context(), "ops http: rejecting proxied request", "remote_ip", ip.String())
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		case !(ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast()):
			L.Warn(r.Context(), "ops http: rejecting request from public address", "remote_ip", ip.String())
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
