package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/keithlinneman/stancemap/internal/api"
	"github.com/keithlinneman/stancemap/internal/auth"
	"github.com/keithlinneman/stancemap/internal/cache"
	"github.com/keithlinneman/stancemap/internal/cfg"
	"github.com/keithlinneman/stancemap/internal/health"
	"github.com/keithlinneman/stancemap/internal/httpmw"
	"github.com/keithlinneman/stancemap/internal/httpserver"
	"github.com/keithlinneman/stancemap/internal/log"
	"github.com/keithlinneman/stancemap/internal/metrics"
	"github.com/keithlinneman/stancemap/internal/opshttp"
	"github.com/keithlinneman/stancemap/internal/otelx"
	"github.com/keithlinneman/stancemap/internal/prof"
	"github.com/keithlinneman/stancemap/internal/ratelimit"
	"github.com/keithlinneman/stancemap/internal/secrets"
	"github.com/keithlinneman/stancemap/internal/summarize"
	v "github.com/keithlinneman/stancemap/internal/version"
)

// run wires every component, serves until ctx is cancelled and then drains.
// It returns the process exit code.
func run(ctx context.Context, stop context.CancelFunc, conf cfg.App, vi v.Info, L log.Logger) int {
	defer stop()
	ctx = log.WithContext(ctx, L)

	// secrets are never logged, only whether they come from ssm
	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"store_backend", conf.StoreBackend,
		"redis_addr", conf.RedisAddr,
		"summaries_s3_bucket", conf.SummariesS3Bucket,
		"enable_summarizer", conf.EnableSummarizer,
		"summarize_interval", conf.SummarizeInterval.String(),
		"summarize_rooms", conf.Rooms(),
		"llm_base_url", conf.LLMBaseURL,
		"llm_model", conf.LLMModel,
		"enable_tracing", conf.EnableTracing,
		"trace_sample", conf.TraceSample,
		"enable_pyroscope", conf.EnablePyroscope,
		"trusted_proxy_hops", conf.TrustedProxyHops,
		"session_secret_from_ssm", conf.SessionSecretSSMParam != "",
		"llm_api_key_from_ssm", conf.LLMAPIKeySSMParam != "",
	)

	// metrics come first so profiling can report its state
	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", vi)

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
			"store":     conf.StoreBackend,
		},
		OnActive: m.SetProfilingActive,
	})
	if err != nil {
		// profiling is optional, keep serving without it
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer stopProf()

	// the collector runs on localhost, so the exporter skips tls
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:    conf.EnableTracing,
		Endpoint:   conf.OTLPEndpoint,
		Insecure:   true,
		Sample:     conf.TraceSample,
		Service:    v.AppName,
		Component:  "server",
		Version:    vi.Version,
		Attributes: map[string]string{"stancemap.store_backend": conf.StoreBackend},
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
		shutdownOTEL = func(context.Context) error { return nil }
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	ssmAPI, s3API, err := awsClients(ctx, conf)
	if err != nil {
		L.Error(ctx, err, "failed to load AWS config")
		return 1
	}
	sec, err := resolveSecrets(ctx, secrets.NewResolver(ssmAPI), conf)
	if err != nil {
		L.Error(ctx, err, "failed to resolve secrets")
		return 1
	}

	st, closeStore, err := openStore(ctx, conf, sec.redisPassword, s3API)
	if err != nil {
		L.Error(ctx, err, "failed to open store", "store_backend", conf.StoreBackend)
		return 1
	}
	defer closeStore()

	// namespaces keep the cache label cardinality bounded
	respCache := cache.New(ctx,
		cache.WithCleanupInterval(conf.CacheCleanupInterval),
		cache.WithOnHit(func(key string) { m.IncCacheHit(cache.Namespace(key)) }),
		cache.WithOnMiss(func(key string) { m.IncCacheMiss(cache.Namespace(key)) }),
		cache.WithOnEvict(m.AddCacheEvictions),
	)
	m.RegisterCacheEntries(respCache.Len)

	// one limiter backs the api-wide guard and the per action rules
	limiter := ratelimit.New(ctx,
		ratelimit.WithCleanupInterval(conf.LimiterCleanupInterval),
		ratelimit.WithMaxKeys(conf.LimiterMaxKeys),
		ratelimit.WithOnDenied(func(action, _ string) { m.IncRateLimitDenied(action) }),
		// logged once per key and window
		ratelimit.WithOnFirstDenied(func(action, key string) {
			L.Warn(ctx, "rate limit triggered", "action", action, "key", key)
		}),
		ratelimit.WithOnCapacity(func() {
			m.IncRateLimitCapacity()
			L.Warn(ctx, "rate limit capacity reached, rejecting new keys until some are evicted")
		}),
	)

	verifier, err := auth.NewVerifier(auth.Options{
		Secret:   []byte(sec.sessionSecret),
		Issuer:   conf.SessionIssuer,
		Audience: conf.SessionAudience,
		Leeway:   30 * time.Second,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create session verifier")
		return 1
	}

	summarizer, err := newSummarizer(conf, sec.llmAPIKey, st, respCache, L)
	if err != nil {
		L.Error(ctx, err, "failed to create summarizer")
		return 1
	}
	if summarizer == nil {
		L.Warn(ctx, "no llm api key configured, room summaries are disabled")
	} else if conf.EnableSummarizer {
		sched := summarize.NewScheduler(summarize.SchedulerOptions{
			Logger:     L.With("component", "summarize-scheduler"),
			Summarizer: summarizer,
			Active:     st,
			Rooms:      conf.Rooms(),
			Interval:   conf.SummarizeInterval,
			Metrics:    m,
		})
		go func() {
			if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				L.Error(ctx, err, "summarize scheduler exited")
			}
		}()
	}

	apiOpts := api.Options{
		Logger:     L.With("component", "api"),
		Store:      st,
		Cache:      respCache,
		Limiter:    limiter,
		CronSecret: sec.cronSecret,
	}
	// assigning a nil *Summarizer would make the interface non-nil
	if summarizer != nil {
		apiOpts.Summarizer = summarizer
	}
	stanceAPI, err := api.New(apiOpts)
	if err != nil {
		L.Error(ctx, err, "failed to create api")
		return 1
	}

	// ready means the gate is open and the store answers
	var gate health.ShutdownGate
	readiness := health.All(
		gate.Probe(),
		health.Dependency("store", 2*time.Second, st.Ping),
	)

	appHTTPStop, err := httpserver.Start(ctx, httpserver.Options{
		Port:         conf.HTTPPort,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		APIRoutes:    stanceAPI.RegisterRoutes,
		IdentityMW:   verifier.Identify,
		RateLimitMW:  limiter.Middleware(ratelimit.APIRule(conf.APIRatePerMinute)),
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedProxyHops},
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		Logger:       L,
		// the summarize job waits on the model
		WriteTimeout: conf.LLMTimeout + 10*time.Second,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start app http listener")
		return 1
	}
	defer func() { _ = appHTTPStop(context.Background()) }()

	// the admin listener only serves private networks; it also rejects
	// forwarded requests in case a load balancer is ever pointed at it
	opsHTTPStop, err := opshttp.Start(ctx, L, opshttp.Options{
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		EnablePprof:  conf.EnablePprof,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return 1
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	if err := sdNotify(sdReady); err != nil {
		// systemd kills the unit after its start timeout if this really mattered
		L.Debug(ctx, "systemd notify skipped", "reason", err.Error())
	}

	<-ctx.Done()
	stop()
	bg := context.Background()
	L.Info(bg, "shutdown signal received")
	_ = sdNotify(sdStopping)

	// readiness fails first so the load balancer stops routing here
	gate.Set("draining")
	drain(bg, L, conf.ShutdownDrain)

	shutdownCtx, cancel := context.WithTimeout(bg, 10*time.Second)
	defer cancel()
	for _, s := range []struct {
		name string
		fn   func(context.Context) error
	}{
		{"app http server", appHTTPStop},
		{"ops http server", opsHTTPStop},
		{"otel", shutdownOTEL},
	} {
		if err := s.fn(shutdownCtx); err != nil {
			L.Error(bg, err, s.name+" shutdown")
		}
	}
	closeStore()
	stopProf()

	L.Info(bg, "shutdown complete")
	return 0
}

// drain waits d while in-flight requests finish and health checks observe
// the closed gate. A second signal cuts it short.
func drain(ctx context.Context, L log.Logger, d time.Duration) {
	L.Info(ctx, "draining in-flight requests", "drain", d.String())
	force := make(chan os.Signal, 1)
	signal.Notify(force, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(force)

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		L.Info(ctx, "drain period complete")
	case <-force:
		L.Warn(ctx, "second signal received, skipping drain")
	}
}
