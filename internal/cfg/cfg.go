package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/keithlinneman/stancemap/internal/log"
	"github.com/keithlinneman/stancemap/internal/pathutil"
)

type App struct {
	LogJSON           bool
	LogLevel          string
	HTTPPort          int
	AdminPort         int
	EnablePprof       bool
	EnablePyroscope   bool
	EnableTracing     bool
	PyroServer        string
	PyroTenantID      string
	OTLPEndpoint      string
	TraceSample       float64
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int
	ShutdownDrain     time.Duration
	TrustedProxyHops  int

	// storage
	StoreBackend          string
	RedisAddr             string
	RedisDB               int
	RedisPassword         string
	RedisPasswordSSMParam string
	RedisPrefix           string
	SummariesS3Bucket     string
	SummariesS3Prefix     string

	// sessions and cron
	SessionSecret         string
	SessionSecretSSMParam string
	SessionIssuer         string
	SessionAudience       string
	CronSecret            string
	CronSecretSSMParam    string

	// summarizer
	LLMAPIKey            string
	LLMAPIKeySSMParam    string
	LLMBaseURL           string
	LLMModel             string
	LLMRequestsPerMinute float64
	LLMTimeout           time.Duration
	EnableSummarizer     bool
	SummarizeInterval    time.Duration
	SummarizeRooms       string
	SummarizeLanguage    string

	// cache and limiter
	CacheCleanupInterval   time.Duration
	LimiterCleanupInterval time.Duration
	LimiterMaxKeys         int
	APIRatePerMinute       int
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.DurationVar(&c.ShutdownDrain, "shutdown-drain", 20*time.Second, "time to keep serving after readiness flips on shutdown")
	fs.IntVar(&c.TrustedProxyHops, "trusted-proxy-hops", 1, "reverse proxies in front of the server, selects the X-Forwarded-For entry (0..10)")

	fs.StringVar(&c.StoreBackend, "store-backend", "redis", "memory|redis")
	fs.StringVar(&c.RedisAddr, "redis-addr", "127.0.0.1:6379", "redis host:port")
	fs.IntVar(&c.RedisDB, "redis-db", 0, "redis logical database")
	fs.StringVar(&c.RedisPassword, "redis-password", "", "redis password, prefer -redis-password-ssm-param")
	fs.StringVar(&c.RedisPasswordSSMParam, "redis-password-ssm-param", "", "ssm parameter holding the redis password")
	fs.StringVar(&c.RedisPrefix, "redis-prefix", "stancemap", "key prefix for every redis key")
	fs.StringVar(&c.SummariesS3Bucket, "summaries-s3-bucket", "", "s3 bucket for summary snapshots, empty keeps them in the store")
	fs.StringVar(&c.SummariesS3Prefix, "summaries-s3-prefix", "summaries", "s3 key prefix for summary snapshots")

	fs.StringVar(&c.SessionSecret, "session-secret", "", "HS256 session token secret, prefer -session-secret-ssm-param")
	fs.StringVar(&c.SessionSecretSSMParam, "session-secret-ssm-param", "", "ssm parameter holding the session token secret")
	fs.StringVar(&c.SessionIssuer, "session-issuer", "", "required iss claim on session tokens, empty skips the check")
	fs.StringVar(&c.SessionAudience, "session-audience", "", "required aud claim on session tokens, empty skips the check")
	fs.StringVar(&c.CronSecret, "cron-secret", "", "shared secret for /api/jobs, prefer -cron-secret-ssm-param")
	fs.StringVar(&c.CronSecretSSMParam, "cron-secret-ssm-param", "", "ssm parameter holding the cron secret")

	fs.StringVar(&c.LLMAPIKey, "llm-api-key", "", "model endpoint api key, prefer -llm-api-key-ssm-param")
	fs.StringVar(&c.LLMAPIKeySSMParam, "llm-api-key-ssm-param", "", "ssm parameter holding the model endpoint api key")
	fs.StringVar(&c.LLMBaseURL, "llm-base-url", "https://api.openai.com/v1", "OpenAI compatible base url")
	fs.StringVar(&c.LLMModel, "llm-model", "gpt-4o-mini", "model used for room summaries")
	fs.Float64Var(&c.LLMRequestsPerMinute, "llm-rpm", 30, "outbound model requests per minute, 0 disables the throttle")
	fs.DurationVar(&c.LLMTimeout, "llm-timeout", 60*time.Second, "timeout for one model request")
	fs.BoolVar(&c.EnableSummarizer, "enable-summarizer", true, "run the background summarize scheduler")
	fs.DurationVar(&c.SummarizeInterval, "summarize-interval", 5*time.Minute, "scheduler tick interval (>= 1m)")
	fs.StringVar(&c.SummarizeRooms, "summarize-rooms", "default", "comma separated rooms summarized every tick in addition to rooms with new votes")
	fs.StringVar(&c.SummarizeLanguage, "summarize-language", "Japanese", "language the model writes summaries in")

	fs.DurationVar(&c.CacheCleanupInterval, "cache-cleanup-interval", 10*time.Minute, "response cache sweep period, 0 disables")
	fs.DurationVar(&c.LimiterCleanupInterval, "limiter-cleanup-interval", 5*time.Minute, "rate limiter sweep period, 0 disables")
	fs.IntVar(&c.LimiterMaxKeys, "limiter-max-keys", 100_000, "max tracked rate limit keys before new keys are denied")
	fs.IntVar(&c.APIRatePerMinute, "api-rate-per-minute", 120, "per-ip request budget across the whole api")
}

// Rooms returns the configured summarize rooms, trimmed with blanks dropped
func (c App) Rooms() []string {
	var out []string
	for _, r := range strings.Split(c.SummarizeRooms, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}

	// Tracing sample
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	// Pyroscope (URL and scheme)
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	// OTLP tracing (grpc exporter wants host:port, no scheme)
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	// Error link limits
	if c.IncludeErrorLinks {
		if c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64 {
			errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
		}
	}

	if c.ShutdownDrain < 0 {
		errs = append(errs, fmt.Errorf("SHUTDOWN_DRAIN must not be negative (got %s)", c.ShutdownDrain))
	}
	if c.TrustedProxyHops < 0 || c.TrustedProxyHops > 10 {
		errs = append(errs, fmt.Errorf("TRUSTED_PROXY_HOPS must be 0..10 (got %d)", c.TrustedProxyHops))
	}

	// Store backend
	switch c.StoreBackend {
	case "memory":
	case "redis":
		if c.RedisAddr == "" {
			errs = append(errs, fmt.Errorf("REDIS_ADDR required when STORE_BACKEND=redis"))
		} else if _, _, err := net.SplitHostPort(c.RedisAddr); err != nil {
			errs = append(errs, fmt.Errorf("REDIS_ADDR must be host:port (got %q): %v", c.RedisAddr, err))
		}
		if c.RedisDB < 0 {
			errs = append(errs, fmt.Errorf("REDIS_DB must not be negative (got %d)", c.RedisDB))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid STORE_BACKEND %q (must be memory|redis)", c.StoreBackend))
	}
	if c.SummariesS3Bucket != "" && strings.Trim(c.SummariesS3Prefix, "/") == "" {
		errs = append(errs, fmt.Errorf("SUMMARIES_S3_PREFIX required when SUMMARIES_S3_BUCKET is set"))
	}

	// Sessions gate every write route
	if c.SessionSecret == "" && c.SessionSecretSSMParam == "" {
		errs = append(errs, fmt.Errorf("SESSION_SECRET or SESSION_SECRET_SSM_PARAM is required"))
	}

	// Summarizer
	if c.EnableSummarizer {
		if c.LLMAPIKey == "" && c.LLMAPIKeySSMParam == "" {
			errs = append(errs, fmt.Errorf("LLM_API_KEY or LLM_API_KEY_SSM_PARAM required when ENABLE_SUMMARIZER=true"))
		}
		if c.SummarizeInterval < time.Minute {
			errs = append(errs, fmt.Errorf("SUMMARIZE_INTERVAL must be at least 1m (got %s)", c.SummarizeInterval))
		}
	}
	for _, room := range c.Rooms() {
		if !pathutil.IsSafeSegment(room) {
			errs = append(errs, fmt.Errorf("SUMMARIZE_ROOMS entry %q must be 1..%d of [A-Za-z0-9_-]", room, pathutil.MaxSegmentLen))
		}
	}
	if u, err := url.Parse(c.LLMBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("LLM_BASE_URL must be a URL (got %q)", c.LLMBaseURL))
	}
	if c.LLMRequestsPerMinute < 0 {
		errs = append(errs, fmt.Errorf("LLM_RPM must not be negative (got %g)", c.LLMRequestsPerMinute))
	}
	if c.LLMTimeout <= 0 {
		errs = append(errs, fmt.Errorf("LLM_TIMEOUT must be positive (got %s)", c.LLMTimeout))
	}

	// Cache and limiter
	if c.CacheCleanupInterval < 0 {
		errs = append(errs, fmt.Errorf("CACHE_CLEANUP_INTERVAL must not be negative (got %s)", c.CacheCleanupInterval))
	}
	if c.LimiterCleanupInterval < 0 {
		errs = append(errs, fmt.Errorf("LIMITER_CLEANUP_INTERVAL must not be negative (got %s)", c.LimiterCleanupInterval))
	}
	if c.LimiterMaxKeys < 1 {
		errs = append(errs, fmt.Errorf("LIMITER_MAX_KEYS must be at least 1 (got %d)", c.LimiterMaxKeys))
	}
	if c.APIRatePerMinute < 1 {
		errs = append(errs, fmt.Errorf("API_RATE_PER_MINUTE must be at least 1 (got %d)", c.APIRatePerMinute))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
