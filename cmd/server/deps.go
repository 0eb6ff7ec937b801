package main

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/redis/go-redis/v9"

	"github.com/keithlinneman/stancemap/internal/cache"
	"github.com/keithlinneman/stancemap/internal/cfg"
	"github.com/keithlinneman/stancemap/internal/llm"
	"github.com/keithlinneman/stancemap/internal/log"
	"github.com/keithlinneman/stancemap/internal/secrets"
	"github.com/keithlinneman/stancemap/internal/store"
	"github.com/keithlinneman/stancemap/internal/summarize"
	"github.com/keithlinneman/stancemap/internal/xerrors"
)

// needsAWS reports whether any ssm parameter or the summaries bucket is set
func needsAWS(c cfg.App) bool {
	return c.SummariesS3Bucket != "" ||
		c.SessionSecretSSMParam != "" ||
		c.CronSecretSSMParam != "" ||
		c.LLMAPIKeySSMParam != "" ||
		c.RedisPasswordSSMParam != ""
}

// awsClients loads the default AWS config only when needed. Both results
// are untyped nil otherwise.
func awsClients(ctx context.Context, c cfg.App) (secrets.SSMAPI, store.S3API, error) {
	if !needsAWS(c) {
		return nil, nil, nil
	}
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, nil, xerrors.Wrap(err, "load default aws config")
	}
	return ssm.NewFromConfig(awsCfg), s3.NewFromConfig(awsCfg), nil
}

type resolvedSecrets struct {
	sessionSecret string
	cronSecret    string
	llmAPIKey     string
	redisPassword string
}

// resolveSecrets prefers each ssm parameter over the direct config value
func resolveSecrets(ctx context.Context, r *secrets.Resolver, c cfg.App) (resolvedSecrets, error) {
	var out resolvedSecrets
	for _, s := range []struct {
		name         string
		dst          *string
		value, param string
	}{
		{"session secret", &out.sessionSecret, c.SessionSecret, c.SessionSecretSSMParam},
		{"cron secret", &out.cronSecret, c.CronSecret, c.CronSecretSSMParam},
		{"llm api key", &out.llmAPIKey, c.LLMAPIKey, c.LLMAPIKeySSMParam},
		{"redis password", &out.redisPassword, c.RedisPassword, c.RedisPasswordSSMParam},
	} {
		v, err := r.Resolve(ctx, s.value, s.param)
		if err != nil {
			return resolvedSecrets{}, xerrors.Wrap(err, s.name)
		}
		*s.dst = v
	}
	return out, nil
}

// openStore builds the configured backend and moves summaries to s3 when a
// bucket is set. The close func is safe to call more than once.
func openStore(ctx context.Context, c cfg.App, redisPassword string, s3API store.S3API) (store.Store, func(), error) {
	var st store.Store
	closeFn := func() {}

	switch c.StoreBackend {
	case "memory":
		st = store.NewMemory()
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     c.RedisAddr,
			DB:       c.RedisDB,
			Password: redisPassword,
		})
		rs := store.NewRedis(client, c.RedisPrefix)
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rs.Ping(pctx); err != nil {
			_ = client.Close()
			return nil, nil, xerrors.Wrapf(err, "connect redis %s db %d", c.RedisAddr, c.RedisDB)
		}
		st = rs
		var once sync.Once
		closeFn = func() { once.Do(func() { _ = client.Close() }) }
	default:
		return nil, nil, xerrors.Newf("unknown store backend %q", c.StoreBackend)
	}

	if c.SummariesS3Bucket == "" {
		return st, closeFn, nil
	}
	if s3API == nil {
		closeFn()
		return nil, nil, xerrors.New("summaries bucket configured but no s3 client")
	}
	sums, err := store.NewS3Summaries(s3API, c.SummariesS3Bucket, c.SummariesS3Prefix)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return store.WithSummaries(st, sums), closeFn, nil
}

// newSummarizer returns nil, nil without a model key
func newSummarizer(c cfg.App, apiKey string, st store.Store, respCache *cache.Store, L log.Logger) (*summarize.Summarizer, error) {
	if apiKey == "" {
		return nil, nil
	}
	gen, err := llm.NewClient(llm.Options{
		BaseURL:           c.LLMBaseURL,
		APIKey:            apiKey,
		Model:             c.LLMModel,
		Timeout:           c.LLMTimeout,
		RequestsPerMinute: c.LLMRequestsPerMinute,
	})
	if err != nil {
		return nil, xerrors.Wrap(err, "llm client")
	}
	return summarize.New(summarize.Options{
		Logger:    L.With("component", "summarize"),
		Store:     st,
		Generator: gen,
		Cache:     respCache,
		Language:  c.SummarizeLanguage,
	})
}
