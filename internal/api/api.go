// Package api serves the JSON routes under /api: matches, room summaries,
// stance votes and threads, hot topics, and the job endpoints driven by cron
// or the match ingestion process.
//
// Reads go through the shared cache.Store; writes invalidate the keys they
// affect. Write routes need an identified user and are rate limited per
// action.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/stancemap/internal/cache"
	"github.com/keithlinneman/stancemap/internal/cryptoutil"
	"github.com/keithlinneman/stancemap/internal/httpmw"
	"github.com/keithlinneman/stancemap/internal/log"
	"github.com/keithlinneman/stancemap/internal/pathutil"
	"github.com/keithlinneman/stancemap/internal/ratelimit"
	"github.com/keithlinneman/stancemap/internal/store"
	"github.com/keithlinneman/stancemap/internal/xerrors"
)

// DefaultRoom is summarized when a job request names no room
const DefaultRoom = "default"

// Summarizer produces and stores a room summary
type Summarizer interface {
	Run(ctx context.Context, roomID, matchLabel string) (store.RoomSummary, error)
}

type Options struct {
	Logger  log.Logger
	Store   store.Store
	Cache   *cache.Store
	Limiter *ratelimit.Limiter
	// Summarizer is optional. Without it the summarize job answers 500.
	Summarizer Summarizer
	// CronSecret guards /api/jobs. Empty leaves the jobs open.
	CronSecret string
	Now        func() time.Time
}

// API implements the /api routes
type API struct {
	logger     log.Logger
	store      store.Store
	cache      *cache.Store
	limiter    *ratelimit.Limiter
	summarizer Summarizer
	cronSecret string
	now        func() time.Time
}

func New(opts Options) (*API, error) {
	if opts.Store == nil {
		return nil, xerrors.New("api: store is required")
	}
	if opts.Cache == nil {
		return nil, xerrors.New("api: cache is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &API{
		logger:     opts.Logger,
		store:      opts.Store,
		cache:      opts.Cache,
		limiter:    opts.Limiter,
		summarizer: opts.Summarizer,
		cronSecret: opts.CronSecret,
		now:        opts.Now,
	}, nil
}

// RegisterRoutes attaches the api endpoints to the router
func (api *API) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		matches := r.With(httpmw.Scope("matches"))
		matches.Get("/matches", api.HandleListMatches)
		matches.Get("/matches/{matchId}", api.HandleGetMatch)

		r.Route("/rooms/{roomId}", func(r chi.Router) {
			r.Use(httpmw.Scope("rooms"), api.requireRoomID)
			r.Get("/summary", api.HandleSummary)
			r.Get("/threads", api.HandleThreads)
			r.Get("/hot-topics", api.HandleListHotTopics)

			r.With(api.requireUser, api.limit(ratelimit.VoteRule())).
				Post("/votes", api.HandleVote)
			r.With(api.requireUser, api.limit(ratelimit.HotTopicCreateRule())).
				Post("/hot-topics", api.HandleCreateHotTopic)
			r.With(api.requireUser, api.limit(ratelimit.HotTopicVoteRule())).
				Post("/hot-topics/{topicId}/vote", api.HandleHotTopicVote)
		})

		r.Group(func(r chi.Router) {
			r.Use(httpmw.Scope("jobs"), api.requireCron)
			r.Get("/jobs/summarize", api.HandleSummarizeJob)
			r.Post("/jobs/summarize", api.HandleSummarizeJob)
			r.Post("/jobs/matches", api.HandleMatchesJob)
		})
	})
}

// requireUser answers 401 for anonymous requests
func (api *API) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if httpmw.UserIDFromContext(r.Context()) == "" {
			api.writeError(r.Context(), w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireRoomID answers 400 unless roomId is a single safe segment. Room ids
// end up in cache keys and summary object keys.
func (api *API) requireRoomID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !validRoomID(chi.URLParam(r, "roomId")) {
			api.writeError(r.Context(), w, http.StatusBadRequest, "Invalid room id")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func validRoomID(id string) bool {
	return pathutil.IsSafeSegment(id)
}

// limit applies rule when a limiter is configured
func (api *API) limit(rule ratelimit.Rule) func(http.Handler) http.Handler {
	if api.limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return api.limiter.Middleware(rule)
}

// requireCron checks the X-Cron-Secret header or the secret query parameter
func (api *API) requireCron(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if api.cronSecret != "" {
			got := r.Header.Get("X-Cron-Secret")
			if got == "" {
				got = r.URL.Query().Get("secret")
			}
			if !cryptoutil.SecretEqual(got, api.cronSecret) {
				api.writeError(r.Context(), w, http.StatusUnauthorized, "Unauthorized")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// errEmptyBody is returned by decodeJSON for a request without a body
var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return errEmptyBody
	}
	return err
}

// queryLimit parses the limit parameter, using def when absent or invalid and capping at max
func queryLimit(r *http.Request, def, max int) int {
	n, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("limit")))
	if err != nil || n <= 0 {
		n = def
	}
	if n > max {
		n = max
	}
	return n
}

func cacheStatus(hit bool) string {
	if hit {
		return "HIT"
	}
	return "MISS"
}

func (api *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	if h.Get("Cache-Control") == "" {
		h.Set("Cache-Control", "no-cache")
	}
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.logger.Warn(ctx, "failed to encode JSON response", "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (api *API) writeError(ctx context.Context, w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Cache-Control", "no-store")
	api.writeJSON(ctx, w, status, errorResponse{Error: msg})
}

// internalError logs err and answers 500 with msg
func (api *API) internalError(ctx context.Context, w http.ResponseWriter, err error, msg string) {
	api.logger.Error(ctx, err, "api: "+strings.ToLower(msg))
	api.writeError(ctx, w, http.StatusInternalServerError, msg)
}
