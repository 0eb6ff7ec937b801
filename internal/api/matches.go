package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/stancemap/internal/cache"
	"github.com/keithlinneman/stancemap/internal/store"
)

const (
	defaultMatchLimit = 20
	maxMatchLimit     = 50
)

type matchListResponse struct {
	Matches []store.Match `json:"matches"`
	Count   int           `json:"count"`
}

// HandleListMatches serves GET /api/matches?status=&limit=
func (api *API) HandleListMatches(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := store.MatchStatus(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status"))))
	limit := queryLimit(r, defaultMatchLimit, maxMatchLimit)

	matches, err := api.store.ListMatches(ctx, status, limit)
	if err != nil {
		api.internalError(ctx, w, err, "Failed to load matches")
		return
	}
	if matches == nil {
		matches = []store.Match{}
	}
	api.writeJSON(ctx, w, http.StatusOK, matchListResponse{Matches: matches, Count: len(matches)})
}

// HandleGetMatch serves GET /api/matches/{matchId} with its linked rooms
func (api *API) HandleGetMatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "matchId")

	m, hit, err := cache.Load(ctx, api.cache, cache.MatchKey(id), cache.MatchTTL, func(ctx context.Context) (store.Match, error) {
		return api.store.GetMatch(ctx, id)
	})
	if errors.Is(err, store.ErrNotFound) {
		api.writeError(ctx, w, http.StatusNotFound, "Match not found")
		return
	}
	if err != nil {
		api.internalError(ctx, w, err, "Failed to load match")
		return
	}

	w.Header().Set("X-Cache", cacheStatus(hit))
	w.Header().Set("Cache-Control", "public, max-age=60")
	api.writeJSON(ctx, w, http.StatusOK, m)
}
