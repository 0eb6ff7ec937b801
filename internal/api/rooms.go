package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/stancemap/internal/cache"
	"github.com/keithlinneman/stancemap/internal/httpmw"
	"github.com/keithlinneman/stancemap/internal/store"
	"github.com/keithlinneman/stancemap/internal/summarize"
)

const (
	maxCommentLen = 300

	defaultThreadLimit = 50
	maxThreadLimit     = 100
)

// summaryResult is what the summary route caches
type summaryResult struct {
	Summary  store.RoomSummary
	Fallback bool
}

// fallbackSummary is served until a room has been summarized
func fallbackSummary(roomID string, now time.Time) store.RoomSummary {
	return store.RoomSummary{
		RoomID:      roomID,
		MatchLabel:  summarize.DefaultMatchLabel,
		UpdatedAt:   now.UTC(),
		BatchPolicy: summarize.DefaultBatchPolicy,
		Topics:      []store.TopicSummary{},
	}
}

// HandleSummary serves GET /api/rooms/{roomId}/summary
func (api *API) HandleSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	roomID := chi.URLParam(r, "roomId")

	res, hit, err := cache.Load(ctx, api.cache, cache.SummaryKey(roomID), cache.SummaryTTL, func(ctx context.Context) (summaryResult, error) {
		s, err := api.store.LatestSummary(ctx, roomID)
		if errors.Is(err, store.ErrNotFound) {
			return summaryResult{Summary: fallbackSummary(roomID, api.now()), Fallback: true}, nil
		}
		if err != nil {
			return summaryResult{}, err
		}
		s.RoomID = roomID
		return summaryResult{Summary: s}, nil
	})
	if err != nil {
		api.internalError(ctx, w, err, "Failed to load summary")
		return
	}

	h := w.Header()
	h.Set("X-Cache", cacheStatus(hit))
	if res.Fallback {
		h.Set("Cache-Control", "public, max-age=300")
	} else {
		h.Set("Cache-Control", "public, max-age=300, stale-while-revalidate=60")
		h.Set("X-Updated-At", res.Summary.UpdatedAt.UTC().Format(time.RFC3339))
	}
	api.writeJSON(ctx, w, http.StatusOK, res.Summary)
}

type threadResponse struct {
	RoomID   string       `json:"roomId"`
	Stance   string       `json:"stance,omitempty"`
	Topic    string       `json:"topic,omitempty"`
	Subtopic string       `json:"subtopic,omitempty"`
	Items    []store.Vote `json:"items"`
}

// HandleThreads serves GET /api/rooms/{roomId}/threads?stance=&topic=&subtopic=&limit=
func (api *API) HandleThreads(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	roomID := chi.URLParam(r, "roomId")

	stance := strings.TrimSpace(q.Get("stance"))
	if stance != "" {
		if _, ok := store.ParseStance(stance); !ok {
			api.writeError(ctx, w, http.StatusBadRequest, "Invalid stance")
			return
		}
	}
	vq := cache.VotesQuery{
		RoomID:   roomID,
		Stance:   stance,
		Topic:    strings.TrimSpace(q.Get("topic")),
		Subtopic: strings.TrimSpace(q.Get("subtopic")),
		Limit:    queryLimit(r, defaultThreadLimit, maxThreadLimit),
	}

	resp, hit, err := cache.Load(ctx, api.cache, cache.VotesKey(vq), cache.VotesTTL, func(ctx context.Context) (threadResponse, error) {
		keyword := vq.Subtopic
		if keyword == "" {
			keyword = vq.Topic
		}
		items, err := api.store.ListVotes(ctx, store.VoteFilter{
			RoomID:  roomID,
			Stance:  store.Stance(vq.Stance),
			Keyword: keyword,
			Limit:   vq.Limit,
		})
		if err != nil {
			return threadResponse{}, err
		}
		if items == nil {
			items = []store.Vote{}
		}
		return threadResponse{
			RoomID:   roomID,
			Stance:   vq.Stance,
			Topic:    vq.Topic,
			Subtopic: vq.Subtopic,
			Items:    items,
		}, nil
	})
	if err != nil {
		api.internalError(ctx, w, err, "Failed to load thread")
		return
	}

	w.Header().Set("X-Cache", cacheStatus(hit))
	api.writeJSON(ctx, w, http.StatusOK, resp)
}

type voteRequest struct {
	Stance  string  `json:"stance"`
	Comment *string `json:"comment"`
}

type voteResponse struct {
	Accepted   bool      `json:"accepted"`
	RoomID     string    `json:"roomId"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// HandleVote serves POST /api/rooms/{roomId}/votes
func (api *API) HandleVote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	roomID := chi.URLParam(r, "roomId")

	var body voteRequest
	if err := decodeJSON(r, &body); err != nil || body.Comment == nil {
		api.writeError(ctx, w, http.StatusBadRequest, "Invalid payload")
		return
	}
	stance, ok := store.ParseStance(body.Stance)
	if !ok {
		api.writeError(ctx, w, http.StatusBadRequest, "Invalid payload")
		return
	}
	if utf8.RuneCountInString(*body.Comment) > maxCommentLen {
		api.writeError(ctx, w, http.StatusBadRequest, "Comment too long")
		return
	}

	v, err := api.store.InsertVote(ctx, store.Vote{
		RoomID:    roomID,
		UserID:    httpmw.UserIDFromContext(ctx),
		Stance:    stance,
		Comment:   strings.TrimSpace(*body.Comment),
		CreatedAt: api.now().UTC(),
	})
	if err != nil {
		api.internalError(ctx, w, err, "Failed to save vote")
		return
	}

	// the room summary and every cached thread variant may now be stale
	api.cache.Delete(cache.SummaryKey(roomID))
	n := api.cache.InvalidatePrefix(cache.Scope(cache.NamespaceVotes, roomID))

	api.logger.Debug(ctx, "vote accepted",
		"room_id", roomID,
		"stance", string(stance),
		"invalidated_threads", n,
	)
	api.writeJSON(ctx, w, http.StatusOK, voteResponse{Accepted: true, RoomID: roomID, ReceivedAt: v.CreatedAt})
}
