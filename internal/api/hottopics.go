package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/stancemap/internal/cache"
	"github.com/keithlinneman/stancemap/internal/httpmw"
	"github.com/keithlinneman/stancemap/internal/store"
)

const (
	// topHotTopics is how many topics a room shows
	topHotTopics = 3

	maxTopicTextLen = 100
	maxReasonLen    = 100
)

type hotTopicsResponse struct {
	RoomID string           `json:"roomId"`
	Topics []store.HotTopic `json:"topics"`
}

// HandleListHotTopics serves GET /api/rooms/{roomId}/hot-topics
func (api *API) HandleListHotTopics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	roomID := chi.URLParam(r, "roomId")

	resp, hit, err := cache.Load(ctx, api.cache, cache.HotTopicsKey(roomID), cache.HotTopicsTTL, func(ctx context.Context) (hotTopicsResponse, error) {
		topics, err := api.store.TopHotTopics(ctx, roomID, topHotTopics)
		if err != nil {
			return hotTopicsResponse{}, err
		}
		if topics == nil {
			topics = []store.HotTopic{}
		}
		return hotTopicsResponse{RoomID: roomID, Topics: topics}, nil
	})
	if err != nil {
		api.internalError(ctx, w, err, "Failed to load hot topics")
		return
	}

	w.Header().Set("X-Cache", cacheStatus(hit))
	w.Header().Set("Cache-Control", "public, max-age=30")
	api.writeJSON(ctx, w, http.StatusOK, resp)
}

type createHotTopicRequest struct {
	TopicText string `json:"topicText"`
}

type createHotTopicResponse struct {
	OK    bool           `json:"ok"`
	Topic store.HotTopic `json:"topic"`
}

// HandleCreateHotTopic serves POST /api/rooms/{roomId}/hot-topics
func (api *API) HandleCreateHotTopic(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	roomID := chi.URLParam(r, "roomId")

	var body createHotTopicRequest
	err := decodeJSON(r, &body)
	text := strings.TrimSpace(body.TopicText)
	if err != nil || text == "" || utf8.RuneCountInString(body.TopicText) > maxTopicTextLen {
		api.writeError(ctx, w, http.StatusBadRequest, "Invalid topic text (max 100 characters)")
		return
	}

	t, err := api.store.CreateHotTopic(ctx, store.HotTopic{
		RoomID:    roomID,
		TopicText: text,
		CreatedBy: httpmw.UserIDFromContext(ctx),
		CreatedAt: api.now().UTC(),
	})
	if err != nil {
		api.internalError(ctx, w, err, "Failed to create hot topic")
		return
	}

	api.cache.Delete(cache.HotTopicsKey(roomID))
	api.writeJSON(ctx, w, http.StatusOK, createHotTopicResponse{OK: true, Topic: t})
}

type hotTopicVoteRequest struct {
	Vote   *bool  `json:"vote"`
	Reason string `json:"reason"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

// HandleHotTopicVote serves POST /api/rooms/{roomId}/hot-topics/{topicId}/vote.
// A repeat vote replaces the user's earlier answer.
func (api *API) HandleHotTopicVote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	roomID := chi.URLParam(r, "roomId")
	topicID := chi.URLParam(r, "topicId")

	var body hotTopicVoteRequest
	if err := decodeJSON(r, &body); err != nil || body.Vote == nil {
		api.writeError(ctx, w, http.StatusBadRequest, "Invalid payload")
		return
	}
	if utf8.RuneCountInString(body.Reason) > maxReasonLen {
		api.writeError(ctx, w, http.StatusBadRequest, "Reason too long (max 100 characters)")
		return
	}

	// a topic id from another room is treated as unknown
	topic, err := api.store.GetHotTopic(ctx, topicID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && topic.RoomID != roomID) {
		api.writeError(ctx, w, http.StatusNotFound, "Hot topic not found")
		return
	}
	if err != nil {
		api.internalError(ctx, w, err, "Failed to save vote")
		return
	}

	now := api.now().UTC()
	err = api.store.UpsertHotTopicVote(ctx, store.HotTopicVote{
		HotTopicID: topicID,
		UserID:     httpmw.UserIDFromContext(ctx),
		Vote:       *body.Vote,
		Reason:     strings.TrimSpace(body.Reason),
		CreatedAt:  now,
	})
	if errors.Is(err, store.ErrNotFound) {
		api.writeError(ctx, w, http.StatusNotFound, "Hot topic not found")
		return
	}
	if err != nil {
		api.internalError(ctx, w, err, "Failed to save vote")
		return
	}

	if _, err := api.store.RefreshHotTopicStats(ctx, topicID, now); err != nil {
		// the vote is stored; counts catch up on the next vote
		api.logger.Warn(ctx, "api: refreshing hot topic stats failed",
			"topic_id", topicID,
			"error", err,
		)
	}

	api.cache.Delete(cache.HotTopicsKey(roomID))
	api.writeJSON(ctx, w, http.StatusOK, okResponse{OK: true})
}
