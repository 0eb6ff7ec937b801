package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/keithlinneman/stancemap/internal/cache"
	"github.com/keithlinneman/stancemap/internal/store"
	"github.com/keithlinneman/stancemap/internal/summarize"
)

type summarizeRequest struct {
	RoomID     string `json:"roomId"`
	MatchLabel string `json:"matchLabel"`
}

type summarizeResponse struct {
	OK      bool               `json:"ok"`
	RoomID  string             `json:"roomId"`
	Note    string             `json:"note,omitempty"`
	Payload *store.RoomSummary `json:"payload,omitempty"`
}

// HandleSummarizeJob serves GET|POST /api/jobs/summarize. The room and label
// come from the JSON body or the roomId and matchLabel query parameters.
func (api *API) HandleSummarizeJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if api.summarizer == nil {
		api.writeError(ctx, w, http.StatusInternalServerError, "summarizer not configured")
		return
	}

	var body summarizeRequest
	if err := decodeJSON(r, &body); err != nil && !errors.Is(err, errEmptyBody) {
		api.writeError(ctx, w, http.StatusBadRequest, "Invalid payload")
		return
	}
	q := r.URL.Query()
	roomID := firstNonEmpty(body.RoomID, q.Get("roomId"), DefaultRoom)
	label := firstNonEmpty(body.MatchLabel, q.Get("matchLabel"))
	if !validRoomID(roomID) {
		api.writeError(ctx, w, http.StatusBadRequest, "Invalid room id")
		return
	}

	sum, err := api.summarizer.Run(ctx, roomID, label)
	if errors.Is(err, summarize.ErrNoVotes) {
		api.writeJSON(ctx, w, http.StatusOK, summarizeResponse{OK: true, RoomID: roomID, Note: "No votes to summarize"})
		return
	}
	if err != nil {
		api.internalError(ctx, w, err, "Failed to summarize room")
		return
	}
	api.writeJSON(ctx, w, http.StatusOK, summarizeResponse{OK: true, RoomID: roomID, Payload: &sum})
}

// matchUpdate is one match pushed by the ingestion process
type matchUpdate struct {
	ExternalID  string    `json:"external_id"`
	Competition string    `json:"competition"`
	HomeTeam    string    `json:"home_team"`
	AwayTeam    string    `json:"away_team"`
	HomeCrest   string    `json:"home_crest"`
	AwayCrest   string    `json:"away_crest"`
	KickoffTime time.Time `json:"kickoff_time"`
	Status      string    `json:"status"`
	HomeScore   int       `json:"home_score"`
	AwayScore   int       `json:"away_score"`
	Minute      int       `json:"minute"`
}

type matchesJobRequest struct {
	Matches []matchUpdate `json:"matches"`
}

type matchesJobResponse struct {
	OK        bool      `json:"ok"`
	Synced    int       `json:"synced"`
	Total     int       `json:"total"`
	Timestamp time.Time `json:"timestamp"`
}

// LiveRoomID is the room opened for a live match
func LiveRoomID(externalID string) string {
	return "match_" + externalID
}

// HandleMatchesJob serves POST /api/jobs/matches. Each update is upserted by
// external id; live matches get their room linked. A failed update is logged
// and skipped.
func (api *API) HandleMatchesJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body matchesJobRequest
	if err := decodeJSON(r, &body); err != nil {
		api.writeError(ctx, w, http.StatusBadRequest, "Invalid payload")
		return
	}

	now := api.now().UTC()
	synced := 0
	for _, u := range body.Matches {
		if strings.TrimSpace(u.ExternalID) == "" {
			api.logger.Warn(ctx, "api: match update without external_id skipped")
			continue
		}
		m, err := api.store.UpsertMatch(ctx, store.Match{
			ExternalID:  u.ExternalID,
			Competition: u.Competition,
			HomeTeam:    u.HomeTeam,
			AwayTeam:    u.AwayTeam,
			HomeCrest:   u.HomeCrest,
			AwayCrest:   u.AwayCrest,
			KickoffTime: u.KickoffTime,
			Status:      store.NormalizeMatchStatus(u.Status),
			HomeScore:   u.HomeScore,
			AwayScore:   u.AwayScore,
			Minute:      u.Minute,
			UpdatedAt:   now,
		})
		if err != nil {
			api.logger.Error(ctx, err, "api: failed to upsert match", "external_id", u.ExternalID)
			continue
		}
		switch room := LiveRoomID(u.ExternalID); {
		case m.Status != store.MatchLive:
		case !validRoomID(room):
			api.logger.Warn(ctx, "api: live match room not linked, external_id is not a valid room id",
				"external_id", u.ExternalID)
		default:
			if err := api.store.LinkMatchRoom(ctx, m.ID, room); err != nil {
				api.logger.Error(ctx, err, "api: failed to link match room", "match_id", m.ID)
			}
		}
		api.cache.Delete(cache.MatchKey(m.ID))
		synced++
	}

	api.writeJSON(ctx, w, http.StatusOK, matchesJobResponse{
		OK:        true,
		Synced:    synced,
		Total:     len(body.Matches),
		Timestamp: now,
	})
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
