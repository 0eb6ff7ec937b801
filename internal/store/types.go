package store

import (
	"strings"
	"time"
)

type Stance string

const (
	StanceSupport Stance = "support"
	StanceOppose  Stance = "oppose"
	StanceNeutral Stance = "neutral"
)

// ParseStance accepts exactly support|oppose|neutral
func ParseStance(s string) (Stance, bool) {
	switch st := Stance(s); st {
	case StanceSupport, StanceOppose, StanceNeutral:
		return st, true
	}
	return "", false
}

// Vote is one stance with a comment posted to a room
type Vote struct {
	ID        string    `json:"id" msgpack:"id"`
	RoomID    string    `json:"room_id" msgpack:"room_id"`
	UserID    string    `json:"user_id" msgpack:"user_id"`
	Stance    Stance    `json:"stance" msgpack:"stance"`
	Comment   string    `json:"comment" msgpack:"comment"`
	CreatedAt time.Time `json:"created_at" msgpack:"created_at"`
}

// VoteFilter selects votes for a thread listing. Zero fields match everything.
type VoteFilter struct {
	RoomID string
	Stance Stance
	// Keyword is a case-insensitive substring match on the comment
	Keyword string
	Limit   int
}

func (f VoteFilter) match(v Vote) bool {
	if f.Stance != "" && v.Stance != f.Stance {
		return false
	}
	if f.Keyword != "" && !strings.Contains(strings.ToLower(v.Comment), strings.ToLower(f.Keyword)) {
		return false
	}
	return true
}

type TopicCounts struct {
	Support int `json:"support" msgpack:"support"`
	Oppose  int `json:"oppose" msgpack:"oppose"`
	Neutral int `json:"neutral" msgpack:"neutral"`
}

type TopicSummary struct {
	ID             string      `json:"id" msgpack:"id"`
	Title          string      `json:"title" msgpack:"title"`
	Counts         TopicCounts `json:"counts" msgpack:"counts"`
	SupportSummary string      `json:"supportSummary" msgpack:"supportSummary"`
	OpposeSummary  string      `json:"opposeSummary" msgpack:"opposeSummary"`
	NeutralSummary string      `json:"neutralSummary" msgpack:"neutralSummary"`
}

// RoomSummary is the clustered opinion snapshot shown for a room
type RoomSummary struct {
	RoomID      string         `json:"roomId" msgpack:"roomId"`
	MatchLabel  string         `json:"matchLabel" msgpack:"matchLabel"`
	UpdatedAt   time.Time      `json:"updatedAt" msgpack:"updatedAt"`
	BatchPolicy string         `json:"batchPolicy" msgpack:"batchPolicy"`
	Topics      []TopicSummary `json:"topics" msgpack:"topics"`
}

type MatchStatus string

const (
	MatchScheduled MatchStatus = "SCHEDULED"
	MatchLive      MatchStatus = "LIVE"
	MatchFinished  MatchStatus = "FINISHED"
	MatchPostponed MatchStatus = "POSTPONED"
)

// NormalizeMatchStatus folds provider statuses into the four we store.
// LIVE, IN_PLAY and PAUSED are live; anything unknown is scheduled.
func NormalizeMatchStatus(s string) MatchStatus {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LIVE", "IN_PLAY", "PAUSED":
		return MatchLive
	case "FINISHED":
		return MatchFinished
	case "POSTPONED":
		return MatchPostponed
	default:
		return MatchScheduled
	}
}

type Match struct {
	ID          string      `json:"id" msgpack:"id"`
	ExternalID  string      `json:"external_id" msgpack:"external_id"`
	Competition string      `json:"competition" msgpack:"competition"`
	HomeTeam    string      `json:"home_team" msgpack:"home_team"`
	AwayTeam    string      `json:"away_team" msgpack:"away_team"`
	HomeCrest   string      `json:"home_crest,omitempty" msgpack:"home_crest"`
	AwayCrest   string      `json:"away_crest,omitempty" msgpack:"away_crest"`
	KickoffTime time.Time   `json:"kickoff_time" msgpack:"kickoff_time"`
	Status      MatchStatus `json:"status" msgpack:"status"`
	HomeScore   int         `json:"home_score" msgpack:"home_score"`
	AwayScore   int         `json:"away_score" msgpack:"away_score"`
	Minute      int         `json:"minute" msgpack:"minute"`
	UpdatedAt   time.Time   `json:"updated_at" msgpack:"updated_at"`
	// Rooms is filled by GetMatch only
	Rooms []string `json:"rooms,omitempty" msgpack:"-"`
}

// HotTopic is a yes/no question raised in a room, ranked by recent vote velocity
type HotTopic struct {
	ID            string    `json:"id" msgpack:"id"`
	RoomID        string    `json:"room_id" msgpack:"room_id"`
	TopicText     string    `json:"topic_text" msgpack:"topic_text"`
	CreatedBy     string    `json:"created_by,omitempty" msgpack:"created_by"`
	YesCount      int       `json:"yes_count" msgpack:"yes_count"`
	NoCount       int       `json:"no_count" msgpack:"no_count"`
	VelocityScore float64   `json:"velocity_score" msgpack:"velocity_score"`
	IsActive      bool      `json:"is_active" msgpack:"is_active"`
	CreatedAt     time.Time `json:"created_at" msgpack:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" msgpack:"updated_at"`
}

// HotTopicVote is one user's answer to a hot topic, at most one per user per topic
type HotTopicVote struct {
	HotTopicID string    `json:"hot_topic_id" msgpack:"hot_topic_id"`
	UserID     string    `json:"user_id" msgpack:"user_id"`
	Vote       bool      `json:"vote" msgpack:"vote"`
	Reason     string    `json:"reason,omitempty" msgpack:"reason"`
	CreatedAt  time.Time `json:"created_at" msgpack:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" msgpack:"updated_at"`
}

// VelocityWindow is the look-back used for hot topic velocity
const VelocityWindow = 5 * time.Minute

// hotTopicStats recomputes counts and velocity (votes per minute over the last VelocityWindow)
func hotTopicStats(t HotTopic, votes []HotTopicVote, now time.Time) HotTopic {
	t.YesCount, t.NoCount = 0, 0
	recent := 0
	since := now.Add(-VelocityWindow)
	for _, v := range votes {
		if v.Vote {
			t.YesCount++
		} else {
			t.NoCount++
		}
		if !v.CreatedAt.Before(since) {
			recent++
		}
	}
	t.VelocityScore = float64(recent) / VelocityWindow.Minutes()
	t.UpdatedAt = now
	return t
}
