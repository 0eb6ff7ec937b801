package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("store: not found")

type VoteStore interface {
	// InsertVote assigns an id, and a creation time when unset
	InsertVote(ctx context.Context, v Vote) (Vote, error)
	// ListVotes returns matching votes in a room, newest first
	ListVotes(ctx context.Context, f VoteFilter) ([]Vote, error)
	// RecentVotes returns the n newest votes in a room
	RecentVotes(ctx context.Context, roomID string, n int) ([]Vote, error)
	// RoomsWithVotesSince lists rooms that received a vote at or after since
	RoomsWithVotesSince(ctx context.Context, since time.Time) ([]string, error)
}

type SummaryStore interface {
	// LatestSummary returns ErrNotFound when the room was never summarized
	LatestSummary(ctx context.Context, roomID string) (RoomSummary, error)
	SaveSummary(ctx context.Context, s RoomSummary) error
}

type MatchStore interface {
	// ListMatches returns matches by kickoff time, latest first. An empty status matches all.
	ListMatches(ctx context.Context, status MatchStatus, limit int) ([]Match, error)
	// GetMatch returns the match with its linked rooms
	GetMatch(ctx context.Context, id string) (Match, error)
	// UpsertMatch inserts or updates by ExternalID and returns the stored match
	UpsertMatch(ctx context.Context, m Match) (Match, error)
	LinkMatchRoom(ctx context.Context, matchID, roomID string) error
}

type HotTopicStore interface {
	// TopHotTopics returns up to n active topics by velocity, highest first
	TopHotTopics(ctx context.Context, roomID string, n int) ([]HotTopic, error)
	CreateHotTopic(ctx context.Context, t HotTopic) (HotTopic, error)
	// GetHotTopic returns ErrNotFound for an unknown id
	GetHotTopic(ctx context.Context, id string) (HotTopic, error)
	// UpsertHotTopicVote replaces the user's answer and keeps the original CreatedAt
	UpsertHotTopicVote(ctx context.Context, v HotTopicVote) error
	// RefreshHotTopicStats recomputes yes/no counts and velocity as of now
	RefreshHotTopicStats(ctx context.Context, topicID string, now time.Time) (HotTopic, error)
}

type Store interface {
	VoteStore
	SummaryStore
	MatchStore
	HotTopicStore
	Ping(ctx context.Context) error
}

// withSummaries routes summary calls to a separate SummaryStore
type withSummaries struct {
	Store
	summaries SummaryStore
}

// WithSummaries returns s with LatestSummary and SaveSummary served by sums
func WithSummaries(s Store, sums SummaryStore) Store {
	if sums == nil {
		return s
	}
	return &withSummaries{Store: s, summaries: sums}
}

func (w *withSummaries) LatestSummary(ctx context.Context, roomID string) (RoomSummary, error) {
	return w.summaries.LatestSummary(ctx, roomID)
}

func (w *withSummaries) SaveSummary(ctx context.Context, s RoomSummary) error {
	return w.summaries.SaveSummary(ctx, s)
}
