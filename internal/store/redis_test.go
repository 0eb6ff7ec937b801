package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewRedis(client, "test")
}

func TestRedisPing(t *testing.T) {
	mr, r := newTestRedis(t)
	assert.NoError(t, r.Ping(context.Background()))

	mr.Close()
	assert.Error(t, r.Ping(context.Background()))
}

func TestRedisVotes(t *testing.T) {
	ctx := context.Background()
	_, r := newTestRedis(t)

	for i, c := range []string{"press high", "slow build up", "Press again"} {
		_, err := r.InsertVote(ctx, Vote{RoomID: "r1", UserID: "u", Stance: StanceSupport, Comment: c, CreatedAt: t0.Add(time.Duration(i) * time.Second)})
		require.NoError(t, err)
	}
	_, err := r.InsertVote(ctx, Vote{RoomID: "r2", Stance: StanceOppose, Comment: "x", CreatedAt: t0.Add(time.Hour)})
	require.NoError(t, err)

	got, err := r.ListVotes(ctx, VoteFilter{RoomID: "r1", Keyword: "press"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Press again", got[0].Comment)
	assert.Equal(t, "press high", got[1].Comment)
	assert.NotEmpty(t, got[0].ID)
	assert.True(t, got[0].CreatedAt.Equal(t0.Add(2*time.Second)))

	recent, err := r.RecentVotes(ctx, "r1", 2)
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	none, err := r.ListVotes(ctx, VoteFilter{RoomID: "empty"})
	require.NoError(t, err)
	assert.Empty(t, none)

	rooms, err := r.RoomsWithVotesSince(ctx, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"r2"}, rooms)
}

func TestRedisSummary(t *testing.T) {
	ctx := context.Background()
	_, r := newTestRedis(t)

	_, err := r.LatestSummary(ctx, "r1")
	assert.ErrorIs(t, err, ErrNotFound)

	in := RoomSummary{
		RoomID:      "r1",
		MatchLabel:  "A vs B",
		UpdatedAt:   t0,
		BatchPolicy: "5m",
		Topics:      []TopicSummary{{ID: "topic-1", Title: "press", Counts: TopicCounts{Support: 2}}},
	}
	require.NoError(t, r.SaveSummary(ctx, in))

	got, err := r.LatestSummary(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, in.MatchLabel, got.MatchLabel)
	assert.Equal(t, in.Topics, got.Topics)
	assert.True(t, in.UpdatedAt.Equal(got.UpdatedAt))
}

func TestRedisMatches(t *testing.T) {
	ctx := context.Background()
	_, r := newTestRedis(t)

	a, err := r.UpsertMatch(ctx, Match{ExternalID: "100", HomeTeam: "A", AwayTeam: "B", Status: MatchScheduled, KickoffTime: t0})
	require.NoError(t, err)
	b, err := r.UpsertMatch(ctx, Match{ExternalID: "100", HomeTeam: "A", AwayTeam: "B", Status: MatchLive, KickoffTime: t0, HomeScore: 2})
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)

	_, err = r.UpsertMatch(ctx, Match{ExternalID: "200", Status: MatchScheduled, KickoffTime: t0.Add(time.Hour)})
	require.NoError(t, err)

	require.NoError(t, r.LinkMatchRoom(ctx, a.ID, "match_100"))
	assert.ErrorIs(t, r.LinkMatchRoom(ctx, "missing", "x"), ErrNotFound)

	got, err := r.GetMatch(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.HomeScore)
	assert.Equal(t, MatchLive, got.Status)
	assert.Equal(t, []string{"match_100"}, got.Rooms)

	_, err = r.GetMatch(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := r.ListMatches(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "200", all[0].ExternalID)

	live, err := r.ListMatches(ctx, MatchLive, 10)
	require.NoError(t, err)
	assert.Len(t, live, 1)
}

func TestRedisHotTopics(t *testing.T) {
	ctx := context.Background()
	_, r := newTestRedis(t)

	topic, err := r.CreateHotTopic(ctx, HotTopic{RoomID: "r1", TopicText: "Sub the striker?", CreatedAt: t0})
	require.NoError(t, err)
	assert.True(t, topic.IsActive)

	now := t0.Add(10 * time.Minute)
	require.NoError(t, r.UpsertHotTopicVote(ctx, HotTopicVote{HotTopicID: topic.ID, UserID: "u1", Vote: true, CreatedAt: t0}))
	require.NoError(t, r.UpsertHotTopicVote(ctx, HotTopicVote{HotTopicID: topic.ID, UserID: "u2", Vote: true, CreatedAt: now}))
	require.NoError(t, r.UpsertHotTopicVote(ctx, HotTopicVote{HotTopicID: topic.ID, UserID: "u1", Vote: false, CreatedAt: now}))
	assert.ErrorIs(t, r.UpsertHotTopicVote(ctx, HotTopicVote{HotTopicID: "missing", UserID: "u1"}), ErrNotFound)

	got, err := r.RefreshHotTopicStats(ctx, topic.ID, now)
	require.NoError(t, err)
	assert.Equal(t, 1, got.YesCount)
	assert.Equal(t, 1, got.NoCount)
	assert.InDelta(t, 0.2, got.VelocityScore, 1e-9)

	top, err := r.TopHotTopics(ctx, "r1", 3)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, topic.ID, top[0].ID)
	assert.Equal(t, 1, top[0].NoCount)

	_, err = r.RefreshHotTopicStats(ctx, "missing", now)
	assert.ErrorIs(t, err, ErrNotFound)

	stored, err := r.GetHotTopic(ctx, topic.ID)
	require.NoError(t, err)
	assert.Equal(t, "r1", stored.RoomID)
	_, err = r.GetHotTopic(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
