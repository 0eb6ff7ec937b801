package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

var t0 = time.Date(2026, 2, 7, 12, 0, 0, 0, time.UTC)

func TestParseStance(t *testing.T) {
	for _, s := range []string{"support", "oppose", "neutral"} {
		if _, ok := ParseStance(s); !ok {
			t.Errorf("%q should parse", s)
		}
	}
	for _, s := range []string{"", "Support", "maybe"} {
		if _, ok := ParseStance(s); ok {
			t.Errorf("%q should not parse", s)
		}
	}
}

func TestNormalizeMatchStatus(t *testing.T) {
	tests := map[string]MatchStatus{
		"LIVE":      MatchLive,
		"IN_PLAY":   MatchLive,
		"PAUSED":    MatchLive,
		"in_play":   MatchLive,
		"FINISHED":  MatchFinished,
		"POSTPONED": MatchPostponed,
		"TIMED":     MatchScheduled,
		"":          MatchScheduled,
	}
	for in, want := range tests {
		if got := NormalizeMatchStatus(in); got != want {
			t.Errorf("NormalizeMatchStatus(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestMemory_VotesNewestFirstWithFilter(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	comments := []string{"High press works", "midfield is too slow", "PRESS is risky", "fine"}
	stances := []Stance{StanceSupport, StanceOppose, StanceOppose, StanceNeutral}
	for i := range comments {
		if _, err := m.InsertVote(ctx, Vote{RoomID: "r1", UserID: "u", Stance: stances[i], Comment: comments[i], CreatedAt: t0.Add(time.Duration(i) * time.Second)}); err != nil {
			t.Fatalf("InsertVote: %v", err)
		}
	}
	m.InsertVote(ctx, Vote{RoomID: "r2", Stance: StanceSupport, Comment: "press"})

	got, err := m.ListVotes(ctx, VoteFilter{RoomID: "r1", Keyword: "press"})
	if err != nil {
		t.Fatalf("ListVotes: %v", err)
	}
	if len(got) != 2 || got[0].Comment != "PRESS is risky" || got[1].Comment != "High press works" {
		t.Fatalf("keyword filter = %+v", got)
	}

	got, _ = m.ListVotes(ctx, VoteFilter{RoomID: "r1", Stance: StanceOppose, Limit: 1})
	if len(got) != 1 || got[0].Comment != "PRESS is risky" {
		t.Fatalf("stance+limit = %+v", got)
	}

	recent, _ := m.RecentVotes(ctx, "r1", 3)
	if len(recent) != 3 || recent[0].Comment != "fine" {
		t.Fatalf("RecentVotes = %+v", recent)
	}
	if recent[0].ID == "" {
		t.Fatal("InsertVote should assign an id")
	}
}

func TestMemory_RoomsWithVotesSince(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.InsertVote(ctx, Vote{RoomID: "old", CreatedAt: t0})
	m.InsertVote(ctx, Vote{RoomID: "new", CreatedAt: t0.Add(time.Hour)})

	rooms, _ := m.RoomsWithVotesSince(ctx, t0.Add(time.Minute))
	if len(rooms) != 1 || rooms[0] != "new" {
		t.Fatalf("rooms = %v", rooms)
	}
}

func TestMemory_Summary(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if _, err := m.LatestSummary(ctx, "r1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	m.SaveSummary(ctx, RoomSummary{RoomID: "r1", MatchLabel: "A vs B"})
	s, err := m.LatestSummary(ctx, "r1")
	if err != nil || s.MatchLabel != "A vs B" {
		t.Fatalf("LatestSummary = %+v, %v", s, err)
	}
}

func TestMemory_MatchesUpsertByExternalID(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a, _ := m.UpsertMatch(ctx, Match{ExternalID: "100", HomeTeam: "A", Status: MatchScheduled, KickoffTime: t0})
	b, _ := m.UpsertMatch(ctx, Match{ExternalID: "100", HomeTeam: "A", Status: MatchLive, KickoffTime: t0, HomeScore: 1})
	if a.ID != b.ID {
		t.Fatalf("upsert by external id changed id: %s -> %s", a.ID, b.ID)
	}
	m.UpsertMatch(ctx, Match{ExternalID: "200", Status: MatchScheduled, KickoffTime: t0.Add(time.Hour)})

	if err := m.LinkMatchRoom(ctx, a.ID, "match_100"); err != nil {
		t.Fatalf("LinkMatchRoom: %v", err)
	}
	m.LinkMatchRoom(ctx, a.ID, "match_100")
	if err := m.LinkMatchRoom(ctx, "missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("link missing match err = %v", err)
	}

	got, err := m.GetMatch(ctx, a.ID)
	if err != nil || got.HomeScore != 1 || len(got.Rooms) != 1 {
		t.Fatalf("GetMatch = %+v, %v", got, err)
	}

	all, _ := m.ListMatches(ctx, "", 10)
	if len(all) != 2 || all[0].ExternalID != "200" {
		t.Fatalf("ListMatches should order by kickoff desc, got %+v", all)
	}
	live, _ := m.ListMatches(ctx, MatchLive, 10)
	if len(live) != 1 {
		t.Fatalf("live = %d, want 1", len(live))
	}
	limited, _ := m.ListMatches(ctx, "", 1)
	if len(limited) != 1 {
		t.Fatalf("limit ignored: %d", len(limited))
	}
	if _, err := m.GetMatch(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetMatch missing err = %v", err)
	}
}

func TestMemory_HotTopicVotesAndVelocity(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	topic, _ := m.CreateHotTopic(ctx, HotTopic{RoomID: "r1", TopicText: "Sub the striker?", CreatedAt: t0})

	// one old vote outside the velocity window, two recent
	m.UpsertHotTopicVote(ctx, HotTopicVote{HotTopicID: topic.ID, UserID: "u1", Vote: true, CreatedAt: t0})
	now := t0.Add(10 * time.Minute)
	m.UpsertHotTopicVote(ctx, HotTopicVote{HotTopicID: topic.ID, UserID: "u2", Vote: false, CreatedAt: now})
	m.UpsertHotTopicVote(ctx, HotTopicVote{HotTopicID: topic.ID, UserID: "u3", Vote: true, CreatedAt: now})
	// u1 changes their answer, CreatedAt stays at t0
	m.UpsertHotTopicVote(ctx, HotTopicVote{HotTopicID: topic.ID, UserID: "u1", Vote: false, CreatedAt: now})

	got, err := m.RefreshHotTopicStats(ctx, topic.ID, now)
	if err != nil {
		t.Fatalf("RefreshHotTopicStats: %v", err)
	}
	if got.YesCount != 1 || got.NoCount != 2 {
		t.Fatalf("counts yes=%d no=%d, want 1, 2", got.YesCount, got.NoCount)
	}
	if got.VelocityScore != 0.4 {
		t.Fatalf("velocity = %v, want 0.4", got.VelocityScore)
	}

	if err := m.UpsertHotTopicVote(ctx, HotTopicVote{HotTopicID: "missing", UserID: "u1"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("vote on missing topic err = %v", err)
	}
}

func TestMemory_GetHotTopic(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	topic, _ := m.CreateHotTopic(ctx, HotTopic{RoomID: "r1", TopicText: "Press higher?", CreatedAt: t0})

	got, err := m.GetHotTopic(ctx, topic.ID)
	if err != nil {
		t.Fatalf("GetHotTopic: %v", err)
	}
	if got.RoomID != "r1" || got.TopicText != "Press higher?" {
		t.Fatalf("GetHotTopic = %+v", got)
	}
	if _, err := m.GetHotTopic(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing topic err = %v, want ErrNotFound", err)
	}
}

func TestMemory_TopHotTopicsRanking(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	var ids []string
	for i := 0; i < 4; i++ {
		topic, _ := m.CreateHotTopic(ctx, HotTopic{RoomID: "r1", TopicText: fmt.Sprintf("t%d", i), CreatedAt: t0})
		ids = append(ids, topic.ID)
	}
	m.CreateHotTopic(ctx, HotTopic{RoomID: "other", TopicText: "x"})

	now := t0.Add(time.Minute)
	for i, id := range ids {
		for u := 0; u < i; u++ {
			m.UpsertHotTopicVote(ctx, HotTopicVote{HotTopicID: id, UserID: fmt.Sprintf("u%d", u), Vote: true, CreatedAt: now})
		}
		m.RefreshHotTopicStats(ctx, id, now)
	}

	top, _ := m.TopHotTopics(ctx, "r1", 3)
	if len(top) != 3 {
		t.Fatalf("len = %d, want 3", len(top))
	}
	if top[0].TopicText != "t3" || top[2].TopicText != "t1" {
		t.Fatalf("ranking = %s %s %s", top[0].TopicText, top[1].TopicText, top[2].TopicText)
	}
}

func TestWithSummaries_RoutesSummaryCalls(t *testing.T) {
	ctx := context.Background()
	base := NewMemory()
	sums := NewMemory()
	s := WithSummaries(base, sums)

	s.SaveSummary(ctx, RoomSummary{RoomID: "r1"})
	if _, err := base.LatestSummary(ctx, "r1"); !errors.Is(err, ErrNotFound) {
		t.Fatal("summary should not reach the base store")
	}
	if _, err := sums.LatestSummary(ctx, "r1"); err != nil {
		t.Fatalf("summary store: %v", err)
	}
	if WithSummaries(base, nil) != Store(base) {
		t.Fatal("nil summaries should return the base store")
	}
}
