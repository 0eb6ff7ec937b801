package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Store. Data is lost on restart.
type Memory struct {
	mu sync.RWMutex

	// votes per room in insertion order, oldest first
	votes     map[string][]Vote
	lastVote  map[string]time.Time
	summaries map[string]RoomSummary

	matches    map[string]Match
	byExternal map[string]string
	matchRooms map[string][]string

	hotTopics     map[string]HotTopic
	hotTopicVotes map[string]map[string]HotTopicVote
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		votes:         make(map[string][]Vote),
		lastVote:      make(map[string]time.Time),
		summaries:     make(map[string]RoomSummary),
		matches:       make(map[string]Match),
		byExternal:    make(map[string]string),
		matchRooms:    make(map[string][]string),
		hotTopics:     make(map[string]HotTopic),
		hotTopicVotes: make(map[string]map[string]HotTopicVote),
	}
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) InsertVote(_ context.Context, v Vote) (Vote, error) {
	v.ID = uuid.NewString()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	m.votes[v.RoomID] = append(m.votes[v.RoomID], v)
	if v.CreatedAt.After(m.lastVote[v.RoomID]) {
		m.lastVote[v.RoomID] = v.CreatedAt
	}
	m.mu.Unlock()
	return v, nil
}

func (m *Memory) ListVotes(_ context.Context, f VoteFilter) ([]Vote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.votes[f.RoomID]
	out := make([]Vote, 0, min(len(all), max(f.Limit, 0)))
	for i := len(all) - 1; i >= 0; i-- {
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
		if f.match(all[i]) {
			out = append(out, all[i])
		}
	}
	return out, nil
}

func (m *Memory) RecentVotes(ctx context.Context, roomID string, n int) ([]Vote, error) {
	return m.ListVotes(ctx, VoteFilter{RoomID: roomID, Limit: n})
}

func (m *Memory) RoomsWithVotesSince(_ context.Context, since time.Time) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var rooms []string
	for room, at := range m.lastVote {
		if !at.Before(since) {
			rooms = append(rooms, room)
		}
	}
	sort.Strings(rooms)
	return rooms, nil
}

func (m *Memory) LatestSummary(_ context.Context, roomID string) (RoomSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.summaries[roomID]
	if !ok {
		return RoomSummary{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) SaveSummary(_ context.Context, s RoomSummary) error {
	m.mu.Lock()
	m.summaries[s.RoomID] = s
	m.mu.Unlock()
	return nil
}

func (m *Memory) ListMatches(_ context.Context, status MatchStatus, limit int) ([]Match, error) {
	m.mu.RLock()
	out := make([]Match, 0, len(m.matches))
	for _, mt := range m.matches {
		if status == "" || mt.Status == status {
			out = append(out, mt)
		}
	}
	m.mu.RUnlock()
	return sortMatches(out, limit), nil
}

func (m *Memory) GetMatch(_ context.Context, id string) (Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mt, ok := m.matches[id]
	if !ok {
		return Match{}, ErrNotFound
	}
	mt.Rooms = append([]string(nil), m.matchRooms[id]...)
	return mt, nil
}

func (m *Memory) UpsertMatch(_ context.Context, mt Match) (Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byExternal[mt.ExternalID]; ok && mt.ExternalID != "" {
		mt.ID = id
	} else {
		mt.ID = uuid.NewString()
		if mt.ExternalID != "" {
			m.byExternal[mt.ExternalID] = mt.ID
		}
	}
	if mt.UpdatedAt.IsZero() {
		mt.UpdatedAt = time.Now().UTC()
	}
	mt.Rooms = nil
	m.matches[mt.ID] = mt
	return mt, nil
}

func (m *Memory) LinkMatchRoom(_ context.Context, matchID, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.matches[matchID]; !ok {
		return ErrNotFound
	}
	for _, r := range m.matchRooms[matchID] {
		if r == roomID {
			return nil
		}
	}
	m.matchRooms[matchID] = append(m.matchRooms[matchID], roomID)
	return nil
}

func (m *Memory) TopHotTopics(_ context.Context, roomID string, n int) ([]HotTopic, error) {
	m.mu.RLock()
	var out []HotTopic
	for _, t := range m.hotTopics {
		if t.RoomID == roomID && t.IsActive {
			out = append(out, t)
		}
	}
	m.mu.RUnlock()
	return rankHotTopics(out, n), nil
}

func (m *Memory) CreateHotTopic(_ context.Context, t HotTopic) (HotTopic, error) {
	t = newHotTopic(t)
	m.mu.Lock()
	m.hotTopics[t.ID] = t
	m.mu.Unlock()
	return t, nil
}

func (m *Memory) GetHotTopic(_ context.Context, id string) (HotTopic, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.hotTopics[id]
	if !ok {
		return HotTopic{}, ErrNotFound
	}
	return t, nil
}

func (m *Memory) UpsertHotTopicVote(_ context.Context, v HotTopicVote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.hotTopics[v.HotTopicID]; !ok {
		return ErrNotFound
	}
	votes := m.hotTopicVotes[v.HotTopicID]
	if votes == nil {
		votes = make(map[string]HotTopicVote)
		m.hotTopicVotes[v.HotTopicID] = votes
	}
	votes[v.UserID] = mergeHotTopicVote(votes[v.UserID], v)
	return nil
}

func (m *Memory) RefreshHotTopicStats(_ context.Context, topicID string, now time.Time) (HotTopic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.hotTopics[topicID]
	if !ok {
		return HotTopic{}, ErrNotFound
	}
	votes := make([]HotTopicVote, 0, len(m.hotTopicVotes[topicID]))
	for _, v := range m.hotTopicVotes[topicID] {
		votes = append(votes, v)
	}
	t = hotTopicStats(t, votes, now)
	m.hotTopics[topicID] = t
	return t, nil
}

// shared between backends

func newHotTopic(t HotTopic) HotTopic {
	t.ID = uuid.NewString()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	t.UpdatedAt = t.CreatedAt
	t.YesCount, t.NoCount, t.VelocityScore = 0, 0, 0
	t.IsActive = true
	return t
}

// mergeHotTopicVote applies next over prev, keeping the first answer's CreatedAt
func mergeHotTopicVote(prev, next HotTopicVote) HotTopicVote {
	at := next.CreatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	next.CreatedAt, next.UpdatedAt = at, at
	if !prev.CreatedAt.IsZero() {
		next.CreatedAt = prev.CreatedAt
	}
	return next
}

func sortMatches(ms []Match, limit int) []Match {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].KickoffTime.Equal(ms[j].KickoffTime) {
			return ms[i].ID < ms[j].ID
		}
		return ms[i].KickoffTime.After(ms[j].KickoffTime)
	})
	if limit > 0 && len(ms) > limit {
		ms = ms[:limit]
	}
	return ms
}

func rankHotTopics(ts []HotTopic, n int) []HotTopic {
	sort.Slice(ts, func(i, j int) bool {
		if ts[i].VelocityScore == ts[j].VelocityScore {
			return ts[i].CreatedAt.After(ts[j].CreatedAt)
		}
		return ts[i].VelocityScore > ts[j].VelocityScore
	})
	if n > 0 && len(ts) > n {
		ts = ts[:n]
	}
	return ts
}
