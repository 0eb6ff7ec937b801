package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/keithlinneman/stancemap/internal/xerrors"
)

// DefaultQueryTimeout bounds every redis round trip
const DefaultQueryTimeout = 5 * time.Second

// scanPage is how many votes ListVotes pulls per round trip while filtering
const scanPage = 200

// Redis is a Store backed by redis. Keys:
//
//	<prefix>:votes:<room>            zset of msgpack votes scored by created_at ms
//	<prefix>:vote_rooms              zset of rooms scored by last vote ms
//	<prefix>:summary:<room>          msgpack RoomSummary
//	<prefix>:matches                 hash id -> msgpack Match
//	<prefix>:match_ext               hash external id -> id
//	<prefix>:match_rooms:<id>        set of room ids
//	<prefix>:hot_topics:<room>       hash id -> msgpack HotTopic
//	<prefix>:hot_topic_room          hash topic id -> room
//	<prefix>:hot_topic_votes:<id>    hash user id -> msgpack HotTopicVote
type Redis struct {
	client       *redis.Client
	prefix       string
	queryTimeout time.Duration
}

var _ Store = (*Redis)(nil)

// NewRedis wraps client. The caller owns the client lifecycle.
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "stancemap"
	}
	return &Redis{client: client, prefix: prefix, queryTimeout: DefaultQueryTimeout}
}

func (r *Redis) key(parts ...string) string {
	k := r.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (r *Redis) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, r.queryTimeout)
}

func score(t time.Time) float64 { return float64(t.UnixMilli()) }

func (r *Redis) Ping(ctx context.Context) error {
	qctx, cancel := r.queryCtx(ctx)
	defer cancel()
	if err := r.client.Ping(qctx).Err(); err != nil {
		return xerrors.Wrap(err, "redis ping")
	}
	return nil
}

func (r *Redis) InsertVote(ctx context.Context, v Vote) (Vote, error) {
	v.ID = uuid.NewString()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	data, err := msgpack.Marshal(v)
	if err != nil {
		return Vote{}, xerrors.Wrap(err, "encode vote")
	}
	qctx, cancel := r.queryCtx(ctx)
	defer cancel()
	_, err = r.client.TxPipelined(qctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(qctx, r.key("votes", v.RoomID), redis.Z{Score: score(v.CreatedAt), Member: data})
		pipe.ZAddGT(qctx, r.key("vote_rooms"), redis.Z{Score: score(v.CreatedAt), Member: v.RoomID})
		return nil
	})
	if err != nil {
		return Vote{}, xerrors.Wrapf(err, "insert vote room=%s", v.RoomID)
	}
	return v, nil
}

func (r *Redis) ListVotes(ctx context.Context, f VoteFilter) ([]Vote, error) {
	qctx, cancel := r.queryCtx(ctx)
	defer cancel()
	key := r.key("votes", f.RoomID)

	var out []Vote
	for start := int64(0); ; start += scanPage {
		raw, err := r.client.ZRevRange(qctx, key, start, start+scanPage-1).Result()
		if err != nil {
			return nil, xerrors.Wrapf(err, "list votes room=%s", f.RoomID)
		}
		for _, m := range raw {
			var v Vote
			if err := msgpack.Unmarshal([]byte(m), &v); err != nil {
				return nil, xerrors.Wrap(err, "decode vote")
			}
			if !f.match(v) {
				continue
			}
			out = append(out, v)
			if f.Limit > 0 && len(out) >= f.Limit {
				return out, nil
			}
		}
		if len(raw) < scanPage {
			return out, nil
		}
	}
}

func (r *Redis) RecentVotes(ctx context.Context, roomID string, n int) ([]Vote, error) {
	return r.ListVotes(ctx, VoteFilter{RoomID: roomID, Limit: n})
}

func (r *Redis) RoomsWithVotesSince(ctx context.Context, since time.Time) ([]string, error) {
	qctx, cancel := r.queryCtx(ctx)
	defer cancel()
	rooms, err := r.client.ZRangeByScore(qctx, r.key("vote_rooms"), &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, xerrors.Wrap(err, "rooms with votes")
	}
	return rooms, nil
}

func (r *Redis) LatestSummary(ctx context.Context, roomID string) (RoomSummary, error) {
	qctx, cancel := r.queryCtx(ctx)
	defer cancel()
	data, err := r.client.Get(qctx, r.key("summary", roomID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return RoomSummary{}, ErrNotFound
	}
	if err != nil {
		return RoomSummary{}, xerrors.Wrapf(err, "get summary room=%s", roomID)
	}
	var s RoomSummary
	if err := msgpack.Unmarshal(data, &s); err != nil {
		return RoomSummary{}, xerrors.Wrap(err, "decode summary")
	}
	return s, nil
}

func (r *Redis) SaveSummary(ctx context.Context, s RoomSummary) error {
	data, err := msgpack.Marshal(s)
	if err != nil {
		return xerrors.Wrap(err, "encode summary")
	}
	qctx, cancel := r.queryCtx(ctx)
	defer cancel()
	if err := r.client.Set(qctx, r.key("summary", s.RoomID), data, 0).Err(); err != nil {
		return xerrors.Wrapf(err, "save summary room=%s", s.RoomID)
	}
	return nil
}

func (r *Redis) ListMatches(ctx context.Context, status MatchStatus, limit int) ([]Match, error) {
	qctx, cancel := r.queryCtx(ctx)
	defer cancel()
	raw, err := r.client.HGetAll(qctx, r.key("matches")).Result()
	if err != nil {
		return nil, xerrors.Wrap(err, "list matches")
	}
	out := make([]Match, 0, len(raw))
	for _, data := range raw {
		var m Match
		if err := msgpack.Unmarshal([]byte(data), &m); err != nil {
			return nil, xerrors.Wrap(err, "decode match")
		}
		if status == "" || m.Status == status {
			out = append(out, m)
		}
	}
	return sortMatches(out, limit), nil
}

func (r *Redis) GetMatch(ctx context.Context, id string) (Match, error) {
	qctx, cancel := r.queryCtx(ctx)
	defer cancel()
	data, err := r.client.HGet(qctx, r.key("matches"), id).Bytes()
	if errors.Is(err, redis.Nil) {
		return Match{}, ErrNotFound
	}
	if err != nil {
		return Match{}, xerrors.Wrapf(err, "get match id=%s", id)
	}
	var m Match
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return Match{}, xerrors.Wrap(err, "decode match")
	}
	rooms, err := r.client.SMembers(qctx, r.key("match_rooms", id)).Result()
	if err != nil {
		return Match{}, xerrors.Wrapf(err, "match rooms id=%s", id)
	}
	m.Rooms = rooms
	return m, nil
}

func (r *Redis) UpsertMatch(ctx context.Context, m Match) (Match, error) {
	qctx, cancel := r.queryCtx(ctx)
	defer cancel()

	m.ID = ""
	if m.ExternalID != "" {
		id, err := r.client.HGet(qctx, r.key("match_ext"), m.ExternalID).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return Match{}, xerrors.Wrapf(err, "lookup match external_id=%s", m.ExternalID)
		}
		m.ID = id
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = time.Now().UTC()
	}
	m.Rooms = nil

	data, err := msgpack.Marshal(m)
	if err != nil {
		return Match{}, xerrors.Wrap(err, "encode match")
	}
	_, err = r.client.TxPipelined(qctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(qctx, r.key("matches"), m.ID, data)
		if m.ExternalID != "" {
			pipe.HSet(qctx, r.key("match_ext"), m.ExternalID, m.ID)
		}
		return nil
	})
	if err != nil {
		return Match{}, xerrors.Wrapf(err, "upsert match id=%s", m.ID)
	}
	return m, nil
}

func (r *Redis) LinkMatchRoom(ctx context.Context, matchID, roomID string) error {
	qctx, cancel := r.queryCtx(ctx)
	defer cancel()
	ok, err := r.client.HExists(qctx, r.key("matches"), matchID).Result()
	if err != nil {
		return xerrors.Wrapf(err, "check match id=%s", matchID)
	}
	if !ok {
		return ErrNotFound
	}
	if err := r.client.SAdd(qctx, r.key("match_rooms", matchID), roomID).Err(); err != nil {
		return xerrors.Wrapf(err, "link match id=%s room=%s", matchID, roomID)
	}
	return nil
}

func (r *Redis) TopHotTopics(ctx context.Context, roomID string, n int) ([]HotTopic, error) {
	qctx, cancel := r.queryCtx(ctx)
	defer cancel()
	raw, err := r.client.HGetAll(qctx, r.key("hot_topics", roomID)).Result()
	if err != nil {
		return nil, xerrors.Wrapf(err, "list hot topics room=%s", roomID)
	}
	var out []HotTopic
	for _, data := range raw {
		var t HotTopic
		if err := msgpack.Unmarshal([]byte(data), &t); err != nil {
			return nil, xerrors.Wrap(err, "decode hot topic")
		}
		if t.IsActive {
			out = append(out, t)
		}
	}
	return rankHotTopics(out, n), nil
}

func (r *Redis) CreateHotTopic(ctx context.Context, t HotTopic) (HotTopic, error) {
	t = newHotTopic(t)
	if err := r.putHotTopic(ctx, t); err != nil {
		return HotTopic{}, err
	}
	return t, nil
}

func (r *Redis) putHotTopic(ctx context.Context, t HotTopic) error {
	data, err := msgpack.Marshal(t)
	if err != nil {
		return xerrors.Wrap(err, "encode hot topic")
	}
	qctx, cancel := r.queryCtx(ctx)
	defer cancel()
	_, err = r.client.TxPipelined(qctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(qctx, r.key("hot_topics", t.RoomID), t.ID, data)
		pipe.HSet(qctx, r.key("hot_topic_room"), t.ID, t.RoomID)
		return nil
	})
	if err != nil {
		return xerrors.Wrapf(err, "save hot topic id=%s", t.ID)
	}
	return nil
}

func (r *Redis) GetHotTopic(ctx context.Context, id string) (HotTopic, error) {
	qctx, cancel := r.queryCtx(ctx)
	defer cancel()
	room, err := r.client.HGet(qctx, r.key("hot_topic_room"), id).Result()
	if errors.Is(err, redis.Nil) {
		return HotTopic{}, ErrNotFound
	}
	if err != nil {
		return HotTopic{}, xerrors.Wrapf(err, "lookup hot topic id=%s", id)
	}
	data, err := r.client.HGet(qctx, r.key("hot_topics", room), id).Bytes()
	if errors.Is(err, redis.Nil) {
		return HotTopic{}, ErrNotFound
	}
	if err != nil {
		return HotTopic{}, xerrors.Wrapf(err, "get hot topic id=%s", id)
	}
	var t HotTopic
	if err := msgpack.Unmarshal(data, &t); err != nil {
		return HotTopic{}, xerrors.Wrap(err, "decode hot topic")
	}
	return t, nil
}

func (r *Redis) UpsertHotTopicVote(ctx context.Context, v HotTopicVote) error {
	if _, err := r.GetHotTopic(ctx, v.HotTopicID); err != nil {
		return err
	}
	qctx, cancel := r.queryCtx(ctx)
	defer cancel()
	key := r.key("hot_topic_votes", v.HotTopicID)

	var prev HotTopicVote
	data, err := r.client.HGet(qctx, key, v.UserID).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return xerrors.Wrapf(err, "get hot topic vote topic=%s", v.HotTopicID)
	default:
		if err := msgpack.Unmarshal(data, &prev); err != nil {
			return xerrors.Wrap(err, "decode hot topic vote")
		}
	}

	data, err = msgpack.Marshal(mergeHotTopicVote(prev, v))
	if err != nil {
		return xerrors.Wrap(err, "encode hot topic vote")
	}
	if err := r.client.HSet(qctx, key, v.UserID, data).Err(); err != nil {
		return xerrors.Wrapf(err, "save hot topic vote topic=%s", v.HotTopicID)
	}
	return nil
}

func (r *Redis) RefreshHotTopicStats(ctx context.Context, topicID string, now time.Time) (HotTopic, error) {
	t, err := r.GetHotTopic(ctx, topicID)
	if err != nil {
		return HotTopic{}, err
	}
	qctx, cancel := r.queryCtx(ctx)
	raw, err := r.client.HVals(qctx, r.key("hot_topic_votes", topicID)).Result()
	cancel()
	if err != nil {
		return HotTopic{}, xerrors.Wrapf(err, "list hot topic votes topic=%s", topicID)
	}
	votes := make([]HotTopicVote, 0, len(raw))
	for _, data := range raw {
		var v HotTopicVote
		if err := msgpack.Unmarshal([]byte(data), &v); err != nil {
			return HotTopic{}, xerrors.Wrap(err, "decode hot topic vote")
		}
		votes = append(votes, v)
	}
	t = hotTopicStats(t, votes, now)
	if err := r.putHotTopic(ctx, t); err != nil {
		return HotTopic{}, err
	}
	return t, nil
}
