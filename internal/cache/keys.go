package cache

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// namespaces, the first segment of every key
const (
	NamespaceSummary   = "summary"
	NamespaceVotes     = "votes"
	NamespaceMatch     = "match"
	NamespaceHotTopics = "hot_topics"
)

// TTL policy per namespace
const (
	SummaryTTL   = 5 * time.Minute
	VotesTTL     = 2 * time.Minute
	MatchTTL     = time.Minute
	HotTopicsTTL = 30 * time.Second
)

const sep = ":"

// escape keeps the separator out of caller supplied segments so a scope prefix
// can never match a neighbouring scope (room1 vs room10, a:b vs a + b)
func escape(seg string) string {
	return url.QueryEscape(seg)
}

// Key joins a namespace and escaped segments: ns:seg1:seg2
func Key(namespace string, segments ...string) string {
	var b strings.Builder
	b.WriteString(namespace)
	for _, s := range segments {
		b.WriteString(sep)
		b.WriteString(escape(s))
	}
	return b.String()
}

// Scope returns the prefix shared by every key under namespace and scopes,
// including the trailing separator. Use with Store.InvalidatePrefix.
func Scope(namespace string, scopes ...string) string {
	return Key(namespace, scopes...) + sep
}

// Namespace returns the first segment of key, used as a low cardinality metric label
func Namespace(key string) string {
	if i := strings.Index(key, sep); i >= 0 {
		return key[:i]
	}
	return key
}

func SummaryKey(roomID string) string { return Key(NamespaceSummary, roomID) }

func MatchKey(matchID string) string { return Key(NamespaceMatch, matchID) }

func HotTopicsKey(roomID string) string { return Key(NamespaceHotTopics, roomID) }

// VotesQuery identifies one cached vote thread listing
type VotesQuery struct {
	RoomID   string
	Stance   string
	Topic    string
	Subtopic string
	Limit    int
}

// VotesKey renders votes:<room>:<stance|all>[:t=<topic>][:s=<subtopic>][:n=<limit>].
// Every variant of a room shares Scope(NamespaceVotes, room).
func VotesKey(q VotesQuery) string {
	stance := q.Stance
	if stance == "" {
		stance = "all"
	}
	k := Key(NamespaceVotes, q.RoomID, stance)
	if q.Topic != "" {
		k += sep + "t=" + escape(q.Topic)
	}
	if q.Subtopic != "" {
		k += sep + "s=" + escape(q.Subtopic)
	}
	if q.Limit > 0 {
		k += sep + "n=" + strconv.Itoa(q.Limit)
	}
	return k
}
