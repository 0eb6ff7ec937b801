package cache

import (
	"strings"
	"testing"
)

func TestKeyBuilders(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"summary", SummaryKey("default"), "summary:default"},
		{"match", MatchKey("42"), "match:42"},
		{"hot topics", HotTopicsKey("r1"), "hot_topics:r1"},
		{"votes all", VotesKey(VotesQuery{RoomID: "r1"}), "votes:r1:all"},
		{"votes stance", VotesKey(VotesQuery{RoomID: "r1", Stance: "oppose"}), "votes:r1:oppose"},
		{"votes full", VotesKey(VotesQuery{RoomID: "r1", Stance: "support", Topic: "press", Subtopic: "high line", Limit: 50}),
			"votes:r1:support:t=press:s=high+line:n=50"},
		{"escaped room", SummaryKey("a:b"), "summary:a%3Ab"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Fatalf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestScope_DoesNotMatchNeighbours(t *testing.T) {
	prefix := Scope(NamespaceVotes, "room1")
	if prefix != "votes:room1:" {
		t.Fatalf("Scope = %q", prefix)
	}
	if strings.HasPrefix(VotesKey(VotesQuery{RoomID: "room10"}), prefix) {
		t.Fatal("room10 must not share room1's scope")
	}
	// a room id containing the separator cannot forge another room's scope
	if strings.HasPrefix(VotesKey(VotesQuery{RoomID: "room1:x"}), prefix) {
		t.Fatal("escaped room id must not fall under room1's scope")
	}
}

func TestNamespace(t *testing.T) {
	if got := Namespace(VotesKey(VotesQuery{RoomID: "r"})); got != NamespaceVotes {
		t.Fatalf("Namespace = %q", got)
	}
	if got := Namespace("plain"); got != "plain" {
		t.Fatalf("Namespace = %q", got)
	}
}
