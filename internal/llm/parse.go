package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/keithlinneman/stancemap/internal/store"
	"github.com/keithlinneman/stancemap/internal/xerrors"
)

// MaxTopics is the most topics kept from one summary
const MaxTopics = 5

var (
	jsonFence    = regexp.MustCompile("(?is)```json\\s*(.*?)\\s*```")
	genericFence = regexp.MustCompile("(?s)```\\s*(.*?)\\s*```")
)

// ExtractJSON pulls the JSON document out of model output: a ```json fence,
// then any fence, then the span from the first { to the last }, else the text unchanged.
func ExtractJSON(text string) string {
	if m := jsonFence.FindStringSubmatch(text); m != nil && m[1] != "" {
		return m[1]
	}
	if m := genericFence.FindStringSubmatch(text); m != nil && m[1] != "" {
		return m[1]
	}
	first := strings.Index(text, "{")
	last := strings.LastIndex(text, "}")
	if first != -1 && last != -1 && last >= first {
		return text[first : last+1]
	}
	return text
}

// Summary is the parsed model output before it is stamped with room and time
type Summary struct {
	MatchLabel  string
	BatchPolicy string
	Topics      []store.TopicSummary
}

// ParseSummary extracts and decodes the model output and normalizes its topics
func ParseSummary(text string) (Summary, error) {
	var raw any
	if err := json.Unmarshal([]byte(ExtractJSON(text)), &raw); err != nil {
		return Summary{}, xerrors.Wrap(err, "parse summary json")
	}
	obj, _ := raw.(map[string]any)
	return Summary{
		MatchLabel:  str(obj["matchLabel"]),
		BatchPolicy: str(obj["batchPolicy"]),
		Topics:      NormalizeTopics(obj["topics"]),
	}, nil
}

// NormalizeTopics accepts the topics array in either the canonical shape
//
//	{id, title, counts{support,oppose,neutral}, supportSummary, opposeSummary, neutralSummary}
//
// or the shape models tend to drift into
//
//	{topic, votes{support,oppose,neutral}, summary{support:[...], oppose:[...], neutral:[...]}}
//
// and keeps at most MaxTopics. Anything that is not an array yields no topics.
func NormalizeTopics(raw any) []store.TopicSummary {
	list, _ := raw.([]any)
	if len(list) > MaxTopics {
		list = list[:MaxTopics]
	}
	out := make([]store.TopicSummary, 0, len(list))
	for i, item := range list {
		t, _ := item.(map[string]any)
		id := fmt.Sprintf("topic-%d", i+1)
		if v, ok := t["id"]; ok && v != nil {
			id = str(v)
		}

		if counts, ok := t["counts"].(map[string]any); ok && truthy(t["title"]) {
			out = append(out, store.TopicSummary{
				ID:             id,
				Title:          str(t["title"]),
				Counts:         toCounts(counts),
				SupportSummary: str(t["supportSummary"]),
				OpposeSummary:  str(t["opposeSummary"]),
				NeutralSummary: str(t["neutralSummary"]),
			})
			continue
		}

		title := fmt.Sprintf("Topic %d", i+1)
		if v, ok := t["topic"]; ok && v != nil {
			title = str(v)
		} else if v, ok := t["title"]; ok && v != nil {
			title = str(v)
		}
		votes, _ := t["votes"].(map[string]any)
		block, _ := t["summary"].(map[string]any)
		out = append(out, store.TopicSummary{
			ID:             id,
			Title:          title,
			Counts:         toCounts(votes),
			SupportSummary: lines(block["support"]),
			OpposeSummary:  lines(block["oppose"]),
			NeutralSummary: lines(block["neutral"]),
		})
	}
	return out
}

func toCounts(m map[string]any) store.TopicCounts {
	return store.TopicCounts{
		Support: num(m["support"]),
		Oppose:  num(m["oppose"]),
		Neutral: num(m["neutral"]),
	}
}

// lines joins arrays of sentences with a space
func lines(v any) string {
	if arr, ok := v.([]any); ok {
		parts := make([]string, len(arr))
		for i, s := range arr {
			parts[i] = str(s)
		}
		return strings.Join(parts, " ")
	}
	return str(v)
}

func str(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// num converts counts, accepting numeric strings; anything else is 0
func num(v any) int {
	switch x := v.(type) {
	case float64:
		return int(x)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0
		}
		return int(f)
	case bool:
		if x {
			return 1
		}
	}
	return 0
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return x != ""
	case float64:
		return x != 0
	case bool:
		return x
	default:
		return true
	}
}
