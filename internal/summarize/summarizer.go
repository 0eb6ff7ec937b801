package summarize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/keithlinneman/stancemap/internal/cache"
	"github.com/keithlinneman/stancemap/internal/llm"
	"github.com/keithlinneman/stancemap/internal/log"
	"github.com/keithlinneman/stancemap/internal/otelx"
	"github.com/keithlinneman/stancemap/internal/store"
	"github.com/keithlinneman/stancemap/internal/xerrors"
)

const (
	// VoteLimit is how many of the newest votes go into one prompt
	VoteLimit = 200

	DefaultMatchLabel  = "TBD"
	DefaultBatchPolicy = "every 5 minutes / every 10 votes"
	DefaultLanguage    = "Japanese"
)

// ErrNoVotes is returned when the room has nothing to summarize
var ErrNoVotes = errors.New("summarize: no votes")

// Store is the subset of store.Store the summarizer reads and writes
type Store interface {
	store.VoteStore
	store.SummaryStore
}

type Options struct {
	Logger    log.Logger
	Store     Store
	Generator llm.Generator
	// Cache is optional. The room's summary key is dropped after each save.
	Cache *cache.Store
	// Language the summaries are written in. Empty uses DefaultLanguage.
	Language string
	Now      func() time.Time
}

type Summarizer struct {
	logger   log.Logger
	store    Store
	gen      llm.Generator
	cache    *cache.Store
	language string
	now      func() time.Time
}

func New(opts Options) (*Summarizer, error) {
	if opts.Store == nil {
		return nil, xerrors.New("summarize: store is required")
	}
	if opts.Generator == nil {
		return nil, xerrors.New("summarize: generator is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if strings.TrimSpace(opts.Language) == "" {
		opts.Language = DefaultLanguage
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Summarizer{
		logger:   opts.Logger,
		store:    opts.Store,
		gen:      opts.Generator,
		cache:    opts.Cache,
		language: opts.Language,
		now:      opts.Now,
	}, nil
}

// promptVote is what the model sees of each vote
type promptVote struct {
	Stance  store.Stance `json:"stance"`
	Comment string       `json:"comment"`
}

// Run summarizes roomID and stores the result. matchLabel wins over the label
// the model returns; both empty falls back to DefaultMatchLabel.
func (s *Summarizer) Run(ctx context.Context, roomID, matchLabel string) (sum store.RoomSummary, err error) {
	ctx, span := otelx.Start(ctx, "summarize.room", "room_id", roomID)
	defer func() {
		if errors.Is(err, ErrNoVotes) {
			otelx.End(span, nil)
			return
		}
		otelx.End(span, err)
	}()

	votes, err := s.store.RecentVotes(ctx, roomID, VoteLimit)
	if err != nil {
		return store.RoomSummary{}, xerrors.Wrapf(err, "load votes for room %s", roomID)
	}
	if len(votes) == 0 {
		return store.RoomSummary{}, ErrNoVotes
	}

	input, err := s.prompt(votes)
	if err != nil {
		return store.RoomSummary{}, err
	}
	text, err := s.gen.Generate(ctx, input)
	if err != nil {
		return store.RoomSummary{}, xerrors.Wrapf(err, "generate summary for room %s", roomID)
	}
	parsed, err := llm.ParseSummary(text)
	if err != nil {
		s.logger.Warn(ctx, "summarize: unparseable model output",
			"room_id", roomID,
			"output_len", len(text),
		)
		return store.RoomSummary{}, err
	}

	sum = store.RoomSummary{
		RoomID:      roomID,
		MatchLabel:  firstNonEmpty(matchLabel, parsed.MatchLabel, DefaultMatchLabel),
		UpdatedAt:   s.now().UTC(),
		BatchPolicy: firstNonEmpty(parsed.BatchPolicy, DefaultBatchPolicy),
		Topics:      parsed.Topics,
	}
	if sum.Topics == nil {
		sum.Topics = []store.TopicSummary{}
	}
	if err := s.store.SaveSummary(ctx, sum); err != nil {
		return store.RoomSummary{}, xerrors.Wrapf(err, "save summary for room %s", roomID)
	}
	if s.cache != nil {
		s.cache.Delete(cache.SummaryKey(roomID))
	}

	s.logger.Info(ctx, "summarize: room summarized",
		"room_id", roomID,
		"votes", len(votes),
		"topics", len(sum.Topics),
	)
	return sum, nil
}

func (s *Summarizer) prompt(votes []store.Vote) ([]llm.Message, error) {
	pv := make([]promptVote, len(votes))
	for i, v := range votes {
		pv[i] = promptVote{Stance: v.Stance, Comment: v.Comment}
	}
	b, err := json.Marshal(pv)
	if err != nil {
		return nil, xerrors.Wrap(err, "encode votes for prompt")
	}
	return []llm.Message{
		{
			Role: "system",
			Content: fmt.Sprintf("You summarize soccer match opinions into topic clusters. "+
				"Return concise %s summaries. Output raw JSON only, no code fences.", s.language),
		},
		{
			Role: "user",
			Content: fmt.Sprintf("Votes: %s\n\nCreate up to %d topics. For each topic, group relevant votes "+
				"and count support/oppose/neutral. Provide 2-3 short sentences for each stance "+
				"(support/oppose/neutral). Return JSON matching the schema exactly: "+
				`{"matchLabel": string, "batchPolicy": string, "topics": [{"id": string, "title": string, `+
				`"counts": {"support": number, "oppose": number, "neutral": number}, `+
				`"supportSummary": string, "opposeSummary": string, "neutralSummary": string}]}`,
				b, llm.MaxTopics),
		},
	}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
