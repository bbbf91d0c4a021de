// Package knowledge holds the store policy documents the assistant answers
// questions from. Each passage is a topic line followed by its body; both
// are embedded so a short question can match the topic directly.
package knowledge

import (
	"bufio"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/smallbiznis/shopassist/internal/embedding"
	"go.uber.org/zap"
)

//go:embed policies.txt
var DefaultPolicies string

var ErrNotLoaded = errors.New("knowledge: base not loaded")

type Passage struct {
	Topic string `json:"topic"`
	Body  string `json:"body"`
}

type Match struct {
	Passage    Passage `json:"passage"`
	Similarity float64 `json:"similarity"`
}

// Searcher finds the passages closest to a question.
type Searcher interface {
	Search(ctx context.Context, text string, k int, minSimilarity float64) ([]Match, error)
}

// Parse splits text into passages on blank lines. The first line of a block
// is its topic; a block with a single line has an empty body.
func Parse(text string) []Passage {
	var (
		out   []Passage
		lines []string
	)
	flush := func() {
		if len(lines) > 0 {
			out = append(out, Passage{
				Topic: lines[0],
				Body:  strings.Join(lines[1:], " "),
			})
		}
		lines = lines[:0]
	}
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			flush()
			continue
		}
		lines = append(lines, line)
	}
	flush()
	return out
}

type entry struct {
	passage Passage
	topic   []float64
	body    []float64
}

type snapshot struct {
	embedder embedding.Embedder
	entries  []entry
}

type Base struct {
	log      *zap.Logger
	provider embedding.Provider
	current  atomic.Pointer[snapshot]
}

func New(provider embedding.Provider, log *zap.Logger) *Base {
	return &Base{log: log.Named("knowledge"), provider: provider}
}

// Load parses and embeds text, replacing whatever was loaded before. On
// error the previous passages stay searchable.
func (b *Base) Load(ctx context.Context, text string) error {
	passages := Parse(text)
	if len(passages) == 0 {
		b.current.Store(&snapshot{})
		return nil
	}

	topics := make([]string, len(passages))
	bodies := make([]string, len(passages))
	for i, p := range passages {
		topics[i] = p.Topic
		bodies[i] = p.Body
	}
	embedder, err := b.provider.ForCorpus(ctx, append(append([]string(nil), topics...), bodies...))
	if err != nil {
		return fmt.Errorf("prepare embedder: %w", err)
	}
	topicVecs, err := embedder.Embed(ctx, topics)
	if err != nil {
		return fmt.Errorf("embed topics: %w", err)
	}
	bodyVecs, err := embedder.Embed(ctx, bodies)
	if err != nil {
		return fmt.Errorf("embed bodies: %w", err)
	}
	if len(topicVecs) != len(passages) || len(bodyVecs) != len(passages) {
		return embedding.ErrDimensionMismatch
	}

	snap := &snapshot{embedder: embedder, entries: make([]entry, len(passages))}
	for i, p := range passages {
		snap.entries[i] = entry{passage: p, topic: topicVecs[i], body: bodyVecs[i]}
	}
	b.current.Store(snap)
	b.log.Info("knowledge base loaded", zap.Int("passages", len(passages)))
	return nil
}

func (b *Base) Len() int {
	snap := b.current.Load()
	if snap == nil {
		return 0
	}
	return len(snap.entries)
}

// Search returns at most k passages whose similarity to text is at least
// minSimilarity, closest first. Ties keep document order.
func (b *Base) Search(ctx context.Context, text string, k int, minSimilarity float64) ([]Match, error) {
	snap := b.current.Load()
	if snap == nil {
		return nil, ErrNotLoaded
	}
	text = strings.TrimSpace(text)
	if text == "" || len(snap.entries) == 0 || k <= 0 {
		return nil, nil
	}
	vec, err := embedding.EmbedOne(ctx, snap.embedder, text)
	if err != nil {
		return nil, err
	}

	out := make([]Match, 0, len(snap.entries))
	for _, e := range snap.entries {
		sim := max(embedding.Cosine(vec, e.topic), embedding.Cosine(vec, e.body))
		if sim < minSimilarity {
			continue
		}
		out = append(out, Match{Passage: e.passage, Similarity: sim})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}
