// Package productindex keeps an in-memory, immutable snapshot of product
// vectors for similarity search. Refresh builds a complete new snapshot and
// swaps it in; readers always see one whole snapshot.
package productindex

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smallbiznis/shopassist/internal/clock"
	"github.com/smallbiznis/shopassist/internal/embedding"
	obsmetrics "github.com/smallbiznis/shopassist/internal/observability/metrics"
	productdomain "github.com/smallbiznis/shopassist/internal/product/domain"
	"go.uber.org/zap"
)

const embedBatchSize = 64

// Entry is a product with the vectors it was indexed under. Vector embeds
// the name and is what the partition stores; Detail embeds the description
// and is nil when the product has none.
type Entry struct {
	Product productdomain.Product
	Vector  []float64
	Detail  []float64
}

// Similarity is the closer of the name and description matches.
func (e Entry) Similarity(vec []float64) float64 {
	return max(embedding.Cosine(vec, e.Vector), embedding.Cosine(vec, e.Detail))
}

type Snapshot struct {
	Version  uint64
	BuiltAt  time.Time
	Embedder embedding.Embedder

	entries    []Entry
	byCategory map[string][]int
}

func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// Candidates returns the entries of category, or every entry when category
// is empty. The returned slice must not be modified.
func (s *Snapshot) Candidates(category string) []Entry {
	if s == nil {
		return nil
	}
	category = strings.ToLower(strings.TrimSpace(category))
	if category == "" {
		return s.entries
	}
	idx := s.byCategory[category]
	out := make([]Entry, 0, len(idx))
	for _, i := range idx {
		out = append(out, s.entries[i])
	}
	return out
}

// Document is the text a product is embedded from.
func Document(p productdomain.Product) string {
	return strings.TrimSpace(p.Name + " " + p.SubCategory)
}

// DetailDocument is the description text, embedded apart from the name so a
// long description cannot dilute a name match.
func DetailDocument(p productdomain.Product) string {
	return strings.TrimSpace(p.Description)
}

type Index struct {
	log      *zap.Logger
	reader   productdomain.Reader
	writer   productdomain.Writer
	provider embedding.Provider
	clock    clock.Clock
	metrics  *obsmetrics.AssistantMetrics

	current   atomic.Pointer[Snapshot]
	version   atomic.Uint64
	refreshMu sync.Mutex
}

func New(reader productdomain.Reader, writer productdomain.Writer, provider embedding.Provider, clk clock.Clock, log *zap.Logger, metrics *obsmetrics.AssistantMetrics) *Index {
	return &Index{
		log:      log.Named("product.index"),
		reader:   reader,
		writer:   writer,
		provider: provider,
		clock:    clk,
		metrics:  metrics,
	}
}

// Snapshot returns the current snapshot, or nil before the first refresh.
func (ix *Index) Snapshot() *Snapshot {
	return ix.current.Load()
}

// Provider exposes the embedding provider the index was built with.
func (ix *Index) Provider() embedding.Provider {
	return ix.provider
}

// Refresh rebuilds the snapshot from the product partition. Concurrent
// calls are serialized; the previous snapshot stays visible until the new
// one is complete.
func (ix *Index) Refresh(ctx context.Context) (*Snapshot, error) {
	ix.refreshMu.Lock()
	defer ix.refreshMu.Unlock()

	products, err := ix.reader.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}

	snap := &Snapshot{
		BuiltAt:    ix.clock.Now(),
		entries:    make([]Entry, 0, len(products)),
		byCategory: make(map[string][]int),
	}
	if len(products) > 0 {
		docs := make([]string, len(products))
		var details []string
		detailOf := make([]int, len(products))
		for i, p := range products {
			docs[i] = Document(p)
			detailOf[i] = -1
			if d := DetailDocument(p); d != "" {
				detailOf[i] = len(details)
				details = append(details, d)
			}
		}
		embedder, err := ix.provider.ForCorpus(ctx, append(slices.Clone(docs), details...))
		if err != nil {
			return nil, fmt.Errorf("prepare embedder: %w", err)
		}
		vectors, err := embedBatched(ctx, embedder, docs)
		if err != nil {
			return nil, fmt.Errorf("embed products: %w", err)
		}
		detailVectors, err := embedBatched(ctx, embedder, details)
		if err != nil {
			return nil, fmt.Errorf("embed descriptions: %w", err)
		}
		snap.Embedder = embedder
		for i, p := range products {
			snap.byCategory[strings.ToLower(p.Category)] = append(snap.byCategory[strings.ToLower(p.Category)], i)
			entry := Entry{Product: p, Vector: vectors[i]}
			if j := detailOf[i]; j >= 0 {
				entry.Detail = detailVectors[j]
			}
			snap.entries = append(snap.entries, entry)
		}
		ix.persist(ctx, snap.entries)
	}

	snap.Version = ix.version.Add(1)
	ix.current.Store(snap)
	ix.metrics.SetIndexSize(snap.Len())
	ix.log.Info("product index refreshed",
		zap.Uint64("version", snap.Version),
		zap.Int("products", snap.Len()),
	)
	return snap, nil
}

func embedBatched(ctx context.Context, e embedding.Embedder, docs []string) ([][]float64, error) {
	out := make([][]float64, 0, len(docs))
	for start := 0; start < len(docs); start += embedBatchSize {
		end := min(start+embedBatchSize, len(docs))
		vecs, err := e.Embed(ctx, docs[start:end])
		if err != nil {
			return nil, err
		}
		if len(vecs) != end-start {
			return nil, embedding.ErrDimensionMismatch
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// persist writes changed vectors back to the product partition so
// partition-side vector search sees the same embeddings. Failures only
// cost that fallback path and are logged.
func (ix *Index) persist(ctx context.Context, entries []Entry) {
	if ix.writer == nil {
		return
	}
	updated := 0
	for _, e := range entries {
		if slices.Equal([]float64(e.Product.Embedding), e.Vector) {
			continue
		}
		if err := ix.writer.UpdateEmbedding(ctx, e.Product.ID, e.Vector); err != nil {
			ix.log.Warn("persist product embedding failed", zap.Int64("product_id", e.Product.ID), zap.Error(err))
			return
		}
		updated++
	}
	if updated > 0 {
		ix.log.Debug("product embeddings persisted", zap.Int("updated", updated))
	}
}
