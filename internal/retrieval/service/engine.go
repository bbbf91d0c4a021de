package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/shopassist/internal/cache"
	"github.com/smallbiznis/shopassist/internal/clock"
	"github.com/smallbiznis/shopassist/internal/config"
	"github.com/smallbiznis/shopassist/internal/embedding"
	obsmetrics "github.com/smallbiznis/shopassist/internal/observability/metrics"
	"github.com/smallbiznis/shopassist/internal/observability/tracing"
	productdomain "github.com/smallbiznis/shopassist/internal/product/domain"
	"github.com/smallbiznis/shopassist/internal/productindex"
	"github.com/smallbiznis/shopassist/internal/resilience"
	"github.com/smallbiznis/shopassist/internal/retrieval/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type Params struct {
	fx.In

	Index   *productindex.Index
	Reader  productdomain.Reader
	Holder  *config.AssistantConfigHolder
	Clock   clock.Clock
	Log     *zap.Logger
	Metrics *obsmetrics.AssistantMetrics `optional:"true"`
}

type Engine struct {
	index   *productindex.Index
	reader  productdomain.Reader
	holder  *config.AssistantConfigHolder
	log     *zap.Logger
	metrics *obsmetrics.AssistantMetrics
	cache   *cache.TTLCache[string, []domain.Item]
	group   singleflight.Group
}

func New(p Params) *Engine {
	return &Engine{
		index:   p.Index,
		reader:  p.Reader,
		holder:  p.Holder,
		log:     p.Log.Named("retrieval.engine"),
		metrics: p.Metrics,
		cache:   cache.NewTTLCache[string, []domain.Item](cache.WithClock(p.Clock), cache.WithMaxEntries(4096)),
	}
}

// Cache exposes the result cache so its janitor can be scheduled.
func (e *Engine) Cache() *cache.TTLCache[string, []domain.Item] { return e.cache }

type computed struct {
	items   []domain.Item
	version uint64
}

func (e *Engine) Retrieve(ctx context.Context, q domain.Query) domain.RetrievedContext {
	cfg := e.holder.Get().Retrieval
	q = normalize(q, cfg)
	if q.Text == "" {
		return domain.RetrievedContext{}
	}

	ctx, span := tracing.Start(ctx, "retrieval.retrieve",
		attribute.Int("k", q.K),
		attribute.String("category", q.Category),
	)
	defer span.End()

	snap := e.index.Snapshot()
	var version uint64
	if snap != nil {
		version = snap.Version
	}
	key := cacheKey(q, version)
	if items, ok := e.cache.Get(key); ok {
		e.metrics.IncRetrievalCache(true)
		e.metrics.ObserveRetrieval(len(items))
		return domain.RetrievedContext{Items: items, Version: version}
	}
	e.metrics.IncRetrievalCache(false)

	timeout := cfg.Timeout
	ch := e.group.DoChan(key, func() (any, error) {
		workCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		items, err := e.compute(workCtx, snap, q)
		if err != nil {
			return nil, err
		}
		e.cache.Set(key, items, cfg.CacheTTL)
		return computed{items: items, version: version}, nil
	})

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		if res.Err != nil {
			return e.degraded(reasonFor(res.Err), res.Err)
		}
		out := res.Val.(computed)
		e.metrics.ObserveRetrieval(len(out.items))
		return domain.RetrievedContext{Items: out.items, Version: out.version}
	case <-timer.C:
		return e.degraded(domain.ReasonTimeout, context.DeadlineExceeded)
	case <-ctx.Done():
		return e.degraded(domain.ReasonTimeout, ctx.Err())
	}
}

func (e *Engine) degraded(reason string, err error) domain.RetrievedContext {
	e.metrics.IncRetrievalDegraded(reason)
	e.log.Warn("retrieval degraded", zap.String("reason", reason), zap.Error(err))
	return domain.RetrievedContext{Degraded: true, Reason: reason}
}

var errIndexNotReady = errors.New("product index not ready")

func reasonFor(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return domain.ReasonTimeout
	case errors.Is(err, errIndexNotReady):
		return domain.ReasonIndexNotReady
	case errors.Is(err, resilience.ErrPartitionUnavailable):
		return domain.ReasonPartition
	default:
		return domain.ReasonEmbedFailed
	}
}

func (e *Engine) compute(ctx context.Context, snap *productindex.Snapshot, q domain.Query) ([]domain.Item, error) {
	if snap == nil {
		return e.computeFromPartition(ctx, q)
	}
	if snap.Len() == 0 {
		return nil, nil
	}

	vec, err := e.embed(ctx, snap.Embedder, q.Text)
	if err != nil {
		return nil, err
	}
	candidates := snap.Candidates(q.Category)
	items := make([]domain.Item, 0, len(candidates))
	for _, c := range candidates {
		items = append(items, domain.Item{Product: c.Product, Similarity: c.Similarity(vec)})
	}
	return Rank(items, q.K, q.MinSimilarity), nil
}

// computeFromPartition serves queries before the first index build, which
// is only possible when the embedder needs no corpus.
func (e *Engine) computeFromPartition(ctx context.Context, q domain.Query) ([]domain.Item, error) {
	embedder, ok := e.index.Provider().(embedding.Embedder)
	if !ok {
		return nil, errIndexNotReady
	}
	vec, err := e.embed(ctx, embedder, q.Text)
	if err != nil {
		return nil, err
	}
	limit := q.K
	if q.Category != "" {
		limit = q.K * 4
	}
	matches, err := e.reader.VectorSearch(ctx, vec, limit)
	if err != nil {
		return nil, err
	}
	items := make([]domain.Item, 0, len(matches))
	for _, m := range matches {
		if q.Category != "" && !strings.EqualFold(m.Product.Category, q.Category) {
			continue
		}
		items = append(items, domain.Item{Product: m.Product, Similarity: m.Similarity})
	}
	return Rank(items, q.K, q.MinSimilarity), nil
}

func (e *Engine) embed(ctx context.Context, embedder embedding.Embedder, text string) ([]float64, error) {
	start := time.Now()
	vec, err := embedding.EmbedOne(ctx, embedder, text)
	e.metrics.ObserveOracle(obsmetrics.OracleEmbedder, time.Since(start), err)
	return vec, err
}

// Rank applies the similarity cutoff, orders the survivors and keeps the
// top k. items is reordered in place.
func Rank(items []domain.Item, k int, minSimilarity float64) []domain.Item {
	kept := items[:0]
	for _, it := range items {
		if it.Similarity >= minSimilarity {
			kept = append(kept, it)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		a, b := kept[i], kept[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if a.Product.Score != b.Product.Score {
			return a.Product.Score > b.Product.Score
		}
		return snowflake.ID(a.Product.ID).String() < snowflake.ID(b.Product.ID).String()
	})
	if k > 0 && len(kept) > k {
		kept = kept[:k]
	}
	out := make([]domain.Item, len(kept))
	copy(out, kept)
	return out
}

func normalize(q domain.Query, cfg config.RetrievalConfig) domain.Query {
	q.Text = strings.Join(strings.Fields(strings.ToLower(q.Text)), " ")
	q.Category = strings.ToLower(strings.TrimSpace(q.Category))
	if q.K <= 0 {
		q.K = cfg.TopK
	}
	if q.MinSimilarity <= 0 {
		q.MinSimilarity = cfg.MinSimilarity
	}
	return q
}

func cacheKey(q domain.Query, version uint64) string {
	return fmt.Sprintf("%d|%d|%g|%s|%s", version, q.K, q.MinSimilarity, q.Category, q.Text)
}
