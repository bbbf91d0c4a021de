package service

import (
	"context"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallbiznis/shopassist/internal/clock"
	"github.com/smallbiznis/shopassist/internal/config"
	"github.com/smallbiznis/shopassist/internal/embedding"
	"github.com/smallbiznis/shopassist/internal/embedding/tfidf"
	productdomain "github.com/smallbiznis/shopassist/internal/product/domain"
	"github.com/smallbiznis/shopassist/internal/productindex"
	"github.com/smallbiznis/shopassist/internal/retrieval/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeEmbedder maps exact texts to vectors; unknown texts embed to zero.
type fakeEmbedder struct {
	vectors map[string][]float64
	calls   atomic.Int32
	block   chan struct{}
}

func (f *fakeEmbedder) Name() string   { return "fake" }
func (f *fakeEmbedder) Dimension() int { return 2 }

func (f *fakeEmbedder) ForCorpus(context.Context, []string) (embedding.Embedder, error) {
	return f, nil
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	out := make([][]float64, len(texts))
	for i, t := range texts {
		if v, ok := f.vectors[t]; ok {
			out[i] = v
		} else {
			out[i] = []float64{0, 0}
		}
	}
	return out, nil
}

// at returns a unit vector whose cosine with (1, 0) is sim.
func at(sim float64) []float64 {
	return []float64{sim, math.Sqrt(1 - sim*sim)}
}

type catalogStub struct {
	productdomain.Service
	products []productdomain.Product
	searches atomic.Int32
}

func (c *catalogStub) ListAll(context.Context) ([]productdomain.Product, error) {
	return c.products, nil
}

func (c *catalogStub) VectorSearch(_ context.Context, vec []float64, k int) ([]productdomain.Match, error) {
	c.searches.Add(1)
	out := make([]productdomain.Match, 0, len(c.products))
	for _, p := range c.products {
		out = append(out, productdomain.Match{Product: p, Similarity: embedding.Cosine(vec, p.Embedding)})
	}
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (c *catalogStub) UpdateEmbedding(context.Context, int64, []float64) error { return nil }

func shoeCatalog() ([]productdomain.Product, *fakeEmbedder) {
	products := []productdomain.Product{
		{ID: 1, Name: "Trail Runner", SubCategory: "running", Category: "footwear", Price: 9000, Score: 4.5},
		{ID: 2, Name: "Road Racer", SubCategory: "running", Category: "footwear", Price: 12000, Score: 4.0},
		{ID: 3, Name: "Rain Boot", SubCategory: "boots", Category: "footwear", Price: 7000, Score: 3.5},
	}
	emb := &fakeEmbedder{vectors: map[string][]float64{
		"comfortable running shoes": {1, 0},
		"Trail Runner running":      at(0.91),
		"Road Racer running":        at(0.76),
		"Rain Boot boots":           at(0.5),
	}}
	return products, emb
}

func newTestEngine(t *testing.T, stub *catalogStub, provider embedding.Provider, cfg config.AssistantConfig) (*Engine, *productindex.Index) {
	t.Helper()
	clk := clock.NewFakeClock(time.Unix(0, 0))
	ix := productindex.New(stub, stub, provider, clk, zap.NewNop(), nil)
	return New(Params{
		Index:  ix,
		Reader: stub,
		Holder: config.NewStaticAssistantConfigHolder(cfg),
		Clock:  clk,
		Log:    zap.NewNop(),
	}), ix
}

func TestRetrieveAppliesHardCutoff(t *testing.T) {
	products, emb := shoeCatalog()
	engine, ix := newTestEngine(t, &catalogStub{products: products}, emb, config.DefaultAssistantConfig())
	_, err := ix.Refresh(context.Background())
	require.NoError(t, err)

	got := engine.Retrieve(context.Background(), domain.Query{Text: "comfortable running shoes", K: 5, MinSimilarity: 0.7})
	require.False(t, got.Degraded)
	require.Len(t, got.Items, 2)
	assert.Equal(t, "Trail Runner", got.Items[0].Product.Name)
	assert.InDelta(t, 0.91, got.Items[0].Similarity, 1e-9)
	assert.Equal(t, "Road Racer", got.Items[1].Product.Name)
	assert.InDelta(t, 0.76, got.Items[1].Similarity, 1e-9)
}

func TestRetrieveIsRepeatableAndCached(t *testing.T) {
	products, emb := shoeCatalog()
	engine, ix := newTestEngine(t, &catalogStub{products: products}, emb, config.DefaultAssistantConfig())
	_, err := ix.Refresh(context.Background())
	require.NoError(t, err)
	afterBuild := emb.calls.Load()

	q := domain.Query{Text: "Comfortable  running shoes"}
	first := engine.Retrieve(context.Background(), q)
	second := engine.Retrieve(context.Background(), q)
	assert.Equal(t, first.Items, second.Items)
	assert.Equal(t, afterBuild+1, emb.calls.Load(), "second call served from cache")

	_, err = ix.Refresh(context.Background())
	require.NoError(t, err)
	third := engine.Retrieve(context.Background(), q)
	assert.Equal(t, first.Items, third.Items)
	assert.Greater(t, third.Version, first.Version, "a new snapshot bypasses cached results")
}

func TestRetrieveNoMatchReturnsEmptyContext(t *testing.T) {
	products, emb := shoeCatalog()
	engine, ix := newTestEngine(t, &catalogStub{products: products}, emb, config.DefaultAssistantConfig())
	_, err := ix.Refresh(context.Background())
	require.NoError(t, err)

	got := engine.Retrieve(context.Background(), domain.Query{Text: "laptop"})
	assert.True(t, got.Empty())
	assert.False(t, got.Degraded)

	got = engine.Retrieve(context.Background(), domain.Query{Text: "   "})
	assert.True(t, got.Empty())
}

func TestRetrieveFiltersByCategory(t *testing.T) {
	products, emb := shoeCatalog()
	products = append(products, productdomain.Product{ID: 4, Name: "Running Socks", SubCategory: "socks", Category: "accessories", Price: 900, Score: 5})
	emb.vectors["Running Socks socks"] = at(0.95)
	engine, ix := newTestEngine(t, &catalogStub{products: products}, emb, config.DefaultAssistantConfig())
	_, err := ix.Refresh(context.Background())
	require.NoError(t, err)

	all := engine.Retrieve(context.Background(), domain.Query{Text: "comfortable running shoes"})
	require.Len(t, all.Items, 3)
	assert.Equal(t, "Running Socks", all.Items[0].Product.Name)

	shoes := engine.Retrieve(context.Background(), domain.Query{Text: "comfortable running shoes", Category: "Footwear"})
	require.Len(t, shoes.Items, 2)
	assert.Equal(t, "Trail Runner", shoes.Items[0].Product.Name)
}

func TestRetrieveMatchesOnDescription(t *testing.T) {
	products, emb := shoeCatalog()
	products[2].Description = "waterproof for muddy trails"
	emb.vectors["waterproof for muddy trails"] = at(0.93)
	engine, ix := newTestEngine(t, &catalogStub{products: products}, emb, config.DefaultAssistantConfig())
	_, err := ix.Refresh(context.Background())
	require.NoError(t, err)

	got := engine.Retrieve(context.Background(), domain.Query{Text: "comfortable running shoes"})
	require.Len(t, got.Items, 3)
	assert.Equal(t, "Rain Boot", got.Items[0].Product.Name)
	assert.InDelta(t, 0.93, got.Items[0].Similarity, 1e-9)
}

func TestRetrieveTimesOutWithDegradedResult(t *testing.T) {
	products, emb := shoeCatalog()
	cfg := config.DefaultAssistantConfig()
	cfg.Retrieval.Timeout = 30 * time.Millisecond
	engine, ix := newTestEngine(t, &catalogStub{products: products}, emb, cfg)
	_, err := ix.Refresh(context.Background())
	require.NoError(t, err)

	emb.block = make(chan struct{})
	defer close(emb.block)

	start := time.Now()
	got := engine.Retrieve(context.Background(), domain.Query{Text: "comfortable running shoes"})
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, got.Degraded)
	assert.Equal(t, domain.ReasonTimeout, got.Reason)
	assert.True(t, got.Empty())
}

type corpusOnlyProvider struct{}

func (corpusOnlyProvider) ForCorpus(ctx context.Context, docs []string) (embedding.Embedder, error) {
	return tfidf.NewProvider().ForCorpus(ctx, docs)
}

func TestRetrieveBeforeFirstBuild(t *testing.T) {
	products, emb := shoeCatalog()
	for i := range products {
		products[i].Embedding = emb.vectors[productindex.Document(products[i])]
	}

	t.Run("corpus fitted embedder degrades", func(t *testing.T) {
		engine, _ := newTestEngine(t, &catalogStub{products: products}, corpusOnlyProvider{}, config.DefaultAssistantConfig())
		got := engine.Retrieve(context.Background(), domain.Query{Text: "comfortable running shoes"})
		assert.True(t, got.Degraded)
		assert.Equal(t, domain.ReasonIndexNotReady, got.Reason)
	})

	t.Run("corpus free embedder searches the partition", func(t *testing.T) {
		stub := &catalogStub{products: products}
		engine, _ := newTestEngine(t, stub, emb, config.DefaultAssistantConfig())
		got := engine.Retrieve(context.Background(), domain.Query{Text: "comfortable running shoes"})
		require.False(t, got.Degraded)
		require.Len(t, got.Items, 2)
		assert.Equal(t, "Trail Runner", got.Items[0].Product.Name)
		assert.Equal(t, int32(1), stub.searches.Load())
	})
}

func TestRankTieBreaks(t *testing.T) {
	items := []domain.Item{
		{Product: productdomain.Product{ID: 20, Score: 4}, Similarity: 0.8},
		{Product: productdomain.Product{ID: 3, Score: 4}, Similarity: 0.8},
		{Product: productdomain.Product{ID: 1, Score: 5}, Similarity: 0.8},
		{Product: productdomain.Product{ID: 7, Score: 1}, Similarity: 0.9},
		{Product: productdomain.Product{ID: 8, Score: 5}, Similarity: 0.69},
	}
	got := Rank(items, 10, 0.7)
	require.Len(t, got, 4)
	ids := []int64{got[0].Product.ID, got[1].Product.ID, got[2].Product.ID, got[3].Product.ID}
	// "20" sorts before "3" as text.
	assert.Equal(t, []int64{7, 1, 20, 3}, ids)

	assert.Len(t, Rank(items, 2, 0.7), 2)
}
