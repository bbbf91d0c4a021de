package knowledge

import (
	"context"
	"errors"
	"testing"

	"github.com/smallbiznis/shopassist/internal/embedding"
	"github.com/smallbiznis/shopassist/internal/embedding/tfidf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParse(t *testing.T) {
	text := "\n  Return policy  \nUnworn items can be returned\nwithin 30 days.\n\n\n\nGift cards\n\nWarranty\nOne year on footwear.\n"
	got := Parse(text)
	assert.Equal(t, []Passage{
		{Topic: "Return policy", Body: "Unworn items can be returned within 30 days."},
		{Topic: "Gift cards", Body: ""},
		{Topic: "Warranty", Body: "One year on footwear."},
	}, got)
	assert.Empty(t, Parse(" \n\n "))
}

func TestBundledPoliciesLoad(t *testing.T) {
	b := New(tfidf.NewProvider(), zap.NewNop())
	require.NoError(t, b.Load(context.Background(), DefaultPolicies))
	assert.Equal(t, len(Parse(DefaultPolicies)), b.Len())

	got, err := b.Search(context.Background(), "what is your return policy", 2, 0.7)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "Return policy", got[0].Passage.Topic)
	assert.InDelta(t, 1.0, got[0].Similarity, 1e-9)
}

func TestSearchCutoffAndOrder(t *testing.T) {
	b := New(tfidf.NewProvider(), zap.NewNop())
	require.NoError(t, b.Load(context.Background(), "Return policy\nRefunds within 30 days.\n\nShipping policy\nShips in 3 days.\n\nWarranty\nOne year."))

	got, err := b.Search(context.Background(), "return policy", 5, 0.7)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Return policy", got[0].Passage.Topic)

	all, err := b.Search(context.Background(), "return policy", 5, 0.1)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Return policy", all[0].Passage.Topic)
	assert.Equal(t, "Shipping policy", all[1].Passage.Topic)
	assert.Greater(t, all[0].Similarity, all[1].Similarity)

	one, err := b.Search(context.Background(), "return policy", 1, 0.1)
	require.NoError(t, err)
	assert.Len(t, one, 1)

	none, err := b.Search(context.Background(), "   ", 5, 0.1)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSearchMatchesBody(t *testing.T) {
	b := New(tfidf.NewProvider(), zap.NewNop())
	require.NoError(t, b.Load(context.Background(), "Payment methods\nPaypal accepted.\n\nWarranty\nOne year."))

	got, err := b.Search(context.Background(), "paypal accepted", 5, 0.7)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Payment methods", got[0].Passage.Topic)
}

func TestSearchBeforeLoad(t *testing.T) {
	_, err := New(tfidf.NewProvider(), zap.NewNop()).Search(context.Background(), "returns", 2, 0.7)
	assert.ErrorIs(t, err, ErrNotLoaded)
}

type failingProvider struct {
	fail bool
}

func (p *failingProvider) ForCorpus(ctx context.Context, docs []string) (embedding.Embedder, error) {
	if p.fail {
		return nil, errors.New("embedder offline")
	}
	return tfidf.NewProvider().ForCorpus(ctx, docs)
}

func TestFailedLoadKeepsPreviousPassages(t *testing.T) {
	provider := &failingProvider{}
	b := New(provider, zap.NewNop())
	require.NoError(t, b.Load(context.Background(), "Warranty\nOne year."))

	provider.fail = true
	require.Error(t, b.Load(context.Background(), "Returns\nThirty days."))
	assert.Equal(t, 1, b.Len())

	got, err := b.Search(context.Background(), "warranty", 1, 0.7)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Warranty", got[0].Passage.Topic)
}

func TestPolicyText(t *testing.T) {
	text, err := policyText("")
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicies, text)

	_, err = policyText(t.TempDir() + "/missing.txt")
	assert.Error(t, err)
}
