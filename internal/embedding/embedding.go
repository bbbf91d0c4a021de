// Package embedding turns text into fixed-length vectors used for product
// similarity search.
package embedding

import (
	"context"
	"errors"
	"math"
)

var (
	ErrEmptyInput        = errors.New("embedding_empty_input")
	ErrDimensionMismatch = errors.New("embedding_dimension_mismatch")
	ErrNotFitted         = errors.New("embedding_not_fitted")
)

// Embedder converts text to vectors. Implementations must return vectors of
// Dimension() length for every input.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
	Dimension() int
	Name() string
}

// Provider builds an embedder suited to a corpus. Corpus-free providers
// ignore the documents and return a shared embedder.
type Provider interface {
	ForCorpus(ctx context.Context, docs []string) (Embedder, error)
}

// EmbedOne embeds a single text.
func EmbedOne(ctx context.Context, e Embedder, text string) ([]float64, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, ErrEmptyInput
	}
	return vecs[0], nil
}

// Cosine returns the cosine similarity of a and b. Vectors of different
// length or zero norm have similarity 0.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Normalize scales v to unit length in place and returns it.
func Normalize(v []float64) []float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return v
	}
	n := math.Sqrt(sum)
	for i := range v {
		v[i] /= n
	}
	return v
}
