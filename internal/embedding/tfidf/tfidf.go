// Package tfidf is an offline embedder fitted on the product catalog.
package tfidf

import (
	"context"
	"errors"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/smallbiznis/shopassist/internal/embedding"
)

var tokenPattern = regexp.MustCompile(`\p{L}+|\p{N}+`)

// Embedder is a fitted TF-IDF vectorizer. It is immutable after Fit and
// safe for concurrent use.
type Embedder struct {
	vocabulary map[string]int
	idf        []float64
}

// Fit builds the vocabulary and smoothed IDF weights from corpus.
func Fit(corpus []string) (*Embedder, error) {
	if len(corpus) == 0 {
		return nil, embedding.ErrEmptyInput
	}

	df := make(map[string]int)
	for _, text := range corpus {
		seen := make(map[string]struct{})
		for _, tok := range Tokenize(text) {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			df[tok]++
		}
	}
	if len(df) == 0 {
		return nil, errors.New("tfidf: no tokens in corpus")
	}

	terms := make([]string, 0, len(df))
	for term := range df {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	e := &Embedder{
		vocabulary: make(map[string]int, len(terms)),
		idf:        make([]float64, len(terms)),
	}
	n := float64(len(corpus))
	for i, term := range terms {
		e.vocabulary[term] = i
		e.idf[i] = math.Log((1+n)/(1+float64(df[term]))) + 1.0
	}
	return e, nil
}

func (e *Embedder) Name() string   { return "tfidf" }
func (e *Embedder) Dimension() int { return len(e.idf) }

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if e == nil || len(e.idf) == 0 {
		return nil, embedding.ErrNotFitted
	}
	out := make([][]float64, 0, len(texts))
	for _, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, e.vector(text))
	}
	return out, nil
}

func (e *Embedder) vector(text string) []float64 {
	vec := make([]float64, len(e.idf))
	tf := make(map[int]int)
	total := 0
	for _, tok := range Tokenize(text) {
		if idx, ok := e.vocabulary[tok]; ok {
			tf[idx]++
			total++
		}
	}
	if total == 0 {
		return vec
	}
	for idx, count := range tf {
		vec[idx] = float64(count) / float64(total) * e.idf[idx]
	}
	return embedding.Normalize(vec)
}

// Provider fits a fresh embedder for every corpus.
type Provider struct{}

func NewProvider() Provider { return Provider{} }

func (Provider) ForCorpus(_ context.Context, docs []string) (embedding.Embedder, error) {
	return Fit(docs)
}

// Tokenize lowercases text, drops stopwords and folds simple plurals so
// "shoes" and "shoe" share a term.
func Tokenize(text string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		if _, stop := stopwords[t]; stop {
			continue
		}
		out = append(out, singular(t))
	}
	return out
}

func singular(t string) string {
	switch {
	case len(t) > 4 && strings.HasSuffix(t, "ies"):
		return t[:len(t)-3] + "y"
	case len(t) > 3 && strings.HasSuffix(t, "s") && !strings.HasSuffix(t, "ss"):
		return t[:len(t)-1]
	}
	return t
}

var stopwords = func() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "for", "to", "of", "in", "on", "at",
		"by", "with", "as", "is", "are", "was", "were", "be", "been", "it", "this", "that",
		"these", "those", "from", "so", "into", "about", "can", "will", "just", "do", "does",
		"i", "me", "my", "you", "your", "we", "our", "some", "any", "have", "has", "what",
		"which", "show", "find", "looking", "want", "need", "please",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()
