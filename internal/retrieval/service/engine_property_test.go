//go:build property

package service

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	productdomain "github.com/smallbiznis/shopassist/internal/product/domain"
	"github.com/smallbiznis/shopassist/internal/retrieval/domain"
)

func genItems() gopter.Gen {
	return gen.SliceOf(gen.Float64Range(-1, 1)).Map(func(sims []float64) []domain.Item {
		items := make([]domain.Item, len(sims))
		for i, sim := range sims {
			items[i] = domain.Item{
				Product:    productdomain.Product{ID: int64(i + 1), Score: float64(i % 6)},
				Similarity: sim,
			}
		}
		return items
	})
}

func TestRankProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("results clear the cutoff, respect k and are sorted", prop.ForAll(
		func(items []domain.Item, k int, minSim float64) bool {
			got := Rank(append([]domain.Item(nil), items...), k, minSim)
			if len(got) > k {
				return false
			}
			for i, it := range got {
				if it.Similarity < minSim {
					return false
				}
				if i > 0 && got[i-1].Similarity < it.Similarity {
					return false
				}
			}
			return true
		},
		genItems(),
		gen.IntRange(1, 10),
		gen.Float64Range(0, 1),
	))

	properties.Property("ranking is deterministic", prop.ForAll(
		func(items []domain.Item, k int) bool {
			a := Rank(append([]domain.Item(nil), items...), k, 0.5)
			b := Rank(append([]domain.Item(nil), items...), k, 0.5)
			if len(a) != len(b) {
				return false
			}
			for i := range a {
				if a[i].Product.ID != b[i].Product.ID {
					return false
				}
			}
			return true
		},
		genItems(),
		gen.IntRange(1, 10),
	))

	properties.TestingRun(t)
}
