package domain

import (
	"context"

	productdomain "github.com/smallbiznis/shopassist/internal/product/domain"
)

// Query asks for up to K products similar to Text. Zero K or MinSimilarity
// fall back to the configured defaults. Category, when set, restricts the
// candidates before scoring.
type Query struct {
	Text          string
	K             int
	MinSimilarity float64
	Category      string
}

type Item struct {
	Product    productdomain.Product `json:"product"`
	Similarity float64               `json:"similarity"`
}

// RetrievedContext is ordered by similarity descending, then product score
// descending, then product id. Every item clears MinSimilarity.
type RetrievedContext struct {
	Items    []Item
	Degraded bool
	Reason   string
	Version  uint64
}

func (c RetrievedContext) Empty() bool { return len(c.Items) == 0 }

// Engine never fails: timeouts and oracle errors produce a degraded, empty
// context that callers render as "no matching product".
type Engine interface {
	Retrieve(ctx context.Context, q Query) RetrievedContext
}

const (
	ReasonTimeout       = "timeout"
	ReasonEmbedFailed   = "embed_failed"
	ReasonIndexNotReady = "index_not_ready"
	ReasonPartition     = "partition_unavailable"
)
