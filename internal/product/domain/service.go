package domain

import (
	"context"
	"errors"
)

// Reader is the query surface other components may use. Products are never
// mutated through it.
type Reader interface {
	Get(ctx context.Context, id int64) (*Product, error)
	FindByName(ctx context.Context, name string) (*Product, error)
	FindByCategory(ctx context.Context, category string, excludeSubCategory *string) ([]Product, error)
	Search(ctx context.Context, text string) ([]Product, error)
	VectorSearch(ctx context.Context, embedding []float64, k int) ([]Match, error)
	ListAll(ctx context.Context) ([]Product, error)
}

// Writer is held only by catalog ingestion (seed and index refresh).
type Writer interface {
	Create(ctx context.Context, req CreateRequest) (*Product, error)
	UpdateEmbedding(ctx context.Context, id int64, embedding []float64) error
}

type Service interface {
	Reader
	Writer
}

type CreateRequest struct {
	Name          string  `json:"name"`
	Description   string  `json:"description"`
	Category      string  `json:"category"`
	SubCategory   string  `json:"sub_category"`
	Price         int64   `json:"price"`
	Currency      string  `json:"currency"`
	Score         float64 `json:"score"`
	StockQuantity int64   `json:"stock_quantity"`
}

var (
	ErrNotFound        = errors.New("product_not_found")
	ErrAlreadyExists   = errors.New("product_already_exists")
	ErrInvalidName     = errors.New("invalid_product_name")
	ErrInvalidCategory = errors.New("invalid_product_category")
	ErrInvalidPrice    = errors.New("invalid_product_price")
	ErrInvalidScore    = errors.New("invalid_product_score")
	ErrInvalidStock    = errors.New("invalid_product_stock")
)

// IsBusinessErr reports errors that describe the request rather than the
// health of the partition.
func IsBusinessErr(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrInvalidName) ||
		errors.Is(err, ErrInvalidCategory) ||
		errors.Is(err, ErrInvalidPrice) ||
		errors.Is(err, ErrInvalidScore) ||
		errors.Is(err, ErrInvalidStock)
}
