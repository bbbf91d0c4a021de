package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	Create(ctx context.Context, db *gorm.DB, product *Product) error
	FindByID(ctx context.Context, db *gorm.DB, id int64) (*Product, error)
	FindBySlug(ctx context.Context, db *gorm.DB, slug string) (*Product, error)
	FindByCategory(ctx context.Context, db *gorm.DB, category string, excludeSubCategory *string) ([]Product, error)
	Search(ctx context.Context, db *gorm.DB, terms []string, limit int) ([]Product, error)
	List(ctx context.Context, db *gorm.DB, afterID int64, limit int) ([]Product, error)
	UpdateEmbedding(ctx context.Context, db *gorm.DB, id int64, embedding []float64) error
}
