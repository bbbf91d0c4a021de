package repository

import (
	"context"
	"strings"

	"github.com/smallbiznis/shopassist/internal/product/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const productColumns = `id, name, slug, description, category, sub_category, price, currency, score, stock_quantity, embedding, created_at, updated_at`

func (r *repo) Create(ctx context.Context, db *gorm.DB, product *domain.Product) error {
	return db.WithContext(ctx).Create(product).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id int64) (*domain.Product, error) {
	return r.first(ctx, db, "id = ?", id)
}

func (r *repo) FindBySlug(ctx context.Context, db *gorm.DB, slug string) (*domain.Product, error) {
	return r.first(ctx, db, "slug = ?", slug)
}

func (r *repo) first(ctx context.Context, db *gorm.DB, where string, arg any) (*domain.Product, error) {
	var items []domain.Product
	err := db.WithContext(ctx).
		Select(productColumns).
		Where(where, arg).
		Limit(1).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

func (r *repo) FindByCategory(ctx context.Context, db *gorm.DB, category string, excludeSubCategory *string) ([]domain.Product, error) {
	var items []domain.Product
	stmt := db.WithContext(ctx).
		Select(productColumns).
		Where("LOWER(category) = ?", strings.ToLower(category))
	if excludeSubCategory != nil {
		stmt = stmt.Where("LOWER(sub_category) <> ?", strings.ToLower(*excludeSubCategory))
	}
	if err := stmt.Order("score DESC, id ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// Search matches every term against name, description and category.
func (r *repo) Search(ctx context.Context, db *gorm.DB, terms []string, limit int) ([]domain.Product, error) {
	var items []domain.Product
	stmt := db.WithContext(ctx).Select(productColumns)
	for _, term := range terms {
		like := "%" + strings.ToLower(term) + "%"
		stmt = stmt.Where(
			"LOWER(name) LIKE ? OR LOWER(description) LIKE ? OR LOWER(category) LIKE ? OR LOWER(sub_category) LIKE ?",
			like, like, like, like,
		)
	}
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	if err := stmt.Order("score DESC, id ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, afterID int64, limit int) ([]domain.Product, error) {
	var items []domain.Product
	err := db.WithContext(ctx).
		Select(productColumns).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) UpdateEmbedding(ctx context.Context, db *gorm.DB, id int64, embedding []float64) error {
	res := db.WithContext(ctx).
		Model(&domain.Product{}).
		Where("id = ?", id).
		Update("embedding", datatypes.NewJSONSlice(embedding))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
