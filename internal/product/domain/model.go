package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Product is a catalog entry. Price is in minor currency units.
type Product struct {
	ID            int64                        `json:"id" gorm:"primaryKey"`
	Name          string                       `json:"name" gorm:"type:text;not null"`
	Slug          string                       `json:"slug" gorm:"type:varchar(255);not null;uniqueIndex:ux_products_slug"`
	Description   string                       `json:"description" gorm:"type:text"`
	Category      string                       `json:"category" gorm:"type:varchar(128);not null;index:idx_products_category"`
	SubCategory   string                       `json:"sub_category" gorm:"type:varchar(128)"`
	Price         int64                        `json:"price" gorm:"not null"`
	Currency      string                       `json:"currency" gorm:"type:varchar(3);not null;default:USD"`
	Score         float64                      `json:"score" gorm:"not null;default:0"`
	StockQuantity int64                        `json:"stock_quantity" gorm:"not null;default:0"`
	Embedding     datatypes.JSONSlice[float64] `json:"-" gorm:"type:json"`
	CreatedAt     time.Time                    `json:"created_at" gorm:"not null"`
	UpdatedAt     time.Time                    `json:"updated_at" gorm:"not null"`
}

func (Product) TableName() string { return "products" }

// Validate enforces the stored field constraints.
func (p *Product) Validate() error {
	switch {
	case p.Name == "":
		return ErrInvalidName
	case p.Category == "":
		return ErrInvalidCategory
	case p.Price <= 0:
		return ErrInvalidPrice
	case p.Score < 0 || p.Score > 5:
		return ErrInvalidScore
	case p.StockQuantity < 0:
		return ErrInvalidStock
	}
	return nil
}

// Match is a product paired with its similarity to a query vector.
type Match struct {
	Product    Product
	Similarity float64
}
