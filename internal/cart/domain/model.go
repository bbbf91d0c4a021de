package domain

import "time"

// CartLine is one product in a session's cart. (SessionID, ProductID) is
// unique; quantity changes mutate the existing line.
type CartLine struct {
	ID         int64      `json:"id" gorm:"primaryKey"`
	SessionID  int64      `json:"session_id" gorm:"not null;uniqueIndex:ux_cart_lines_session_product,priority:1"`
	ProductID  int64      `json:"product_id" gorm:"not null;uniqueIndex:ux_cart_lines_session_product,priority:2"`
	Quantity   int64      `json:"quantity" gorm:"not null"`
	Version    int64      `json:"version" gorm:"not null;default:1"`
	AddedAt    time.Time  `json:"added_at" gorm:"not null"`
	UpdatedAt  time.Time  `json:"updated_at" gorm:"not null"`
	ArchivedAt *time.Time `json:"archived_at,omitempty" gorm:"index:idx_cart_lines_archived_at"`
}

func (CartLine) TableName() string { return "cart_lines" }

// QuantityMode selects how Upsert interprets the requested quantity.
type QuantityMode string

const (
	ModeDelta    QuantityMode = "delta"
	ModeAbsolute QuantityMode = "absolute"
)
