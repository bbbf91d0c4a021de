package domain

import (
	"fmt"
	"strings"
	"time"

	productdomain "github.com/smallbiznis/shopassist/internal/product/domain"
	sessiondomain "github.com/smallbiznis/shopassist/internal/session/domain"
)

// ProductRef is a product reference as it arrives from the classifier.
// ID wins when set; Name is free text resolved by exact lookup first and
// retrieval second.
type ProductRef struct {
	ID   int64
	Name string
}

func (r ProductRef) String() string {
	if r.Name != "" {
		return r.Name
	}
	if r.ID != 0 {
		return fmt.Sprintf("product %d", r.ID)
	}
	return ""
}

type LineRequest struct {
	SessionID int64
	Product   ProductRef
	Quantity  int64
	Category  string
}

type LineResult struct {
	SessionID int64
	Product   productdomain.Product
	Quantity  int64
	Added     int64
	Removed   bool
}

type SummaryLine struct {
	ProductID int64  `json:"product_id,string"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int64  `json:"quantity"`
	Subtotal  int64  `json:"subtotal"`
	Currency  string `json:"currency"`
}

// Summary is the checkout summary projection. It is computed from the
// current cart lines and product prices on every call and never stored.
type Summary struct {
	SessionID  int64         `json:"session_id,string"`
	Lines      []SummaryLine `json:"lines"`
	ItemCount  int64         `json:"item_count"`
	Total      int64         `json:"total"`
	Currency   string        `json:"currency"`
	ComputedAt time.Time     `json:"computed_at"`
}

func (s *Summary) Empty() bool { return s == nil || len(s.Lines) == 0 }

type CheckoutResult struct {
	Session *sessiondomain.Session
	Summary *Summary
	// CleanupPending is set when the session completed but its cart lines
	// could not be archived. The cart cleanup job finishes the archive.
	CleanupPending bool
}

// FormatPrice renders minor units, e.g. 1500 USD as "$15.00".
func FormatPrice(amount int64, currency string) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	value := fmt.Sprintf("%d.%02d", amount/100, amount%100)
	switch strings.ToUpper(currency) {
	case "", "USD":
		return sign + "$" + value
	case "EUR":
		return sign + "€" + value
	case "GBP":
		return sign + "£" + value
	default:
		return sign + value + " " + strings.ToUpper(currency)
	}
}
