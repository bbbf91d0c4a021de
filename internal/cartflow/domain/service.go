package domain

import (
	"context"
	"errors"
	"strings"

	productdomain "github.com/smallbiznis/shopassist/internal/product/domain"
)

// Orchestrator runs cart mutations and checkout across the product, cart
// and session partitions. It owns no state of its own.
type Orchestrator interface {
	AddToCart(ctx context.Context, req LineRequest) (*LineResult, error)
	RemoveFromCart(ctx context.Context, sessionID int64, ref ProductRef) (*LineResult, error)
	// UpdateQuantity sets the quantity of an existing line. A quantity of
	// zero or less removes the line.
	UpdateQuantity(ctx context.Context, req LineRequest) (*LineResult, error)
	ViewCart(ctx context.Context, sessionID int64) (*Summary, error)
	Checkout(ctx context.Context, sessionID int64) (*CheckoutResult, error)
	Summary(ctx context.Context, sessionID int64) (*Summary, error)
	// Receipt is the summary of a completed session's checked out lines.
	Receipt(ctx context.Context, sessionID int64) (*Summary, error)
	// SweepCompleted archives lines still live on completed sessions and
	// returns how many sessions it cleaned.
	SweepCompleted(ctx context.Context, limit int) (int, error)
}

// MaxLineQuantity bounds a single line. Larger requests are rejected before
// any stock arithmetic.
const MaxLineQuantity int64 = 10_000

var (
	ErrAmbiguousEntity        = errors.New("ambiguous_entity")
	ErrProductNotFound        = errors.New("product_not_found")
	ErrSessionNotFound        = errors.New("session_not_found")
	ErrSessionClosed          = errors.New("session_closed")
	ErrSessionNotCompleted    = errors.New("session_not_completed")
	ErrEmptyCart              = errors.New("empty_cart")
	ErrNotInCart              = errors.New("product_not_in_cart")
	ErrInvalidQuantity        = errors.New("invalid_quantity")
	ErrInsufficientStock      = errors.New("insufficient_stock")
	ErrConcurrentModification = errors.New("concurrent_modification")
	ErrPartitionUnavailable   = errors.New("partition_unavailable")
)

// AmbiguousError lists the products a reference could not be narrowed
// down between.
type AmbiguousError struct {
	Ref        string
	Candidates []productdomain.Product
}

func (e *AmbiguousError) Error() string {
	names := make([]string, 0, len(e.Candidates))
	for _, c := range e.Candidates {
		names = append(names, c.Name)
	}
	return "ambiguous_entity: " + e.Ref + " matches " + strings.Join(names, ", ")
}

func (e *AmbiguousError) Unwrap() error { return ErrAmbiguousEntity }

// StockError reports the quantity that is actually available.
type StockError struct {
	Product   string
	Available int64
}

func (e *StockError) Error() string { return "insufficient_stock: " + e.Product }

func (e *StockError) Unwrap() error { return ErrInsufficientStock }

// Code is the outcome code recorded for err.
func Code(err error) string {
	for _, known := range []error{
		ErrAmbiguousEntity,
		ErrProductNotFound,
		ErrSessionNotFound,
		ErrSessionClosed,
		ErrSessionNotCompleted,
		ErrEmptyCart,
		ErrNotInCart,
		ErrInvalidQuantity,
		ErrInsufficientStock,
		ErrConcurrentModification,
		ErrPartitionUnavailable,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	if err == nil {
		return "ok"
	}
	return "internal_error"
}
