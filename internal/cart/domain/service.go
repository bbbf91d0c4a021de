package domain

import (
	"context"
	"errors"
)

// Service is the cart partition. Only the cart/checkout orchestrator and
// the cleanup job hold it.
type Service interface {
	Get(ctx context.Context, sessionID int64) ([]CartLine, error)
	// Archived returns the lines a checkout cleared, for receipts.
	Archived(ctx context.Context, sessionID int64) ([]CartLine, error)
	Upsert(ctx context.Context, req UpsertRequest) (*CartLine, error)
	Remove(ctx context.Context, sessionID, productID int64) error
	// Archive clears the live cart of a session. Re-archiving is a no-op.
	Archive(ctx context.Context, sessionID int64) (int64, error)
	SessionsWithActiveLines(ctx context.Context, limit int) ([]int64, error)
}

type UpsertRequest struct {
	SessionID int64
	ProductID int64
	Quantity  int64
	Mode      QuantityMode
}

var (
	ErrInvalidQuantity        = errors.New("invalid_quantity")
	ErrInvalidMode            = errors.New("invalid_quantity_mode")
	ErrLineNotFound           = errors.New("cart_line_not_found")
	ErrConcurrentModification = errors.New("concurrent_modification")
)

func IsBusinessErr(err error) bool {
	return errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInvalidMode) ||
		errors.Is(err, ErrLineNotFound) ||
		errors.Is(err, ErrConcurrentModification)
}
