package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatPrice(t *testing.T) {
	assert.Equal(t, "$15.00", FormatPrice(1500, "USD"))
	assert.Equal(t, "$0.05", FormatPrice(5, ""))
	assert.Equal(t, "€89.90", FormatPrice(8990, "eur"))
	assert.Equal(t, "12.34 IDR", FormatPrice(1234, "IDR"))
	assert.Equal(t, "-$1.50", FormatPrice(-150, "USD"))
}

func TestCode(t *testing.T) {
	assert.Equal(t, "ok", Code(nil))
	assert.Equal(t, "empty_cart", Code(ErrEmptyCart))
	assert.Equal(t, "partition_unavailable", Code(fmt.Errorf("%w: product", ErrPartitionUnavailable)))
	assert.Equal(t, "ambiguous_entity", Code(&AmbiguousError{Ref: "tee"}))
	assert.Equal(t, "insufficient_stock", Code(&StockError{Product: "Denim Jacket"}))
	assert.Equal(t, "internal_error", Code(errors.New("boom")))
}
