package repositories

import (
	"errors"
	"fmt"
)

var (
	// ErrStockInsufficient matches stock errors raised when a conditional decrement loses.
	ErrStockInsufficient = errors.New("stock insufficient")
	// ErrStockNotFound matches stock errors raised for unknown products.
	ErrStockNotFound = errors.New("stock not found")
)

// StockErrorCode enumerates repository error causes for stock ledger operations.
type StockErrorCode string

const (
	// StockErrorInsufficient indicates the requested quantity exceeds the current level.
	StockErrorInsufficient StockErrorCode = "stock_insufficient"
	// StockErrorNotFound indicates the product has no stock record.
	StockErrorNotFound StockErrorCode = "stock_not_found"
	// StockErrorInvalidQuantity indicates a non-positive quantity.
	StockErrorInvalidQuantity StockErrorCode = "stock_invalid_quantity"
)

// StockError wraps stock-specific failures. Available carries the level observed when a
// decrement was refused.
type StockError struct {
	Op        string
	Code      StockErrorCode
	ProductID string
	Available int
	Err       error
}

// Error implements the error interface.
func (e *StockError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s (product %s)", e.Code, e.ProductID)
	if e.Code == StockErrorInsufficient {
		msg = fmt.Sprintf("%s, available %d", msg, e.Available)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

// Unwrap exposes the underlying error, if any.
func (e *StockError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is lets errors.Is match the package sentinels.
func (e *StockError) Is(target error) bool {
	if e == nil {
		return false
	}
	switch target {
	case ErrStockInsufficient:
		return e.Code == StockErrorInsufficient
	case ErrStockNotFound:
		return e.Code == StockErrorNotFound
	}
	return false
}

func (e *StockError) IsNotFound() bool    { return e != nil && e.Code == StockErrorNotFound }
func (e *StockError) IsConflict() bool    { return e != nil && e.Code == StockErrorInsufficient }
func (e *StockError) IsUnavailable() bool { return false }

// NewStockError constructs a typed stock error.
func NewStockError(code StockErrorCode, productID string, available int, err error) *StockError {
	return &StockError{
		Code:      code,
		ProductID: productID,
		Available: available,
		Err:       err,
	}
}
