package sales

import (
	"errors"
	"fmt"
)

// ErrSaleNotFound is returned by GetSale when no sale exists with the
// requested id.
var ErrSaleNotFound = errors.New("sale not found")

// InvalidInputError reports a request that fails validation before any
// database work happens.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return e.Reason
}

// ProductNotFoundError reports a line item referencing a product id that
// does not exist.
type ProductNotFoundError struct {
	ProductID int64
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %d not found", e.ProductID)
}

// InsufficientStockError reports a line item requesting more units than the
// product has on hand.
type InsufficientStockError struct {
	ProductID   int64
	ProductName string
	Available   int64
	Requested   int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: available %d, requested %d", e.ProductName, e.Available, e.Requested)
}
