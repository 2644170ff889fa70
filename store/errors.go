package store

import (
	"errors"

	"github.com/lib/pq"
)

// Error kinds crossing the store boundary. The HTTP layer maps these to
// status codes; everything else is treated as an infrastructure failure.
var (
	// ErrEmptyBasket is returned by Checkout when the user has no open
	// basket or the basket has no lines.
	ErrEmptyBasket = errors.New("basket is empty")

	// ErrInventoryRecordMissing means a basket line references a
	// (product, shop) position the supplier no longer lists.
	ErrInventoryRecordMissing = errors.New("inventory record missing")

	// ErrShopDisabled means the supplier is not accepting orders.
	ErrShopDisabled = errors.New("shop is not accepting orders")

	// ErrInsufficientStock is returned when a requested quantity exceeds
	// the available stock at validation time.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrOutOfStock is the advisory add-time variant: the record exists
	// but holds zero stock.
	ErrOutOfStock = errors.New("out of stock")

	// ErrCheckoutConflict covers lock timeouts, deadlocks and
	// serialization failures. The aborted transaction left no side
	// effects, so the caller may retry the whole checkout.
	ErrCheckoutConflict = errors.New("checkout conflict, retry")

	// ErrItemNotFound is returned for basket lines and orders that do not
	// exist or do not belong to the caller. The two cases are deliberately
	// indistinguishable.
	ErrItemNotFound = errors.New("item not found")

	// ErrNotAuthorized is returned when a supplier targets a shop bound to
	// another supplier.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrShopMissing is returned by supplier operations when the caller
	// has no shop yet.
	ErrShopMissing = errors.New("shop not found")

	// ErrBadTransition is returned by SetOrderStatus for illegal
	// lifecycle moves.
	ErrBadTransition = errors.New("illegal order status transition")
)

// Postgres error codes that mean "the locks could not be taken, nothing
// happened": lock_not_available, deadlock_detected, serialization_failure.
var conflictCodes = map[pq.ErrorCode]bool{
	"55P03": true,
	"40P01": true,
	"40001": true,
}

// translateConflict folds retryable pq lock errors into ErrCheckoutConflict
// and passes everything else through.
func translateConflict(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && conflictCodes[pqErr.Code] {
		return ErrCheckoutConflict
	}
	return err
}
