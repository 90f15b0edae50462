package coordinator

import "errors"

// Input and business errors the coordinator returns to its caller.
// Ledger and position invariant errors are reported as
// ErrInsufficientFunds or ErrInsufficientShares, and a missing store
// row as ErrNotFound (see mapStorageErr); other storage errors
// propagate as returned.
var (
	ErrInvalidPrice       = errors.New("coordinator: price outside configured bounds")
	ErrInvalidQuantity    = errors.New("coordinator: quantity outside configured bounds")
	ErrInvalidOutcome     = errors.New("coordinator: outcome must be YES or NO")
	ErrMarketClosed       = errors.New("coordinator: market is not open")
	ErrInsufficientFunds  = errors.New("coordinator: insufficient available balance")
	ErrInsufficientShares = errors.New("coordinator: insufficient unreserved shares")
	ErrNotFound           = errors.New("coordinator: not found")
	ErrNotOwner           = errors.New("coordinator: caller does not own this order")
	ErrNotCancellable     = errors.New("coordinator: order is not in a cancellable state")
	ErrNotOpen            = errors.New("coordinator: market is not open")
)
