package broker

import "errors"

// Error taxonomy. Trade execution failures abort with no mutation and
// are surfaced verbatim; read paths degrade instead of failing hard.
var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrPriceUnavailable     = errors.New("price unavailable")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrInsufficientHoldings = errors.New("insufficient holdings")
	ErrAccountNotFound      = errors.New("account not found")
	ErrAccountExists        = errors.New("account already exists")
	ErrStoreFailure         = errors.New("store failure")
)
