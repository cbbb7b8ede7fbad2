package txbuild

import "errors"

var (
	// ErrInvalidAmount indicates a negative input or output value. Always
	// a caller bug, never retried.
	ErrInvalidAmount = errors.New("txbuild: invalid amount")

	// ErrInsufficientFunds indicates the available inputs cannot cover the
	// outputs plus the minimum fee.
	ErrInsufficientFunds = errors.New("txbuild: insufficient funds")

	// ErrFeeTooLarge indicates the computed fee exceeds the emergency
	// ceiling. Fatal; the transaction must not be broadcast.
	ErrFeeTooLarge = errors.New("txbuild: fee exceeds safety ceiling")

	// ErrRequiredMissing indicates a required outpoint was not found among
	// the available inputs.
	ErrRequiredMissing = errors.New("txbuild: required input not available")

	// ErrNilParam indicates a required parameter is nil.
	ErrNilParam = errors.New("txbuild: required parameter is nil")
)
