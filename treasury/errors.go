package treasury

import "errors"

var (
	// ErrInsufficientFunds indicates the pool cannot cover the transfer.
	ErrInsufficientFunds = errors.New("treasury: insufficient pool funds")

	// ErrBalanceOverflow indicates a deposit would overflow the pool balance.
	ErrBalanceOverflow = errors.New("treasury: pool balance overflow")

	// ErrNilParam indicates a required parameter is nil.
	ErrNilParam = errors.New("treasury: required parameter is nil")

	// ErrZeroAmount indicates a transfer of nothing.
	ErrZeroAmount = errors.New("treasury: zero transfer amount")

	// ErrBroadcastFailed indicates the payout transaction was not accepted by the node.
	ErrBroadcastFailed = errors.New("treasury: payout broadcast failed")

	// ErrInvalidRef indicates a malformed payout reference.
	ErrInvalidRef = errors.New("treasury: invalid payout reference")
)
