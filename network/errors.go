package network

import "errors"

var (
	// ErrConnectionFailed indicates the node could not be reached or
	// answered with a non-RPC HTTP error.
	ErrConnectionFailed = errors.New("network: connection failed")

	// ErrAuthFailed indicates the node rejected the RPC credentials.
	ErrAuthFailed = errors.New("network: authentication failed")

	// ErrTxNotFound indicates the node does not know the transaction.
	ErrTxNotFound = errors.New("network: transaction not found")

	// ErrBroadcastRejected indicates the node refused a payout transaction.
	ErrBroadcastRejected = errors.New("network: broadcast rejected")

	// ErrTxAlreadyKnown indicates the node already holds the broadcast
	// transaction in its mempool or chain.
	ErrTxAlreadyKnown = errors.New("network: transaction already known")

	// ErrInvalidResponse indicates a malformed or mismatched RPC response.
	ErrInvalidResponse = errors.New("network: invalid response")

	// ErrNoRPCConfig indicates no node URL was configured for the network.
	ErrNoRPCConfig = errors.New("network: no RPC endpoint configured")
)
