package revshare

import "errors"

var (
	// ErrInvalidRegistryData indicates the serialized registry is malformed.
	ErrInvalidRegistryData = errors.New("revshare: invalid registry data")

	// ErrNoEntries indicates the registry has no beneficiaries.
	ErrNoEntries = errors.New("revshare: no beneficiary entries")

	// ErrLengthMismatch indicates the address and share lists differ in length.
	ErrLengthMismatch = errors.New("revshare: address and share lists differ in length")

	// ErrInvalidAddress indicates a zero or malformed beneficiary address.
	ErrInvalidAddress = errors.New("revshare: invalid address")

	// ErrZeroShares indicates a share amount of zero.
	ErrZeroShares = errors.New("revshare: zero share amount")

	// ErrDuplicateBeneficiary indicates the same address was registered twice.
	ErrDuplicateBeneficiary = errors.New("revshare: duplicate beneficiary")

	// ErrShareOverflow indicates the share weights do not fit in a uint64 total.
	ErrShareOverflow = errors.New("revshare: total shares overflow")

	// ErrTooManyEntries indicates the registry cannot be encoded.
	ErrTooManyEntries = errors.New("revshare: too many entries")

	// ErrIndexOutOfRange indicates a beneficiary index outside [0, count).
	ErrIndexOutOfRange = errors.New("revshare: beneficiary index out of range")

	// ErrNotBeneficiary indicates a release for an address with no shares.
	ErrNotBeneficiary = errors.New("revshare: address is not a beneficiary")

	// ErrNothingDue indicates the beneficiary has nothing to release right now.
	ErrNothingDue = errors.New("revshare: nothing due")

	// ErrTransferFailed indicates the treasury could not pay out; the release was rolled back.
	ErrTransferFailed = errors.New("revshare: transfer failed")

	// ErrTransferUnconfirmed indicates a transfer whose outcome is unknown;
	// the funds may have left the pool.
	ErrTransferUnconfirmed = errors.New("revshare: transfer outcome unknown")

	// ErrReleasePending indicates a committed release could not be settled
	// against the treasury yet.
	ErrReleasePending = errors.New("revshare: release pending settlement")

	// ErrInconsistentState indicates released amounts exceed what the pool accounts for.
	ErrInconsistentState = errors.New("revshare: inconsistent ledger state")

	// ErrAmountOverflow indicates an amount sum does not fit in a uint64.
	ErrAmountOverflow = errors.New("revshare: amount overflow")

	// ErrReleaseConservation indicates per-beneficiary releases do not sum to the total.
	ErrReleaseConservation = errors.New("revshare: release conservation violated")

	// ErrOverEntitlement indicates entitlements exceed the funds received.
	ErrOverEntitlement = errors.New("revshare: entitlements exceed funds received")

	// ErrNilParam indicates a required parameter is nil.
	ErrNilParam = errors.New("revshare: required parameter is nil")

	// ErrRegistryNotFound indicates the store holds no registry.
	ErrRegistryNotFound = errors.New("revshare: registry not found")

	// ErrRegistryExists indicates the store already holds a registry.
	ErrRegistryExists = errors.New("revshare: registry already exists")

	// ErrStoreLocked indicates another process holds the ledger database.
	ErrStoreLocked = errors.New("revshare: ledger database is locked by another process")
)
