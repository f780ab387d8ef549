package engine

import "errors"

// Precondition failures. Handlers map these to client errors; anything else
// coming out of the engine is a server fault.
var (
	ErrUnauthorized    = errors.New("caller not authorized")
	ErrUntrustedCaller = errors.New("caller is not a trusted handler")

	ErrZeroAmount            = errors.New("amount must be positive")
	ErrBelowMinimumStake     = errors.New("total stake is below the minimum stake")
	ErrInsufficientStake     = errors.New("insufficient amount of staked tokens")
	ErrNothingToWithdraw     = errors.New("stake has no available tokens for withdrawal")
	ErrAllocationExists      = errors.New("allocation already exists")
	ErrAllocationNotComplete = errors.New("allocation is not in a completed state")
	ErrAllocationCloseEarly  = errors.New("allocation cannot be closed so early")
	ErrSlashExceedsAllocated = errors.New("slash amount must stay below the allocated tokens")

	ErrEscrowExpired       = errors.New("escrow has expired")
	ErrInvalidEscrowStatus = errors.New("escrow status does not allow this operation")
	ErrTokenMismatch       = errors.New("token does not match the escrow token")
	ErrOracleStakeTooHigh  = errors.New("oracle stakes exceed 100 percent")
	ErrZeroSolutions       = errors.New("solutions must be positive")
	ErrZeroBalance         = errors.New("escrow balance is zero")
	ErrLengthMismatch      = errors.New("recipients and amounts differ in length")
	ErrTooManyRecipients   = errors.New("too many recipients in one payout")
	ErrBulkValueTooHigh    = errors.New("payout aggregate exceeds the bulk transfer ceiling")
)
