package domain

import "vaultline/internal/token"

// EscrowStatus is the settlement lifecycle of an escrow. Transitions only
// move forward: launched -> pending -> partial -> paid -> complete, with
// cancelled reachable from launched, pending and partial.
type EscrowStatus string

const (
	EscrowLaunched  EscrowStatus = "launched"
	EscrowPending   EscrowStatus = "pending"
	EscrowPartial   EscrowStatus = "partial"
	EscrowPaid      EscrowStatus = "paid"
	EscrowComplete  EscrowStatus = "complete"
	EscrowCancelled EscrowStatus = "cancelled"
)

// AllocationState is never stored; it is derived from the allocation row and
// the live escrow status.
type AllocationState string

const (
	AllocationNull      AllocationState = "null"
	AllocationPending   AllocationState = "pending"
	AllocationActive    AllocationState = "active"
	AllocationCompleted AllocationState = "completed"
	AllocationClosed    AllocationState = "closed"
)

// Staker is the per-address collateral record. The invariant
// tokens_allocated + tokens_locked <= token_staked holds at all times.
type Staker struct {
	Address           string       `json:"address"`
	TokenStaked       token.Amount `json:"token_staked"`
	TokensAllocated   token.Amount `json:"tokens_allocated"`
	TokensLocked      token.Amount `json:"tokens_locked"`
	TokensLockedUntil uint64       `json:"tokens_locked_until"`
	CreatedAt         string       `json:"created_at" format:"date-time"`
	UpdatedAt         string       `json:"updated_at" format:"date-time"`
}

// Allocation commits a slice of a staker's collateral to one escrow. Rows are
// closed (timestamped), never deleted; Tokens keeps its last value as a
// historical record after close.
type Allocation struct {
	EscrowAddress string       `json:"escrow_address"`
	Staker        string       `json:"staker"`
	Tokens        token.Amount `json:"tokens"`
	CreatedAt     uint64       `json:"created_at"`
	ClosedAt      uint64       `json:"closed_at"`
}

// Escrow is the custody record for one job.
type Escrow struct {
	Address               string       `json:"address"`
	Token                 string       `json:"token"`
	Status                EscrowStatus `json:"status"`
	Launcher              string       `json:"launcher"`
	Canceler              string       `json:"canceler"`
	Expiration            uint64       `json:"expiration"`
	BulkMaxValue          token.Amount `json:"bulk_max_value"`
	ReputationOracle      string       `json:"reputation_oracle,omitempty"`
	RecordingOracle       string       `json:"recording_oracle,omitempty"`
	ReputationOracleStake uint64       `json:"reputation_oracle_stake"`
	RecordingOracleStake  uint64       `json:"recording_oracle_stake"`
	RemainingSolutions    uint64       `json:"remaining_solutions"`
	ManifestURL           string       `json:"manifest_url,omitempty"`
	ManifestHash          string       `json:"manifest_hash,omitempty"`
	FinalResultsURL       string       `json:"final_results_url,omitempty"`
	FinalResultsHash      string       `json:"final_results_hash,omitempty"`
	CreatedAt             string       `json:"created_at" format:"date-time"`
}

// Reward is a slasher's pending payout for one escrow, already net of the
// protocol fee.
type Reward struct {
	ID            int64        `json:"id"`
	EscrowAddress string       `json:"escrow_address"`
	Slasher       string       `json:"slasher"`
	Tokens        token.Amount `json:"tokens"`
	CreatedAt     string       `json:"created_at" format:"date-time"`
}

// Balance is one (account, token) row of the funds ledger.
type Balance struct {
	Account string       `json:"account"`
	Token   string       `json:"token"`
	Amount  token.Amount `json:"amount"`
}

// Reputation is the clamped score accumulator for one address.
type Reputation struct {
	Address string `json:"address"`
	Score   int64  `json:"score"`
}

// KVEntry is one key/value pair published by an address.
type KVEntry struct {
	Address   string `json:"address"`
	Key       string `json:"key"`
	Value     string `json:"value"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
