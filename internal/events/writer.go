package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event type names mirror the settlement lifecycle.
const (
	StakeDeposited   = "stake.deposited"
	StakeLocked      = "stake.locked"
	StakeWithdrawn   = "stake.withdrawn"
	StakeAllocated   = "stake.allocated"
	StakeSlashed     = "stake.slashed"
	AllocationClosed = "allocation.closed"

	EscrowCreated      = "escrow.created"
	EscrowPending      = "escrow.pending"
	EscrowIntermediate = "escrow.intermediate_storage"
	EscrowBulkTransfer = "escrow.bulk_transfer"
	EscrowCompleted    = "escrow.completed"
	EscrowCancelled    = "escrow.cancelled"

	RewardAdded        = "reward.added"
	RewardsDistributed = "rewards.distributed"
	FeesWithdrawn      = "fees.withdrawn"

	ReputationUpdated = "reputation.updated"
	KVSet             = "kv.set"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
