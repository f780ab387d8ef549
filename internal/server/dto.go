package server

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"vaultline/internal/domain"
	"vaultline/internal/token"
)

// Amounts travel as decimal strings on the wire.

type StakerResponse struct {
	Address           string `json:"address"`
	TokenStaked       string `json:"token_staked"`
	TokensAllocated   string `json:"tokens_allocated"`
	TokensLocked      string `json:"tokens_locked"`
	TokensLockedUntil uint64 `json:"tokens_locked_until"`
	TokensAvailable   string `json:"tokens_available"`
	CreatedAt         string `json:"created_at"`
	UpdatedAt         string `json:"updated_at"`
}

func stakerResponse(s domain.Staker) StakerResponse {
	return StakerResponse{
		Address:           s.Address,
		TokenStaked:       s.TokenStaked.String(),
		TokensAllocated:   s.TokensAllocated.String(),
		TokensLocked:      s.TokensLocked.String(),
		TokensLockedUntil: s.TokensLockedUntil,
		TokensAvailable:   s.TokensAvailable().String(),
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
}

type AllocationResponse struct {
	EscrowAddress string `json:"escrow_address"`
	Staker        string `json:"staker"`
	Tokens        string `json:"tokens"`
	CreatedAt     uint64 `json:"created_at"`
	ClosedAt      uint64 `json:"closed_at"`
}

func allocationResponse(a domain.Allocation) AllocationResponse {
	return AllocationResponse{
		EscrowAddress: a.EscrowAddress,
		Staker:        a.Staker,
		Tokens:        a.Tokens.String(),
		CreatedAt:     a.CreatedAt,
		ClosedAt:      a.ClosedAt,
	}
}

type EscrowResponse struct {
	Address               string `json:"address"`
	Token                 string `json:"token"`
	Status                string `json:"status"`
	Launcher              string `json:"launcher"`
	Canceler              string `json:"canceler"`
	Expiration            uint64 `json:"expiration"`
	BulkMaxValue          string `json:"bulk_max_value"`
	ReputationOracle      string `json:"reputation_oracle,omitempty"`
	RecordingOracle       string `json:"recording_oracle,omitempty"`
	ReputationOracleStake uint64 `json:"reputation_oracle_stake"`
	RecordingOracleStake  uint64 `json:"recording_oracle_stake"`
	RemainingSolutions    uint64 `json:"remaining_solutions"`
	ManifestURL           string `json:"manifest_url,omitempty"`
	ManifestHash          string `json:"manifest_hash,omitempty"`
	FinalResultsURL       string `json:"final_results_url,omitempty"`
	FinalResultsHash      string `json:"final_results_hash,omitempty"`
	CreatedAt             string `json:"created_at"`
}

func escrowResponse(e domain.Escrow) EscrowResponse {
	return EscrowResponse{
		Address:               e.Address,
		Token:                 e.Token,
		Status:                string(e.Status),
		Launcher:              e.Launcher,
		Canceler:              e.Canceler,
		Expiration:            e.Expiration,
		BulkMaxValue:          e.BulkMaxValue.String(),
		ReputationOracle:      e.ReputationOracle,
		RecordingOracle:       e.RecordingOracle,
		ReputationOracleStake: e.ReputationOracleStake,
		RecordingOracleStake:  e.RecordingOracleStake,
		RemainingSolutions:    e.RemainingSolutions,
		ManifestURL:           e.ManifestURL,
		ManifestHash:          e.ManifestHash,
		FinalResultsURL:       e.FinalResultsURL,
		FinalResultsHash:      e.FinalResultsHash,
		CreatedAt:             e.CreatedAt,
	}
}

type RewardResponse struct {
	ID            int64  `json:"id"`
	EscrowAddress string `json:"escrow_address"`
	Slasher       string `json:"slasher"`
	Tokens        string `json:"tokens"`
	CreatedAt     string `json:"created_at"`
}

func rewardResponse(r domain.Reward) RewardResponse {
	return RewardResponse{
		ID:            r.ID,
		EscrowAddress: r.EscrowAddress,
		Slasher:       r.Slasher,
		Tokens:        r.Tokens.String(),
		CreatedAt:     r.CreatedAt,
	}
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json,omitempty"`
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    e.Payload,
	}
}

// parseAmount converts a wire amount into a token.Amount or a 400 error.
func parseAmount(field, value string) (token.Amount, huma.StatusError) {
	a, err := token.Parse(value)
	if err != nil {
		return token.Zero(), newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": field})
	}
	return a, nil
}
