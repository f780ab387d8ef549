package engine

import (
	"context"
	"errors"

	"vaultline/internal/domain"
	"vaultline/internal/events"
	"vaultline/internal/repo"
)

// AddReputation applies a signed delta to an address's score, clamped to the
// configured bounds. Only the reputation oracle may call it. Scores never
// touch token custody.
func (e Engine) AddReputation(ctx context.Context, actor, address string, delta int64) (domain.Reputation, error) {
	if actor != e.Config.Reputation.Oracle {
		return domain.Reputation{}, ErrUnauthorized
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Reputation{}, err
	}
	defer tx.Rollback()

	rep, err := e.Repo.GetReputationTx(ctx, tx, address)
	if errors.Is(err, repo.ErrNotFound) {
		rep = domain.Reputation{Address: address}
	} else if err != nil {
		return domain.Reputation{}, err
	}
	score := rep.Score + delta
	if score < e.Config.Reputation.Min {
		score = e.Config.Reputation.Min
	}
	if score > e.Config.Reputation.Max {
		score = e.Config.Reputation.Max
	}
	rep.Score = score
	if err := e.Repo.UpsertReputationTx(ctx, tx, rep); err != nil {
		return domain.Reputation{}, err
	}
	if err := e.Events.Append(ctx, tx, events.ReputationUpdated, "reputation", address, actor, events.EventPayload{
		"delta": delta,
		"score": score,
	}); err != nil {
		return domain.Reputation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Reputation{}, err
	}
	return rep, nil
}
