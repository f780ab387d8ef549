package engine

import (
	"context"
	"errors"

	"vaultline/internal/domain"
	"vaultline/internal/events"
)

// SetKV publishes a key/value pair under the caller's address. Last write
// wins.
func (e Engine) SetKV(ctx context.Context, actor, key, value string) (domain.KVEntry, error) {
	if key == "" {
		return domain.KVEntry{}, errors.New("key is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.KVEntry{}, err
	}
	defer tx.Rollback()

	entry := domain.KVEntry{
		Address:   actor,
		Key:       key,
		Value:     value,
		UpdatedAt: e.timestamp(),
	}
	if err := e.Repo.UpsertKVTx(ctx, tx, entry); err != nil {
		return domain.KVEntry{}, err
	}
	if err := e.Events.Append(ctx, tx, events.KVSet, "kv", actor+"/"+key, actor, events.EventPayload{
		"key": key,
	}); err != nil {
		return domain.KVEntry{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.KVEntry{}, err
	}
	return entry, nil
}
