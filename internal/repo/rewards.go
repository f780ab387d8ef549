package repo

import (
	"context"
	"database/sql"

	"vaultline/internal/domain"
	"vaultline/internal/token"
)

func (r Repo) InsertRewardTx(ctx context.Context, tx *sql.Tx, reward domain.Reward) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO rewards(escrow_address,slasher,tokens,created_at) VALUES (?,?,?,?)`,
		reward.EscrowAddress, reward.Slasher, reward.Tokens, reward.CreatedAt)
	return err
}

func (r Repo) ListRewardsByEscrowTx(ctx context.Context, tx *sql.Tx, escrowAddress string) ([]domain.Reward, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id,escrow_address,slasher,tokens,created_at FROM rewards WHERE escrow_address=? ORDER BY id`, escrowAddress)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRewards(rows)
}

func (r Repo) ListRewardsByEscrow(ctx context.Context, escrowAddress string) ([]domain.Reward, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,escrow_address,slasher,tokens,created_at FROM rewards WHERE escrow_address=? ORDER BY id`, escrowAddress)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRewards(rows)
}

func collectRewards(rows *sql.Rows) ([]domain.Reward, error) {
	var res []domain.Reward
	for rows.Next() {
		var rw domain.Reward
		if err := rows.Scan(&rw.ID, &rw.EscrowAddress, &rw.Slasher, &rw.Tokens, &rw.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, rw)
	}
	return res, rows.Err()
}

func (r Repo) DeleteRewardsByEscrowTx(ctx context.Context, tx *sql.Tx, escrowAddress string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM rewards WHERE escrow_address=?`, escrowAddress)
	return err
}

// GetRewardFees returns the accumulated protocol fee and the token it is
// denominated in. Missing row means no fees collected yet.
func (r Repo) GetRewardFees(ctx context.Context, tx *sql.Tx) (string, token.Amount, error) {
	row := func() *sql.Row {
		q := `SELECT token,total_fee FROM reward_fees WHERE id=1`
		if tx != nil {
			return tx.QueryRowContext(ctx, q)
		}
		return r.DB.QueryRowContext(ctx, q)
	}()
	var tokenID string
	var fee token.Amount
	err := row.Scan(&tokenID, &fee)
	if err == sql.ErrNoRows {
		return "", token.Zero(), nil
	}
	return tokenID, fee, err
}

func (r Repo) SetRewardFeesTx(ctx context.Context, tx *sql.Tx, tokenID string, fee token.Amount) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO reward_fees(id,token,total_fee) VALUES (1,?,?)
ON CONFLICT(id) DO UPDATE SET token=excluded.token, total_fee=excluded.total_fee`, tokenID, fee)
	return err
}

func (r Repo) GetReputation(ctx context.Context, address string) (domain.Reputation, error) {
	var rep domain.Reputation
	err := r.DB.QueryRowContext(ctx, `SELECT address,score FROM reputations WHERE address=?`, address).Scan(&rep.Address, &rep.Score)
	if err == sql.ErrNoRows {
		return rep, ErrNotFound
	}
	return rep, err
}

func (r Repo) GetReputationTx(ctx context.Context, tx *sql.Tx, address string) (domain.Reputation, error) {
	var rep domain.Reputation
	err := tx.QueryRowContext(ctx, `SELECT address,score FROM reputations WHERE address=?`, address).Scan(&rep.Address, &rep.Score)
	if err == sql.ErrNoRows {
		return rep, ErrNotFound
	}
	return rep, err
}

func (r Repo) UpsertReputationTx(ctx context.Context, tx *sql.Tx, rep domain.Reputation) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO reputations(address,score) VALUES (?,?)
ON CONFLICT(address) DO UPDATE SET score=excluded.score`, rep.Address, rep.Score)
	return err
}

func (r Repo) GetKV(ctx context.Context, address, key string) (domain.KVEntry, error) {
	var e domain.KVEntry
	err := r.DB.QueryRowContext(ctx, `SELECT address,key,value,updated_at FROM kv_entries WHERE address=? AND key=?`, address, key).
		Scan(&e.Address, &e.Key, &e.Value, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	return e, err
}

func (r Repo) UpsertKVTx(ctx context.Context, tx *sql.Tx, e domain.KVEntry) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO kv_entries(address,key,value,updated_at) VALUES (?,?,?,?)
ON CONFLICT(address,key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		e.Address, e.Key, e.Value, e.UpdatedAt)
	return err
}

func (r Repo) ListKV(ctx context.Context, address string) ([]domain.KVEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT address,key,value,updated_at FROM kv_entries WHERE address=? ORDER BY key`, address)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.KVEntry
	for rows.Next() {
		var e domain.KVEntry
		if err := rows.Scan(&e.Address, &e.Key, &e.Value, &e.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
