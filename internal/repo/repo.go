package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"vaultline/internal/config"
	"vaultline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const stakerCols = `address,token_staked,tokens_allocated,tokens_locked,tokens_locked_until,created_at,updated_at`

func scanStaker(row *sql.Row) (domain.Staker, error) {
	var s domain.Staker
	err := row.Scan(&s.Address, &s.TokenStaked, &s.TokensAllocated, &s.TokensLocked, &s.TokensLockedUntil, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) GetStaker(ctx context.Context, address string) (domain.Staker, error) {
	return scanStaker(r.DB.QueryRowContext(ctx, `SELECT `+stakerCols+` FROM stakers WHERE address=?`, address))
}

func (r Repo) GetStakerTx(ctx context.Context, tx *sql.Tx, address string) (domain.Staker, error) {
	return scanStaker(tx.QueryRowContext(ctx, `SELECT `+stakerCols+` FROM stakers WHERE address=?`, address))
}

func (r Repo) UpsertStakerTx(ctx context.Context, tx *sql.Tx, s domain.Staker) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO stakers(`+stakerCols+`) VALUES (?,?,?,?,?,?,?)
ON CONFLICT(address) DO UPDATE SET token_staked=excluded.token_staked, tokens_allocated=excluded.tokens_allocated,
tokens_locked=excluded.tokens_locked, tokens_locked_until=excluded.tokens_locked_until, updated_at=excluded.updated_at`,
		s.Address, s.TokenStaked, s.TokensAllocated, s.TokensLocked, s.TokensLockedUntil, s.CreatedAt, s.UpdatedAt)
	return err
}

func (r Repo) DeleteStakerTx(ctx context.Context, tx *sql.Tx, address string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM stakers WHERE address=?`, address)
	return err
}

func (r Repo) ListStakers(ctx context.Context) ([]domain.Staker, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+stakerCols+` FROM stakers ORDER BY address`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Staker
	for rows.Next() {
		var s domain.Staker
		if err := rows.Scan(&s.Address, &s.TokenStaked, &s.TokensAllocated, &s.TokensLocked, &s.TokensLockedUntil, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, nil
}

const allocationCols = `escrow_address,staker,tokens,created_at,closed_at`

func scanAllocation(row *sql.Row) (domain.Allocation, error) {
	var a domain.Allocation
	err := row.Scan(&a.EscrowAddress, &a.Staker, &a.Tokens, &a.CreatedAt, &a.ClosedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

func (r Repo) GetAllocation(ctx context.Context, escrowAddress string) (domain.Allocation, error) {
	return scanAllocation(r.DB.QueryRowContext(ctx, `SELECT `+allocationCols+` FROM allocations WHERE escrow_address=?`, escrowAddress))
}

func (r Repo) GetAllocationTx(ctx context.Context, tx *sql.Tx, escrowAddress string) (domain.Allocation, error) {
	return scanAllocation(tx.QueryRowContext(ctx, `SELECT `+allocationCols+` FROM allocations WHERE escrow_address=?`, escrowAddress))
}

func (r Repo) InsertAllocationTx(ctx context.Context, tx *sql.Tx, a domain.Allocation) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO allocations(`+allocationCols+`) VALUES (?,?,?,?,?)`,
		a.EscrowAddress, a.Staker, a.Tokens, a.CreatedAt, a.ClosedAt)
	return err
}

func (r Repo) UpdateAllocationTx(ctx context.Context, tx *sql.Tx, a domain.Allocation) error {
	res, err := tx.ExecContext(ctx, `UPDATE allocations SET staker=?, tokens=?, created_at=?, closed_at=? WHERE escrow_address=?`,
		a.Staker, a.Tokens, a.CreatedAt, a.ClosedAt, a.EscrowAddress)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListAllocationsByStaker(ctx context.Context, staker string) ([]domain.Allocation, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+allocationCols+` FROM allocations WHERE staker=? ORDER BY created_at DESC`, staker)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Allocation
	for rows.Next() {
		var a domain.Allocation
		if err := rows.Scan(&a.EscrowAddress, &a.Staker, &a.Tokens, &a.CreatedAt, &a.ClosedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, nil
}

func (r Repo) UpsertConfig(ctx context.Context, cfg *config.Config) error {
	return r.upsertConfig(ctx, nil, cfg)
}

func (r Repo) UpsertConfigTx(ctx context.Context, tx *sql.Tx, cfg *config.Config) error {
	return r.upsertConfig(ctx, tx, cfg)
}

func (r Repo) upsertConfig(ctx context.Context, tx *sql.Tx, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	query := `INSERT INTO configs(id,yaml,updated_at) VALUES (1,?,?)
ON CONFLICT(id) DO UPDATE SET yaml=excluded.yaml, updated_at=excluded.updated_at`
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, string(payload), now)
	} else {
		_, err = r.DB.ExecContext(ctx, query, string(payload), now)
	}
	return err
}

func (r Repo) GetConfig(ctx context.Context) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT yaml FROM configs WHERE id=1`).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return config.FromYAML([]byte(payload))
}

func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, evtType, entityKind, entityID)
}

func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id)
	return id, err
}

func collectEvents(rows *sql.Rows) ([]domain.Event, error) {
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
