package repo

import (
	"context"
	"database/sql"

	"vaultline/internal/domain"
)

const escrowCols = `address,token,status,launcher,canceler,expiration,bulk_max_value,
reputation_oracle,recording_oracle,reputation_oracle_stake,recording_oracle_stake,
remaining_solutions,manifest_url,manifest_hash,final_results_url,final_results_hash,created_at`

func scanEscrowRow(scan func(dest ...any) error) (domain.Escrow, error) {
	var e domain.Escrow
	var repOracle, recOracle, manURL, manHash, resURL, resHash sql.NullString
	err := scan(&e.Address, &e.Token, &e.Status, &e.Launcher, &e.Canceler, &e.Expiration, &e.BulkMaxValue,
		&repOracle, &recOracle, &e.ReputationOracleStake, &e.RecordingOracleStake,
		&e.RemainingSolutions, &manURL, &manHash, &resURL, &resHash, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	e.ReputationOracle = repOracle.String
	e.RecordingOracle = recOracle.String
	e.ManifestURL = manURL.String
	e.ManifestHash = manHash.String
	e.FinalResultsURL = resURL.String
	e.FinalResultsHash = resHash.String
	return e, nil
}

func (r Repo) GetEscrow(ctx context.Context, address string) (domain.Escrow, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+escrowCols+` FROM escrows WHERE address=?`, address)
	return scanEscrowRow(row.Scan)
}

func (r Repo) GetEscrowTx(ctx context.Context, tx *sql.Tx, address string) (domain.Escrow, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+escrowCols+` FROM escrows WHERE address=?`, address)
	return scanEscrowRow(row.Scan)
}

func (r Repo) InsertEscrowTx(ctx context.Context, tx *sql.Tx, e domain.Escrow) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO escrows(`+escrowCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.Address, e.Token, e.Status, e.Launcher, e.Canceler, e.Expiration, e.BulkMaxValue,
		nullable(e.ReputationOracle), nullable(e.RecordingOracle), e.ReputationOracleStake, e.RecordingOracleStake,
		e.RemainingSolutions, nullable(e.ManifestURL), nullable(e.ManifestHash),
		nullable(e.FinalResultsURL), nullable(e.FinalResultsHash), e.CreatedAt)
	return err
}

func (r Repo) UpdateEscrowTx(ctx context.Context, tx *sql.Tx, e domain.Escrow) error {
	res, err := tx.ExecContext(ctx, `UPDATE escrows SET status=?, reputation_oracle=?, recording_oracle=?,
reputation_oracle_stake=?, recording_oracle_stake=?, remaining_solutions=?,
manifest_url=?, manifest_hash=?, final_results_url=?, final_results_hash=? WHERE address=?`,
		e.Status, nullable(e.ReputationOracle), nullable(e.RecordingOracle),
		e.ReputationOracleStake, e.RecordingOracleStake, e.RemainingSolutions,
		nullable(e.ManifestURL), nullable(e.ManifestHash), nullable(e.FinalResultsURL), nullable(e.FinalResultsHash), e.Address)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// HasEscrow reports whether an address names a registered escrow.
func (r Repo) HasEscrow(ctx context.Context, address string) (bool, error) {
	var one int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM escrows WHERE address=?`, address).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// EscrowCounter returns how many escrows a launcher has created.
func (r Repo) EscrowCounter(ctx context.Context, launcher string) (int64, error) {
	var n int64
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM escrows WHERE launcher=?`, launcher).Scan(&n)
	return n, err
}

func (r Repo) ListEscrows(ctx context.Context, launcher, status string) ([]domain.Escrow, error) {
	query := `SELECT ` + escrowCols + ` FROM escrows`
	var clauses []string
	var args []any
	if launcher != "" {
		clauses = append(clauses, "launcher=?")
		args = append(args, launcher)
	}
	if status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, status)
	}
	for i, c := range clauses {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY created_at DESC"
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Escrow
	for rows.Next() {
		e, err := scanEscrowRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) AddTrustedHandlersTx(ctx context.Context, tx *sql.Tx, escrowAddress string, handlers []string) error {
	for _, h := range handlers {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO escrow_trusted_handlers(escrow_address,handler) VALUES (?,?)`, escrowAddress, h); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) IsTrustedHandlerTx(ctx context.Context, tx *sql.Tx, escrowAddress, handler string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM escrow_trusted_handlers WHERE escrow_address=? AND handler=?`, escrowAddress, handler).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) ListTrustedHandlers(ctx context.Context, escrowAddress string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT handler FROM escrow_trusted_handlers WHERE escrow_address=? ORDER BY handler`, escrowAddress)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		res = append(res, h)
	}
	return res, rows.Err()
}
