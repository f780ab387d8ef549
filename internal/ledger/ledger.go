package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"vaultline/internal/domain"
	"vaultline/internal/token"
)

// ErrInsufficientFunds means the debit side does not hold the amount.
var ErrInsufficientFunds = errors.New("insufficient funds")

// Ledger is the funds-transfer primitive. Balances are keyed by
// (account, token); every mutation runs inside the caller's transaction so a
// failed operation never leaves a half-applied transfer.
type Ledger struct {
	DB *sql.DB
}

func (l Ledger) exec(ctx context.Context, tx *sql.Tx) func(query string, args ...any) (sql.Result, error) {
	return func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return l.DB.ExecContext(ctx, query, args...)
	}
}

func (l Ledger) queryRow(ctx context.Context, tx *sql.Tx, query string, args ...any) *sql.Row {
	if tx != nil {
		return tx.QueryRowContext(ctx, query, args...)
	}
	return l.DB.QueryRowContext(ctx, query, args...)
}

// BalanceOf returns the balance for an account, zero when no row exists.
func (l Ledger) BalanceOf(ctx context.Context, tx *sql.Tx, account, tokenID string) (token.Amount, error) {
	var amount token.Amount
	err := l.queryRow(ctx, tx, `SELECT amount FROM balances WHERE account=? AND token=?`, account, tokenID).Scan(&amount)
	if err == sql.ErrNoRows {
		return token.Zero(), nil
	}
	return amount, err
}

// Mint credits freshly issued tokens to an account. Authorization is the
// caller's concern.
func (l Ledger) Mint(ctx context.Context, tx *sql.Tx, account, tokenID string, amount token.Amount) error {
	if amount.IsZero() {
		return nil
	}
	return l.credit(ctx, tx, account, tokenID, amount)
}

// Transfer moves amount from one account to another. Zero-amount transfers
// are a no-op. Fails with ErrInsufficientFunds without touching either side.
func (l Ledger) Transfer(ctx context.Context, tx *sql.Tx, from, to, tokenID string, amount token.Amount) error {
	if amount.IsZero() {
		return nil
	}
	balance, err := l.BalanceOf(ctx, tx, from, tokenID)
	if err != nil {
		return err
	}
	rest, ok := balance.Sub(amount)
	if !ok {
		return fmt.Errorf("%w: account %s holds %s, needs %s", ErrInsufficientFunds, from, balance, amount)
	}
	exec := l.exec(ctx, tx)
	if _, err := exec(`UPDATE balances SET amount=? WHERE account=? AND token=?`, rest, from, tokenID); err != nil {
		return err
	}
	return l.credit(ctx, tx, to, tokenID, amount)
}

func (l Ledger) credit(ctx context.Context, tx *sql.Tx, account, tokenID string, amount token.Amount) error {
	balance, err := l.BalanceOf(ctx, tx, account, tokenID)
	if err != nil {
		return err
	}
	exec := l.exec(ctx, tx)
	_, err = exec(`INSERT INTO balances(account,token,amount) VALUES (?,?,?)
ON CONFLICT(account,token) DO UPDATE SET amount=excluded.amount`, account, tokenID, balance.Add(amount))
	return err
}

// ListBalances returns all nonzero balances for a token ordered by account.
func (l Ledger) ListBalances(ctx context.Context, tokenID string) ([]domain.Balance, error) {
	rows, err := l.DB.QueryContext(ctx, `SELECT account,token,amount FROM balances WHERE token=? AND amount != '0' ORDER BY account`, tokenID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Balance
	for rows.Next() {
		var b domain.Balance
		if err := rows.Scan(&b.Account, &b.Token, &b.Amount); err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, nil
}
