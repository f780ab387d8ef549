package engine

import (
	"context"

	"vaultline/internal/token"
)

// Mint credits new tokens to an account. Only the configured owner may mint;
// this is the bridge stand-in that funds the ledger.
func (e Engine) Mint(ctx context.Context, actor, account string, amount token.Amount) error {
	if actor != e.Config.Rewards.Owner {
		return ErrUnauthorized
	}
	if amount.IsZero() {
		return ErrZeroAmount
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Ledger.Mint(ctx, tx, account, e.Config.Token.ID, amount); err != nil {
		return err
	}
	return tx.Commit()
}

// TransferTokens moves tokens between two user accounts.
func (e Engine) TransferTokens(ctx context.Context, actor, to string, amount token.Amount) error {
	if amount.IsZero() {
		return ErrZeroAmount
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Ledger.Transfer(ctx, tx, actor, to, e.Config.Token.ID, amount); err != nil {
		return err
	}
	return tx.Commit()
}
