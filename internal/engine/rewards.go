package engine

import (
	"context"
	"database/sql"

	"vaultline/internal/domain"
	"vaultline/internal/events"
	"vaultline/internal/token"
)

// addRewardTx books a slashed amount into the pool. Amounts below the
// protocol fee are absorbed into the fee total and leave no reward behind.
func (e Engine) addRewardTx(ctx context.Context, tx *sql.Tx, escrowAddress, slasher string, tokens token.Amount) error {
	feeToken, totalFee, err := e.Repo.GetRewardFees(ctx, tx)
	if err != nil {
		return err
	}
	if feeToken == "" {
		feeToken = e.Config.Token.ID
	}
	protocolFee := e.Config.ProtocolFee()
	if tokens.Lt(protocolFee) {
		return e.Repo.SetRewardFeesTx(ctx, tx, feeToken, totalFee.Add(tokens))
	}
	reward, _ := tokens.Sub(protocolFee)
	if err := e.Repo.InsertRewardTx(ctx, tx, domain.Reward{
		EscrowAddress: escrowAddress,
		Slasher:       slasher,
		Tokens:        reward,
		CreatedAt:     e.timestamp(),
	}); err != nil {
		return err
	}
	if err := e.Repo.SetRewardFeesTx(ctx, tx, feeToken, totalFee.Add(protocolFee)); err != nil {
		return err
	}
	return e.Events.Append(ctx, tx, events.RewardAdded, "escrow", escrowAddress, slasher, events.EventPayload{
		"slasher": slasher,
		"tokens":  reward.String(),
	})
}

// DistributeRewards pays out every pending reward of an escrow to its
// slasher. Anyone may trigger the distribution.
func (e Engine) DistributeRewards(ctx context.Context, actor, escrowAddress string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rewards, err := e.Repo.ListRewardsByEscrowTx(ctx, tx, escrowAddress)
	if err != nil {
		return err
	}
	if len(rewards) == 0 {
		return nil
	}
	for _, rw := range rewards {
		if err := e.Ledger.Transfer(ctx, tx, RewardsAccount, rw.Slasher, e.Config.Token.ID, rw.Tokens); err != nil {
			return err
		}
	}
	if err := e.Repo.DeleteRewardsByEscrowTx(ctx, tx, escrowAddress); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.RewardsDistributed, "escrow", escrowAddress, actor, events.EventPayload{
		"count": len(rewards),
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// WithdrawFees pays the accumulated protocol fees to the pool owner.
func (e Engine) WithdrawFees(ctx context.Context, actor string) (token.Amount, error) {
	if actor != e.Config.Rewards.Owner {
		return token.Zero(), ErrUnauthorized
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return token.Zero(), err
	}
	defer tx.Rollback()

	fee, err := e.withdrawFeesTx(ctx, tx, actor)
	if err != nil {
		return token.Zero(), err
	}
	if err := tx.Commit(); err != nil {
		return token.Zero(), err
	}
	return fee, nil
}

func (e Engine) withdrawFeesTx(ctx context.Context, tx *sql.Tx, actor string) (token.Amount, error) {
	feeToken, totalFee, err := e.Repo.GetRewardFees(ctx, tx)
	if err != nil {
		return token.Zero(), err
	}
	if totalFee.IsZero() {
		return token.Zero(), ErrNothingToWithdraw
	}
	if err := e.Ledger.Transfer(ctx, tx, RewardsAccount, e.Config.Rewards.Owner, feeToken, totalFee); err != nil {
		return token.Zero(), err
	}
	if err := e.Repo.SetRewardFeesTx(ctx, tx, feeToken, token.Zero()); err != nil {
		return token.Zero(), err
	}
	if err := e.Events.Append(ctx, tx, events.FeesWithdrawn, "rewards", "", actor, events.EventPayload{
		"tokens": totalFee.String(),
	}); err != nil {
		return token.Zero(), err
	}
	return totalFee, nil
}

// SetRewardsToken changes the token the fee total is denominated in. Any
// accumulated fees are paid out to the owner first so balances in the old
// token never mix with the new one.
func (e Engine) SetRewardsToken(ctx context.Context, actor, tokenID string) error {
	if actor != e.Config.Rewards.Owner {
		return ErrUnauthorized
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, totalFee, err := e.Repo.GetRewardFees(ctx, tx)
	if err != nil {
		return err
	}
	if !totalFee.IsZero() {
		if _, err := e.withdrawFeesTx(ctx, tx, actor); err != nil {
			return err
		}
	}
	if err := e.Repo.SetRewardFeesTx(ctx, tx, tokenID, token.Zero()); err != nil {
		return err
	}
	return tx.Commit()
}

// RewardFees returns the fee token and the accumulated protocol fee.
func (e Engine) RewardFees(ctx context.Context) (string, token.Amount, error) {
	feeToken, totalFee, err := e.Repo.GetRewardFees(ctx, nil)
	if err != nil {
		return "", token.Zero(), err
	}
	if feeToken == "" {
		feeToken = e.Config.Token.ID
	}
	return feeToken, totalFee, nil
}
