package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"vaultline/internal/domain"
	"vaultline/internal/events"
	"vaultline/internal/repo"
	"vaultline/internal/token"
)

// Stake moves tokens from the caller's balance into staking custody. The
// resulting secure stake must meet the configured minimum.
func (e Engine) Stake(ctx context.Context, actor string, amount token.Amount) (domain.Staker, error) {
	if amount.IsZero() {
		return domain.Staker{}, ErrZeroAmount
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Staker{}, err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetStakerTx(ctx, tx, actor)
	if errors.Is(err, repo.ErrNotFound) {
		s = domain.Staker{Address: actor, CreatedAt: e.timestamp()}
	} else if err != nil {
		return domain.Staker{}, err
	}
	if s.SecureStake().Add(amount).Lt(e.Config.MinimumStake()) {
		return domain.Staker{}, ErrBelowMinimumStake
	}
	if err := e.Ledger.Transfer(ctx, tx, actor, StakingAccount, e.Config.Token.ID, amount); err != nil {
		return domain.Staker{}, err
	}
	s.Deposit(amount)
	s.UpdatedAt = e.timestamp()
	if err := e.Repo.UpsertStakerTx(ctx, tx, s); err != nil {
		return domain.Staker{}, err
	}
	if err := e.Events.Append(ctx, tx, events.StakeDeposited, "staker", actor, actor, events.EventPayload{"tokens": amount.String()}); err != nil {
		return domain.Staker{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Staker{}, err
	}
	return s, nil
}

// Unstake schedules tokens for release after the configured lock period. A
// lock already due is paid out first; an outstanding lock is merged by the
// stake-weighted average. The stake left behind must be empty or still meet
// the minimum.
func (e Engine) Unstake(ctx context.Context, actor string, tokens token.Amount) (domain.Staker, error) {
	if tokens.IsZero() {
		return domain.Staker{}, ErrZeroAmount
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Staker{}, err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetStakerTx(ctx, tx, actor)
	if err != nil {
		return domain.Staker{}, err
	}
	if s.TokenStaked.IsZero() {
		return domain.Staker{}, ErrInsufficientStake
	}
	if s.TokensAvailable().Lt(tokens) {
		return domain.Staker{}, ErrInsufficientStake
	}
	newSecure, ok := s.SecureStake().Sub(tokens)
	if !ok {
		return domain.Staker{}, ErrInsufficientStake
	}
	if !newSecure.IsZero() && newSecure.Lt(e.Config.MinimumStake()) {
		return domain.Staker{}, ErrBelowMinimumStake
	}

	now := e.height()
	if due := s.WithdrawTokens(now); !due.IsZero() {
		if err := e.Ledger.Transfer(ctx, tx, StakingAccount, actor, e.Config.Token.ID, due); err != nil {
			return domain.Staker{}, err
		}
		if err := e.Events.Append(ctx, tx, events.StakeWithdrawn, "staker", actor, actor, events.EventPayload{"tokens": due.String()}); err != nil {
			return domain.Staker{}, err
		}
	}
	if err := s.LockTokens(tokens, e.Config.Staking.LockPeriodSeconds, now); err != nil {
		return domain.Staker{}, err
	}
	s.UpdatedAt = e.timestamp()
	if err := e.Repo.UpsertStakerTx(ctx, tx, s); err != nil {
		return domain.Staker{}, err
	}
	if err := e.Events.Append(ctx, tx, events.StakeLocked, "staker", actor, actor, events.EventPayload{
		"tokens": tokens.String(),
		"until":  s.TokensLockedUntil,
	}); err != nil {
		return domain.Staker{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Staker{}, err
	}
	return s, nil
}

// Withdraw pays out a matured lock. Fails when nothing is due; removes the
// staker row when it ends up empty.
func (e Engine) Withdraw(ctx context.Context, actor string) (token.Amount, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return token.Zero(), err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetStakerTx(ctx, tx, actor)
	if err != nil {
		return token.Zero(), err
	}
	due := s.WithdrawTokens(e.height())
	if due.IsZero() {
		return token.Zero(), ErrNothingToWithdraw
	}
	if err := e.Ledger.Transfer(ctx, tx, StakingAccount, actor, e.Config.Token.ID, due); err != nil {
		return token.Zero(), err
	}
	if s.IsEmpty() {
		if err := e.Repo.DeleteStakerTx(ctx, tx, actor); err != nil {
			return token.Zero(), err
		}
	} else {
		s.UpdatedAt = e.timestamp()
		if err := e.Repo.UpsertStakerTx(ctx, tx, s); err != nil {
			return token.Zero(), err
		}
	}
	if err := e.Events.Append(ctx, tx, events.StakeWithdrawn, "staker", actor, actor, events.EventPayload{"tokens": due.String()}); err != nil {
		return token.Zero(), err
	}
	if err := tx.Commit(); err != nil {
		return token.Zero(), err
	}
	return due, nil
}

// Allocate commits available stake to a registered escrow. One live
// allocation per escrow: the derived state must be null.
func (e Engine) Allocate(ctx context.Context, actor, escrowAddress string, tokens token.Amount) (domain.Allocation, error) {
	if tokens.IsZero() {
		return domain.Allocation{}, ErrZeroAmount
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Allocation{}, err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetStakerTx(ctx, tx, actor)
	if err != nil {
		return domain.Allocation{}, err
	}
	if _, err := e.Repo.GetEscrowTx(ctx, tx, escrowAddress); err != nil {
		return domain.Allocation{}, fmt.Errorf("escrow %s: %w", escrowAddress, err)
	}
	if s.TokensAvailable().Lt(tokens) {
		return domain.Allocation{}, ErrInsufficientStake
	}
	state, err := e.allocationStateTx(ctx, tx, escrowAddress)
	if err != nil {
		return domain.Allocation{}, err
	}
	if state != domain.AllocationNull {
		return domain.Allocation{}, ErrAllocationExists
	}

	a := domain.Allocation{
		EscrowAddress: escrowAddress,
		Staker:        actor,
		Tokens:        tokens,
		CreatedAt:     e.height(),
	}
	if err := e.Repo.InsertAllocationTx(ctx, tx, a); err != nil {
		return domain.Allocation{}, err
	}
	s.Allocate(tokens)
	s.UpdatedAt = e.timestamp()
	if err := e.Repo.UpsertStakerTx(ctx, tx, s); err != nil {
		return domain.Allocation{}, err
	}
	if err := e.Events.Append(ctx, tx, events.StakeAllocated, "escrow", escrowAddress, actor, events.EventPayload{
		"staker": actor,
		"tokens": tokens.String(),
	}); err != nil {
		return domain.Allocation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Allocation{}, err
	}
	return a, nil
}

// CloseAllocation releases an allocation once its escrow has completed. Any
// known staker may close it; the released tokens always credit the
// allocation's owner. The close height must be strictly after the creation
// height, and the token figure stays on the row as history.
func (e Engine) CloseAllocation(ctx context.Context, actor, escrowAddress string) (domain.Allocation, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Allocation{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetStakerTx(ctx, tx, actor); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Allocation{}, ErrUnauthorized
		}
		return domain.Allocation{}, err
	}
	a, err := e.Repo.GetAllocationTx(ctx, tx, escrowAddress)
	if err != nil {
		return domain.Allocation{}, err
	}
	state, err := e.allocationStateTx(ctx, tx, escrowAddress)
	if err != nil {
		return domain.Allocation{}, err
	}
	if state != domain.AllocationCompleted {
		return domain.Allocation{}, ErrAllocationNotComplete
	}
	now := e.height()
	if now <= a.CreatedAt {
		return domain.Allocation{}, ErrAllocationCloseEarly
	}

	a.ClosedAt = now
	if err := e.Repo.UpdateAllocationTx(ctx, tx, a); err != nil {
		return domain.Allocation{}, err
	}
	s, err := e.Repo.GetStakerTx(ctx, tx, a.Staker)
	if err != nil {
		return domain.Allocation{}, err
	}
	if !s.Unallocate(a.Tokens) {
		return domain.Allocation{}, fmt.Errorf("staker %s has fewer allocated tokens than allocation %s", a.Staker, escrowAddress)
	}
	s.UpdatedAt = e.timestamp()
	if err := e.Repo.UpsertStakerTx(ctx, tx, s); err != nil {
		return domain.Allocation{}, err
	}
	if err := e.Events.Append(ctx, tx, events.AllocationClosed, "escrow", escrowAddress, actor, events.EventPayload{
		"staker": a.Staker,
		"tokens": a.Tokens.String(),
	}); err != nil {
		return domain.Allocation{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Allocation{}, err
	}
	return a, nil
}

// Slash confiscates part of an allocation and forwards it to the rewards
// pool. Only the configured slash authority may call it, and the amount must
// stay strictly below the allocation.
func (e Engine) Slash(ctx context.Context, actor, slasher, stakerAddress, escrowAddress string, tokens token.Amount) error {
	if actor != e.Config.Staking.SlashAuthority {
		return ErrUnauthorized
	}
	if tokens.IsZero() {
		return ErrZeroAmount
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	a, err := e.Repo.GetAllocationTx(ctx, tx, escrowAddress)
	if err != nil {
		return err
	}
	if a.Staker != stakerAddress {
		return fmt.Errorf("allocation on %s belongs to %s: %w", escrowAddress, a.Staker, ErrUnauthorized)
	}
	if a.Tokens.IsZero() {
		return ErrInsufficientStake
	}
	if !a.Tokens.Gt(tokens) {
		return ErrSlashExceedsAllocated
	}
	s, err := e.Repo.GetStakerTx(ctx, tx, stakerAddress)
	if err != nil {
		return err
	}
	if s.TokensAllocated.Lt(tokens) || s.TokenStaked.Lt(tokens) {
		return ErrInsufficientStake
	}

	s.Unallocate(tokens)
	s.Release(tokens)
	s.UpdatedAt = e.timestamp()
	if err := e.Repo.UpsertStakerTx(ctx, tx, s); err != nil {
		return err
	}
	rest, _ := a.Tokens.Sub(tokens)
	a.Tokens = rest
	if err := e.Repo.UpdateAllocationTx(ctx, tx, a); err != nil {
		return err
	}
	if err := e.Ledger.Transfer(ctx, tx, StakingAccount, RewardsAccount, e.Config.Token.ID, tokens); err != nil {
		return err
	}
	if err := e.addRewardTx(ctx, tx, escrowAddress, slasher, tokens); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.StakeSlashed, "escrow", escrowAddress, actor, events.EventPayload{
		"staker":  stakerAddress,
		"slasher": slasher,
		"tokens":  tokens.String(),
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// AllocationState derives the lifecycle state of the allocation on an escrow.
func (e Engine) AllocationState(ctx context.Context, escrowAddress string) (domain.AllocationState, error) {
	return e.allocationStateTx(ctx, nil, escrowAddress)
}

func (e Engine) allocationStateTx(ctx context.Context, tx *sql.Tx, escrowAddress string) (domain.AllocationState, error) {
	var a domain.Allocation
	var err error
	if tx != nil {
		a, err = e.Repo.GetAllocationTx(ctx, tx, escrowAddress)
	} else {
		a, err = e.Repo.GetAllocation(ctx, escrowAddress)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return domain.AllocationNull, nil
	}
	if err != nil {
		return "", err
	}
	status, err := e.Status.EscrowStatus(ctx, tx, escrowAddress)
	if err != nil {
		return "", err
	}
	switch {
	case a.CreatedAt != 0 && !a.Tokens.IsZero() && status == domain.EscrowPending:
		return domain.AllocationPending, nil
	case a.ClosedAt == 0 && status == domain.EscrowLaunched:
		return domain.AllocationActive, nil
	case a.ClosedAt == 0 && status == domain.EscrowComplete:
		return domain.AllocationCompleted, nil
	default:
		return domain.AllocationClosed, nil
	}
}

// HasStake reports whether an address has any tokens staked.
func (e Engine) HasStake(ctx context.Context, address string) (bool, error) {
	s, err := e.Repo.GetStaker(ctx, address)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !s.TokenStaked.IsZero(), nil
}

// HasAvailableStake reports whether an address has uncommitted stake left.
func (e Engine) HasAvailableStake(ctx context.Context, address string) (bool, error) {
	s, err := e.Repo.GetStaker(ctx, address)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !s.TokensAvailable().IsZero(), nil
}
