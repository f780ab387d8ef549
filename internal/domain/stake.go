package domain

import (
	"errors"
	"math"

	"vaultline/internal/token"
)

// ErrLockOverflow means a merged lock horizon would not fit a 64-bit height.
// It is a defensive guard; no realistic lock period reaches it.
var ErrLockOverflow = errors.New("lock horizon overflows 64-bit height")

// TokensAvailable is the stake not committed to allocations or cooling down.
func (s *Staker) TokensAvailable() token.Amount {
	committed := s.TokensAllocated.Add(s.TokensLocked)
	avail, ok := s.TokenStaked.Sub(committed)
	if !ok {
		return token.Zero()
	}
	return avail
}

// SecureStake is the stake minus the portion pending unlock.
func (s *Staker) SecureStake() token.Amount {
	secure, ok := s.TokenStaked.Sub(s.TokensLocked)
	if !ok {
		return token.Zero()
	}
	return secure
}

// Deposit adds freshly transferred tokens to the stake.
func (s *Staker) Deposit(amount token.Amount) {
	s.TokenStaked = s.TokenStaked.Add(amount)
}

// Allocate commits tokens to an allocation. The caller checks
// TokensAvailable first.
func (s *Staker) Allocate(tokens token.Amount) {
	s.TokensAllocated = s.TokensAllocated.Add(tokens)
}

// Unallocate returns previously allocated tokens to the available pool.
func (s *Staker) Unallocate(tokens token.Amount) bool {
	rest, ok := s.TokensAllocated.Sub(tokens)
	if !ok {
		return false
	}
	s.TokensAllocated = rest
	return true
}

// Release removes tokens from the stake outright. Used by the slash path
// after Unallocate has freed the allocated portion.
func (s *Staker) Release(tokens token.Amount) bool {
	rest, ok := s.TokenStaked.Sub(tokens)
	if !ok {
		return false
	}
	s.TokenStaked = rest
	return true
}

// LockTokens merges a new lock of tokens for period heights with any lock
// already outstanding at height now. With an existing lock the new horizon is
// the stake-weighted average of the old lock's remaining period and the new
// period, floor-divided:
//
//	new_period = (remaining_old*old_locked + period*tokens) / (old_locked + tokens)
//
// so a tiny new request cannot reset an existing lock's maturity.
func (s *Staker) LockTokens(tokens token.Amount, period, now uint64) error {
	if s.TokensLocked.IsZero() {
		if period > math.MaxUint64-now {
			return ErrLockOverflow
		}
		s.TokensLocked = tokens
		s.TokensLockedUntil = now + period
		return nil
	}

	var remaining uint64
	if s.TokensLockedUntil > now {
		remaining = s.TokensLockedUntil - now
	}
	oldWeight, ok := s.TokensLocked.MulUint64(remaining)
	if !ok {
		return ErrLockOverflow
	}
	newWeight, ok := tokens.MulUint64(period)
	if !ok {
		return ErrLockOverflow
	}
	total := s.TokensLocked.Add(tokens)
	blended, ok := oldWeight.Add(newWeight).Div(total).Uint64()
	if !ok {
		return ErrLockOverflow
	}
	if blended > math.MaxUint64-now {
		return ErrLockOverflow
	}
	s.TokensLocked = total
	s.TokensLockedUntil = now + blended
	return nil
}

// WithdrawableTokens reports the locked amount if its horizon has passed at
// height now, zero otherwise.
func (s *Staker) WithdrawableTokens(now uint64) token.Amount {
	if s.TokensLockedUntil == 0 || now < s.TokensLockedUntil {
		return token.Zero()
	}
	return s.TokensLocked
}

// WithdrawTokens releases a matured lock: clears the lock fields and removes
// the amount from the stake, returning it for the actual asset transfer.
// Returns zero when nothing is due; that is a no-op, not an error.
func (s *Staker) WithdrawTokens(now uint64) token.Amount {
	due := s.WithdrawableTokens(now)
	if due.IsZero() {
		return token.Zero()
	}
	rest, ok := s.TokenStaked.Sub(due)
	if !ok {
		return token.Zero()
	}
	s.TokenStaked = rest
	s.TokensLocked = token.Zero()
	s.TokensLockedUntil = 0
	return due
}

// IsEmpty reports whether every token field is zero; empty staker rows are
// removed after a successful withdrawal.
func (s *Staker) IsEmpty() bool {
	return s.TokenStaked.IsZero() && s.TokensAllocated.IsZero() && s.TokensLocked.IsZero()
}
