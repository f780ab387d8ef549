package domain_test

import (
	"testing"

	"vaultline/internal/domain"
	"vaultline/internal/token"
)

func amt(v uint64) token.Amount { return token.FromUint64(v) }

func TestTokensAvailable(t *testing.T) {
	s := domain.Staker{
		TokenStaked:     amt(10),
		TokensAllocated: amt(3),
		TokensLocked:    amt(2),
	}
	if got := s.TokensAvailable(); !got.Eq(amt(5)) {
		t.Fatalf("available = %s, want 5", got)
	}
	s.TokensAllocated = amt(8)
	s.TokensLocked = amt(8)
	if got := s.TokensAvailable(); !got.IsZero() {
		t.Fatalf("overcommitted available = %s, want 0", got)
	}
}

func TestLockTokensFresh(t *testing.T) {
	s := domain.Staker{TokenStaked: amt(3000)}
	if err := s.LockTokens(amt(1000), 5, 100); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if !s.TokensLocked.Eq(amt(1000)) {
		t.Fatalf("locked = %s, want 1000", s.TokensLocked)
	}
	if s.TokensLockedUntil != 105 {
		t.Fatalf("until = %d, want 105", s.TokensLockedUntil)
	}
}

func TestLockTokensMergeBlendsHorizon(t *testing.T) {
	s := domain.Staker{
		TokenStaked:       amt(3000),
		TokensLocked:      amt(100),
		TokensLockedUntil: 110,
	}
	// remaining 10 on 100 locked, new 300 for 2:
	// (10*100 + 2*300) / 400 = 4
	if err := s.LockTokens(amt(300), 2, 100); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if !s.TokensLocked.Eq(amt(400)) {
		t.Fatalf("locked = %s, want 400", s.TokensLocked)
	}
	if s.TokensLockedUntil != 104 {
		t.Fatalf("until = %d, want 104", s.TokensLockedUntil)
	}
}

func TestLockTokensMergePastHorizon(t *testing.T) {
	s := domain.Staker{
		TokenStaked:       amt(3000),
		TokensLocked:      amt(100),
		TokensLockedUntil: 90,
	}
	// old lock already due counts zero remaining:
	// (0*100 + 5*300) / 400 = 3 (floored)
	if err := s.LockTokens(amt(300), 5, 100); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if !s.TokensLocked.Eq(amt(400)) {
		t.Fatalf("locked = %s, want 400", s.TokensLocked)
	}
	if s.TokensLockedUntil != 103 {
		t.Fatalf("until = %d, want 103", s.TokensLockedUntil)
	}
}

func TestWithdrawTokens(t *testing.T) {
	s := domain.Staker{
		TokenStaked:       amt(3000),
		TokensLocked:      amt(1000),
		TokensLockedUntil: 105,
	}
	if due := s.WithdrawTokens(104); !due.IsZero() {
		t.Fatalf("early withdraw = %s, want 0", due)
	}
	due := s.WithdrawTokens(105)
	if !due.Eq(amt(1000)) {
		t.Fatalf("due = %s, want 1000", due)
	}
	if !s.TokenStaked.Eq(amt(2000)) {
		t.Fatalf("staked = %s, want 2000", s.TokenStaked)
	}
	if !s.TokensLocked.IsZero() || s.TokensLockedUntil != 0 {
		t.Fatalf("lock not cleared: %s until %d", s.TokensLocked, s.TokensLockedUntil)
	}
}

func TestIsEmptyAfterFullWithdraw(t *testing.T) {
	s := domain.Staker{
		TokenStaked:       amt(1000),
		TokensLocked:      amt(1000),
		TokensLockedUntil: 50,
	}
	if s.IsEmpty() {
		t.Fatalf("staker with lock should not be empty")
	}
	if due := s.WithdrawTokens(60); !due.Eq(amt(1000)) {
		t.Fatalf("due = %s, want 1000", due)
	}
	if !s.IsEmpty() {
		t.Fatalf("expected empty staker after full withdraw")
	}
}

func TestUnallocateAndRelease(t *testing.T) {
	s := domain.Staker{
		TokenStaked:     amt(3000),
		TokensAllocated: amt(2000),
	}
	if s.Unallocate(amt(2500)) {
		t.Fatalf("unallocate beyond allocated should fail")
	}
	if !s.Unallocate(amt(500)) {
		t.Fatalf("unallocate: unexpected failure")
	}
	if !s.TokensAllocated.Eq(amt(1500)) {
		t.Fatalf("allocated = %s, want 1500", s.TokensAllocated)
	}
	if !s.Release(amt(500)) {
		t.Fatalf("release: unexpected failure")
	}
	if !s.TokenStaked.Eq(amt(2500)) {
		t.Fatalf("staked = %s, want 2500", s.TokenStaked)
	}
}
