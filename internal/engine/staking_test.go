package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"vaultline/internal/config"
	"vaultline/internal/db"
	"vaultline/internal/domain"
	"vaultline/internal/engine"
	"vaultline/internal/migrate"
	"vaultline/internal/token"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	now    time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("VLT")
	cfg.Staking.MinimumStake = "1000"
	cfg.Staking.LockPeriodSeconds = 100
	cfg.Rewards.ProtocolFee = "10"
	env := &testEnv{Ctx: context.Background(), now: time.Unix(1_700_000_000, 0).UTC()}
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return env.now }
	env.Engine = eng
	return env
}

func (env *testEnv) advance(d time.Duration) {
	env.now = env.now.Add(d)
}

func (env *testEnv) height() uint64 {
	return uint64(env.now.Unix())
}

func (env *testEnv) mint(t *testing.T, account string, amount uint64) {
	t.Helper()
	if err := env.Engine.Ledger.Mint(env.Ctx, nil, account, "VLT", token.FromUint64(amount)); err != nil {
		t.Fatalf("mint %d to %s: %v", amount, account, err)
	}
}

func (env *testEnv) balance(t *testing.T, account string) token.Amount {
	t.Helper()
	b, err := env.Engine.Ledger.BalanceOf(env.Ctx, nil, account, "VLT")
	if err != nil {
		t.Fatalf("balance of %s: %v", account, err)
	}
	return b
}

func (env *testEnv) checkBalance(t *testing.T, account string, want uint64) {
	t.Helper()
	if got := env.balance(t, account); !got.Eq(token.FromUint64(want)) {
		t.Fatalf("balance of %s = %s, want %d", account, got, want)
	}
}

func (env *testEnv) createEscrow(t *testing.T, launcher string) domain.Escrow {
	t.Helper()
	esc, err := env.Engine.CreateEscrow(env.Ctx, launcher, engine.EscrowCreateOptions{})
	if err != nil {
		t.Fatalf("create escrow: %v", err)
	}
	return esc
}

func TestStakeMovesTokensIntoCustody(t *testing.T) {
	env := newTestEnv(t)
	env.mint(t, "alice", 5000)
	s, err := env.Engine.Stake(env.Ctx, "alice", token.FromUint64(3000))
	if err != nil {
		t.Fatalf("stake: %v", err)
	}
	if !s.TokenStaked.Eq(token.FromUint64(3000)) {
		t.Fatalf("staked = %s, want 3000", s.TokenStaked)
	}
	env.checkBalance(t, "alice", 2000)
	env.checkBalance(t, engine.StakingAccount, 3000)
}

func TestStakeBelowMinimum(t *testing.T) {
	env := newTestEnv(t)
	env.mint(t, "bob", 5000)
	if _, err := env.Engine.Stake(env.Ctx, "bob", token.FromUint64(500)); !errors.Is(err, engine.ErrBelowMinimumStake) {
		t.Fatalf("err = %v, want ErrBelowMinimumStake", err)
	}
	if _, err := env.Engine.Stake(env.Ctx, "bob", token.Zero()); !errors.Is(err, engine.ErrZeroAmount) {
		t.Fatalf("err = %v, want ErrZeroAmount", err)
	}
}

func TestStakeWithoutFunds(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.Stake(env.Ctx, "poor", token.FromUint64(2000)); err == nil {
		t.Fatalf("expected insufficient funds error")
	}
}

func TestUnstakeLockAndWithdraw(t *testing.T) {
	env := newTestEnv(t)
	env.mint(t, "alice", 5000)
	if _, err := env.Engine.Stake(env.Ctx, "alice", token.FromUint64(3000)); err != nil {
		t.Fatalf("stake: %v", err)
	}
	s, err := env.Engine.Unstake(env.Ctx, "alice", token.FromUint64(1000))
	if err != nil {
		t.Fatalf("unstake: %v", err)
	}
	if !s.TokensLocked.Eq(token.FromUint64(1000)) {
		t.Fatalf("locked = %s, want 1000", s.TokensLocked)
	}
	if want := env.height() + 100; s.TokensLockedUntil != want {
		t.Fatalf("until = %d, want %d", s.TokensLockedUntil, want)
	}
	if _, err := env.Engine.Withdraw(env.Ctx, "alice"); !errors.Is(err, engine.ErrNothingToWithdraw) {
		t.Fatalf("early withdraw err = %v, want ErrNothingToWithdraw", err)
	}
	env.advance(100 * time.Second)
	due, err := env.Engine.Withdraw(env.Ctx, "alice")
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if !due.Eq(token.FromUint64(1000)) {
		t.Fatalf("withdrawn = %s, want 1000", due)
	}
	env.checkBalance(t, "alice", 3000)
	env.checkBalance(t, engine.StakingAccount, 2000)
	s2, err := env.Engine.Repo.GetStaker(env.Ctx, "alice")
	if err != nil {
		t.Fatalf("get staker: %v", err)
	}
	if !s2.TokenStaked.Eq(token.FromUint64(2000)) {
		t.Fatalf("staked = %s, want 2000", s2.TokenStaked)
	}
}

func TestUnstakeMergesOutstandingLock(t *testing.T) {
	env := newTestEnv(t)
	env.mint(t, "alice", 5000)
	if _, err := env.Engine.Stake(env.Ctx, "alice", token.FromUint64(3000)); err != nil {
		t.Fatalf("stake: %v", err)
	}
	start := env.height()
	if _, err := env.Engine.Unstake(env.Ctx, "alice", token.FromUint64(1000)); err != nil {
		t.Fatalf("first unstake: %v", err)
	}
	env.advance(10 * time.Second)
	s, err := env.Engine.Unstake(env.Ctx, "alice", token.FromUint64(1000))
	if err != nil {
		t.Fatalf("second unstake: %v", err)
	}
	if !s.TokensLocked.Eq(token.FromUint64(2000)) {
		t.Fatalf("locked = %s, want 2000", s.TokensLocked)
	}
	// (90*1000 + 100*1000) / 2000 = 95 past the second unstake
	if want := start + 10 + 95; s.TokensLockedUntil != want {
		t.Fatalf("until = %d, want %d", s.TokensLockedUntil, want)
	}
}

func TestUnstakePaysDueLockFirst(t *testing.T) {
	env := newTestEnv(t)
	env.mint(t, "alice", 5000)
	if _, err := env.Engine.Stake(env.Ctx, "alice", token.FromUint64(3000)); err != nil {
		t.Fatalf("stake: %v", err)
	}
	if _, err := env.Engine.Unstake(env.Ctx, "alice", token.FromUint64(1000)); err != nil {
		t.Fatalf("first unstake: %v", err)
	}
	env.advance(150 * time.Second)
	s, err := env.Engine.Unstake(env.Ctx, "alice", token.FromUint64(1000))
	if err != nil {
		t.Fatalf("second unstake: %v", err)
	}
	if !s.TokenStaked.Eq(token.FromUint64(2000)) {
		t.Fatalf("staked = %s, want 2000 after due lock payout", s.TokenStaked)
	}
	if !s.TokensLocked.Eq(token.FromUint64(1000)) {
		t.Fatalf("locked = %s, want 1000", s.TokensLocked)
	}
	if want := env.height() + 100; s.TokensLockedUntil != want {
		t.Fatalf("until = %d, want %d", s.TokensLockedUntil, want)
	}
	env.checkBalance(t, "alice", 3000)
}

func TestUnstakeGuards(t *testing.T) {
	env := newTestEnv(t)
	env.mint(t, "alice", 5000)
	if _, err := env.Engine.Stake(env.Ctx, "alice", token.FromUint64(3000)); err != nil {
		t.Fatalf("stake: %v", err)
	}
	// would leave 500 secure, below the 1000 minimum
	if _, err := env.Engine.Unstake(env.Ctx, "alice", token.FromUint64(2500)); !errors.Is(err, engine.ErrBelowMinimumStake) {
		t.Fatalf("err = %v, want ErrBelowMinimumStake", err)
	}
	if _, err := env.Engine.Unstake(env.Ctx, "alice", token.FromUint64(4000)); !errors.Is(err, engine.ErrInsufficientStake) {
		t.Fatalf("err = %v, want ErrInsufficientStake", err)
	}
	// unstaking everything is allowed
	if _, err := env.Engine.Unstake(env.Ctx, "alice", token.FromUint64(3000)); err != nil {
		t.Fatalf("full unstake: %v", err)
	}
}

func TestWithdrawDeletesEmptyStaker(t *testing.T) {
	env := newTestEnv(t)
	env.mint(t, "alice", 5000)
	if _, err := env.Engine.Stake(env.Ctx, "alice", token.FromUint64(3000)); err != nil {
		t.Fatalf("stake: %v", err)
	}
	if _, err := env.Engine.Unstake(env.Ctx, "alice", token.FromUint64(3000)); err != nil {
		t.Fatalf("unstake: %v", err)
	}
	env.advance(100 * time.Second)
	if _, err := env.Engine.Withdraw(env.Ctx, "alice"); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	has, err := env.Engine.HasStake(env.Ctx, "alice")
	if err != nil {
		t.Fatalf("has stake: %v", err)
	}
	if has {
		t.Fatalf("expected staker row removed after full withdrawal")
	}
	env.checkBalance(t, "alice", 5000)
}

func TestAllocateLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.mint(t, "alice", 5000)
	env.mint(t, "launcher", 2000)
	if _, err := env.Engine.Stake(env.Ctx, "alice", token.FromUint64(3000)); err != nil {
		t.Fatalf("stake: %v", err)
	}
	esc := env.createEscrow(t, "launcher")

	a, err := env.Engine.Allocate(env.Ctx, "alice", esc.Address, token.FromUint64(2000))
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if a.CreatedAt != env.height() {
		t.Fatalf("created_at = %d, want %d", a.CreatedAt, env.height())
	}
	state, err := env.Engine.AllocationState(env.Ctx, esc.Address)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state != domain.AllocationActive {
		t.Fatalf("state = %s, want active", state)
	}
	if _, err := env.Engine.Allocate(env.Ctx, "alice", esc.Address, token.FromUint64(500)); !errors.Is(err, engine.ErrAllocationExists) {
		t.Fatalf("err = %v, want ErrAllocationExists", err)
	}
	if _, err := env.Engine.CloseAllocation(env.Ctx, "alice", esc.Address); !errors.Is(err, engine.ErrAllocationNotComplete) {
		t.Fatalf("err = %v, want ErrAllocationNotComplete", err)
	}

	// drive the escrow to complete
	if _, err := env.Engine.SetupEscrow(env.Ctx, "launcher", esc.Address, engine.EscrowSetupOptions{
		ReputationOracle: "rep",
		RecordingOracle:  "rec",
		Solutions:        1,
	}); err != nil {
		t.Fatalf("setup: %v", err)
	}
	state, _ = env.Engine.AllocationState(env.Ctx, esc.Address)
	if state != domain.AllocationPending {
		t.Fatalf("state = %s, want pending", state)
	}
	if err := env.Engine.DepositEscrow(env.Ctx, "launcher", esc.Address, "VLT", token.FromUint64(500)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	paid, err := env.Engine.BulkPayout(env.Ctx, "launcher", esc.Address, engine.BulkPayoutOptions{
		Recipients: []string{"worker"},
		Amounts:    []token.Amount{token.FromUint64(500)},
	})
	if err != nil || !paid {
		t.Fatalf("payout: paid=%v err=%v", paid, err)
	}
	if err := env.Engine.CompleteEscrow(env.Ctx, "launcher", esc.Address); err != nil {
		t.Fatalf("complete: %v", err)
	}
	state, _ = env.Engine.AllocationState(env.Ctx, esc.Address)
	if state != domain.AllocationCompleted {
		t.Fatalf("state = %s, want completed", state)
	}

	if _, err := env.Engine.CloseAllocation(env.Ctx, "bob", esc.Address); !errors.Is(err, engine.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	env.advance(10 * time.Second)
	closed, err := env.Engine.CloseAllocation(env.Ctx, "alice", esc.Address)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.ClosedAt == 0 {
		t.Fatalf("expected closed_at set")
	}
	s, err := env.Engine.Repo.GetStaker(env.Ctx, "alice")
	if err != nil {
		t.Fatalf("get staker: %v", err)
	}
	if !s.TokensAllocated.IsZero() {
		t.Fatalf("allocated = %s, want 0", s.TokensAllocated)
	}
	state, _ = env.Engine.AllocationState(env.Ctx, esc.Address)
	if state != domain.AllocationClosed {
		t.Fatalf("state = %s, want closed", state)
	}
}

func TestCloseAllocationByAnotherStaker(t *testing.T) {
	env := newTestEnv(t)
	env.mint(t, "alice", 5000)
	env.mint(t, "bob", 5000)
	env.mint(t, "launcher", 2000)
	if _, err := env.Engine.Stake(env.Ctx, "alice", token.FromUint64(3000)); err != nil {
		t.Fatalf("stake alice: %v", err)
	}
	if _, err := env.Engine.Stake(env.Ctx, "bob", token.FromUint64(1000)); err != nil {
		t.Fatalf("stake bob: %v", err)
	}
	esc := env.createEscrow(t, "launcher")
	if _, err := env.Engine.Allocate(env.Ctx, "alice", esc.Address, token.FromUint64(2000)); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if _, err := env.Engine.SetupEscrow(env.Ctx, "launcher", esc.Address, engine.EscrowSetupOptions{
		ReputationOracle: "rep",
		RecordingOracle:  "rec",
		Solutions:        1,
	}); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := env.Engine.DepositEscrow(env.Ctx, "launcher", esc.Address, "VLT", token.FromUint64(500)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := env.Engine.BulkPayout(env.Ctx, "launcher", esc.Address, engine.BulkPayoutOptions{
		Recipients: []string{"worker"},
		Amounts:    []token.Amount{token.FromUint64(500)},
	}); err != nil {
		t.Fatalf("payout: %v", err)
	}
	if err := env.Engine.CompleteEscrow(env.Ctx, "launcher", esc.Address); err != nil {
		t.Fatalf("complete: %v", err)
	}
	env.advance(10 * time.Second)

	// anyone without a staker row stays locked out
	if _, err := env.Engine.CloseAllocation(env.Ctx, "stranger", esc.Address); !errors.Is(err, engine.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	// any staker may close; the release credits the allocation's owner
	closed, err := env.Engine.CloseAllocation(env.Ctx, "bob", esc.Address)
	if err != nil {
		t.Fatalf("close by other staker: %v", err)
	}
	if closed.Staker != "alice" {
		t.Fatalf("allocation staker = %s, want alice", closed.Staker)
	}
	alice, err := env.Engine.Repo.GetStaker(env.Ctx, "alice")
	if err != nil {
		t.Fatalf("get staker: %v", err)
	}
	if !alice.TokensAllocated.IsZero() {
		t.Fatalf("alice allocated = %s, want 0", alice.TokensAllocated)
	}
	bob, err := env.Engine.Repo.GetStaker(env.Ctx, "bob")
	if err != nil {
		t.Fatalf("get staker: %v", err)
	}
	if !bob.TokensAllocated.IsZero() || !bob.TokenStaked.Eq(token.FromUint64(1000)) {
		t.Fatalf("bob untouched: staked=%s allocated=%s", bob.TokenStaked, bob.TokensAllocated)
	}
}

func TestAllocateRequiresAvailableStake(t *testing.T) {
	env := newTestEnv(t)
	env.mint(t, "alice", 5000)
	if _, err := env.Engine.Stake(env.Ctx, "alice", token.FromUint64(3000)); err != nil {
		t.Fatalf("stake: %v", err)
	}
	esc := env.createEscrow(t, "launcher")
	if _, err := env.Engine.Allocate(env.Ctx, "alice", esc.Address, token.FromUint64(4000)); !errors.Is(err, engine.ErrInsufficientStake) {
		t.Fatalf("err = %v, want ErrInsufficientStake", err)
	}
	if _, err := env.Engine.Allocate(env.Ctx, "alice", "esc-missing", token.FromUint64(100)); err == nil {
		t.Fatalf("expected unknown escrow error")
	}
}

func TestSlashAuthorityAndBounds(t *testing.T) {
	env := newTestEnv(t)
	env.mint(t, "alice", 5000)
	if _, err := env.Engine.Stake(env.Ctx, "alice", token.FromUint64(3000)); err != nil {
		t.Fatalf("stake: %v", err)
	}
	esc := env.createEscrow(t, "launcher")
	if _, err := env.Engine.Allocate(env.Ctx, "alice", esc.Address, token.FromUint64(2000)); err != nil {
		t.Fatalf("allocate: %v", err)
	}

	if err := env.Engine.Slash(env.Ctx, "bob", "bob", "alice", esc.Address, token.FromUint64(100)); !errors.Is(err, engine.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if err := env.Engine.Slash(env.Ctx, "admin", "watcher", "alice", esc.Address, token.Zero()); !errors.Is(err, engine.ErrZeroAmount) {
		t.Fatalf("err = %v, want ErrZeroAmount", err)
	}
	if err := env.Engine.Slash(env.Ctx, "admin", "watcher", "alice", esc.Address, token.FromUint64(1000)); err != nil {
		t.Fatalf("slash: %v", err)
	}
	s, err := env.Engine.Repo.GetStaker(env.Ctx, "alice")
	if err != nil {
		t.Fatalf("get staker: %v", err)
	}
	if !s.TokenStaked.Eq(token.FromUint64(2000)) || !s.TokensAllocated.Eq(token.FromUint64(1000)) {
		t.Fatalf("staker after slash: staked=%s allocated=%s", s.TokenStaked, s.TokensAllocated)
	}
	a, err := env.Engine.Repo.GetAllocation(env.Ctx, esc.Address)
	if err != nil {
		t.Fatalf("get allocation: %v", err)
	}
	if !a.Tokens.Eq(token.FromUint64(1000)) {
		t.Fatalf("allocation tokens = %s, want 1000", a.Tokens)
	}
	env.checkBalance(t, engine.RewardsAccount, 1000)
	env.checkBalance(t, engine.StakingAccount, 2000)
}

func TestSlashExactAllocationFails(t *testing.T) {
	env := newTestEnv(t)
	env.mint(t, "alice", 5000)
	if _, err := env.Engine.Stake(env.Ctx, "alice", token.FromUint64(3000)); err != nil {
		t.Fatalf("stake: %v", err)
	}
	esc := env.createEscrow(t, "launcher")
	if _, err := env.Engine.Allocate(env.Ctx, "alice", esc.Address, token.FromUint64(2000)); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := env.Engine.Slash(env.Ctx, "admin", "watcher", "alice", esc.Address, token.FromUint64(2000)); !errors.Is(err, engine.ErrSlashExceedsAllocated) {
		t.Fatalf("err = %v, want ErrSlashExceedsAllocated", err)
	}
}

func TestSlashFeedsRewardsAndFees(t *testing.T) {
	env := newTestEnv(t)
	env.mint(t, "alice", 5000)
	if _, err := env.Engine.Stake(env.Ctx, "alice", token.FromUint64(3000)); err != nil {
		t.Fatalf("stake: %v", err)
	}
	esc := env.createEscrow(t, "launcher")
	if _, err := env.Engine.Allocate(env.Ctx, "alice", esc.Address, token.FromUint64(2000)); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := env.Engine.Slash(env.Ctx, "admin", "watcher", "alice", esc.Address, token.FromUint64(1000)); err != nil {
		t.Fatalf("slash: %v", err)
	}

	rewards, err := env.Engine.Repo.ListRewardsByEscrow(env.Ctx, esc.Address)
	if err != nil {
		t.Fatalf("list rewards: %v", err)
	}
	if len(rewards) != 1 {
		t.Fatalf("rewards = %d, want 1", len(rewards))
	}
	// 1000 slashed minus protocol fee 10
	if !rewards[0].Tokens.Eq(token.FromUint64(990)) {
		t.Fatalf("reward = %s, want 990", rewards[0].Tokens)
	}
	_, fee, err := env.Engine.RewardFees(env.Ctx)
	if err != nil {
		t.Fatalf("fees: %v", err)
	}
	if !fee.Eq(token.FromUint64(10)) {
		t.Fatalf("fee total = %s, want 10", fee)
	}

	if err := env.Engine.DistributeRewards(env.Ctx, "anyone", esc.Address); err != nil {
		t.Fatalf("distribute: %v", err)
	}
	env.checkBalance(t, "watcher", 990)
	rewards, _ = env.Engine.Repo.ListRewardsByEscrow(env.Ctx, esc.Address)
	if len(rewards) != 0 {
		t.Fatalf("rewards after distribute = %d, want 0", len(rewards))
	}
	// distributing again is a no-op
	if err := env.Engine.DistributeRewards(env.Ctx, "anyone", esc.Address); err != nil {
		t.Fatalf("second distribute: %v", err)
	}

	if _, err := env.Engine.WithdrawFees(env.Ctx, "bob"); !errors.Is(err, engine.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	fee, err = env.Engine.WithdrawFees(env.Ctx, "admin")
	if err != nil {
		t.Fatalf("withdraw fees: %v", err)
	}
	if !fee.Eq(token.FromUint64(10)) {
		t.Fatalf("withdrawn fee = %s, want 10", fee)
	}
	env.checkBalance(t, "admin", 10)
	if _, err := env.Engine.WithdrawFees(env.Ctx, "admin"); !errors.Is(err, engine.ErrNothingToWithdraw) {
		t.Fatalf("err = %v, want ErrNothingToWithdraw", err)
	}
}

func TestSmallSlashAbsorbedIntoFees(t *testing.T) {
	env := newTestEnv(t)
	env.mint(t, "alice", 5000)
	if _, err := env.Engine.Stake(env.Ctx, "alice", token.FromUint64(3000)); err != nil {
		t.Fatalf("stake: %v", err)
	}
	esc := env.createEscrow(t, "launcher")
	if _, err := env.Engine.Allocate(env.Ctx, "alice", esc.Address, token.FromUint64(2000)); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	// below the protocol fee of 10, absorbed entirely
	if err := env.Engine.Slash(env.Ctx, "admin", "watcher", "alice", esc.Address, token.FromUint64(5)); err != nil {
		t.Fatalf("slash: %v", err)
	}
	rewards, err := env.Engine.Repo.ListRewardsByEscrow(env.Ctx, esc.Address)
	if err != nil {
		t.Fatalf("list rewards: %v", err)
	}
	if len(rewards) != 0 {
		t.Fatalf("rewards = %d, want 0", len(rewards))
	}
	_, fee, err := env.Engine.RewardFees(env.Ctx)
	if err != nil {
		t.Fatalf("fees: %v", err)
	}
	if !fee.Eq(token.FromUint64(5)) {
		t.Fatalf("fee total = %s, want 5", fee)
	}
}
