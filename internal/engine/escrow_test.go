package engine_test

import (
	"errors"
	"testing"
	"time"

	"vaultline/internal/domain"
	"vaultline/internal/engine"
	"vaultline/internal/token"
)

func TestEscrowLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.mint(t, "launcher", 2000)

	esc := env.createEscrow(t, "launcher")
	if esc.Status != domain.EscrowLaunched {
		t.Fatalf("status = %s, want launched", esc.Status)
	}
	if esc.Token != "VLT" {
		t.Fatalf("token = %s, want VLT", esc.Token)
	}

	if err := env.Engine.DepositEscrow(env.Ctx, "stranger", esc.Address, "VLT", token.FromUint64(100)); !errors.Is(err, engine.ErrUntrustedCaller) {
		t.Fatalf("err = %v, want ErrUntrustedCaller", err)
	}
	if err := env.Engine.DepositEscrow(env.Ctx, "launcher", esc.Address, "OTHER", token.FromUint64(100)); !errors.Is(err, engine.ErrTokenMismatch) {
		t.Fatalf("err = %v, want ErrTokenMismatch", err)
	}

	setup, err := env.Engine.SetupEscrow(env.Ctx, "launcher", esc.Address, engine.EscrowSetupOptions{
		ReputationOracle:      "rep-oracle",
		RecordingOracle:       "rec-oracle",
		ReputationOracleStake: 10,
		RecordingOracleStake:  10,
		ManifestURL:           "https://example.com/manifest.json",
		ManifestHash:          "abc123",
		Solutions:             2,
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if setup.Status != domain.EscrowPending {
		t.Fatalf("status = %s, want pending", setup.Status)
	}
	if _, err := env.Engine.SetupEscrow(env.Ctx, "launcher", esc.Address, engine.EscrowSetupOptions{Solutions: 1}); !errors.Is(err, engine.ErrInvalidEscrowStatus) {
		t.Fatalf("double setup err = %v, want ErrInvalidEscrowStatus", err)
	}

	if err := env.Engine.DepositEscrow(env.Ctx, "launcher", esc.Address, "VLT", token.FromUint64(1000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	env.checkBalance(t, esc.Address, 1000)

	// 500 gross splits into 50 + 50 oracle fees and a 400 net payout
	paid, err := env.Engine.BulkPayout(env.Ctx, "launcher", esc.Address, engine.BulkPayoutOptions{
		Recipients: []string{"worker-1"},
		Amounts:    []token.Amount{token.FromUint64(500)},
	})
	if err != nil || !paid {
		t.Fatalf("payout: paid=%v err=%v", paid, err)
	}
	env.checkBalance(t, "worker-1", 400)
	env.checkBalance(t, "rep-oracle", 50)
	env.checkBalance(t, "rec-oracle", 50)
	env.checkBalance(t, esc.Address, 500)

	got, err := env.Engine.Repo.GetEscrow(env.Ctx, esc.Address)
	if err != nil {
		t.Fatalf("get escrow: %v", err)
	}
	if got.Status != domain.EscrowPartial {
		t.Fatalf("status = %s, want partial", got.Status)
	}
	if got.RemainingSolutions != 1 {
		t.Fatalf("remaining = %d, want 1", got.RemainingSolutions)
	}

	paid, err = env.Engine.BulkPayout(env.Ctx, "launcher", esc.Address, engine.BulkPayoutOptions{
		Recipients: []string{"worker-2"},
		Amounts:    []token.Amount{token.FromUint64(500)},
	})
	if err != nil || !paid {
		t.Fatalf("second payout: paid=%v err=%v", paid, err)
	}
	env.checkBalance(t, "worker-2", 400)
	env.checkBalance(t, esc.Address, 0)
	got, _ = env.Engine.Repo.GetEscrow(env.Ctx, esc.Address)
	if got.Status != domain.EscrowPaid {
		t.Fatalf("status = %s, want paid", got.Status)
	}

	if err := env.Engine.CompleteEscrow(env.Ctx, "launcher", esc.Address); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, _ = env.Engine.Repo.GetEscrow(env.Ctx, esc.Address)
	if got.Status != domain.EscrowComplete {
		t.Fatalf("status = %s, want complete", got.Status)
	}
	if err := env.Engine.CancelEscrow(env.Ctx, "launcher", esc.Address); !errors.Is(err, engine.ErrInvalidEscrowStatus) {
		t.Fatalf("cancel complete err = %v, want ErrInvalidEscrowStatus", err)
	}
}

func TestSetupTrustsOracles(t *testing.T) {
	env := newTestEnv(t)
	env.mint(t, "launcher", 2000)
	esc := env.createEscrow(t, "launcher")
	if _, err := env.Engine.SetupEscrow(env.Ctx, "launcher", esc.Address, engine.EscrowSetupOptions{
		ReputationOracle:      "rep-oracle",
		RecordingOracle:       "rec-oracle",
		ReputationOracleStake: 10,
		RecordingOracleStake:  10,
		Solutions:             1,
	}); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := env.Engine.DepositEscrow(env.Ctx, "launcher", esc.Address, "VLT", token.FromUint64(1000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := env.Engine.StoreResults(env.Ctx, "rep-oracle", esc.Address, "https://example.com/results.json", "res123"); err != nil {
		t.Fatalf("store results as oracle: %v", err)
	}
	paid, err := env.Engine.BulkPayout(env.Ctx, "rec-oracle", esc.Address, engine.BulkPayoutOptions{
		Recipients: []string{"worker"},
		Amounts:    []token.Amount{token.FromUint64(1000)},
	})
	if err != nil || !paid {
		t.Fatalf("payout as oracle: paid=%v err=%v", paid, err)
	}
	env.checkBalance(t, "worker", 800)
	env.checkBalance(t, "rec-oracle", 100)
	env.checkBalance(t, "rep-oracle", 100)
}

func TestSetupGuards(t *testing.T) {
	env := newTestEnv(t)
	esc := env.createEscrow(t, "launcher")
	if _, err := env.Engine.SetupEscrow(env.Ctx, "launcher", esc.Address, engine.EscrowSetupOptions{Solutions: 0}); !errors.Is(err, engine.ErrZeroSolutions) {
		t.Fatalf("err = %v, want ErrZeroSolutions", err)
	}
	if _, err := env.Engine.SetupEscrow(env.Ctx, "launcher", esc.Address, engine.EscrowSetupOptions{
		Solutions:             1,
		ReputationOracleStake: 60,
		RecordingOracleStake:  50,
	}); !errors.Is(err, engine.ErrOracleStakeTooHigh) {
		t.Fatalf("err = %v, want ErrOracleStakeTooHigh", err)
	}
}

func TestBulkPayoutInsufficientBalanceSoftFails(t *testing.T) {
	env := newTestEnv(t)
	env.mint(t, "launcher", 2000)
	esc := env.createEscrow(t, "launcher")
	if _, err := env.Engine.SetupEscrow(env.Ctx, "launcher", esc.Address, engine.EscrowSetupOptions{Solutions: 2}); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := env.Engine.DepositEscrow(env.Ctx, "launcher", esc.Address, "VLT", token.FromUint64(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	paid, err := env.Engine.BulkPayout(env.Ctx, "launcher", esc.Address, engine.BulkPayoutOptions{
		Recipients: []string{"worker"},
		Amounts:    []token.Amount{token.FromUint64(500)},
	})
	if err != nil {
		t.Fatalf("payout: %v", err)
	}
	if paid {
		t.Fatalf("expected soft failure when the balance cannot cover the batch")
	}
	got, _ := env.Engine.Repo.GetEscrow(env.Ctx, esc.Address)
	if got.Status != domain.EscrowPending {
		t.Fatalf("status = %s, want pending untouched", got.Status)
	}
	env.checkBalance(t, esc.Address, 100)
}

func TestBulkPayoutValueCeiling(t *testing.T) {
	env := newTestEnv(t)
	env.mint(t, "launcher", 2000)
	esc, err := env.Engine.CreateEscrow(env.Ctx, "launcher", engine.EscrowCreateOptions{
		BulkMaxValue: token.FromUint64(100),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.Engine.SetupEscrow(env.Ctx, "launcher", esc.Address, engine.EscrowSetupOptions{Solutions: 2}); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := env.Engine.DepositEscrow(env.Ctx, "launcher", esc.Address, "VLT", token.FromUint64(500)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	// ceiling is exclusive, an aggregate equal to it is rejected
	if _, err := env.Engine.BulkPayout(env.Ctx, "launcher", esc.Address, engine.BulkPayoutOptions{
		Recipients: []string{"worker"},
		Amounts:    []token.Amount{token.FromUint64(100)},
	}); !errors.Is(err, engine.ErrBulkValueTooHigh) {
		t.Fatalf("err = %v, want ErrBulkValueTooHigh", err)
	}
	paid, err := env.Engine.BulkPayout(env.Ctx, "launcher", esc.Address, engine.BulkPayoutOptions{
		Recipients: []string{"worker"},
		Amounts:    []token.Amount{token.FromUint64(99)},
	})
	if err != nil || !paid {
		t.Fatalf("payout under ceiling: paid=%v err=%v", paid, err)
	}
}

func TestBulkPayoutBatchGuards(t *testing.T) {
	env := newTestEnv(t)
	env.mint(t, "launcher", 2000)
	esc := env.createEscrow(t, "launcher")
	if _, err := env.Engine.SetupEscrow(env.Ctx, "launcher", esc.Address, engine.EscrowSetupOptions{Solutions: 2}); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := env.Engine.DepositEscrow(env.Ctx, "launcher", esc.Address, "VLT", token.FromUint64(500)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := env.Engine.BulkPayout(env.Ctx, "launcher", esc.Address, engine.BulkPayoutOptions{
		Recipients: []string{"a", "b"},
		Amounts:    []token.Amount{token.FromUint64(1)},
	}); !errors.Is(err, engine.ErrLengthMismatch) {
		t.Fatalf("err = %v, want ErrLengthMismatch", err)
	}
	recipients := make([]string, 100)
	amounts := make([]token.Amount, 100)
	for i := range recipients {
		recipients[i] = "w"
		amounts[i] = token.FromUint64(1)
	}
	if _, err := env.Engine.BulkPayout(env.Ctx, "launcher", esc.Address, engine.BulkPayoutOptions{
		Recipients: recipients,
		Amounts:    amounts,
	}); !errors.Is(err, engine.ErrTooManyRecipients) {
		t.Fatalf("err = %v, want ErrTooManyRecipients", err)
	}
}

func TestBulkPayoutLeftoverGoesToCanceler(t *testing.T) {
	env := newTestEnv(t)
	env.mint(t, "launcher", 2000)
	esc, err := env.Engine.CreateEscrow(env.Ctx, "launcher", engine.EscrowCreateOptions{
		Canceler: "funder",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.Engine.SetupEscrow(env.Ctx, "launcher", esc.Address, engine.EscrowSetupOptions{Solutions: 1}); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := env.Engine.DepositEscrow(env.Ctx, "launcher", esc.Address, "VLT", token.FromUint64(1000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	paid, err := env.Engine.BulkPayout(env.Ctx, "launcher", esc.Address, engine.BulkPayoutOptions{
		Recipients: []string{"worker"},
		Amounts:    []token.Amount{token.FromUint64(600)},
	})
	if err != nil || !paid {
		t.Fatalf("payout: paid=%v err=%v", paid, err)
	}
	env.checkBalance(t, "worker", 600)
	env.checkBalance(t, "funder", 400)
	env.checkBalance(t, esc.Address, 0)
	got, _ := env.Engine.Repo.GetEscrow(env.Ctx, esc.Address)
	if got.Status != domain.EscrowPaid {
		t.Fatalf("status = %s, want paid", got.Status)
	}
}

func TestBulkPayoutBatchLargerThanRemaining(t *testing.T) {
	env := newTestEnv(t)
	env.mint(t, "launcher", 2000)
	esc := env.createEscrow(t, "launcher")
	if _, err := env.Engine.SetupEscrow(env.Ctx, "launcher", esc.Address, engine.EscrowSetupOptions{Solutions: 1}); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := env.Engine.DepositEscrow(env.Ctx, "launcher", esc.Address, "VLT", token.FromUint64(1000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	// two recipients against a single remaining solution: the counter
	// bottoms out at zero instead of wrapping
	paid, err := env.Engine.BulkPayout(env.Ctx, "launcher", esc.Address, engine.BulkPayoutOptions{
		Recipients: []string{"w1", "w2"},
		Amounts:    []token.Amount{token.FromUint64(300), token.FromUint64(300)},
	})
	if err != nil || !paid {
		t.Fatalf("payout: paid=%v err=%v", paid, err)
	}
	got, err := env.Engine.Repo.GetEscrow(env.Ctx, esc.Address)
	if err != nil {
		t.Fatalf("get escrow: %v", err)
	}
	if got.RemainingSolutions != 0 {
		t.Fatalf("remaining = %d, want 0", got.RemainingSolutions)
	}
	if got.Status != domain.EscrowPaid {
		t.Fatalf("status = %s, want paid", got.Status)
	}
	env.checkBalance(t, "launcher", 1400)
	env.checkBalance(t, esc.Address, 0)
}

func TestCancelRefundsCanceler(t *testing.T) {
	env := newTestEnv(t)
	env.mint(t, "launcher", 2000)
	esc := env.createEscrow(t, "launcher")
	if err := env.Engine.CancelEscrow(env.Ctx, "launcher", esc.Address); !errors.Is(err, engine.ErrZeroBalance) {
		t.Fatalf("err = %v, want ErrZeroBalance", err)
	}
	if err := env.Engine.DepositEscrow(env.Ctx, "launcher", esc.Address, "VLT", token.FromUint64(700)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := env.Engine.CancelEscrow(env.Ctx, "launcher", esc.Address); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	env.checkBalance(t, "launcher", 2000)
	got, _ := env.Engine.Repo.GetEscrow(env.Ctx, esc.Address)
	if got.Status != domain.EscrowCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}
}

func TestAbortCancelsWithoutBalance(t *testing.T) {
	env := newTestEnv(t)
	esc := env.createEscrow(t, "launcher")
	if err := env.Engine.AbortEscrow(env.Ctx, "launcher", esc.Address); err != nil {
		t.Fatalf("abort: %v", err)
	}
	got, _ := env.Engine.Repo.GetEscrow(env.Ctx, esc.Address)
	if got.Status != domain.EscrowCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}
}

func TestExpiredEscrowRejectsOperations(t *testing.T) {
	env := newTestEnv(t)
	env.mint(t, "launcher", 2000)
	esc, err := env.Engine.CreateEscrow(env.Ctx, "launcher", engine.EscrowCreateOptions{
		DurationSeconds: 10,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	env.advance(20 * time.Second)
	if _, err := env.Engine.SetupEscrow(env.Ctx, "launcher", esc.Address, engine.EscrowSetupOptions{Solutions: 1}); !errors.Is(err, engine.ErrEscrowExpired) {
		t.Fatalf("err = %v, want ErrEscrowExpired", err)
	}
	if err := env.Engine.DepositEscrow(env.Ctx, "launcher", esc.Address, "VLT", token.FromUint64(100)); !errors.Is(err, engine.ErrEscrowExpired) {
		t.Fatalf("err = %v, want ErrEscrowExpired", err)
	}
}

func TestAddTrustedHandlers(t *testing.T) {
	env := newTestEnv(t)
	env.mint(t, "helper", 500)
	esc := env.createEscrow(t, "launcher")
	if err := env.Engine.AddTrustedHandlers(env.Ctx, "stranger", esc.Address, []string{"x"}); !errors.Is(err, engine.ErrUntrustedCaller) {
		t.Fatalf("err = %v, want ErrUntrustedCaller", err)
	}
	if err := env.Engine.AddTrustedHandlers(env.Ctx, "launcher", esc.Address, []string{"helper"}); err != nil {
		t.Fatalf("add handlers: %v", err)
	}
	if err := env.Engine.DepositEscrow(env.Ctx, "helper", esc.Address, "VLT", token.FromUint64(100)); err != nil {
		t.Fatalf("deposit as new handler: %v", err)
	}
}
