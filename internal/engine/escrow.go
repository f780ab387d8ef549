package engine

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"vaultline/internal/domain"
	"vaultline/internal/events"
	"vaultline/internal/token"
)

// EscrowCreateOptions are parameters for creating an escrow.
type EscrowCreateOptions struct {
	Canceler        string
	TrustedHandlers []string
	DurationSeconds uint64
	BulkMaxValue    token.Amount
}

// CreateEscrow registers a new escrow in Launched state. The launcher and the
// canceler are trusted handlers alongside any extra handlers given.
func (e Engine) CreateEscrow(ctx context.Context, actor string, opts EscrowCreateOptions) (domain.Escrow, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Escrow{}, err
	}
	defer tx.Rollback()

	canceler := opts.Canceler
	if canceler == "" {
		canceler = actor
	}
	duration := opts.DurationSeconds
	if duration == 0 {
		duration = e.Config.Escrow.DefaultDurationSeconds
	}
	bulkMax := opts.BulkMaxValue
	if bulkMax.IsZero() {
		bulkMax = e.Config.DefaultBulkMaxValue()
	}
	esc := domain.Escrow{
		Address:      "esc-" + uuid.NewString(),
		Token:        e.Config.Token.ID,
		Status:       domain.EscrowLaunched,
		Launcher:     actor,
		Canceler:     canceler,
		Expiration:   e.height() + duration,
		BulkMaxValue: bulkMax,
		CreatedAt:    e.timestamp(),
	}
	if err := e.Repo.InsertEscrowTx(ctx, tx, esc); err != nil {
		return domain.Escrow{}, err
	}
	handlers := append([]string{actor, canceler}, opts.TrustedHandlers...)
	if err := e.Repo.AddTrustedHandlersTx(ctx, tx, esc.Address, handlers); err != nil {
		return domain.Escrow{}, err
	}
	if err := e.Events.Append(ctx, tx, events.EscrowCreated, "escrow", esc.Address, actor, events.EventPayload{
		"token":    esc.Token,
		"canceler": canceler,
	}); err != nil {
		return domain.Escrow{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Escrow{}, err
	}
	return esc, nil
}

// AddTrustedHandlers extends the trusted set of a live escrow. Only an
// existing trusted handler may add more.
func (e Engine) AddTrustedHandlers(ctx context.Context, actor, escrowAddress string, handlers []string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := e.trustedEscrowTx(ctx, tx, actor, escrowAddress); err != nil {
		return err
	}
	if err := e.Repo.AddTrustedHandlersTx(ctx, tx, escrowAddress, handlers); err != nil {
		return err
	}
	return tx.Commit()
}

// EscrowSetupOptions are parameters for moving an escrow to Pending.
type EscrowSetupOptions struct {
	ReputationOracle      string
	RecordingOracle       string
	ReputationOracleStake uint64
	RecordingOracleStake  uint64
	ManifestURL           string
	ManifestHash          string
	Solutions             uint64
}

// SetupEscrow records the oracles and the manifest and moves the escrow to
// Pending. The oracle fee percentages together may not exceed 100. Both
// oracles join the trusted-handler set so they can store results and drive
// payouts.
func (e Engine) SetupEscrow(ctx context.Context, actor, escrowAddress string, opts EscrowSetupOptions) (domain.Escrow, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Escrow{}, err
	}
	defer tx.Rollback()

	esc, err := e.trustedEscrowTx(ctx, tx, actor, escrowAddress)
	if err != nil {
		return domain.Escrow{}, err
	}
	if err := e.checkNotExpired(esc); err != nil {
		return domain.Escrow{}, err
	}
	if esc.Status != domain.EscrowLaunched {
		return domain.Escrow{}, ErrInvalidEscrowStatus
	}
	if opts.Solutions == 0 {
		return domain.Escrow{}, ErrZeroSolutions
	}
	if opts.ReputationOracleStake+opts.RecordingOracleStake > 100 {
		return domain.Escrow{}, ErrOracleStakeTooHigh
	}

	esc.ReputationOracle = opts.ReputationOracle
	esc.RecordingOracle = opts.RecordingOracle
	esc.ReputationOracleStake = opts.ReputationOracleStake
	esc.RecordingOracleStake = opts.RecordingOracleStake
	esc.ManifestURL = opts.ManifestURL
	esc.ManifestHash = opts.ManifestHash
	esc.RemainingSolutions = opts.Solutions
	esc.Status = domain.EscrowPending
	if err := e.Repo.UpdateEscrowTx(ctx, tx, esc); err != nil {
		return domain.Escrow{}, err
	}
	var oracles []string
	for _, oracle := range []string{opts.RecordingOracle, opts.ReputationOracle} {
		if oracle != "" {
			oracles = append(oracles, oracle)
		}
	}
	if err := e.Repo.AddTrustedHandlersTx(ctx, tx, esc.Address, oracles); err != nil {
		return domain.Escrow{}, err
	}
	if err := e.Events.Append(ctx, tx, events.EscrowPending, "escrow", esc.Address, actor, events.EventPayload{
		"manifest_url":  opts.ManifestURL,
		"manifest_hash": opts.ManifestHash,
	}); err != nil {
		return domain.Escrow{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Escrow{}, err
	}
	return esc, nil
}

// DepositEscrow funds the escrow from the caller's balance. The token named
// by the caller must match the escrow token.
func (e Engine) DepositEscrow(ctx context.Context, actor, escrowAddress, tokenID string, amount token.Amount) error {
	if amount.IsZero() {
		return ErrZeroAmount
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	esc, err := e.trustedEscrowTx(ctx, tx, actor, escrowAddress)
	if err != nil {
		return err
	}
	if err := e.checkNotExpired(esc); err != nil {
		return err
	}
	switch esc.Status {
	case domain.EscrowLaunched, domain.EscrowPending, domain.EscrowPartial:
	default:
		return ErrInvalidEscrowStatus
	}
	if tokenID != esc.Token {
		return ErrTokenMismatch
	}
	if err := e.Ledger.Transfer(ctx, tx, actor, esc.Address, esc.Token, amount); err != nil {
		return err
	}
	return tx.Commit()
}

// StoreResults records an intermediate results pointer on a Pending or
// Partial escrow.
func (e Engine) StoreResults(ctx context.Context, actor, escrowAddress, url, hash string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	esc, err := e.trustedEscrowTx(ctx, tx, actor, escrowAddress)
	if err != nil {
		return err
	}
	if err := e.checkNotExpired(esc); err != nil {
		return err
	}
	if esc.Status != domain.EscrowPending && esc.Status != domain.EscrowPartial {
		return ErrInvalidEscrowStatus
	}
	if err := e.Events.Append(ctx, tx, events.EscrowIntermediate, "escrow", esc.Address, actor, events.EventPayload{
		"url":  url,
		"hash": hash,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// BulkPayoutOptions are parameters for a bulk payout.
type BulkPayoutOptions struct {
	Recipients  []string
	Amounts     []token.Amount
	ResultsURL  string
	ResultsHash string
}

// BulkPayout settles a batch of recipients out of the escrow balance. Each
// gross amount is split into oracle fees (floor division per recipient) and a
// net payout; every oracle is paid once at the end. Returns false without an
// error when the balance cannot cover the batch; every other violated
// precondition aborts the whole call.
func (e Engine) BulkPayout(ctx context.Context, actor, escrowAddress string, opts BulkPayoutOptions) (bool, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	esc, err := e.trustedEscrowTx(ctx, tx, actor, escrowAddress)
	if err != nil {
		return false, err
	}
	balance, err := e.Ledger.BalanceOf(ctx, tx, esc.Address, esc.Token)
	if err != nil {
		return false, err
	}
	if balance.IsZero() {
		return false, ErrZeroBalance
	}
	if err := e.checkNotExpired(esc); err != nil {
		return false, err
	}
	if esc.Status != domain.EscrowPending && esc.Status != domain.EscrowPartial {
		return false, ErrInvalidEscrowStatus
	}
	if len(opts.Recipients) != len(opts.Amounts) {
		return false, ErrLengthMismatch
	}
	if len(opts.Recipients) >= e.Config.Escrow.BulkMaxCount {
		return false, ErrTooManyRecipients
	}
	aggregate := token.Zero()
	for _, amount := range opts.Amounts {
		aggregate = aggregate.Add(amount)
	}
	if aggregate.Gte(esc.BulkMaxValue) {
		return false, ErrBulkValueTooHigh
	}
	if balance.Lt(aggregate) {
		return false, nil
	}

	if opts.ResultsURL != "" && opts.ResultsHash != "" {
		esc.FinalResultsURL = opts.ResultsURL
		esc.FinalResultsHash = opts.ResultsHash
	}

	repFees := token.Zero()
	recFees := token.Zero()
	for i, recipient := range opts.Recipients {
		gross := opts.Amounts[i]
		repFee, err := feeOf(gross, esc.ReputationOracleStake)
		if err != nil {
			return false, err
		}
		recFee, err := feeOf(gross, esc.RecordingOracleStake)
		if err != nil {
			return false, err
		}
		net, ok := gross.Sub(repFee.Add(recFee))
		if !ok {
			return false, fmt.Errorf("fees exceed gross amount for %s", recipient)
		}
		repFees = repFees.Add(repFee)
		recFees = recFees.Add(recFee)
		if err := e.Ledger.Transfer(ctx, tx, esc.Address, recipient, esc.Token, net); err != nil {
			return false, err
		}
	}
	if !repFees.IsZero() && esc.ReputationOracle != "" {
		if err := e.Ledger.Transfer(ctx, tx, esc.Address, esc.ReputationOracle, esc.Token, repFees); err != nil {
			return false, err
		}
	}
	if !recFees.IsZero() && esc.RecordingOracle != "" {
		if err := e.Ledger.Transfer(ctx, tx, esc.Address, esc.RecordingOracle, esc.Token, recFees); err != nil {
			return false, err
		}
	}

	if esc.Status == domain.EscrowPending {
		batch := uint64(len(opts.Recipients))
		if esc.RemainingSolutions > batch {
			esc.RemainingSolutions -= batch
		} else {
			esc.RemainingSolutions = 0
		}
		esc.Status = domain.EscrowPartial
	}
	balance, err = e.Ledger.BalanceOf(ctx, tx, esc.Address, esc.Token)
	if err != nil {
		return false, err
	}
	if !balance.IsZero() && esc.Status == domain.EscrowPartial && esc.RemainingSolutions == 0 {
		if err := e.Ledger.Transfer(ctx, tx, esc.Address, esc.Canceler, esc.Token, balance); err != nil {
			return false, err
		}
		esc.Status = domain.EscrowPaid
	} else if balance.IsZero() && esc.Status == domain.EscrowPartial {
		esc.Status = domain.EscrowPaid
	}
	if err := e.Repo.UpdateEscrowTx(ctx, tx, esc); err != nil {
		return false, err
	}
	if err := e.Events.Append(ctx, tx, events.EscrowBulkTransfer, "escrow", esc.Address, actor, events.EventPayload{
		"recipients": len(opts.Recipients),
		"aggregate":  aggregate.String(),
		"status":     string(esc.Status),
	}); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// CompleteEscrow moves a fully paid escrow to its terminal Complete state.
func (e Engine) CompleteEscrow(ctx context.Context, actor, escrowAddress string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	esc, err := e.trustedEscrowTx(ctx, tx, actor, escrowAddress)
	if err != nil {
		return err
	}
	if err := e.checkNotExpired(esc); err != nil {
		return err
	}
	if esc.Status != domain.EscrowPaid {
		return ErrInvalidEscrowStatus
	}
	esc.Status = domain.EscrowComplete
	if err := e.Repo.UpdateEscrowTx(ctx, tx, esc); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.EscrowCompleted, "escrow", esc.Address, actor, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// CancelEscrow refunds the full balance to the canceler and marks the escrow
// Cancelled. Requires a nonzero balance.
func (e Engine) CancelEscrow(ctx context.Context, actor, escrowAddress string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.cancelTx(ctx, tx, actor, escrowAddress); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) cancelTx(ctx context.Context, tx *sql.Tx, actor, escrowAddress string) error {
	esc, err := e.trustedEscrowTx(ctx, tx, actor, escrowAddress)
	if err != nil {
		return err
	}
	switch esc.Status {
	case domain.EscrowLaunched, domain.EscrowPending, domain.EscrowPartial:
	default:
		return ErrInvalidEscrowStatus
	}
	balance, err := e.Ledger.BalanceOf(ctx, tx, esc.Address, esc.Token)
	if err != nil {
		return err
	}
	if balance.IsZero() {
		return ErrZeroBalance
	}
	if err := e.Ledger.Transfer(ctx, tx, esc.Address, esc.Canceler, esc.Token, balance); err != nil {
		return err
	}
	esc.Status = domain.EscrowCancelled
	if err := e.Repo.UpdateEscrowTx(ctx, tx, esc); err != nil {
		return err
	}
	return e.Events.Append(ctx, tx, events.EscrowCancelled, "escrow", esc.Address, actor, events.EventPayload{
		"refunded": balance.String(),
	})
}

// AbortEscrow cancels with a refund when funds remain, otherwise just marks
// the escrow Cancelled.
func (e Engine) AbortEscrow(ctx context.Context, actor, escrowAddress string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	esc, err := e.trustedEscrowTx(ctx, tx, actor, escrowAddress)
	if err != nil {
		return err
	}
	balance, err := e.Ledger.BalanceOf(ctx, tx, esc.Address, esc.Token)
	if err != nil {
		return err
	}
	if !balance.IsZero() {
		if err := e.cancelTx(ctx, tx, actor, escrowAddress); err != nil {
			return err
		}
		return tx.Commit()
	}
	switch esc.Status {
	case domain.EscrowLaunched, domain.EscrowPending, domain.EscrowPartial:
	default:
		return ErrInvalidEscrowStatus
	}
	esc.Status = domain.EscrowCancelled
	if err := e.Repo.UpdateEscrowTx(ctx, tx, esc); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.EscrowCancelled, "escrow", esc.Address, actor, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// EscrowBalance returns the live escrow balance.
func (e Engine) EscrowBalance(ctx context.Context, escrowAddress string) (token.Amount, error) {
	esc, err := e.Repo.GetEscrow(ctx, escrowAddress)
	if err != nil {
		return token.Zero(), err
	}
	return e.Ledger.BalanceOf(ctx, nil, esc.Address, esc.Token)
}

func (e Engine) trustedEscrowTx(ctx context.Context, tx *sql.Tx, actor, escrowAddress string) (domain.Escrow, error) {
	esc, err := e.Repo.GetEscrowTx(ctx, tx, escrowAddress)
	if err != nil {
		return domain.Escrow{}, err
	}
	trusted, err := e.Repo.IsTrustedHandlerTx(ctx, tx, escrowAddress, actor)
	if err != nil {
		return domain.Escrow{}, err
	}
	if !trusted {
		return domain.Escrow{}, ErrUntrustedCaller
	}
	return esc, nil
}

func (e Engine) checkNotExpired(esc domain.Escrow) error {
	if e.height() >= esc.Expiration {
		return ErrEscrowExpired
	}
	return nil
}

// feeOf is the per-recipient oracle cut: gross * stake / 100, floored.
func feeOf(gross token.Amount, stake uint64) (token.Amount, error) {
	product, ok := gross.MulUint64(stake)
	if !ok {
		return token.Zero(), fmt.Errorf("fee computation overflow")
	}
	return product.DivUint64(100), nil
}
