package engine

import (
	"context"
	"database/sql"
	"time"

	"vaultline/internal/config"
	"vaultline/internal/domain"
	"vaultline/internal/events"
	"vaultline/internal/ledger"
	"vaultline/internal/repo"
)

// System accounts of the funds ledger. Staking collateral and pooled rewards
// are held here, never on a user address.
const (
	StakingAccount = "sys:staking"
	RewardsAccount = "sys:rewards"
)

// EscrowStatusOracle reports the live status of an escrow. The staking side
// reads escrow state only through this interface.
type EscrowStatusOracle interface {
	EscrowStatus(ctx context.Context, tx *sql.Tx, address string) (domain.EscrowStatus, error)
}

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Ledger ledger.Ledger
	Events events.Writer
	Config *config.Config
	Status EscrowStatusOracle
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:     db,
		Repo:   r,
		Ledger: ledger.Ledger{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Status: repoStatusOracle{repo: r},
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// height is the logical clock every lock horizon and expiration is measured
// against. Unix seconds of the injected clock.
func (e Engine) height() uint64 {
	return uint64(e.now().UTC().Unix())
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

type repoStatusOracle struct {
	repo repo.Repo
}

func (o repoStatusOracle) EscrowStatus(ctx context.Context, tx *sql.Tx, address string) (domain.EscrowStatus, error) {
	var esc domain.Escrow
	var err error
	if tx != nil {
		esc, err = o.repo.GetEscrowTx(ctx, tx, address)
	} else {
		esc, err = o.repo.GetEscrow(ctx, address)
	}
	if err != nil {
		return "", err
	}
	return esc.Status, nil
}
