package storage

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"tipRelay/internal/model"
)

// Store is the persistence surface the settlement core depends on: duplicate
// suppression, immutable tip history, the durable spend ledger, and author
// configuration reads.
type Store interface {
	// HasTipRecord reports whether a successful settlement already exists for
	// (payer, payee, reference, interaction).
	HasTipRecord(ctx context.Context, payer, payee common.Address, reference string, interaction model.InteractionType) (bool, error)

	// AppendTipRecords appends immutable history rows for settled legs.
	AppendTipRecords(ctx context.Context, records []model.TipRecord) error

	// AddSpent advances a payer's durable totalSpent.
	AddSpent(ctx context.Context, payer common.Address, amount decimal.Decimal) error

	// SetActive flips the payer's active flag.
	SetActive(ctx context.Context, payer common.Address, active bool) error

	// AuthorConfig reads the tipping configuration for a payer.
	AuthorConfig(ctx context.Context, payer common.Address) (*model.AuthorConfig, bool, error)

	// ActiveAuthorConfigs lists configs with the active flag set, used to seed
	// in-memory state at boot.
	ActiveAuthorConfigs(ctx context.Context) ([]model.AuthorConfig, error)
}

// DeadLetterSink receives batch windows dropped after exhausting their
// settlement attempts.
type DeadLetterSink interface {
	AppendDeadLetter(ctx context.Context, window []model.TipCandidate, reason string) error
}
