package model

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// InteractionType identifies the social interaction that triggered a tip.
type InteractionType string

const (
	InteractionLike   InteractionType = "like"
	InteractionRecast InteractionType = "recast"
	InteractionReply  InteractionType = "reply"
	InteractionFollow InteractionType = "follow"
)

// Valid reports whether t is a known interaction type.
func (t InteractionType) Valid() bool {
	switch t {
	case InteractionLike, InteractionRecast, InteractionReply, InteractionFollow:
		return true
	}
	return false
}

// TipCandidate is a pre-authorized payment instruction derived from a social
// interaction, pending validation and settlement.
type TipCandidate struct {
	SourceEventID string          `json:"source_event_id"`
	Interaction   InteractionType `json:"interaction"`
	PayerFID      uint64          `json:"payer_fid"`
	PayeeFID      uint64          `json:"payee_fid"`
	Payer         common.Address  `json:"payer"`
	Payee         common.Address  `json:"payee"`
	Token         common.Address  `json:"token"`
	Amount        decimal.Decimal `json:"amount"`
	Reference     string          `json:"reference"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
}

// CheckInvariants verifies structural validity before the candidate enters
// the pipeline.
func (c TipCandidate) CheckInvariants() error {
	if !c.Interaction.Valid() {
		return fmt.Errorf("unknown interaction type %q", c.Interaction)
	}
	if !c.Amount.IsPositive() {
		return fmt.Errorf("amount must be positive, got %s", c.Amount)
	}
	if c.Payer == c.Payee {
		return fmt.Errorf("payer and payee are the same address %s", c.Payer.Hex())
	}
	return nil
}

// DuplicateKey identifies a candidate for duplicate suppression: one tip per
// (payer, payee, reference, interaction).
func (c TipCandidate) DuplicateKey() string {
	return fmt.Sprintf("%s:%s:%s:%s", c.Payer.Hex(), c.Payee.Hex(), c.Reference, c.Interaction)
}
