package model

import (
	"math/big"
	"time"
)

// SettledLeg is the outcome of one transfer instruction within a batched
// settlement, correlated back to its originating candidate.
type SettledLeg struct {
	Candidate TipCandidate `json:"candidate"`
	Success   bool         `json:"success"`
	TxHash    string       `json:"tx_hash"`
	GasUsed   uint64       `json:"gas_used"`
}

// SettlementReport summarizes one confirmed settlement transaction.
type SettlementReport struct {
	TxHash      string       `json:"tx_hash"`
	BlockNumber uint64       `json:"block_number"`
	GasUsed     uint64       `json:"gas_used"`
	Reverted    bool         `json:"reverted"`
	Legs        []SettledLeg `json:"legs"`
}

// BatchCall is the relay contract call shape: four parallel arrays derived
// from one batch window, amounts already in token-native units.
type BatchCall struct {
	Payers  []string
	Payees  []string
	Tokens  []string
	Amounts []*big.Int
}

// Len returns the number of legs in the call.
func (b BatchCall) Len() int { return len(b.Payers) }

// TipRecord is the immutable history row appended for every successfully
// settled leg.
type TipRecord struct {
	Payer       string          `json:"payer"`
	Payee       string          `json:"payee"`
	Token       string          `json:"token"`
	Amount      string          `json:"amount"`
	Interaction InteractionType `json:"interaction"`
	Reference   string          `json:"reference"`
	TxHash      string          `json:"tx_hash"`
	SettledAt   time.Time       `json:"settled_at"`
}

// NewTipRecord builds the history row for a settled leg.
func NewTipRecord(leg SettledLeg, settledAt time.Time) TipRecord {
	c := leg.Candidate
	return TipRecord{
		Payer:       c.Payer.Hex(),
		Payee:       c.Payee.Hex(),
		Token:       c.Token.Hex(),
		Amount:      c.Amount.String(),
		Interaction: c.Interaction,
		Reference:   c.Reference,
		TxHash:      leg.TxHash,
		SettledAt:   settledAt,
	}
}
