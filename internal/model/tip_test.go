package model

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

func TestCheckInvariants(t *testing.T) {
	payer := common.HexToAddress("0x1111111111111111111111111111111111111111")
	payee := common.HexToAddress("0x2222222222222222222222222222222222222222")

	valid := TipCandidate{
		Interaction: InteractionLike,
		Payer:       payer,
		Payee:       payee,
		Amount:      decimal.NewFromInt(2),
	}
	if err := valid.CheckInvariants(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	zeroAmount := valid
	zeroAmount.Amount = decimal.Zero
	if err := zeroAmount.CheckInvariants(); err == nil {
		t.Fatalf("expected error for zero amount")
	}

	selfTip := valid
	selfTip.Payee = payer
	if err := selfTip.CheckInvariants(); err == nil {
		t.Fatalf("expected error for payer == payee")
	}

	badType := valid
	badType.Interaction = InteractionType("boost")
	if err := badType.CheckInvariants(); err == nil {
		t.Fatalf("expected error for unknown interaction type")
	}
}

func TestMinTipTotal(t *testing.T) {
	cfg := AuthorConfig{
		Like:   ActionRule{Enabled: true, Amount: decimal.NewFromInt(2)},
		Recast: ActionRule{Enabled: true, Amount: decimal.NewFromInt(3)},
		Reply:  ActionRule{Enabled: false, Amount: decimal.NewFromInt(10)},
	}
	if got := cfg.MinTipTotal(); !got.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("min tip total mismatch: got %s, want 5", got)
	}
}

func TestRule(t *testing.T) {
	cfg := AuthorConfig{
		Follow: ActionRule{Enabled: true, Amount: decimal.NewFromInt(1)},
	}
	if rule := cfg.Rule(InteractionFollow); !rule.Enabled {
		t.Fatalf("expected follow rule enabled")
	}
	if rule := cfg.Rule(InteractionLike); rule.Enabled {
		t.Fatalf("expected like rule disabled")
	}
}

func TestDuplicateKeyDistinguishesInteraction(t *testing.T) {
	base := TipCandidate{
		Payer:     common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Payee:     common.HexToAddress("0x2222222222222222222222222222222222222222"),
		Reference: "0xcast",
	}
	like := base
	like.Interaction = InteractionLike
	recast := base
	recast.Interaction = InteractionRecast

	if like.DuplicateKey() == recast.DuplicateKey() {
		t.Fatalf("expected distinct keys for distinct interactions")
	}
	if like.DuplicateKey() != like.DuplicateKey() {
		t.Fatalf("expected stable key")
	}
}
