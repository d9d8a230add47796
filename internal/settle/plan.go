package settle

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"tipRelay/internal/chain"
	"tipRelay/internal/model"
)

// Plan is the immutable per-attempt submission parameters: fee pricing, gas
// limit, and sequence number, derived fresh against the endpoint that will
// receive the transaction. Retries build a new Plan rather than mutating one.
type Plan struct {
	Nonce     uint64
	GasTipCap *big.Int
	GasFeeCap *big.Int
	GasLimit  uint64
}

const (
	// feeSafetyNum/feeSafetyDen apply a +10% buffer to the fee estimate.
	feeSafetyNum = 110
	feeSafetyDen = 100

	// estimateBufferNum/estimateBufferDen pad the node's gas estimate by 20%.
	estimateBufferNum = 120
	estimateBufferDen = 100

	heuristicBaseGas   = 120_000
	heuristicPerLegGas = 60_000
)

// buildPlan prices gas and acquires a fresh pending-inclusive nonce against
// one backend. The fee cap is clamped to the configured ceiling.
func buildPlan(ctx context.Context, backend chain.Backend, sender, contract common.Address, calldata []byte, call model.BatchCall, feeCeiling *big.Int) (Plan, error) {
	tip, err := backend.SuggestGasTipCap(ctx)
	if err != nil {
		return Plan{}, fmt.Errorf("suggest gas tip: %w", err)
	}

	head, err := backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return Plan{}, fmt.Errorf("fetch head: %w", err)
	}
	baseFee := head.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(0)
	}

	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	feeCap.Add(feeCap, tip)
	feeCap.Mul(feeCap, big.NewInt(feeSafetyNum))
	feeCap.Div(feeCap, big.NewInt(feeSafetyDen))

	if feeCeiling != nil && feeCeiling.Sign() > 0 && feeCap.Cmp(feeCeiling) > 0 {
		feeCap = new(big.Int).Set(feeCeiling)
	}
	if tip.Cmp(feeCap) > 0 {
		tip = new(big.Int).Set(feeCap)
	}

	gasLimit := gasLimitFor(ctx, backend, sender, contract, calldata, call)

	nonce, err := backend.PendingNonceAt(ctx, sender)
	if err != nil {
		return Plan{}, fmt.Errorf("pending nonce: %w", err)
	}

	return Plan{
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		GasLimit:  gasLimit,
	}, nil
}

// gasLimitFor prefers the node's simulated estimate plus buffer; when the
// simulation is unavailable the shape heuristic stands in as the floor.
func gasLimitFor(ctx context.Context, backend chain.Backend, sender, contract common.Address, calldata []byte, call model.BatchCall) uint64 {
	floor := heuristicGasLimit(call)
	estimate, err := backend.EstimateGas(ctx, ethereum.CallMsg{
		From: sender,
		To:   &contract,
		Data: calldata,
	})
	if err != nil || estimate == 0 {
		return floor
	}
	buffered := estimate * estimateBufferNum / estimateBufferDen
	if buffered < floor {
		return floor
	}
	return buffered
}

// heuristicGasLimit scales a base budget by window shape: more distinct
// (payer, payee) pairs, more distinct tokens, and larger windows each imply
// more distinct on-chain state writes.
func heuristicGasLimit(call model.BatchCall) uint64 {
	legs := call.Len()
	if legs == 0 {
		return heuristicBaseGas
	}

	pairs := make(map[string]struct{}, legs)
	tokens := make(map[string]struct{}, legs)
	for i := 0; i < legs; i++ {
		pairs[call.Payers[i]+":"+call.Payees[i]] = struct{}{}
		tokens[call.Tokens[i]] = struct{}{}
	}

	base := uint64(heuristicBaseGas + heuristicPerLegGas*legs)

	multiplier := 100 + 5*uint64(len(pairs)) + 10*uint64(len(tokens)-1)
	if legs > 8 {
		multiplier += 10
	}
	return base * multiplier / 100
}
