package settle

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"tipRelay/internal/chain"
	"tipRelay/internal/model"
)

// replayResults recovers the per-leg success array by replaying the same call
// read-only against post-inclusion state.
func replayResults(ctx context.Context, providers *chain.Manager, maxAttempts int, sender, contract common.Address, calldata []byte, blockNumber uint64) ([]bool, error) {
	var results []bool
	err := providers.Execute(ctx, maxAttempts, func(ctx context.Context, backend chain.Backend) error {
		resp, err := backend.CallContract(ctx, ethereum.CallMsg{
			From: sender,
			To:   &contract,
			Data: calldata,
		}, new(big.Int).SetUint64(blockNumber))
		if err != nil {
			return err
		}
		results, err = unpackBatchResults(resp)
		return err
	})
	return results, err
}

// correlateLegs pairs the per-leg boolean array back to the originating
// candidates. A leg without a clean correlation (index beyond the result
// array, or a (payer, payee) mismatch against the submitted call) is treated
// as failed.
func correlateLegs(window []model.TipCandidate, call model.BatchCall, results []bool, txHash string, gasUsed uint64) []model.SettledLeg {
	legs := make([]model.SettledLeg, 0, len(window))
	perLegGas := uint64(0)
	if len(window) > 0 {
		perLegGas = gasUsed / uint64(len(window))
	}
	for i, candidate := range window {
		success := i < len(results) && results[i] &&
			i < call.Len() &&
			call.Payers[i] == candidate.Payer.Hex() &&
			call.Payees[i] == candidate.Payee.Hex()
		legs = append(legs, model.SettledLeg{
			Candidate: candidate,
			Success:   success,
			TxHash:    txHash,
			GasUsed:   perLegGas,
		})
	}
	return legs
}

// uniformResults is the fallback when replay is unavailable: every leg takes
// the aggregate transaction outcome.
func uniformResults(n int, success bool) []bool {
	results := make([]bool, n)
	for i := range results {
		results[i] = success
	}
	return results
}
