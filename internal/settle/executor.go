package settle

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"tipRelay/internal/chain"
	"tipRelay/internal/model"
	"tipRelay/internal/token"
)

// outOfGasThresholdPct: a revert consuming at least this share of the gas
// limit is classified as likely out of gas rather than a logic revert.
const outOfGasThresholdPct = 95

// Config holds executor settings.
type Config struct {
	Contract       common.Address
	PrivateKeyHex  string
	ChainID        *big.Int
	FeeCeiling     *big.Int
	MaxAttempts    int
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
}

// Executor settles one batch window at a time:
// PREPARE -> VERIFY_CONTRACT -> PRICE_GAS -> SUBMIT -> CONFIRM -> PARSE_RESULTS.
// It is driven by the single settlement worker and keeps no shared state
// beyond the last timed-out transaction, swept once on the next attempt.
type Executor struct {
	providers      *chain.Manager
	decimals       *token.Cache
	key            *ecdsa.PrivateKey
	sender         common.Address
	contract       common.Address
	chainID        *big.Int
	feeCeiling     *big.Int
	maxAttempts    int
	confirmTimeout time.Duration
	pollInterval   time.Duration
	logger         *zap.Logger

	pending *pendingTx
}

// pendingTx remembers a submitted transaction whose confirmation poll timed
// out; it may still land later.
type pendingTx struct {
	hash     common.Hash
	calldata []byte
	call     model.BatchCall
	window   []model.TipCandidate
}

// NewExecutor parses the submitter key and builds an executor.
func NewExecutor(cfg Config, providers *chain.Manager, decimals *token.Cache, logger *zap.Logger) (*Executor, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	if cfg.ChainID == nil {
		return nil, fmt.Errorf("chain id is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	confirmTimeout := cfg.ConfirmTimeout
	if confirmTimeout <= 0 {
		confirmTimeout = 2 * time.Minute
	}
	return &Executor{
		providers:      providers,
		decimals:       decimals,
		key:            key,
		sender:         crypto.PubkeyToAddress(key.PublicKey),
		contract:       cfg.Contract,
		chainID:        cfg.ChainID,
		feeCeiling:     cfg.FeeCeiling,
		maxAttempts:    cfg.MaxAttempts,
		confirmTimeout: confirmTimeout,
		pollInterval:   pollInterval,
		logger:         logger,
	}, nil
}

// Sender returns the submitting identity.
func (e *Executor) Sender() common.Address { return e.sender }

// SettleWindow runs one settlement attempt for a window. On success it
// returns one settled leg per candidate; on failure the caller requeues the
// window up to its attempt ceiling.
func (e *Executor) SettleWindow(ctx context.Context, window []model.TipCandidate) (*model.SettlementReport, error) {
	if len(window) == 0 {
		return nil, fmt.Errorf("empty window")
	}

	if report := e.sweepPending(ctx, window); report != nil {
		return report, nil
	}

	call, calldata, err := e.prepare(ctx, window)
	if err != nil {
		return nil, fmt.Errorf("prepare window: %w", err)
	}

	if err := e.verifyContract(ctx); err != nil {
		e.logger.Error("contract verification failed",
			zap.String("contract", e.contract.Hex()),
			zap.Bool("operational_alert", true),
			zap.Error(err),
		)
		return nil, fmt.Errorf("verify contract: %w", err)
	}

	sentTx, plan, err := e.submit(ctx, calldata, call)
	if err != nil {
		if chain.IsInsufficientFunds(err) {
			e.logger.Error("submitter gas funds insufficient",
				zap.String("sender", e.sender.Hex()),
				zap.Bool("operational_alert", true),
				zap.Error(err),
			)
		}
		return nil, fmt.Errorf("submit: %w", err)
	}

	txHash := sentTx.Hash()
	e.logger.Info("settlement submitted",
		zap.String("tx", txHash.Hex()),
		zap.Int("legs", call.Len()),
		zap.Uint64("nonce", plan.Nonce),
		zap.Uint64("gas_limit", plan.GasLimit),
		zap.String("gas_fee_cap", plan.GasFeeCap.String()),
	)

	receipt, err := e.confirm(ctx, txHash)
	if err != nil {
		// The transaction may still land later; remember it so the next
		// attempt sweeps it before resubmitting.
		e.pending = &pendingTx{hash: txHash, calldata: calldata, call: call, window: window}
		return nil, fmt.Errorf("confirm tx %s: %w", txHash.Hex(), err)
	}

	if receipt.Status == types.ReceiptStatusFailed {
		cause := "logic revert"
		if plan.GasLimit > 0 && receipt.GasUsed >= plan.GasLimit*outOfGasThresholdPct/100 {
			cause = "likely out of gas"
		}
		e.logger.Warn("settlement reverted",
			zap.String("tx", txHash.Hex()),
			zap.Uint64("gas_used", receipt.GasUsed),
			zap.Uint64("gas_limit", plan.GasLimit),
			zap.String("cause", cause),
		)
		return nil, fmt.Errorf("settlement reverted (%s), tx %s", cause, txHash.Hex())
	}

	return e.buildReport(ctx, window, call, calldata, receipt), nil
}

// sweepPending checks once whether the last timed-out transaction landed in
// the meantime. If it did and it carries the same window, its results are
// used instead of resubmitting.
func (e *Executor) sweepPending(ctx context.Context, window []model.TipCandidate) *model.SettlementReport {
	p := e.pending
	if p == nil {
		return nil
	}
	e.pending = nil

	var receipt *types.Receipt
	err := e.providers.Execute(ctx, 1, func(ctx context.Context, backend chain.Backend) error {
		r, err := backend.TransactionReceipt(ctx, p.hash)
		if err != nil {
			return err
		}
		receipt = r
		return nil
	})
	if err != nil || receipt == nil {
		e.logger.Info("timed-out tx not found, abandoning", zap.String("tx", p.hash.Hex()))
		return nil
	}

	if receipt.Status == types.ReceiptStatusFailed {
		e.logger.Warn("timed-out tx landed reverted", zap.String("tx", p.hash.Hex()))
		return nil
	}

	if !windowsMatch(p.window, window) {
		e.logger.Error("timed-out tx landed for a different window, manual reconciliation needed",
			zap.String("tx", p.hash.Hex()),
			zap.Bool("operational_alert", true),
		)
		return nil
	}

	e.logger.Info("timed-out tx landed, using its results", zap.String("tx", p.hash.Hex()))
	return e.buildReport(ctx, window, p.call, p.calldata, receipt)
}

func windowsMatch(a, b []model.TipCandidate) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].DuplicateKey() != b[i].DuplicateKey() {
			return false
		}
	}
	return true
}

// prepare flattens the window into the relay call's parallel arrays with
// amounts in token-native units.
func (e *Executor) prepare(ctx context.Context, window []model.TipCandidate) (model.BatchCall, []byte, error) {
	var (
		call       model.BatchCall
		payerAddrs []common.Address
		payeeAddrs []common.Address
		tokenAddrs []common.Address
	)
	for _, candidate := range window {
		decimals, err := e.decimals.Decimals(ctx, candidate.Token)
		if err != nil {
			return model.BatchCall{}, nil, fmt.Errorf("decimals for %s: %w", candidate.Token.Hex(), err)
		}
		amount := token.ToBaseUnits(candidate.Amount, decimals)

		payerAddrs = append(payerAddrs, candidate.Payer)
		payeeAddrs = append(payeeAddrs, candidate.Payee)
		tokenAddrs = append(tokenAddrs, candidate.Token)
		call.Payers = append(call.Payers, candidate.Payer.Hex())
		call.Payees = append(call.Payees, candidate.Payee.Hex())
		call.Tokens = append(call.Tokens, candidate.Token.Hex())
		call.Amounts = append(call.Amounts, amount)
	}

	calldata, err := packBatchTransfer(payerAddrs, payeeAddrs, tokenAddrs, call.Amounts)
	if err != nil {
		return model.BatchCall{}, nil, err
	}
	return call, calldata, nil
}

// verifyContract confirms the relay has deployed code and the submitter holds
// the operator role. Failures here are terminal for the attempt.
func (e *Executor) verifyContract(ctx context.Context) error {
	return e.providers.Execute(ctx, e.maxAttempts, func(ctx context.Context, backend chain.Backend) error {
		code, err := backend.CodeAt(ctx, e.contract, nil)
		if err != nil {
			return fmt.Errorf("code at %s: %w", e.contract.Hex(), err)
		}
		if len(code) == 0 {
			return chain.Terminal(fmt.Errorf("no code deployed at %s", e.contract.Hex()))
		}

		data, err := packOperators(e.sender)
		if err != nil {
			return chain.Terminal(err)
		}
		resp, err := backend.CallContract(ctx, ethereum.CallMsg{To: &e.contract, Data: data}, nil)
		if err != nil {
			return fmt.Errorf("operators call: %w", err)
		}
		authorized, err := unpackOperators(resp)
		if err != nil {
			return chain.Terminal(err)
		}
		if !authorized {
			return chain.Terminal(fmt.Errorf("submitter %s is not an operator", e.sender.Hex()))
		}
		return nil
	})
}

// submit prices gas, acquires a fresh nonce, signs, and sends. Each retry
// re-derives the plan against the newly selected endpoint.
func (e *Executor) submit(ctx context.Context, calldata []byte, call model.BatchCall) (*types.Transaction, Plan, error) {
	var (
		sentTx *types.Transaction
		plan   Plan
	)
	err := e.providers.Execute(ctx, e.maxAttempts, func(ctx context.Context, backend chain.Backend) error {
		p, err := buildPlan(ctx, backend, e.sender, e.contract, calldata, call, e.feeCeiling)
		if err != nil {
			return err
		}
		tx, err := types.SignNewTx(e.key, types.LatestSignerForChainID(e.chainID), &types.DynamicFeeTx{
			ChainID:   e.chainID,
			Nonce:     p.Nonce,
			GasTipCap: p.GasTipCap,
			GasFeeCap: p.GasFeeCap,
			Gas:       p.GasLimit,
			To:        &e.contract,
			Data:      calldata,
		})
		if err != nil {
			return chain.Terminal(fmt.Errorf("sign transaction: %w", err))
		}
		if err := backend.SendTransaction(ctx, tx); err != nil {
			// A pool that already holds this transaction counts as
			// submitted; confirmation proceeds on the computed hash.
			if !chain.IsAlreadyKnown(err) {
				return err
			}
		}
		sentTx = tx
		plan = p
		return nil
	})
	if err != nil {
		return nil, Plan{}, err
	}
	return sentTx, plan, nil
}

// confirm polls for inclusion up to the configured timeout.
func (e *Executor) confirm(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	deadline := time.Now().Add(e.confirmTimeout)
	for {
		var receipt *types.Receipt
		err := e.providers.Execute(ctx, 1, func(ctx context.Context, backend chain.Backend) error {
			r, err := backend.TransactionReceipt(ctx, txHash)
			if err != nil {
				return err
			}
			receipt = r
			return nil
		})
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !chain.IsNotFound(err) {
			e.logger.Debug("receipt poll failed", zap.String("tx", txHash.Hex()), zap.Error(err))
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("confirmation timed out after %s", e.confirmTimeout)
		}

		timer := time.NewTimer(e.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// buildReport recovers per-leg results, falling back to the aggregate outcome
// when replay is unavailable.
func (e *Executor) buildReport(ctx context.Context, window []model.TipCandidate, call model.BatchCall, calldata []byte, receipt *types.Receipt) *model.SettlementReport {
	txHash := receipt.TxHash.Hex()
	results, err := replayResults(ctx, e.providers, e.maxAttempts, e.sender, e.contract, calldata, receipt.BlockNumber.Uint64())
	if err != nil {
		e.logger.Warn("result replay unavailable, assuming aggregate outcome",
			zap.String("tx", txHash),
			zap.Error(err),
		)
		results = uniformResults(len(window), receipt.Status == types.ReceiptStatusSuccessful)
	}

	legs := correlateLegs(window, call, results, txHash, receipt.GasUsed)
	succeeded := 0
	for _, leg := range legs {
		if leg.Success {
			succeeded++
		}
	}
	e.logger.Info("settlement confirmed",
		zap.String("tx", txHash),
		zap.Uint64("block", receipt.BlockNumber.Uint64()),
		zap.Int("legs", len(legs)),
		zap.Int("succeeded", succeeded),
		zap.Uint64("gas_used", receipt.GasUsed),
	)

	return &model.SettlementReport{
		TxHash:      txHash,
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
		Reverted:    receipt.Status == types.ReceiptStatusFailed,
		Legs:        legs,
	}
}
