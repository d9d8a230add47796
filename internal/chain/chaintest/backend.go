// Package chaintest provides a configurable fake chain.Backend for tests.
package chaintest

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"tipRelay/internal/chain"
)

// Selectors for the calls the pipeline makes.
var (
	SelectorDecimals      = selector("decimals()")
	SelectorBalanceOf     = selector("balanceOf(address)")
	SelectorAllowance     = selector("allowance(address,address)")
	SelectorOperators     = selector("operators(address)")
	SelectorBatchTransfer = selector("batchTransfer(address[],address[],address[],uint256[])")
)

func selector(signature string) [4]byte {
	var sel [4]byte
	copy(sel[:], crypto.Keccak256([]byte(signature))[:4])
	return sel
}

// Selector extracts the 4-byte selector from call data.
func Selector(data []byte) [4]byte {
	var sel [4]byte
	if len(data) >= 4 {
		copy(sel[:], data[:4])
	}
	return sel
}

// Backend is a fake chain.Backend; unset function fields fall back to
// permissive defaults.
type Backend struct {
	BlockNumberFn        func(ctx context.Context) (uint64, error)
	ChainIDFn            func(ctx context.Context) (*big.Int, error)
	HeaderByNumberFn     func(ctx context.Context, number *big.Int) (*types.Header, error)
	CodeAtFn             func(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContractFn       func(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SuggestGasTipCapFn   func(ctx context.Context) (*big.Int, error)
	EstimateGasFn        func(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	PendingNonceAtFn     func(ctx context.Context, account common.Address) (uint64, error)
	SendTransactionFn    func(ctx context.Context, tx *types.Transaction) error
	TransactionReceiptFn func(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

var _ chain.Backend = (*Backend)(nil)

func (b *Backend) BlockNumber(ctx context.Context) (uint64, error) {
	if b.BlockNumberFn != nil {
		return b.BlockNumberFn(ctx)
	}
	return 1, nil
}

func (b *Backend) ChainID(ctx context.Context) (*big.Int, error) {
	if b.ChainIDFn != nil {
		return b.ChainIDFn(ctx)
	}
	return big.NewInt(8453), nil
}

func (b *Backend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	if b.HeaderByNumberFn != nil {
		return b.HeaderByNumberFn(ctx, number)
	}
	return &types.Header{Number: big.NewInt(1), BaseFee: big.NewInt(1_000_000_000)}, nil
}

func (b *Backend) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	if b.CodeAtFn != nil {
		return b.CodeAtFn(ctx, account, blockNumber)
	}
	return []byte{0x60}, nil
}

func (b *Backend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if b.CallContractFn != nil {
		return b.CallContractFn(ctx, msg, blockNumber)
	}
	return nil, fmt.Errorf("no CallContractFn configured")
}

func (b *Backend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	if b.SuggestGasTipCapFn != nil {
		return b.SuggestGasTipCapFn(ctx)
	}
	return big.NewInt(1_000_000_000), nil
}

func (b *Backend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if b.EstimateGasFn != nil {
		return b.EstimateGasFn(ctx, msg)
	}
	return 400_000, nil
}

func (b *Backend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	if b.PendingNonceAtFn != nil {
		return b.PendingNonceAtFn(ctx, account)
	}
	return 7, nil
}

func (b *Backend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if b.SendTransactionFn != nil {
		return b.SendTransactionFn(ctx, tx)
	}
	return nil
}

func (b *Backend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if b.TransactionReceiptFn != nil {
		return b.TransactionReceiptFn(ctx, txHash)
	}
	return &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      txHash,
		BlockNumber: big.NewInt(100),
		GasUsed:     210_000,
	}, nil
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

var (
	uint256Type   = mustType("uint256")
	uint8Type     = mustType("uint8")
	boolType      = mustType("bool")
	boolArrayType = mustType("bool[]")
)

// PackUint256 ABI-encodes one uint256 return value.
func PackUint256(v *big.Int) []byte {
	out, err := abi.Arguments{{Type: uint256Type}}.Pack(v)
	if err != nil {
		panic(err)
	}
	return out
}

// PackUint8 ABI-encodes one uint8 return value.
func PackUint8(v uint8) []byte {
	out, err := abi.Arguments{{Type: uint8Type}}.Pack(v)
	if err != nil {
		panic(err)
	}
	return out
}

// PackBool ABI-encodes one bool return value.
func PackBool(v bool) []byte {
	out, err := abi.Arguments{{Type: boolType}}.Pack(v)
	if err != nil {
		panic(err)
	}
	return out
}

// PackBoolArray ABI-encodes one bool[] return value.
func PackBoolArray(values []bool) []byte {
	out, err := abi.Arguments{{Type: boolArrayType}}.Pack(values)
	if err != nil {
		panic(err)
	}
	return out
}

// TokenState drives ERC-20 read responses for one payer/token pair.
type TokenState struct {
	Decimals  uint8
	Balance   *big.Int
	Allowance *big.Int
}

// ERC20CallFn builds a CallContractFn answering decimals, balanceOf, and
// allowance from state. State may be mutated between calls to simulate
// external balance changes.
func ERC20CallFn(state *TokenState) func(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return func(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
		switch Selector(msg.Data) {
		case SelectorDecimals:
			return PackUint8(state.Decimals), nil
		case SelectorBalanceOf:
			return PackUint256(new(big.Int).Set(state.Balance)), nil
		case SelectorAllowance:
			return PackUint256(new(big.Int).Set(state.Allowance)), nil
		default:
			return nil, fmt.Errorf("unexpected selector %x", msg.Data[:4])
		}
	}
}
