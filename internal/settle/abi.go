package settle

import (
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// The relay contract exposes a batched multi-call that isolates per-leg
// failure from aggregate transaction status: batchTransfer returns one bool
// per leg, and operators gates who may submit.
const relayABIJSON = `[
  {"inputs": [
     {"name": "payers", "type": "address[]"},
     {"name": "payees", "type": "address[]"},
     {"name": "tokens", "type": "address[]"},
     {"name": "amounts", "type": "uint256[]"}
   ],
   "name": "batchTransfer",
   "outputs": [{"type": "bool[]"}],
   "stateMutability": "nonpayable", "type": "function"},
  {"inputs": [{"name": "operator", "type": "address"}],
   "name": "operators",
   "outputs": [{"type": "bool"}],
   "stateMutability": "view", "type": "function"}
]`

var (
	relayABI     abi.ABI
	relayABIOnce sync.Once
	relayABIErr  error
)

func relayABIInstance() (abi.ABI, error) {
	relayABIOnce.Do(func() {
		relayABI, relayABIErr = abi.JSON(strings.NewReader(relayABIJSON))
	})
	return relayABI, relayABIErr
}

func packBatchTransfer(payers, payees, tokens []common.Address, amounts []*big.Int) ([]byte, error) {
	parsed, err := relayABIInstance()
	if err != nil {
		return nil, fmt.Errorf("parse relay abi: %w", err)
	}
	data, err := parsed.Pack("batchTransfer", payers, payees, tokens, amounts)
	if err != nil {
		return nil, fmt.Errorf("pack batchTransfer: %w", err)
	}
	return data, nil
}

func unpackBatchResults(data []byte) ([]bool, error) {
	parsed, err := relayABIInstance()
	if err != nil {
		return nil, fmt.Errorf("parse relay abi: %w", err)
	}
	values, err := parsed.Unpack("batchTransfer", data)
	if err != nil {
		return nil, fmt.Errorf("unpack batchTransfer: %w", err)
	}
	results, ok := values[0].([]bool)
	if !ok {
		return nil, fmt.Errorf("unsupported result type %T", values[0])
	}
	return results, nil
}

func packOperators(operator common.Address) ([]byte, error) {
	parsed, err := relayABIInstance()
	if err != nil {
		return nil, fmt.Errorf("parse relay abi: %w", err)
	}
	data, err := parsed.Pack("operators", operator)
	if err != nil {
		return nil, fmt.Errorf("pack operators: %w", err)
	}
	return data, nil
}

func unpackOperators(data []byte) (bool, error) {
	parsed, err := relayABIInstance()
	if err != nil {
		return false, fmt.Errorf("parse relay abi: %w", err)
	}
	values, err := parsed.Unpack("operators", data)
	if err != nil {
		return false, fmt.Errorf("unpack operators: %w", err)
	}
	authorized, ok := values[0].(bool)
	if !ok {
		return false, fmt.Errorf("unsupported operators type %T", values[0])
	}
	return authorized, nil
}
