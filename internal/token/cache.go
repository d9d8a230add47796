package token

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"tipRelay/internal/chain"
)

// baseUnitCap bounds converted amounts for tokens with unusually large
// decimals, so a misconfigured token cannot overflow downstream math.
var baseUnitCap = new(big.Int).Exp(big.NewInt(10), big.NewInt(38), nil)

const standardDecimals = 18

// Cache memoizes token decimals by address. Each token is fetched from chain
// once; the value is immutable for a deployed ERC-20.
type Cache struct {
	providers   *chain.Manager
	maxAttempts int

	mu   sync.RWMutex
	data map[common.Address]uint8
}

// NewCache builds a decimals cache reading through the provider manager.
func NewCache(providers *chain.Manager, maxAttempts int) *Cache {
	return &Cache{
		providers:   providers,
		maxAttempts: maxAttempts,
		data:        make(map[common.Address]uint8),
	}
}

// Decimals returns the token's decimals, fetching and memoizing on first use.
func (c *Cache) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	c.mu.RLock()
	decimals, ok := c.data[token]
	c.mu.RUnlock()
	if ok {
		return decimals, nil
	}

	err := c.providers.Execute(ctx, c.maxAttempts, func(ctx context.Context, backend chain.Backend) error {
		var err error
		decimals, err = chain.ERC20Decimals(ctx, backend, token)
		return err
	})
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.data[token] = decimals
	c.mu.Unlock()

	return decimals, nil
}

// Seed preloads a known decimals value, used by tests and static token lists.
func (c *Cache) Seed(token common.Address, decimals uint8) {
	c.mu.Lock()
	c.data[token] = decimals
	c.mu.Unlock()
}

// ToBaseUnits converts a human-unit amount to token-native integer units,
// truncating sub-unit dust. Amounts for tokens beyond the standard 18
// decimals are clamped at the sanity ceiling.
func ToBaseUnits(amount decimal.Decimal, decimals uint8) *big.Int {
	base := amount.Shift(int32(decimals)).Truncate(0).BigInt()
	if decimals > standardDecimals && base.Cmp(baseUnitCap) > 0 {
		return new(big.Int).Set(baseUnitCap)
	}
	return base
}

// FromBaseUnits converts token-native integer units back to a human amount.
func FromBaseUnits(base *big.Int, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(base, 0).Shift(-int32(decimals))
}
