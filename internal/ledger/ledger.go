package ledger

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// SpendingLedger tracks cumulative totalSpent per payer. Writes are only made
// after confirmed on-chain success; the mutex serializes them per process,
// which covers the per-payer-key requirement.
type SpendingLedger struct {
	mu     sync.Mutex
	totals map[common.Address]decimal.Decimal
}

// NewSpendingLedger returns an empty ledger.
func NewSpendingLedger() *SpendingLedger {
	return &SpendingLedger{totals: make(map[common.Address]decimal.Decimal)}
}

// Seed loads a known running total, used at boot from the persistence layer.
func (l *SpendingLedger) Seed(payer common.Address, total decimal.Decimal) {
	l.mu.Lock()
	l.totals[payer] = total
	l.mu.Unlock()
}

// Add increments a payer's total and returns the new value.
func (l *SpendingLedger) Add(payer common.Address, amount decimal.Decimal) decimal.Decimal {
	l.mu.Lock()
	total := l.totals[payer].Add(amount)
	l.totals[payer] = total
	l.mu.Unlock()
	return total
}

// Total returns the payer's running total, zero if never seen.
func (l *SpendingLedger) Total(payer common.Address) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totals[payer]
}

// ActiveSet is the set of payers currently eligible to have tips triggered on
// their behalf.
type ActiveSet struct {
	mu      sync.RWMutex
	members map[common.Address]struct{}
}

// NewActiveSet returns an empty set.
func NewActiveSet() *ActiveSet {
	return &ActiveSet{members: make(map[common.Address]struct{})}
}

// Add admits a payer.
func (s *ActiveSet) Add(payer common.Address) {
	s.mu.Lock()
	s.members[payer] = struct{}{}
	s.mu.Unlock()
}

// Remove evicts a payer.
func (s *ActiveSet) Remove(payer common.Address) {
	s.mu.Lock()
	delete(s.members, payer)
	s.mu.Unlock()
}

// Contains reports membership.
func (s *ActiveSet) Contains(payer common.Address) bool {
	s.mu.RLock()
	_, ok := s.members[payer]
	s.mu.RUnlock()
	return ok
}

// Len returns the current membership count.
func (s *ActiveSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.members)
}
