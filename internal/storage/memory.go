package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"tipRelay/internal/model"
)

// Memory is an in-memory Store and DeadLetterSink for tests and local runs.
type Memory struct {
	mu          sync.Mutex
	records     []model.TipRecord
	seen        map[string]struct{}
	spent       map[common.Address]decimal.Decimal
	configs     map[common.Address]*model.AuthorConfig
	deadLetters []DeadLetterRecord
}

var (
	_ Store          = (*Memory)(nil)
	_ DeadLetterSink = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		seen:    make(map[string]struct{}),
		spent:   make(map[common.Address]decimal.Decimal),
		configs: make(map[common.Address]*model.AuthorConfig),
	}
}

func duplicateKey(payer, payee common.Address, reference string, interaction model.InteractionType) string {
	return fmt.Sprintf("%s:%s:%s:%s", payer.Hex(), payee.Hex(), reference, interaction)
}

func (m *Memory) HasTipRecord(_ context.Context, payer, payee common.Address, reference string, interaction model.InteractionType) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.seen[duplicateKey(payer, payee, reference, interaction)]
	return ok, nil
}

func (m *Memory) AppendTipRecords(_ context.Context, records []model.TipRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, record := range records {
		m.records = append(m.records, record)
		key := fmt.Sprintf("%s:%s:%s:%s", record.Payer, record.Payee, record.Reference, record.Interaction)
		m.seen[key] = struct{}{}
	}
	return nil
}

func (m *Memory) AddSpent(_ context.Context, payer common.Address, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spent[payer] = m.spent[payer].Add(amount)
	if cfg, ok := m.configs[payer]; ok {
		cfg.TotalSpent = cfg.TotalSpent.Add(amount)
	}
	return nil
}

func (m *Memory) SetActive(_ context.Context, payer common.Address, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg, ok := m.configs[payer]; ok {
		cfg.Active = active
	}
	return nil
}

func (m *Memory) AuthorConfig(_ context.Context, payer common.Address) (*model.AuthorConfig, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.configs[payer]
	if !ok {
		return nil, false, nil
	}
	copied := *cfg
	return &copied, true, nil
}

func (m *Memory) ActiveAuthorConfigs(_ context.Context) ([]model.AuthorConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	configs := make([]model.AuthorConfig, 0, len(m.configs))
	for _, cfg := range m.configs {
		if cfg.Active {
			configs = append(configs, *cfg)
		}
	}
	return configs, nil
}

func (m *Memory) AppendDeadLetter(_ context.Context, window []model.TipCandidate, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadLetters = append(m.deadLetters, DeadLetterRecord{Reason: reason, Candidates: window})
	return nil
}

// PutAuthorConfig stores a config, replacing any existing one for the payer.
func (m *Memory) PutAuthorConfig(cfg model.AuthorConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[cfg.Payer] = &cfg
}

// TipRecords returns a copy of the appended history rows.
func (m *Memory) TipRecords() []model.TipRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.TipRecord, len(m.records))
	copy(out, m.records)
	return out
}

// DeadLetters returns a copy of the dropped windows.
func (m *Memory) DeadLetters() []DeadLetterRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DeadLetterRecord, len(m.deadLetters))
	copy(out, m.deadLetters)
	return out
}
