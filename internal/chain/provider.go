package chain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Endpoint pairs a backend with the URL it was configured under.
type Endpoint struct {
	URL     string
	Backend Backend
}

// Manager owns the priority-ordered endpoint list and the sticky current
// selection. Every chain read and write in the pipeline goes through
// Execute so failover is applied uniformly.
type Manager struct {
	endpoints    []Endpoint
	probeTimeout time.Duration
	baseBackoff  time.Duration
	logger       *zap.Logger
	onFailover   func(from, to string)

	mu      sync.Mutex
	current int
}

// ManagerOption adjusts Manager construction.
type ManagerOption func(*Manager)

// WithProbeTimeout sets the liveness probe timeout.
func WithProbeTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.probeTimeout = d }
}

// WithBackoff sets the initial retry backoff for Execute.
func WithBackoff(d time.Duration) ManagerOption {
	return func(m *Manager) { m.baseBackoff = d }
}

// WithFailoverHook registers a callback invoked on every endpoint switch.
func WithFailoverHook(fn func(from, to string)) ManagerOption {
	return func(m *Manager) { m.onFailover = fn }
}

// NewManager builds a Manager over a non-empty, priority-ordered endpoint list.
func NewManager(endpoints []Endpoint, logger *zap.Logger, opts ...ManagerOption) (*Manager, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("at least one endpoint is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		endpoints:    endpoints,
		probeTimeout: 5 * time.Second,
		baseBackoff:  500 * time.Millisecond,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Active probes the current endpoint and returns it if live. On probe failure
// it walks the list starting just past the failed endpoint, wrapping around,
// and adopts the first live one as the new sticky current.
func (m *Manager) Active(ctx context.Context) (Endpoint, error) {
	m.mu.Lock()
	start := m.current
	m.mu.Unlock()

	n := len(m.endpoints)
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		ep := m.endpoints[idx]
		if err := m.probe(ctx, ep); err != nil {
			m.logger.Warn("endpoint probe failed", zap.String("url", ep.URL), zap.Error(err))
			continue
		}
		m.adopt(idx)
		return ep, nil
	}
	return Endpoint{}, fmt.Errorf("no live endpoint among %d configured", n)
}

func (m *Manager) probe(ctx context.Context, ep Endpoint) error {
	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()
	_, err := ep.Backend.BlockNumber(probeCtx)
	return err
}

func (m *Manager) adopt(idx int) {
	m.mu.Lock()
	prev := m.current
	m.current = idx
	m.mu.Unlock()

	if prev != idx {
		from, to := m.endpoints[prev].URL, m.endpoints[idx].URL
		m.logger.Info("provider failover", zap.String("from", from), zap.String("to", to))
		if m.onFailover != nil {
			m.onFailover(from, to)
		}
	}
}

// advance moves the sticky current just past the endpoint that failed, so the
// next Active call probes from there. A concurrent caller that already moved
// current elsewhere wins.
func (m *Manager) advance(failed int) {
	m.mu.Lock()
	if m.current == failed {
		m.current = (failed + 1) % len(m.endpoints)
	}
	m.mu.Unlock()
}

func (m *Manager) currentIndex() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Execute runs op against the current endpoint. Transient failures advance to
// the next endpoint and retry with exponential backoff up to maxAttempts;
// terminal failures propagate immediately without switching endpoints.
func (m *Manager) Execute(ctx context.Context, maxAttempts int, op func(ctx context.Context, backend Backend) error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	delay := m.baseBackoff
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		ep, err := m.Active(ctx)
		if err != nil {
			lastErr = err
		} else {
			idx := m.currentIndex()
			err = op(ctx, ep.Backend)
			if err == nil {
				return nil
			}
			if Classify(err) == KindTerminal {
				return err
			}
			lastErr = err
			m.logger.Warn("chain operation failed, switching endpoint",
				zap.String("url", ep.URL),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			m.advance(idx)
		}

		if attempt == maxAttempts-1 {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}

	return fmt.Errorf("all %d attempts failed: %w", maxAttempts, lastErr)
}
