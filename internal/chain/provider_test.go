package chain_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"tipRelay/internal/chain"
	"tipRelay/internal/chain/chaintest"
)

func newManager(t *testing.T, endpoints ...chain.Endpoint) *chain.Manager {
	t.Helper()
	m, err := chain.NewManager(endpoints, nil,
		chain.WithProbeTimeout(time.Second),
		chain.WithBackoff(time.Millisecond),
	)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestActiveStickyFailover(t *testing.T) {
	ctx := context.Background()

	primaryDown := true
	primary := &chaintest.Backend{
		BlockNumberFn: func(context.Context) (uint64, error) {
			if primaryDown {
				return 0, errors.New("connection refused")
			}
			return 1, nil
		},
	}
	secondary := &chaintest.Backend{}

	m := newManager(t,
		chain.Endpoint{URL: "primary", Backend: primary},
		chain.Endpoint{URL: "secondary", Backend: secondary},
	)

	ep, err := m.Active(ctx)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if ep.URL != "secondary" {
		t.Fatalf("expected failover to secondary, got %s", ep.URL)
	}

	// Primary recovers, but the selection is sticky.
	primaryDown = false
	ep, err = m.Active(ctx)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if ep.URL != "secondary" {
		t.Fatalf("expected sticky secondary, got %s", ep.URL)
	}
}

func TestActiveAllDown(t *testing.T) {
	down := &chaintest.Backend{
		BlockNumberFn: func(context.Context) (uint64, error) {
			return 0, errors.New("connection refused")
		},
	}
	m := newManager(t, chain.Endpoint{URL: "only", Backend: down})
	if _, err := m.Active(context.Background()); err == nil {
		t.Fatalf("expected error when every endpoint is down")
	}
}

func TestExecuteTransientAdvances(t *testing.T) {
	ctx := context.Background()
	primary := &chaintest.Backend{}
	secondary := &chaintest.Backend{}

	m := newManager(t,
		chain.Endpoint{URL: "primary", Backend: primary},
		chain.Endpoint{URL: "secondary", Backend: secondary},
	)

	calls := 0
	err := m.Execute(ctx, 3, func(_ context.Context, backend chain.Backend) error {
		calls++
		if backend == chain.Backend(primary) {
			return errors.New("request timeout")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 op calls, got %d", calls)
	}

	ep, err := m.Active(ctx)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if ep.URL != "secondary" {
		t.Fatalf("expected secondary sticky after failover, got %s", ep.URL)
	}
}

func TestExecuteTerminalStops(t *testing.T) {
	primary := &chaintest.Backend{}
	secondary := &chaintest.Backend{}

	m := newManager(t,
		chain.Endpoint{URL: "primary", Backend: primary},
		chain.Endpoint{URL: "secondary", Backend: secondary},
	)

	calls := 0
	err := m.Execute(context.Background(), 5, func(context.Context, chain.Backend) error {
		calls++
		return errors.New("execution reverted: bad input")
	})
	if err == nil {
		t.Fatalf("expected terminal error to propagate")
	}
	if calls != 1 {
		t.Fatalf("terminal error must not retry, got %d calls", calls)
	}

	ep, err := m.Active(context.Background())
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if ep.URL != "primary" {
		t.Fatalf("terminal error must not switch endpoints, got %s", ep.URL)
	}
}

func TestExecuteExhaustsAttempts(t *testing.T) {
	backend := &chaintest.Backend{}
	m := newManager(t, chain.Endpoint{URL: "only", Backend: backend})

	calls := 0
	err := m.Execute(context.Background(), 3, func(context.Context, chain.Backend) error {
		calls++
		return fmt.Errorf("rpc timeout %d", calls)
	})
	if err == nil {
		t.Fatalf("expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}
