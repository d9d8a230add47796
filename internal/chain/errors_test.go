package chain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/rpc"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"timeout", context.DeadlineExceeded, KindTransient},
		{"rate limited", rpc.HTTPError{StatusCode: 429}, KindTransient},
		{"server error", rpc.HTTPError{StatusCode: 503}, KindTransient},
		{"bad request", rpc.HTTPError{StatusCode: 400}, KindTerminal},
		{"insufficient funds", errors.New("insufficient funds for gas * price + value"), KindTerminal},
		{"reverted", errors.New("execution reverted: not operator"), KindTerminal},
		{"bad signature", errors.New("invalid sender"), KindTerminal},
		{"unknown", errors.New("connection reset by peer"), KindTransient},
		{"already known", errors.New("already known"), KindTransient},
		{"marked terminal", Terminal(errors.New("no code deployed")), KindTerminal},
		{"wrapped terminal", fmt.Errorf("verify: %w", Terminal(errors.New("not operator"))), KindTerminal},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Fatalf("%s: classify = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestIsAlreadyKnown(t *testing.T) {
	if !IsAlreadyKnown(errors.New("already known")) {
		t.Fatalf("expected already known match")
	}
	if IsAlreadyKnown(errors.New("nonce too low")) {
		t.Fatalf("unexpected already known match")
	}
}

func TestIsInsufficientFunds(t *testing.T) {
	if !IsInsufficientFunds(errors.New("insufficient funds for transfer")) {
		t.Fatalf("expected insufficient funds match")
	}
	if IsInsufficientFunds(errors.New("execution reverted")) {
		t.Fatalf("unexpected insufficient funds match")
	}
}
