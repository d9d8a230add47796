package chain

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
)

// ErrorKind splits chain failures into the two classes the pipeline retries
// differently: transient infrastructure trouble (switch endpoint, back off,
// try again) and terminal errors (retrying the same request cannot help).
type ErrorKind int

const (
	KindTransient ErrorKind = iota
	KindTerminal
)

var terminalFragments = []string{
	"insufficient funds",
	"execution reverted",
	"invalid sender",
	"invalid signature",
	"invalid argument",
	"gas required exceeds allowance",
	"intrinsic gas too low",
	"exceeds block gas limit",
}

type terminalError struct {
	err error
}

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

// Terminal marks an error as non-retryable regardless of its message.
func Terminal(err error) error {
	return &terminalError{err: err}
}

// Classify maps an RPC error to its retry class. Unknown errors are treated
// as transient so that endpoint-specific weirdness gets a chance on the next
// provider.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindTransient
	}

	var terminal *terminalError
	if errors.As(err, &terminal) {
		return KindTerminal
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range terminalFragments {
		if strings.Contains(msg, fragment) {
			return KindTerminal
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == 429 || httpErr.StatusCode >= 500 {
			return KindTransient
		}
		return KindTerminal
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}

	return KindTransient
}

// IsInsufficientFunds reports whether the submitter's own gas funds cannot
// cover the transaction. This is an operational funding problem, never retried.
func IsInsufficientFunds(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "insufficient funds")
}

// IsAlreadyKnown reports the pool's duplicate-submission reply: the
// transaction was accepted by an earlier send and is already pending.
func IsAlreadyKnown(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "already known")
}

// IsNotFound reports the standard "not found" reply from receipt polling.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "not found")
}
