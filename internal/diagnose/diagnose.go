// Package diagnose maps raw submission failures onto a small taxonomy so
// operators get actionable guidance. It never influences control flow.
package diagnose

import (
	"context"
	"errors"
	"os"
	"strings"
)

// Kind is the classified cause of a failure.
type Kind int

const (
	Unknown Kind = iota
	NetworkTimeout
	InsufficientResources
	SequenceConflict
	Reverted
	FeeAboveCeiling
	InvalidInput
)

// ErrInvalidInput marks failures caused by arguments or configuration.
// Wrap with MarkInvalid or implement Is to be classified as InvalidInput.
var ErrInvalidInput = errors.New("invalid input")

type invalidErr struct{ err error }

func (e invalidErr) Error() string { return e.err.Error() }

func (e invalidErr) Unwrap() error { return e.err }

func (e invalidErr) Is(target error) bool { return target == ErrInvalidInput }

// MarkInvalid tags err as an input failure without changing its message.
func MarkInvalid(err error) error {
	if err == nil {
		return nil
	}
	return invalidErr{err: err}
}

func (k Kind) String() string {
	switch k {
	case NetworkTimeout:
		return "network_timeout"
	case InsufficientResources:
		return "insufficient_resources"
	case SequenceConflict:
		return "sequence_conflict"
	case Reverted:
		return "reverted"
	case FeeAboveCeiling:
		return "fee_above_ceiling"
	case InvalidInput:
		return "invalid_input"
	default:
		return "unknown"
	}
}

// MarshalText renders the kind as its snake_case name in JSON and logs.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// patterns are checked in order; the first hit wins.
var patterns = []struct {
	kind    Kind
	needles []string
}{
	{FeeAboveCeiling, []string{"fee above ceiling"}},
	{NetworkTimeout, []string{"timeout", "timed out", "etimedout", "deadline exceeded"}},
	{InsufficientResources, []string{"insufficient funds", "gas required exceeds allowance", "exceeds block gas limit", "intrinsic gas too low"}},
	{SequenceConflict, []string{"nonce", "replacement transaction underpriced", "already known"}},
	{Reverted, []string{"reverted", "revert"}},
}

// Classify inspects err (including wrapped context and OS deadline errors)
// and returns its Kind. A nil error is Unknown.
func Classify(err error) Kind {
	if err == nil {
		return Unknown
	}
	if errors.Is(err, ErrInvalidInput) {
		return InvalidInput
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return NetworkTimeout
	}
	var te interface{ Timeout() bool }
	if errors.As(err, &te) && te.Timeout() {
		return NetworkTimeout
	}
	return ClassifyMessage(err.Error())
}

// ClassifyMessage pattern-matches a raw failure message.
func ClassifyMessage(msg string) Kind {
	lower := strings.ToLower(msg)
	for _, p := range patterns {
		for _, n := range p.needles {
			if strings.Contains(lower, n) {
				return p.kind
			}
		}
	}
	return Unknown
}

// Guidance returns operator-facing next steps for k.
func Guidance(k Kind) []string {
	switch k {
	case NetworkTimeout:
		return []string{
			"Network timeout - RPC nodes may be experiencing high load",
			"Consider retrying in a few minutes or check your internet connection",
		}
	case InsufficientResources:
		return []string{
			"Insufficient balance for transaction fees",
			"Please ensure the signing wallet holds enough native currency for gas",
		}
	case SequenceConflict:
		return []string{
			"Transaction nonce issue - try again in a few seconds",
			"This usually resolves automatically with retry",
		}
	case Reverted:
		return []string{
			"Smart contract transaction reverted",
			"Check if the oracle address is authorized and parameters are valid",
		}
	case FeeAboveCeiling:
		return []string{
			"Network gas price is above MAX_GAS_PRICE_GWEI; nothing was sent",
			"Retry when fees drop or raise MAX_GAS_PRICE_GWEI",
		}
	case InvalidInput:
		return []string{
			"Check the command arguments and environment configuration",
			"Usage: oracle-submit <contentRef> <confidenceScore 0-100>",
		}
	default:
		return []string{"Unclassified failure - inspect the raw error above"}
	}
}
