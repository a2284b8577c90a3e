package diagnose

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
)

type timeoutErr struct{}

func (timeoutErr) Error() string { return "i/o" }
func (timeoutErr) Timeout() bool { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, Unknown},
		{"ctx deadline", fmt.Errorf("send: %w", context.DeadlineExceeded), NetworkTimeout},
		{"net timeout", &net.OpError{Op: "dial", Err: timeoutErr{}}, NetworkTimeout},
		{"etimedout text", errors.New("connect ETIMEDOUT 1.2.3.4:443"), NetworkTimeout},
		{"funds", errors.New("insufficient funds for gas * price + value"), InsufficientResources},
		{"gas allowance", errors.New("gas required exceeds allowance (300000)"), InsufficientResources},
		{"nonce", errors.New("nonce too low"), SequenceConflict},
		{"underpriced", errors.New("replacement transaction underpriced"), SequenceConflict},
		{"reverted", errors.New("execution reverted: not oracle"), Reverted},
		{"ceiling", fmt.Errorf("%w: rate 150000000000 wei exceeds ceiling 100000000000 wei", errors.New("fee above ceiling")), FeeAboveCeiling},
		{"marked", MarkInvalid(errors.New("SMART_CONTRACT_ADDRESS environment variable is required")), InvalidInput},
		{"wrapped marked", fmt.Errorf("load: %w", MarkInvalid(context.DeadlineExceeded)), InvalidInput},
		{"other", errors.New("something odd"), Unknown},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Fatalf("%s: Classify=%v want %v", tc.name, got, tc.want)
		}
	}
}

func TestClassifyMessage_FirstMatchWins(t *testing.T) {
	// "timeout" outranks "nonce" when both appear.
	if got := ClassifyMessage("nonce lookup timeout"); got != NetworkTimeout {
		t.Fatalf("got %v", got)
	}
}

func TestKindStringAndGuidance(t *testing.T) {
	for _, k := range []Kind{Unknown, NetworkTimeout, InsufficientResources, SequenceConflict, Reverted, FeeAboveCeiling, InvalidInput} {
		if k.String() == "" {
			t.Fatalf("empty name for %d", k)
		}
		if len(Guidance(k)) == 0 {
			t.Fatalf("no guidance for %v", k)
		}
		b, _ := k.MarshalText()
		if string(b) != k.String() {
			t.Fatalf("MarshalText=%q want %q", b, k.String())
		}
	}
	if Kind(42).String() != "unknown" {
		t.Fatal("out of range kind should be unknown")
	}
}

func TestMarkInvalid(t *testing.T) {
	if MarkInvalid(nil) != nil {
		t.Fatal("nil must stay nil")
	}
	base := errors.New("score must be an integer")
	err := MarkInvalid(base)
	if err.Error() != base.Error() {
		t.Fatalf("message changed: %q", err)
	}
	if !errors.Is(err, base) || !errors.Is(err, ErrInvalidInput) {
		t.Fatal("marked error must match both the cause and ErrInvalidInput")
	}
}
