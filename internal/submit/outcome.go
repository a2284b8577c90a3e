package submit

import (
	"errors"
	"math/big"

	"github.com/AIAleph/oracle_submit/internal/fee"
)

var (
	// ErrFeeAboveCeiling is returned locally, before any network call, when
	// the quoted rate exceeds the request's ceiling.
	ErrFeeAboveCeiling = errors.New("fee above ceiling")
	// ErrConfirmationTimeout means no receipt appeared before the wait deadline.
	// The transaction may still be mined.
	ErrConfirmationTimeout = errors.New("confirmation timeout")
	ErrNoCredential        = errors.New("no signing credential")
)

// Payload is the application record carried by one submission.
type Payload struct {
	ContentRef string `json:"ipfsHash"`
	Score      uint8  `json:"confidenceScore"`
}

// Request is built once per attempt and never reused across endpoints.
type Request struct {
	Payload    Payload
	Quote      fee.Quote
	GasLimit   uint64
	GasCeiling *big.Int
	Credential Credential
}

type Status int

const (
	Accepted Status = iota
	TimedOut
	Rejected
	NoEndpointAvailable
)

func (s Status) String() string {
	switch s {
	case Accepted:
		return "accepted"
	case TimedOut:
		return "timed_out"
	case Rejected:
		return "rejected"
	case NoEndpointAvailable:
		return "no_endpoint_available"
	}
	return "unknown"
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Outcome is the terminal result of one submission attempt.
//
// TimedOut does not mean failed: the transaction may still land. TrackingID
// is the transaction hash and is known as soon as the transaction is signed,
// so it is also set on TimedOut when signing completed.
type Outcome struct {
	Status     Status `json:"status"`
	TrackingID string `json:"trackingId,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Simulated  bool   `json:"simulated,omitempty"`
	Err        error  `json:"-"`
}

// Succeeded reports whether the endpoint accepted the transaction (or the
// run was a simulation).
func (o Outcome) Succeeded() bool { return o.Status == Accepted }
