// Package endpoint probes ranked RPC endpoints and selects the first live one.
//
// Selection runs in two phases: the top ParallelWidth endpoints are probed
// concurrently and the lowest-ranked live one wins regardless of which probe
// finished first; if none of them is live the remainder is walked one at a
// time in rank order. Every handle that is not returned to the caller is
// closed before Select returns.
package endpoint

import (
	"errors"
	"time"

	"github.com/AIAleph/oracle_submit/internal/eth"
)

var (
	// ErrNoEndpointAvailable means every configured endpoint failed its probe.
	ErrNoEndpointAvailable = errors.New("no endpoint available")
	// ErrProbeTimeout marks a probe that hit its own deadline.
	ErrProbeTimeout = errors.New("probe timeout")
)

// Descriptor is one entry of the ranked endpoint list. Lower rank is preferred.
type Descriptor struct {
	URL  string `json:"url"`
	Rank int    `json:"rank"`
}

// Outcome of a single probe.
type Outcome int

const (
	Dead Outcome = iota
	Live
)

func (o Outcome) String() string {
	if o == Live {
		return "live"
	}
	return "dead"
}

// ProbeResult is created per probe attempt. Conn is set only for Live results
// and belongs to whoever received the result.
type ProbeResult struct {
	Descriptor Descriptor
	Outcome    Outcome
	Conn       eth.Conn
	Height     uint64
	Latency    time.Duration
	Err        error
}

// Timeout reports whether the probe died on its own deadline.
func (r ProbeResult) Timeout() bool { return errors.Is(r.Err, ErrProbeTimeout) }

// Selection is the selector's answer: the winning endpoint and its live handle.
// Ownership of Conn passes to the caller.
type Selection struct {
	Endpoint Descriptor
	Conn     eth.Conn
	Height   uint64
	Latency  time.Duration
	// Phase is "parallel" or "sequential".
	Phase string
	// Probed counts probes launched before the winner was chosen.
	Probed int
}
