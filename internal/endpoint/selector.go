package endpoint

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AIAleph/oracle_submit/internal/eth"
	"github.com/AIAleph/oracle_submit/internal/logging"
	"github.com/AIAleph/oracle_submit/internal/metrics"
)

// Selector picks the first live endpoint from a ranked list.
type Selector struct {
	prober        *Prober
	probeTimeout  time.Duration
	parallelWidth int
	logger        *slog.Logger
}

// NewSelector builds a Selector. A parallelWidth below one probes serially.
func NewSelector(prober *Prober, probeTimeout time.Duration, parallelWidth int) *Selector {
	if parallelWidth < 1 {
		parallelWidth = 1
	}
	return &Selector{
		prober:        prober,
		probeTimeout:  probeTimeout,
		parallelWidth: parallelWidth,
		logger:        logging.Component("endpoint.selector"),
	}
}

// Select returns a handle to the lowest-ranked live endpoint found by the
// two-phase walk, or an error wrapping ErrNoEndpointAvailable. descs is not
// modified.
func (s *Selector) Select(ctx context.Context, descs []Descriptor) (*Selection, error) {
	ranked := slices.Clone(descs)
	slices.SortStableFunc(ranked, func(a, b Descriptor) int { return a.Rank - b.Rank })

	width := min(s.parallelWidth, len(ranked))
	head, tail := ranked[:width], ranked[width:]

	if sel := s.parallel(ctx, head); sel != nil {
		metrics.ObserveSelection(sel.Phase)
		return sel, nil
	}
	if len(head) > 0 && len(tail) > 0 {
		s.logger.Info("parallel_phase_failed", "probed", len(head), "remaining", len(tail))
	}
	for i, d := range tail {
		if err := ctx.Err(); err != nil {
			metrics.ObserveSelection("exhausted")
			return nil, fmt.Errorf("%w: %v", ErrNoEndpointAvailable, err)
		}
		r := s.prober.Probe(ctx, d, s.probeTimeout)
		if r.Outcome != Live {
			continue
		}
		sel := &Selection{
			Endpoint: r.Descriptor,
			Conn:     r.Conn,
			Height:   r.Height,
			Latency:  r.Latency,
			Phase:    "sequential",
			Probed:   len(head) + i + 1,
		}
		s.logSelected(sel)
		metrics.ObserveSelection(sel.Phase)
		return sel, nil
	}
	metrics.ObserveSelection("exhausted")
	s.logger.Warn("no_endpoint_available", "probed", len(ranked))
	return nil, fmt.Errorf("%w: all %d endpoints failed", ErrNoEndpointAvailable, len(ranked))
}

// parallel probes head concurrently, waits for every probe, and keeps the first
// live result in rank order. All other live handles are closed.
func (s *Selector) parallel(ctx context.Context, head []Descriptor) *Selection {
	if len(head) == 0 {
		return nil
	}
	results := make([]ProbeResult, len(head))
	// No shared context: a sibling finishing early never cancels the others.
	var g errgroup.Group
	for i, d := range head {
		g.Go(func() error {
			results[i] = s.prober.Probe(ctx, d, s.probeTimeout)
			return nil
		})
	}
	_ = g.Wait()

	var sel *Selection
	for _, r := range results {
		if r.Outcome != Live {
			continue
		}
		if sel == nil {
			sel = &Selection{
				Endpoint: r.Descriptor,
				Conn:     r.Conn,
				Height:   r.Height,
				Latency:  r.Latency,
				Phase:    "parallel",
				Probed:   len(head),
			}
			continue
		}
		r.Conn.Close()
	}
	if sel != nil {
		s.logSelected(sel)
	}
	return sel
}

func (s *Selector) logSelected(sel *Selection) {
	s.logger.Info("endpoint_selected",
		"endpoint", eth.Label(sel.Endpoint.URL),
		"rank", sel.Endpoint.Rank,
		"phase", sel.Phase,
		"height", sel.Height,
		"latency_ms", sel.Latency.Milliseconds(),
		"probed", sel.Probed,
	)
}
