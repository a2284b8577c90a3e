package endpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AIAleph/oracle_submit/internal/eth"
	"github.com/AIAleph/oracle_submit/internal/logging"
	"github.com/AIAleph/oracle_submit/internal/metrics"
)

// Prober performs bounded liveness checks: dial, then fetch the head block number.
type Prober struct {
	dial   eth.DialFunc
	logger *slog.Logger
}

// NewProber builds a Prober over dial.
func NewProber(dial eth.DialFunc) *Prober {
	return &Prober{dial: dial, logger: logging.Component("endpoint.probe")}
}

type attempt struct {
	conn   eth.Conn
	height uint64
	err    error
}

// Probe checks one endpoint and never blocks past timeout. On any failure the
// partially opened connection is closed before returning; a connection that
// completes after the deadline is closed as soon as it surfaces.
func (p *Prober) Probe(ctx context.Context, d Descriptor, timeout time.Duration) ProbeResult {
	start := time.Now()
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan attempt, 1)
	go func() {
		conn, err := p.dial(pctx, d.URL)
		if err != nil {
			done <- attempt{err: err}
			return
		}
		h, err := conn.BlockNumber(pctx)
		if err != nil {
			conn.Close()
			done <- attempt{err: err}
			return
		}
		done <- attempt{conn: conn, height: h}
	}()

	res := ProbeResult{Descriptor: d, Outcome: Dead}
	select {
	case a := <-done:
		res.Latency = time.Since(start)
		switch {
		case a.err == nil:
			res.Outcome, res.Conn, res.Height = Live, a.conn, a.height
		case errors.Is(pctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
			res.Err = fmt.Errorf("%w after %s: %v", ErrProbeTimeout, timeout, a.err)
		default:
			res.Err = a.err
		}
	case <-pctx.Done():
		res.Latency = time.Since(start)
		if ctx.Err() != nil {
			res.Err = ctx.Err()
		} else {
			res.Err = fmt.Errorf("%w after %s", ErrProbeTimeout, timeout)
		}
		go func() {
			if a := <-done; a.conn != nil {
				a.conn.Close()
			}
		}()
	}
	p.observe(res)
	return res
}

func (p *Prober) observe(res ProbeResult) {
	label := eth.Label(res.Descriptor.URL)
	outcome := res.Outcome.String()
	if res.Timeout() {
		outcome = "timeout"
	}
	metrics.ObserveProbe(label, outcome, res.Latency)
	if res.Outcome == Live {
		p.logger.Debug("probe_live", "endpoint", label, "rank", res.Descriptor.Rank,
			"height", res.Height, "latency_ms", res.Latency.Milliseconds())
		return
	}
	p.logger.Info("probe_dead", "endpoint", label, "rank", res.Descriptor.Rank,
		"latency_ms", res.Latency.Milliseconds(), "error", res.Err.Error())
}

// Survey probes every descriptor, at most width at a time, closes every handle
// it opened and returns the results in input order with Conn cleared.
func (p *Prober) Survey(ctx context.Context, descs []Descriptor, timeout time.Duration, width int) []ProbeResult {
	if width <= 0 {
		width = 1
	}
	results := make([]ProbeResult, len(descs))
	var g errgroup.Group
	g.SetLimit(width)
	for i, d := range descs {
		g.Go(func() error {
			r := p.Probe(ctx, d, timeout)
			if r.Conn != nil {
				r.Conn.Close()
				r.Conn = nil
			}
			results[i] = r
			return nil
		})
	}
	_ = g.Wait()
	return results
}
