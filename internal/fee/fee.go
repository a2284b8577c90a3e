// Package fee derives the per-gas rate offered with a submission.
package fee

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/params"

	"github.com/AIAleph/oracle_submit/internal/eth"
	"github.com/AIAleph/oracle_submit/internal/logging"
	"github.com/AIAleph/oracle_submit/internal/metrics"
)

const (
	SourceNetwork  = "network"
	SourceFallback = "fallback"
)

// GasPriceSource is the one call the estimator needs from a connection.
type GasPriceSource interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// Quote is the fee decision for one submission. All amounts are wei.
// For network quotes FinalRate = BaseRate * (100 + MarginPercent) / 100,
// truncated. A fallback quote carries the fallback rate unchanged.
type Quote struct {
	BaseRate       *big.Int `json:"baseRate"`
	MarginPercent  int      `json:"marginPercent"`
	FinalRate      *big.Int `json:"finalRate"`
	Source         string   `json:"source"`
	FallbackReason string   `json:"fallbackReason,omitempty"`
}

// Fallback reports whether the network query was abandoned.
func (q Quote) Fallback() bool { return q.Source == SourceFallback }

// Estimator queries the network base rate under a deadline and applies a
// safety margin. A failed or late query never fails the estimate; the
// configured fallback rate is used instead and the substitution is logged.
type Estimator struct {
	timeout  time.Duration
	margin   int
	fallback *big.Int
	logger   *slog.Logger
}

// NewEstimator builds an Estimator. fallback is in wei and is copied.
func NewEstimator(timeout time.Duration, marginPercent int, fallback *big.Int) *Estimator {
	if marginPercent < 0 {
		marginPercent = 0
	}
	fb := new(big.Int)
	if fallback != nil {
		fb.Set(fallback)
	}
	return &Estimator{timeout: timeout, margin: marginPercent, fallback: fb, logger: logging.Component("fee.estimator")}
}

// GweiToWei converts a whole-gwei amount to wei.
func GweiToWei(gwei int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(gwei), big.NewInt(params.GWei))
}

// ApplyMargin returns base * (100 + margin) / 100 using integer arithmetic.
func ApplyMargin(base *big.Int, margin int) *big.Int {
	out := new(big.Int).Mul(base, big.NewInt(int64(100+margin)))
	return out.Quo(out, big.NewInt(100))
}

// Estimate returns a Quote. It only fails if src is nil and no fallback is set.
func (e *Estimator) Estimate(ctx context.Context, src GasPriceSource) (Quote, error) {
	base, reason := e.query(ctx, src)
	var q Quote
	if reason == "" {
		q = Quote{BaseRate: base, MarginPercent: e.margin, FinalRate: ApplyMargin(base, e.margin), Source: SourceNetwork}
	} else {
		if e.fallback.Sign() <= 0 {
			return Quote{}, fmt.Errorf("fee estimate: %s and no fallback rate configured", reason)
		}
		q = Quote{
			BaseRate:       new(big.Int).Set(e.fallback),
			FinalRate:      new(big.Int).Set(e.fallback),
			Source:         SourceFallback,
			FallbackReason: reason,
		}
		e.logger.Warn("fee_fallback", "event", "fee_fallback", "reason", reason, "fallback_wei", q.FinalRate.String())
	}
	metrics.ObserveFeeQuote(q.Source)
	e.logger.Debug("fee_quote", "source", q.Source, "base_wei", q.BaseRate.String(),
		"margin_pct", q.MarginPercent, "final_wei", q.FinalRate.String())
	return q, nil
}

func (e *Estimator) query(ctx context.Context, src GasPriceSource) (*big.Int, string) {
	if src == nil {
		return nil, "no connection"
	}
	base, err := eth.Bounded(ctx, e.timeout, src.SuggestGasPrice)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return nil, fmt.Sprintf("gas price query exceeded %s", e.timeout)
	case err != nil:
		return nil, "gas price query failed: " + err.Error()
	case base == nil || base.Sign() <= 0:
		return nil, "gas price query returned no usable rate"
	}
	return base, ""
}
