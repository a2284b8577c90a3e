// Package audit keeps an append-only record of submission outcomes.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/AIAleph/oracle_submit/internal/logging"
)

// Entry is one terminal workflow outcome.
type Entry struct {
	Time         time.Time
	ContentRef   string
	Score        uint8
	Status       string
	TrackingID   string
	Endpoint     string
	FeeSource    string
	FinalRateWei string
	Reason       string
	Kind         string
	Simulated    bool
}

type row struct {
	TS           string `json:"ts"`
	ContentRef   string `json:"content_ref"`
	Score        uint8  `json:"score"`
	Status       string `json:"status"`
	TrackingID   string `json:"tracking_id"`
	Endpoint     string `json:"endpoint"`
	FeeSource    string `json:"fee_source"`
	FinalRateWei string `json:"final_rate_wei"`
	Reason       string `json:"reason"`
	Kind         string `json:"kind"`
	Simulated    bool   `json:"simulated"`
}

func (e Entry) row() row {
	ts := e.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return row{
		TS:           ts.UTC().Format("2006-01-02 15:04:05.000"),
		ContentRef:   e.ContentRef,
		Score:        e.Score,
		Status:       e.Status,
		TrackingID:   e.TrackingID,
		Endpoint:     e.Endpoint,
		FeeSource:    e.FeeSource,
		FinalRateWei: e.FinalRateWei,
		Reason:       e.Reason,
		Kind:         e.Kind,
		Simulated:    e.Simulated,
	}
}

// Journal stores entries. Implementations must be safe for concurrent use.
type Journal interface {
	Record(ctx context.Context, e Entry) error
}

// Nop discards entries.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }

// Open returns a ClickHouse journal for dsn, or Nop when dsn is empty.
func Open(ctx context.Context, dsn, table string, hc *http.Client) (Journal, error) {
	if dsn == "" {
		return Nop{}, nil
	}
	ch, err := NewClickHouse(dsn, table, hc)
	if err != nil {
		return nil, err
	}
	if err := ch.Ping(ctx); err != nil {
		return nil, fmt.Errorf("audit ping: %w", err)
	}
	if err := ch.EnsureTable(ctx); err != nil {
		return nil, fmt.Errorf("audit table %s: %w", ch.table, err)
	}
	return ch, nil
}

// Write records e and logs any failure; the outcome itself is never affected.
func Write(ctx context.Context, j Journal, e Entry) {
	if j == nil {
		return
	}
	if err := j.Record(ctx, e); err != nil {
		logger().Warn("audit_write_failed", "status", e.Status, "error", err.Error())
	}
}

func logger() *slog.Logger { return logging.Component("audit") }
