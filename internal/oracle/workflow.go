// Package oracle runs the submission workflow: validate, select an endpoint,
// quote the fee, submit, and optionally wait for confirmation.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/AIAleph/oracle_submit/internal/audit"
	"github.com/AIAleph/oracle_submit/internal/config"
	"github.com/AIAleph/oracle_submit/internal/diagnose"
	"github.com/AIAleph/oracle_submit/internal/endpoint"
	"github.com/AIAleph/oracle_submit/internal/eth"
	"github.com/AIAleph/oracle_submit/internal/fee"
	"github.com/AIAleph/oracle_submit/internal/ledger"
	"github.com/AIAleph/oracle_submit/internal/logging"
	"github.com/AIAleph/oracle_submit/internal/metrics"
	"github.com/AIAleph/oracle_submit/internal/submit"
)

// Result is everything one Run learned. Outcome is always set.
type Result struct {
	Outcome      submit.Outcome       `json:"outcome"`
	Endpoint     *endpoint.Descriptor `json:"endpoint,omitempty"`
	Signer       string               `json:"signer,omitempty"`
	Balance      *big.Int             `json:"balanceWei,omitempty"`
	Quote        *fee.Quote           `json:"fee,omitempty"`
	Confirmation *submit.Confirmation `json:"confirmation,omitempty"`
	RecordID     *uint64              `json:"recordId,omitempty"`
	ExplorerURL  string               `json:"explorerUrl,omitempty"`
	Kind         diagnose.Kind        `json:"kind"`
	Warnings     []string             `json:"warnings,omitempty"`
}

// OK reports success: accepted (or simulated) and, when a confirmation was
// observed, not reverted.
func (r Result) OK() bool {
	if !r.Outcome.Succeeded() {
		return false
	}
	return r.Confirmation == nil || r.Confirmation.Succeeded
}

// Workflow is safe for concurrent Runs; it holds no per-run state.
type Workflow struct {
	opts      Options
	prober    *endpoint.Prober
	selector  *endpoint.Selector
	estimator *fee.Estimator
	client    *submit.Client
	reader    *ledger.Reader
	journal   audit.Journal
	logger    *slog.Logger
}

// Option customizes a Workflow.
type Option func(*workflowDeps)

type workflowDeps struct {
	dial    eth.DialFunc
	journal audit.Journal
}

// WithDialer replaces the go-ethereum dialer.
func WithDialer(d eth.DialFunc) Option { return func(w *workflowDeps) { w.dial = d } }

// WithJournal records every terminal outcome to j.
func WithJournal(j audit.Journal) Option { return func(w *workflowDeps) { w.journal = j } }

func New(opts Options, options ...Option) (*Workflow, error) {
	deps := workflowDeps{journal: audit.Nop{}}
	for _, o := range options {
		o(&deps)
	}
	if deps.dial == nil {
		deps.dial = eth.Dialer(eth.DialOptions{RateLimit: opts.RateLimit})
	}
	client, err := submit.NewClient(opts.Contract, opts.ChainID, opts.SubmitTimeout, opts.ConfirmPollInterval)
	if err != nil {
		return nil, err
	}
	reader, err := ledger.NewReader(opts.Contract, opts.ProbeTimeout)
	if err != nil {
		return nil, err
	}
	prober := endpoint.NewProber(deps.dial)
	return &Workflow{
		opts:      opts,
		prober:    prober,
		selector:  endpoint.NewSelector(prober, opts.ProbeTimeout, opts.ParallelWidth),
		estimator: fee.NewEstimator(opts.FeeTimeout, opts.MarginPercent, opts.FallbackRate),
		client:    client,
		reader:    reader,
		journal:   deps.journal,
		logger:    logging.Component("oracle.workflow"),
	}, nil
}

// Run executes one submission. The returned error is non-nil only for a
// *ValidationError or a context that was already done; every other failure
// is described by Result.Outcome.
func (w *Workflow) Run(ctx context.Context, in Input) (Result, error) {
	payload, warnings, err := validate(in)
	if err != nil {
		w.logger.Info("validation_failed", "error", err.Error())
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	res := Result{Warnings: warnings}
	for _, msg := range warnings {
		w.logger.Warn("input_warning", "warning", msg)
	}

	if in.PrivateKey == "" {
		w.logger.Info("simulation", "reason", "no signing credential", "content_ref", payload.ContentRef, "score", payload.Score)
		res.Outcome = submit.Outcome{Status: submit.Accepted, Simulated: true}
		w.finish(ctx, payload, &res)
		return res, nil
	}
	cred, err := submit.ParseCredential(in.PrivateKey)
	if err != nil {
		return Result{}, &ValidationError{Field: "signing credential", Reason: err.Error()}
	}
	signer := cred.Address()
	res.Signer = signer.Hex()
	if exp := w.opts.ExpectedSigner; exp != nil && *exp != signer {
		msg := fmt.Sprintf("signer %s does not match expected oracle address %s; the contract may reject the transaction", signer.Hex(), exp.Hex())
		w.logger.Warn("signer_mismatch", "signer", signer.Hex(), "expected", exp.Hex())
		res.Warnings = append(res.Warnings, msg)
	}

	sel, err := w.selector.Select(ctx, w.opts.Endpoints)
	if err != nil {
		res.Outcome = submit.Outcome{Status: submit.NoEndpointAvailable, Reason: err.Error(), Err: err}
		w.finish(ctx, payload, &res)
		return res, nil
	}
	defer sel.Conn.Close()
	res.Endpoint = &sel.Endpoint

	quote, err := w.estimator.Estimate(ctx, sel.Conn)
	if err != nil {
		res.Outcome = submit.Outcome{Status: submit.Rejected, Reason: err.Error(), Err: err}
		w.finish(ctx, payload, &res)
		return res, nil
	}
	res.Quote = &quote
	if quote.Fallback() {
		res.Warnings = append(res.Warnings, "fee estimation fell back to the configured rate: "+quote.FallbackReason)
	}
	w.preflightBalance(ctx, sel.Conn, signer, quote.FinalRate, &res)

	res.Outcome = w.client.Submit(ctx, sel.Conn, submit.Request{
		Payload:    payload,
		Quote:      quote,
		GasLimit:   w.opts.GasLimit,
		GasCeiling: w.opts.GasCeiling,
		Credential: cred,
	})
	res.ExplorerURL = w.opts.TxURL(res.Outcome.TrackingID)

	if res.Outcome.Status == submit.Accepted && (w.opts.WaitForConfirmation || in.Wait) {
		w.confirm(ctx, sel.Conn, &res)
	}
	w.finish(ctx, payload, &res)
	return res, nil
}

func (w *Workflow) preflightBalance(ctx context.Context, conn eth.Conn, signer common.Address, rate *big.Int, res *Result) {
	bal, err := eth.Bounded(ctx, w.opts.BalanceTimeout, func(ctx context.Context) (*big.Int, error) {
		return conn.BalanceAt(ctx, signer, nil)
	})
	if err != nil {
		w.logger.Warn("balance_check_failed", "signer", signer.Hex(), "error", err.Error())
		return
	}
	res.Balance = bal
	w.logger.Info("signer_balance", "signer", signer.Hex(), "balance_wei", bal.String())
	need := new(big.Int).Mul(new(big.Int).SetUint64(w.opts.GasLimit), rate)
	if bal.Cmp(need) < 0 {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("insufficient funds likely: balance %s wei is below %s wei (gas limit x rate)", bal, need))
	}
}

func (w *Workflow) confirm(ctx context.Context, conn eth.Conn, res *Result) {
	conf, err := w.client.WaitConfirmation(ctx, conn, common.HexToHash(res.Outcome.TrackingID), w.opts.ConfirmTimeout)
	if err != nil {
		res.Warnings = append(res.Warnings, "transaction accepted but not yet confirmed: "+err.Error())
		return
	}
	res.Confirmation = &conf
	if !conf.Succeeded {
		res.Kind = diagnose.Reverted
		return
	}
	if id, ok := ledger.RecordIDFromLogs(w.opts.Contract, conf.Logs); ok {
		res.RecordID = &id
		w.logger.Info("record_created", "id", id, "hash", res.Outcome.TrackingID)
	}
}

func (w *Workflow) finish(ctx context.Context, payload submit.Payload, res *Result) {
	if res.Outcome.Err != nil && res.Kind == diagnose.Unknown {
		res.Kind = diagnose.Classify(res.Outcome.Err)
	}
	if res.Outcome.Status == submit.TimedOut {
		res.Kind = diagnose.NetworkTimeout
	}
	status := res.Outcome.Status.String()
	if res.Outcome.Simulated {
		status = "simulated"
	}
	metrics.ObserveSubmission(status, res.Kind.String())

	e := audit.Entry{
		Time:       time.Now(),
		ContentRef: payload.ContentRef,
		Score:      payload.Score,
		Status:     status,
		TrackingID: res.Outcome.TrackingID,
		Reason:     res.Outcome.Reason,
		Kind:       res.Kind.String(),
		Simulated:  res.Outcome.Simulated,
	}
	if res.Endpoint != nil {
		e.Endpoint = config.RedactURL(res.Endpoint.URL)
	}
	if res.Quote != nil {
		e.FeeSource, e.FinalRateWei = res.Quote.Source, res.Quote.FinalRate.String()
	}
	audit.Write(context.WithoutCancel(ctx), w.journal, e)

	attrs := []any{"status", status, "kind", res.Kind.String(), "tracking_id", res.Outcome.TrackingID}
	if res.OK() {
		w.logger.Info("submission_finished", attrs...)
		return
	}
	w.logger.Warn("submission_finished", append(attrs, "reason", res.Outcome.Reason)...)
}

// Read selects an endpoint, runs fn against it and closes the handle.
func (w *Workflow) Read(ctx context.Context, fn func(ctx context.Context, conn eth.Conn) error) error {
	sel, err := w.selector.Select(ctx, w.opts.Endpoints)
	if err != nil {
		return err
	}
	defer sel.Conn.Close()
	return fn(ctx, sel.Conn)
}

// Survey probes every configured endpoint without keeping any handle.
func (w *Workflow) Survey(ctx context.Context) []endpoint.ProbeResult {
	return w.prober.Survey(ctx, w.opts.Endpoints, w.opts.ProbeTimeout, w.opts.ParallelWidth)
}

// IsNoEndpoint reports whether err came from endpoint exhaustion.
func IsNoEndpoint(err error) bool { return errors.Is(err, endpoint.ErrNoEndpointAvailable) }

// readLedger runs one ledger read over a freshly selected endpoint. Partial
// results from fn are returned alongside its error.
func readLedger[T any](ctx context.Context, w *Workflow, fn func(ctx context.Context, c ledger.Caller) (T, error)) (T, error) {
	var out T
	err := w.Read(ctx, func(ctx context.Context, conn eth.Conn) error {
		var err error
		out, err = fn(ctx, conn)
		return err
	})
	return out, err
}

func (w *Workflow) Record(ctx context.Context, id uint64) (ledger.Record, error) {
	return readLedger(ctx, w, func(ctx context.Context, c ledger.Caller) (ledger.Record, error) {
		return w.reader.Record(ctx, c, id)
	})
}

// Recent loads up to n of the newest records; see ledger.Reader.Recent for
// partial failure semantics.
func (w *Workflow) Recent(ctx context.Context, n int) ([]ledger.Record, error) {
	return readLedger(ctx, w, func(ctx context.Context, c ledger.Caller) ([]ledger.Record, error) {
		return w.reader.Recent(ctx, c, n)
	})
}

func (w *Workflow) Approvals(ctx context.Context, id uint64) (ledger.Approval, error) {
	return readLedger(ctx, w, func(ctx context.Context, c ledger.Caller) (ledger.Approval, error) {
		return w.reader.ApprovalStatus(ctx, c, id)
	})
}

func (w *Workflow) Vote(ctx context.Context, id uint64, voter common.Address) (ledger.Vote, error) {
	return readLedger(ctx, w, func(ctx context.Context, c ledger.Caller) (ledger.Vote, error) {
		return w.reader.Vote(ctx, c, id, voter)
	})
}

func (w *Workflow) Governance(ctx context.Context) (ledger.Governance, error) {
	return readLedger(ctx, w, func(ctx context.Context, c ledger.Caller) (ledger.Governance, error) {
		return w.reader.Governance(ctx, c)
	})
}
