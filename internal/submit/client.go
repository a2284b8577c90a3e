// Package submit signs and sends the submitPrediction transaction over a
// selected connection, and optionally waits for its receipt.
package submit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	contractabi "github.com/AIAleph/oracle_submit/fixtures/abi"
	"github.com/AIAleph/oracle_submit/internal/eth"
	"github.com/AIAleph/oracle_submit/internal/logging"
	"github.com/AIAleph/oracle_submit/internal/metrics"
)

const (
	submitMethod = "submitPrediction"
	// settleTimeout bounds how long Submit waits, after its own deadline,
	// for a canceled send to hand the connection back.
	settleTimeout = 5 * time.Second
)

// Client submits to one contract on one chain. It holds no connection; the
// caller hands one in per call.
type Client struct {
	contract      common.Address
	abi           abi.ABI
	signer        types.Signer
	timeout       time.Duration
	pollInterval  time.Duration
	settleTimeout time.Duration
	logger        *slog.Logger
}

// NewClient parses the embedded contract ABI and binds the chain id used for
// EIP-155 signing.
func NewClient(contract common.Address, chainID int64, submitTimeout, pollInterval time.Duration) (*Client, error) {
	parsed, err := abi.JSON(bytes.NewReader(contractabi.PredictionMultisig))
	if err != nil {
		return nil, fmt.Errorf("parse contract abi: %w", err)
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Client{
		contract:      contract,
		abi:           parsed,
		signer:        types.NewEIP155Signer(big.NewInt(chainID)),
		timeout:       submitTimeout,
		pollInterval:  pollInterval,
		settleTimeout: settleTimeout,
		logger:        logging.Component("submit.client"),
	}, nil
}

// Pack encodes the submitPrediction call data.
func (c *Client) Pack(p Payload) ([]byte, error) {
	return c.abi.Pack(submitMethod, p.ContentRef, p.Score)
}

// CheckCeiling fails when the quoted rate is above ceiling. A nil or zero
// ceiling disables the check.
func CheckCeiling(rate, ceiling *big.Int) error {
	if ceiling == nil || ceiling.Sign() <= 0 || rate == nil {
		return nil
	}
	if rate.Cmp(ceiling) > 0 {
		return fmt.Errorf("%w: rate %s wei exceeds ceiling %s wei", ErrFeeAboveCeiling, rate, ceiling)
	}
	return nil
}

// Submit signs and sends req over conn, bounded by the client's submit
// timeout. It does not wait for the receipt. When Submit returns, conn is no
// longer in use unless a send ignored cancellation for settleTimeout.
func (c *Client) Submit(ctx context.Context, conn eth.Conn, req Request) Outcome {
	if !req.Credential.Present() {
		return Outcome{Status: Rejected, Reason: ErrNoCredential.Error(), Err: ErrNoCredential}
	}
	if err := CheckCeiling(req.Quote.FinalRate, req.GasCeiling); err != nil {
		c.logger.Warn("fee_above_ceiling", "final_wei", req.Quote.FinalRate.String(), "ceiling_wei", req.GasCeiling.String())
		return Outcome{Status: Rejected, Reason: err.Error(), Err: err}
	}
	data, err := c.Pack(req.Payload)
	if err != nil {
		err = fmt.Errorf("pack %s: %w", submitMethod, err)
		return Outcome{Status: Rejected, Reason: err.Error(), Err: err}
	}

	var (
		signed  atomic.Pointer[types.Transaction]
		handed  atomic.Bool
		settled = make(chan struct{})
	)
	from := req.Credential.Address()
	_, err = eth.Bounded(ctx, c.timeout, func(ctx context.Context) (struct{}, error) {
		defer close(settled)
		nonce, err := conn.PendingNonceAt(ctx, from)
		if err != nil {
			return struct{}{}, fmt.Errorf("pending nonce: %w", err)
		}
		tx, err := types.SignTx(types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: new(big.Int).Set(req.Quote.FinalRate),
			Gas:      req.GasLimit,
			To:       &c.contract,
			Data:     data,
		}), c.signer, req.Credential.key)
		if err != nil {
			return struct{}{}, fmt.Errorf("sign: %w", err)
		}
		signed.Store(tx)
		c.logger.Debug("tx_signed", "hash", tx.Hash().Hex(), "nonce", nonce, "gas", req.GasLimit)
		handed.Store(true)
		return struct{}{}, conn.SendTransaction(ctx, tx)
	})
	c.settle(settled)

	var hash string
	if tx := signed.Load(); tx != nil {
		hash = tx.Hash().Hex()
	}
	switch {
	case err == nil:
		c.logger.Info("tx_accepted", "hash", hash, "from", from.Hex())
		return Outcome{Status: Accepted, TrackingID: hash}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		reason := fmt.Sprintf("no response within %s", c.timeout)
		if errors.Is(err, context.Canceled) {
			reason = "canceled before the endpoint answered"
		}
		c.logger.Warn("tx_timed_out", "hash", hash, "reason", reason)
		return Outcome{Status: TimedOut, TrackingID: hash, Reason: reason, Err: err}
	case handed.Load() && !eth.IsRPCError(err):
		// Only a JSON-RPC error response proves the node refused the
		// transaction; a transport failure may come after it was received.
		reason := "connection failed after the transaction was sent: " + err.Error()
		c.logger.Warn("tx_outcome_unknown", "hash", hash, "reason", reason)
		return Outcome{Status: TimedOut, TrackingID: hash, Reason: reason, Err: err}
	default:
		c.logger.Warn("tx_rejected", "hash", hash, "reason", err.Error(), "rpc_error", eth.IsRPCError(err))
		return Outcome{Status: Rejected, TrackingID: hash, Reason: err.Error(), Err: err}
	}
}

// settle waits for an abandoned send to return so the caller may close the
// connection. A send that ignores cancellation is given up on after
// settleTimeout.
func (c *Client) settle(settled <-chan struct{}) {
	t := time.NewTimer(c.settleTimeout)
	defer t.Stop()
	select {
	case <-settled:
	case <-t.C:
		c.logger.Warn("send_still_running", "waited", c.settleTimeout.String())
	}
}

// Confirmation is the mined status of an accepted transaction.
type Confirmation struct {
	Succeeded   bool         `json:"succeeded"`
	BlockNumber uint64       `json:"blockNumber"`
	GasUsed     uint64       `json:"gasUsed"`
	Logs        []*types.Log `json:"-"`
}

// WaitConfirmation polls for the receipt of hash until it appears or timeout
// passes. Lookup errors other than not-found are retried until the deadline.
func (c *Client) WaitConfirmation(ctx context.Context, conn eth.Conn, hash common.Hash, timeout time.Duration) (Confirmation, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	t := time.NewTicker(c.pollInterval)
	defer t.Stop()
	for {
		rcpt, err := eth.Bounded(ctx, 0, func(ctx context.Context) (*types.Receipt, error) {
			return conn.TransactionReceipt(ctx, hash)
		})
		switch {
		case err == nil && rcpt != nil:
			conf := Confirmation{
				Succeeded: rcpt.Status == types.ReceiptStatusSuccessful,
				GasUsed:   rcpt.GasUsed,
				Logs:      rcpt.Logs,
			}
			if rcpt.BlockNumber != nil {
				conf.BlockNumber = rcpt.BlockNumber.Uint64()
			}
			result := "succeeded"
			if !conf.Succeeded {
				result = "reverted"
			}
			metrics.ObserveConfirmation(result)
			c.logger.Info("tx_confirmed", "hash", hash.Hex(), "block", conf.BlockNumber, "result", result)
			return conf, nil
		case err != nil && !errors.Is(err, ethereum.NotFound) && ctx.Err() == nil:
			c.logger.Debug("receipt_lookup_failed", "hash", hash.Hex(), "error", err.Error())
		}
		select {
		case <-ctx.Done():
			metrics.ObserveConfirmation("timeout")
			return Confirmation{}, fmt.Errorf("%w: %s after %s", ErrConfirmationTimeout, hash.Hex(), timeout)
		case <-t.C:
		}
	}
}
