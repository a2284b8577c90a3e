// Package ledger reads prediction records from the multisig contract.
package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	contractabi "github.com/AIAleph/oracle_submit/fixtures/abi"
	"github.com/AIAleph/oracle_submit/internal/eth"
	"github.com/AIAleph/oracle_submit/internal/logging"
)

// Caller is the read-only slice of eth.Conn the reader needs.
type Caller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Record is one stored prediction. IDs are zero-based.
type Record struct {
	ID          uint64         `json:"id"`
	ContentRef  string         `json:"ipfsHash"`
	SubmittedBy common.Address `json:"submittedBy"`
	Timestamp   time.Time      `json:"timestamp"`
	Score       uint8          `json:"confidenceScore"`
	Approvals   uint8          `json:"approvals"`
	Finalized   bool           `json:"isFinalized"`
}

// Approval summarizes the multisig state of one record.
type Approval struct {
	ID        uint64 `json:"id"`
	Approvals uint8  `json:"approvals"`
	Required  uint8  `json:"required"`
	Finalized bool   `json:"isFinalized"`
}

// Governance is the contract's multisig configuration.
type Governance struct {
	Oracle       common.Address   `json:"oracle"`
	Stakeholders []common.Address `json:"stakeholders"`
	MinApprovals uint8            `json:"minApprovalsRequired"`
}

// Vote is one address's standing on a record.
type Vote struct {
	ID          uint64         `json:"id"`
	Voter       common.Address `json:"voter"`
	Stakeholder bool           `json:"isStakeholder"`
	Approved    bool           `json:"approved"`
}

// Reader issues eth_call reads, each bounded by timeout.
type Reader struct {
	contract common.Address
	abi      abi.ABI
	timeout  time.Duration
	logger   *slog.Logger
}

func NewReader(contract common.Address, timeout time.Duration) (*Reader, error) {
	parsed, err := abi.JSON(bytes.NewReader(contractabi.PredictionMultisig))
	if err != nil {
		return nil, fmt.Errorf("parse contract abi: %w", err)
	}
	return &Reader{contract: contract, abi: parsed, timeout: timeout, logger: logging.Component("ledger")}, nil
}

func (r *Reader) call(ctx context.Context, c Caller, method string, args ...any) ([]any, error) {
	data, err := r.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &r.contract, Data: data}
	out, err := eth.Bounded(ctx, r.timeout, func(ctx context.Context) ([]byte, error) {
		return c.CallContract(ctx, msg, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	vals, err := r.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return vals, nil
}

func (r *Reader) Count(ctx context.Context, c Caller) (uint64, error) {
	vals, err := r.call(ctx, c, "getPredictionCount")
	if err != nil {
		return 0, err
	}
	n, ok := vals[0].(*big.Int)
	if !ok || !n.IsUint64() {
		return 0, fmt.Errorf("getPredictionCount: unexpected value %v", vals[0])
	}
	return n.Uint64(), nil
}

func (r *Reader) Record(ctx context.Context, c Caller, id uint64) (Record, error) {
	vals, err := r.call(ctx, c, "getPrediction", new(big.Int).SetUint64(id))
	if err != nil {
		return Record{}, err
	}
	if len(vals) != 6 {
		return Record{}, fmt.Errorf("getPrediction: expected 6 values, got %d", len(vals))
	}
	rec := Record{ID: id}
	var ts *big.Int
	var ok [6]bool
	rec.ContentRef, ok[0] = vals[0].(string)
	rec.SubmittedBy, ok[1] = vals[1].(common.Address)
	ts, ok[2] = vals[2].(*big.Int)
	rec.Score, ok[3] = vals[3].(uint8)
	rec.Approvals, ok[4] = vals[4].(uint8)
	rec.Finalized, ok[5] = vals[5].(bool)
	for i, good := range ok {
		if !good {
			return Record{}, fmt.Errorf("getPrediction: field %d has type %T", i, vals[i])
		}
	}
	rec.Timestamp = time.Unix(ts.Int64(), 0).UTC()
	return rec, nil
}

// ApprovedBy reports whether addr approved record id.
func (r *Reader) ApprovedBy(ctx context.Context, c Caller, id uint64, addr common.Address) (bool, error) {
	vals, err := r.call(ctx, c, "approvedBy", new(big.Int).SetUint64(id), addr)
	if err != nil {
		return false, err
	}
	return asBool("approvedBy", vals)
}

func (r *Reader) MinApprovals(ctx context.Context, c Caller) (uint8, error) {
	vals, err := r.call(ctx, c, "minApprovalsRequired")
	if err != nil {
		return 0, err
	}
	v, ok := vals[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("minApprovalsRequired: unexpected type %T", vals[0])
	}
	return v, nil
}

// ApprovalStatus combines the record's approval count with the contract threshold.
func (r *Reader) ApprovalStatus(ctx context.Context, c Caller, id uint64) (Approval, error) {
	rec, err := r.Record(ctx, c, id)
	if err != nil {
		return Approval{}, err
	}
	req, err := r.MinApprovals(ctx, c)
	if err != nil {
		return Approval{}, err
	}
	return Approval{ID: id, Approvals: rec.Approvals, Required: req, Finalized: rec.Finalized}, nil
}

func (r *Reader) Stakeholders(ctx context.Context, c Caller) ([]common.Address, error) {
	vals, err := r.call(ctx, c, "getStakeholders")
	if err != nil {
		return nil, err
	}
	v, ok := vals[0].([]common.Address)
	if !ok {
		return nil, fmt.Errorf("getStakeholders: unexpected type %T", vals[0])
	}
	return v, nil
}

func (r *Reader) IsStakeholder(ctx context.Context, c Caller, addr common.Address) (bool, error) {
	vals, err := r.call(ctx, c, "isStakeholder", addr)
	if err != nil {
		return false, err
	}
	return asBool("isStakeholder", vals)
}

// Oracle returns the address allowed to submit.
func (r *Reader) Oracle(ctx context.Context, c Caller) (common.Address, error) {
	vals, err := r.call(ctx, c, "getOracle")
	if err != nil {
		return common.Address{}, err
	}
	v, ok := vals[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("getOracle: unexpected type %T", vals[0])
	}
	return v, nil
}

func (r *Reader) Governance(ctx context.Context, c Caller) (Governance, error) {
	var g Governance
	var err error
	if g.Oracle, err = r.Oracle(ctx, c); err != nil {
		return Governance{}, err
	}
	if g.Stakeholders, err = r.Stakeholders(ctx, c); err != nil {
		return Governance{}, err
	}
	if g.MinApprovals, err = r.MinApprovals(ctx, c); err != nil {
		return Governance{}, err
	}
	return g, nil
}

// Vote reports whether voter is a stakeholder and whether it approved id.
// Non-stakeholders are not asked about approvals.
func (r *Reader) Vote(ctx context.Context, c Caller, id uint64, voter common.Address) (Vote, error) {
	v := Vote{ID: id, Voter: voter}
	var err error
	if v.Stakeholder, err = r.IsStakeholder(ctx, c, voter); err != nil || !v.Stakeholder {
		return v, err
	}
	v.Approved, err = r.ApprovedBy(ctx, c, id, voter)
	return v, err
}

// Recent returns up to n of the newest records in ascending id order. Records
// that fail to load are skipped; their errors are joined and returned
// alongside whatever loaded.
func (r *Reader) Recent(ctx context.Context, c Caller, n int) ([]Record, error) {
	if n <= 0 {
		return nil, nil
	}
	total, err := r.Count(ctx, c)
	if err != nil {
		return nil, err
	}
	start := uint64(0)
	if total > uint64(n) {
		start = total - uint64(n)
	}
	out := make([]Record, 0, total-start)
	var errs []error
	for id := start; id < total; id++ {
		rec, err := r.Record(ctx, c, id)
		if err != nil {
			r.logger.Warn("record_read_failed", "id", id, "error", err.Error())
			errs = append(errs, fmt.Errorf("record %d: %w", id, err))
			continue
		}
		out = append(out, rec)
	}
	return out, errors.Join(errs...)
}

func asBool(method string, vals []any) (bool, error) {
	v, ok := vals[0].(bool)
	if !ok {
		return false, fmt.Errorf("%s: unexpected type %T", method, vals[0])
	}
	return v, nil
}
