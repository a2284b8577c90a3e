package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

var (
	contract = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	alice    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob      = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

// fakeChain answers eth_call by decoding the selector against the contract ABI.
type fakeChain struct {
	t       *testing.T
	r       *Reader
	records []Record
	broken  map[uint64]bool
	calls   int
}

func (f *fakeChain) CallContract(ctx context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.calls++
	require.Equal(f.t, contract, *msg.To)
	m, err := f.r.abi.MethodById(msg.Data[:4])
	require.NoError(f.t, err)
	args, err := m.Inputs.Unpack(msg.Data[4:])
	require.NoError(f.t, err)
	switch m.Name {
	case "getPredictionCount":
		return m.Outputs.Pack(big.NewInt(int64(len(f.records))))
	case "getPrediction":
		id := args[0].(*big.Int).Uint64()
		if f.broken[id] || id >= uint64(len(f.records)) {
			return nil, errors.New("execution reverted: Prediction does not exist")
		}
		rec := f.records[id]
		return m.Outputs.Pack(rec.ContentRef, rec.SubmittedBy, big.NewInt(rec.Timestamp.Unix()), rec.Score, rec.Approvals, rec.Finalized)
	case "approvedBy":
		return m.Outputs.Pack(args[0].(*big.Int).Uint64() == 0 && args[1].(common.Address) == alice)
	case "minApprovalsRequired":
		return m.Outputs.Pack(uint8(2))
	case "getStakeholders":
		return m.Outputs.Pack([]common.Address{alice, bob})
	case "isStakeholder":
		return m.Outputs.Pack(args[0].(common.Address) == bob)
	case "getOracle":
		return m.Outputs.Pack(alice)
	}
	return nil, fmt.Errorf("unexpected method %s", m.Name)
}

func newFixture(t *testing.T, n int) (*Reader, *fakeChain) {
	t.Helper()
	r, err := NewReader(contract, time.Second)
	require.NoError(t, err)
	f := &fakeChain{t: t, r: r, broken: map[uint64]bool{}}
	for i := range n {
		f.records = append(f.records, Record{
			ID:          uint64(i),
			ContentRef:  fmt.Sprintf("QmHash%d", i),
			SubmittedBy: alice,
			Timestamp:   time.Unix(1700000000+int64(i), 0).UTC(),
			Score:       uint8(50 + i),
			Approvals:   uint8(i % 3),
			Finalized:   i%2 == 0,
		})
	}
	return r, f
}

func TestCountAndRecord(t *testing.T) {
	r, f := newFixture(t, 3)
	ctx := context.Background()
	n, err := r.Count(ctx, f)
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	rec, err := r.Record(ctx, f, 1)
	require.NoError(t, err)
	require.Equal(t, f.records[1], rec)
}

func TestRecord_RevertPropagates(t *testing.T) {
	r, f := newFixture(t, 1)
	_, err := r.Record(context.Background(), f, 5)
	require.ErrorContains(t, err, "Prediction does not exist")
}

func TestApprovalReads(t *testing.T) {
	r, f := newFixture(t, 2)
	ctx := context.Background()

	ok, err := r.ApprovedBy(ctx, f, 0, alice)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = r.ApprovedBy(ctx, f, 0, bob)
	require.NoError(t, err)
	require.False(t, ok)

	st, err := r.ApprovalStatus(ctx, f, 1)
	require.NoError(t, err)
	require.Equal(t, Approval{ID: 1, Approvals: 1, Required: 2, Finalized: false}, st)
}

func TestStakeholdersAndOracle(t *testing.T) {
	r, f := newFixture(t, 0)
	ctx := context.Background()

	hs, err := r.Stakeholders(ctx, f)
	require.NoError(t, err)
	require.Equal(t, []common.Address{alice, bob}, hs)

	yes, err := r.IsStakeholder(ctx, f, bob)
	require.NoError(t, err)
	require.True(t, yes)

	o, err := r.Oracle(ctx, f)
	require.NoError(t, err)
	require.Equal(t, alice, o)
}

func TestGovernance(t *testing.T) {
	r, f := newFixture(t, 0)
	g, err := r.Governance(context.Background(), f)
	require.NoError(t, err)
	require.Equal(t, Governance{Oracle: alice, Stakeholders: []common.Address{alice, bob}, MinApprovals: 2}, g)
	require.Equal(t, 3, f.calls)
}

func TestVote(t *testing.T) {
	r, f := newFixture(t, 1)
	ctx := context.Background()

	v, err := r.Vote(ctx, f, 0, bob)
	require.NoError(t, err)
	require.Equal(t, Vote{ID: 0, Voter: bob, Stakeholder: true, Approved: false}, v)

	// alice is not a stakeholder in the fake, so approvedBy is never asked.
	before := f.calls
	v, err = r.Vote(ctx, f, 0, alice)
	require.NoError(t, err)
	require.False(t, v.Stakeholder)
	require.False(t, v.Approved)
	require.Equal(t, before+1, f.calls)
}

func TestRecent(t *testing.T) {
	r, f := newFixture(t, 7)
	recs, err := r.Recent(context.Background(), f, 3)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	require.EqualValues(t, 4, recs[0].ID)
	require.EqualValues(t, 6, recs[2].ID)

	recs, err = r.Recent(context.Background(), f, 10)
	require.NoError(t, err)
	require.Len(t, recs, 7)

	recs, err = r.Recent(context.Background(), f, 0)
	require.NoError(t, err)
	require.Empty(t, recs)
}

func TestRecent_PartialFailure(t *testing.T) {
	r, f := newFixture(t, 4)
	f.broken[2] = true
	recs, err := r.Recent(context.Background(), f, 4)
	require.Error(t, err)
	require.ErrorContains(t, err, "record 2")
	require.Len(t, recs, 3)
}

func TestRead_Timeout(t *testing.T) {
	r, err := NewReader(contract, 20*time.Millisecond)
	require.NoError(t, err)
	slow := callerFunc(func(ctx context.Context) ([]byte, error) {
		time.Sleep(200 * time.Millisecond)
		return nil, nil
	})
	_, err = r.Count(context.Background(), slow)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

type callerFunc func(ctx context.Context) ([]byte, error)

func (f callerFunc) CallContract(ctx context.Context, _ ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	return f(ctx)
}

func TestEventTopicMatchesABI(t *testing.T) {
	r, _ := newFixture(t, 0)
	require.Equal(t, r.abi.Events["PredictionSubmitted"].ID, topicPredictionSubmitted)
}

func TestRecordIDFromLogs(t *testing.T) {
	idTopic := common.BigToHash(big.NewInt(42))
	logs := []*types.Log{
		nil,
		{Address: bob, Topics: []common.Hash{topicPredictionSubmitted, common.BigToHash(big.NewInt(1))}},
		{Address: contract, Topics: []common.Hash{common.HexToHash("0x01"), idTopic}},
		{Address: contract, Topics: []common.Hash{topicPredictionSubmitted, idTopic}},
	}
	id, ok := RecordIDFromLogs(contract, logs)
	require.True(t, ok)
	require.EqualValues(t, 42, id)

	_, ok = RecordIDFromLogs(contract, logs[:3])
	require.False(t, ok)
}
