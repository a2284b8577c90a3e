package oracle

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/AIAleph/oracle_submit/internal/audit"
	"github.com/AIAleph/oracle_submit/internal/eth"
)

// chain is a scripted in-memory RPC network shared by every fake connection.
type chain struct {
	mu       sync.Mutex
	live     map[string]bool
	gasPrice *big.Int
	gasErr   error
	balance  *big.Int
	sendErr  error
	sendWait time.Duration
	receipt  *types.Receipt
	sent     []*types.Transaction

	dials  atomic.Int64
	open   atomic.Int64
	closed atomic.Int64
}

func newChain(live ...string) *chain {
	c := &chain{
		live:     map[string]bool{},
		gasPrice: big.NewInt(5_000_000_000),
		balance:  new(big.Int).Mul(big.NewInt(1), big.NewInt(1e18)),
	}
	for _, u := range live {
		c.live[u] = true
	}
	return c
}

func (c *chain) dial(ctx context.Context, url string) (eth.Conn, error) {
	c.dials.Add(1)
	if !c.live[url] {
		return nil, errors.New("dial tcp: connection refused")
	}
	c.open.Add(1)
	return &conn{c: c}, nil
}

func (c *chain) leaked() int64 { return c.open.Load() - c.closed.Load() }

func (c *chain) sentTxs() []*types.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*types.Transaction(nil), c.sent...)
}

type conn struct {
	c      *chain
	closed atomic.Bool
}

func (x *conn) BlockNumber(ctx context.Context) (uint64, error) { return 1000, nil }

func (x *conn) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if x.c.gasErr != nil {
		return nil, x.c.gasErr
	}
	return new(big.Int).Set(x.c.gasPrice), nil
}

func (x *conn) ChainID(ctx context.Context) (*big.Int, error) { return big.NewInt(97), nil }

func (x *conn) BalanceAt(ctx context.Context, a common.Address, b *big.Int) (*big.Int, error) {
	return new(big.Int).Set(x.c.balance), nil
}

func (x *conn) PendingNonceAt(ctx context.Context, a common.Address) (uint64, error) { return 3, nil }

func (x *conn) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if x.c.sendWait > 0 {
		select {
		case <-time.After(x.c.sendWait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	x.c.mu.Lock()
	x.c.sent = append(x.c.sent, tx)
	x.c.mu.Unlock()
	return x.c.sendErr
}

func (x *conn) TransactionReceipt(ctx context.Context, h common.Hash) (*types.Receipt, error) {
	if x.c.receipt == nil {
		return nil, ethereum.NotFound
	}
	return x.c.receipt, nil
}

func (x *conn) CallContract(ctx context.Context, m ethereum.CallMsg, b *big.Int) ([]byte, error) {
	return nil, errors.New("not scripted")
}

func (x *conn) Close() {
	if x.closed.CompareAndSwap(false, true) {
		x.c.closed.Add(1)
	}
}

// rpcError is a JSON-RPC error response from the node.
type rpcError struct {
	code int
	msg  string
}

func (e rpcError) Error() string { return e.msg }

func (e rpcError) ErrorCode() int { return e.code }

// recorder is an in-memory audit journal.
type recorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recorder) Record(_ context.Context, e audit.Entry) error {
	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()
	return nil
}

func submittedLog(contract common.Address, id int64) *types.Log {
	topic := crypto.Keccak256Hash([]byte("PredictionSubmitted(uint256,string,address,uint8)"))
	return &types.Log{Address: contract, Topics: []common.Hash{topic, common.BigToHash(big.NewInt(id))}}
}
