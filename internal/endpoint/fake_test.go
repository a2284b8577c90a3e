package endpoint

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

	"github.com/AIAleph/oracle_submit/internal/eth"
)

// fakeNet scripts per-URL probe behavior and counts open handles.
type fakeNet struct {
	mu     sync.Mutex
	hosts  map[string]fakeHost
	dials  []string
	open   atomic.Int64
	closed atomic.Int64
}

type fakeHost struct {
	delay  time.Duration
	height uint64
	err    error
	// ignoreCtx makes the dial sleep through cancellation.
	ignoreCtx bool
}

func newFakeNet(hosts map[string]fakeHost) *fakeNet {
	return &fakeNet{hosts: hosts}
}

func (n *fakeNet) dial(ctx context.Context, url string) (eth.Conn, error) {
	n.mu.Lock()
	h, ok := n.hosts[url]
	n.dials = append(n.dials, url)
	n.mu.Unlock()
	if !ok {
		return nil, errors.New("unknown host")
	}
	if h.delay > 0 {
		if h.ignoreCtx {
			time.Sleep(h.delay)
		} else {
			select {
			case <-time.After(h.delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	n.open.Add(1)
	return &fakeConn{net: n, host: h}, nil
}

func (n *fakeNet) dialed() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.dials...)
}

// leaked is the number of opened handles not yet closed.
func (n *fakeNet) leaked() int64 { return n.open.Load() - n.closed.Load() }

type fakeConn struct {
	net    *fakeNet
	host   fakeHost
	closed atomic.Bool
}

func (c *fakeConn) BlockNumber(ctx context.Context) (uint64, error) {
	if c.host.err != nil {
		return 0, c.host.err
	}
	return c.host.height, nil
}

func (c *fakeConn) SuggestGasPrice(ctx context.Context) (*big.Int, error) { return big.NewInt(1), nil }

func (c *fakeConn) ChainID(ctx context.Context) (*big.Int, error) { return big.NewInt(97), nil }

func (c *fakeConn) BalanceAt(ctx context.Context, a common.Address, b *big.Int) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (c *fakeConn) PendingNonceAt(ctx context.Context, a common.Address) (uint64, error) {
	return 0, nil
}

func (c *fakeConn) SendTransaction(ctx context.Context, tx *types.Transaction) error { return nil }

func (c *fakeConn) TransactionReceipt(ctx context.Context, h common.Hash) (*types.Receipt, error) {
	return nil, ethereum.NotFound
}

func (c *fakeConn) CallContract(ctx context.Context, m ethereum.CallMsg, b *big.Int) ([]byte, error) {
	return nil, nil
}

func (c *fakeConn) Close() {
	if c.closed.CompareAndSwap(false, true) {
		c.net.closed.Add(1)
	}
}
