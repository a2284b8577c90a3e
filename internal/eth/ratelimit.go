package eth

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/time/rate"
)

// Limiter is a minimal interface to rate-limit RPC calls.
type Limiter interface {
	Wait(ctx context.Context) error
}

// NewLimiter returns a token bucket enforcing req/s with a burst of one.
// If perSecond <= 0 it never blocks, but still honors context cancellation.
func NewLimiter(perSecond int) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(perSecond), 1)
}

// limitedConn wraps a Conn with a Limiter. Close is not limited.
type limitedConn struct {
	c Conn
	l Limiter
}

// WithLimiter gates every RPC on c behind l.
func WithLimiter(c Conn, l Limiter) Conn { return &limitedConn{c: c, l: l} }

func (r *limitedConn) BlockNumber(ctx context.Context) (uint64, error) {
	if err := r.l.Wait(ctx); err != nil {
		return 0, err
	}
	return r.c.BlockNumber(ctx)
}

func (r *limitedConn) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if err := r.l.Wait(ctx); err != nil {
		return nil, err
	}
	return r.c.SuggestGasPrice(ctx)
}

func (r *limitedConn) ChainID(ctx context.Context) (*big.Int, error) {
	if err := r.l.Wait(ctx); err != nil {
		return nil, err
	}
	return r.c.ChainID(ctx)
}

func (r *limitedConn) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	if err := r.l.Wait(ctx); err != nil {
		return nil, err
	}
	return r.c.BalanceAt(ctx, account, blockNumber)
}

func (r *limitedConn) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	if err := r.l.Wait(ctx); err != nil {
		return 0, err
	}
	return r.c.PendingNonceAt(ctx, account)
}

func (r *limitedConn) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := r.l.Wait(ctx); err != nil {
		return err
	}
	return r.c.SendTransaction(ctx, tx)
}

func (r *limitedConn) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if err := r.l.Wait(ctx); err != nil {
		return nil, err
	}
	return r.c.TransactionReceipt(ctx, txHash)
}

func (r *limitedConn) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if err := r.l.Wait(ctx); err != nil {
		return nil, err
	}
	return r.c.CallContract(ctx, call, blockNumber)
}

func (r *limitedConn) Close() { r.c.Close() }
