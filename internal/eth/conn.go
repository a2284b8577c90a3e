package eth

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

var ErrEmptyEndpoint = errors.New("empty endpoint")

// Conn is a live connection bound to exactly one RPC endpoint. It is the
// minimal surface the selector, fee estimator, submitter and ledger reader
// need; *ethclient.Client satisfies it.
// Note: avoid floats for on-chain values; amounts stay in *big.Int.
type Conn interface {
	BlockNumber(ctx context.Context) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

// DialFunc opens a Conn to one endpoint. The selector takes one so tests can
// substitute fakes.
type DialFunc func(ctx context.Context, endpoint string) (Conn, error)

// DialOptions tune connections created by Dial.
type DialOptions struct {
	// HTTPClient is used for http(s) endpoints; nil means a client with a 30s timeout.
	HTTPClient *http.Client
	// RateLimit caps requests per second on the connection; 0 is unlimited.
	RateLimit int
}

// Dial connects to an http(s) or ws(s) JSON-RPC endpoint.
func Dial(ctx context.Context, endpoint string, opts DialOptions) (Conn, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, ErrEmptyEndpoint
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	rc, err := rpc.DialOptions(ctx, endpoint, rpc.WithHTTPClient(hc))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", Label(endpoint), err)
	}
	var c Conn = ethclient.NewClient(rc)
	if opts.RateLimit > 0 {
		c = WithLimiter(c, NewLimiter(opts.RateLimit))
	}
	return c, nil
}

// Dialer binds DialOptions into a DialFunc.
func Dialer(opts DialOptions) DialFunc {
	return func(ctx context.Context, endpoint string) (Conn, error) {
		return Dial(ctx, endpoint, opts)
	}
}

// Label reduces an endpoint URL to its host for logs and metric labels, dropping
// any credentials or path-embedded API keys.
func Label(endpoint string) string {
	if endpoint == "" {
		return ""
	}
	if u, err := url.Parse(endpoint); err == nil {
		u.User = nil
		if u.Host != "" {
			return u.Host
		}
		if u.Scheme == "" {
			return endpoint
		}
		return u.String()
	}
	return endpoint
}

// IsRPCError reports whether err is an error object returned by the remote
// JSON-RPC server, as opposed to a transport or context failure.
func IsRPCError(err error) bool {
	var rerr rpc.Error
	return errors.As(err, &rerr)
}
