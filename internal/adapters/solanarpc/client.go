// Package solanarpc implements ports.TransactionFeed against a Solana node:
// getTransaction through the solana-go RPC client and logsSubscribe over the
// websocket API.
package solanarpc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"

	"copyTrader/internal/domain"
	"copyTrader/internal/ports"
)

const (
	defaultHTTPTimeout       = 10 * time.Second
	defaultReconnectDelay    = time.Second
	defaultMaxReconnectDelay = 30 * time.Second
	defaultReconnectAttempts = 10

	commitment = "confirmed"
)

// Config holds the node endpoints and reconnect policy.
type Config struct {
	HTTPURL              string
	WSURL                string
	HTTPClient           *http.Client // Optional, defaults to a client with a 10s timeout
	ReconnectDelay       time.Duration
	MaxReconnectDelay    time.Duration
	MaxReconnectAttempts int // Consecutive failed dials before the subscription fails
	Logger               ports.Logger
}

// Client is a Solana RPC feed.
type Client struct {
	cfg    Config
	rpc    *rpc.Client
	logger ports.Logger
	nextID atomic.Uint64
}

var _ ports.TransactionFeed = (*Client)(nil)

// New validates cfg and applies defaults.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Solana RPC client")
	}
	if cfg.HTTPURL == "" {
		return nil, fmt.Errorf("%w: solana http url is empty", ports.ErrConfigurationError)
	}
	if cfg.WSURL == "" {
		return nil, fmt.Errorf("%w: solana websocket url is empty", ports.ErrConfigurationError)
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.MaxReconnectDelay < cfg.ReconnectDelay {
		cfg.MaxReconnectDelay = defaultMaxReconnectDelay
		if cfg.MaxReconnectDelay < cfg.ReconnectDelay {
			cfg.MaxReconnectDelay = cfg.ReconnectDelay
		}
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = defaultReconnectAttempts
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: defaultHTTPTimeout}
	}
	rpcClient := rpc.NewWithCustomRPCClient(jsonrpc.NewClientWithOpts(cfg.HTTPURL, &jsonrpc.RPCClientOpts{
		HTTPClient: hc,
	}))
	return &Client{cfg: cfg, rpc: rpcClient, logger: cfg.Logger}, nil
}

// FetchTransaction returns the confirmed transaction for signature, or nil, nil
// if the node does not know it yet.
func (c *Client) FetchTransaction(ctx context.Context, signature string) (*domain.Transaction, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("%w: signature %q: %v", ports.ErrInvalidRequest, signature, err)
	}

	maxVersion := uint64(0)
	res, err := c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingJSON,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, c.handleError(ctx, err, "getTransaction")
	}
	if res == nil {
		return nil, nil
	}
	return translateTransaction(signature, res)
}

func (c *Client) handleError(ctx context.Context, err error, method string) error {
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		return fmt.Errorf("%s: %w", method, rpcErr)
	}
	var httpErr *jsonrpc.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.Code == http.StatusTooManyRequests {
			return fmt.Errorf("%w: %s", ports.ErrRateLimited, method)
		}
		return fmt.Errorf("%w: %s: status %d", ports.ErrConnectionFailed, method, httpErr.Code)
	}

	switch {
	case errors.Is(err, context.Canceled), ctx.Err() == context.Canceled:
		return fmt.Errorf("%w: %s", ports.ErrContextCanceled, method)
	case errors.Is(err, context.DeadlineExceeded), ctx.Err() == context.DeadlineExceeded:
		return fmt.Errorf("%w: %s", ports.ErrTimeout, method)
	default:
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("%w: %s: %v", ports.ErrTimeout, method, err)
		}
		return fmt.Errorf("%w: %s: %v", ports.ErrConnectionFailed, method, err)
	}
}

// Subscribe dials the websocket endpoint and opens one logsSubscribe per address.
// The first dial happens before Subscribe returns; later drops are retried
// with backoff.
func (c *Client) Subscribe(ctx context.Context, addresses []string) (ports.Subscription, error) {
	if len(addresses) == 0 {
		return nil, fmt.Errorf("%w: no addresses to follow", ports.ErrInvalidRequest)
	}
	s := newStream(c, addresses)
	if err := s.connect(ctx); err != nil {
		return nil, err
	}
	go s.run()
	return s, nil
}

// Unsubscribe tears the subscription down and waits for its goroutines to exit.
func (c *Client) Unsubscribe(ctx context.Context, sub ports.Subscription) error {
	s, ok := sub.(*stream)
	if !ok {
		return fmt.Errorf("%w: subscription was not created by this client", ports.ErrInvalidRequest)
	}
	return s.close(ctx)
}
