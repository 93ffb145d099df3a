package chain

import (
	"context"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/net/proxy"
)

// DefaultRequestTimeout bounds a single JSON-RPC request.
const DefaultRequestTimeout = 30 * time.Second

// Client is the read-only subset of ethclient.Client the analyzer needs.
// Every read takes an explicit block number so a run stays pinned.
type Client interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
	Close()
}

// DialOptions configures the RPC connection.
type DialOptions struct {
	// ProxyAddress routes HTTP requests through a SOCKS5 proxy ("host:port").
	// Empty means no proxy.
	ProxyAddress string

	// Timeout bounds each HTTP request. Zero uses DefaultRequestTimeout.
	Timeout time.Duration
}

// Dial connects to a JSON-RPC endpoint.
//
// Design decision: We build the *http.Client ourselves instead of calling
// ethclient.Dial because:
//  1. Discovery issues many small reads and needs a request timeout
//  2. Operators behind a SOCKS5 proxy (or Tor) need the dialer swapped
//  3. The connection pool must be shared by all scheduler workers
//
// Dial does not contact the node; the first request does.
func Dial(ctx context.Context, rpcURL string, opts DialOptions) (*ethclient.Client, error) {
	u, err := url.Parse(rpcURL)
	if err != nil || rpcURL == "" {
		return nil, ErrInvalidRPCURL
	}

	var dialOpts []rpc.ClientOption
	switch u.Scheme {
	case "http", "https":
		httpClient, err := newHTTPClient(opts)
		if err != nil {
			return nil, err
		}
		dialOpts = append(dialOpts, rpc.WithHTTPClient(httpClient))
	case "ws", "wss":
		if opts.ProxyAddress != "" {
			return nil, ErrProxyWithWebSocket
		}
	default:
		return nil, ErrInvalidRPCURL
	}

	rc, err := rpc.DialOptions(ctx, rpcURL, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial RPC endpoint: %w", err)
	}
	return ethclient.NewClient(rc), nil
}

// newHTTPClient creates the HTTP client used for JSON-RPC requests.
func newHTTPClient(opts DialOptions) (*http.Client, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone() //nolint:forcetypeassert // stdlib default
	// Workers hit the same host concurrently; keep their connections alive.
	transport.MaxIdleConnsPerHost = 32
	transport.IdleConnTimeout = 90 * time.Second

	if opts.ProxyAddress != "" {
		if !isValidProxyAddress(opts.ProxyAddress) {
			return nil, ErrInvalidProxyAddress
		}
		dialer, err := proxy.SOCKS5("tcp", opts.ProxyAddress, nil, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
		}
		transport.Proxy = nil
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = cd.DialContext
		} else {
			transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}, nil
}

// isValidProxyAddress checks if the address is in valid "host:port" format.
func isValidProxyAddress(address string) bool {
	parts := strings.Split(address, ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return false
	}

	portNum := 0
	for _, c := range parts[1] {
		if c < '0' || c > '9' {
			return false
		}
		portNum = portNum*10 + int(c-'0')
		if portNum > 65535 {
			return false
		}
	}
	return portNum >= 1
}

// ResolveBlock returns requested when it is non-zero and otherwise the
// node's latest block. Callers resolve once and pin the result for the whole
// run.
func ResolveBlock(ctx context.Context, c Client, requested uint64) (uint64, error) {
	if requested > 0 {
		return requested, nil
	}
	latest, err := c.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch latest block: %w", err)
	}
	return latest, nil
}
