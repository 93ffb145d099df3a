package chain

import "errors"

// Connection and analysis errors.
var (
	// ErrInvalidRPCURL is returned when the RPC URL is empty or has a scheme
	// other than http, https, ws or wss.
	ErrInvalidRPCURL = errors.New("invalid RPC URL: expected http(s):// or ws(s)://")

	// ErrInvalidProxyAddress is returned when the SOCKS5 proxy address format
	// is invalid. Expected format is "host:port".
	ErrInvalidProxyAddress = errors.New("invalid proxy address format: expected host:port")

	// ErrProxyWithWebSocket is returned when a proxy is requested for a
	// WebSocket endpoint. Only HTTP transports are routed through the proxy.
	ErrProxyWithWebSocket = errors.New("proxy is only supported for http(s) RPC endpoints")

	// ErrShortReturnData is returned when a contract call returns fewer bytes
	// than an ABI-encoded address.
	ErrShortReturnData = errors.New("call returned less than 32 bytes")

	// ErrInvalidTemplateHash is returned for template code hashes that are
	// not 32-byte hex strings.
	ErrInvalidTemplateHash = errors.New("invalid template code hash")
)
