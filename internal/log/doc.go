// Package log provides secure logging built on top of the standard slog
// package.
//
// RPC endpoints usually carry a provider API key in their path or query
// string, and those URLs end up in dial and request errors. The SecureHandler
// masks them, along with auth headers, JWTs and wallet material, before a
// record reaches the underlying handler. Masking applies in verbose mode too.
//
// # Usage
//
//	logger := log.NewSecureLogger(os.Stderr, verbose)
//	logger.Info("connected", "rpc", rpcURL) // API key segment is masked
//	slog.SetDefault(logger)
package log
