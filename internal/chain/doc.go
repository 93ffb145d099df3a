// Package chain implements address analysis against an Ethereum JSON-RPC
// node.
//
// The Analyzer reads bytecode and well-known proxy storage slots (EIP-1967,
// EIP-1822, beacon proxies and Gnosis Safe proxies) at the pinned block of a
// discovery run and reports implementation, admin and beacon addresses as
// relatives. Every read goes through a shared rate limiter, and bytecode is
// cached per (address, block).
//
// Use Dial to connect; it accepts an optional SOCKS5 proxy for the HTTP
// transport.
package chain
