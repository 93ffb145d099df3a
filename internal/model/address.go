package model

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Address errors.
var (
	// ErrInvalidAddress is returned when the address is not 20 hex-encoded bytes.
	ErrInvalidAddress = errors.New("invalid address format: expected 0x followed by 40 hex characters")
	// ErrEmptyAddress is returned when the address is empty.
	ErrEmptyAddress = errors.New("address cannot be empty")
)

const (
	// addressHexLength is the number of hex characters in an address (20 bytes).
	addressHexLength = 40
	// hexPrefix is the conventional prefix of hex encoded values.
	hexPrefix = "0x"
)

// Address is an immutable value object holding a canonical chain address.
// The canonical form is lower-case with a 0x prefix, so two Address values
// are equal (==) iff they refer to the same account.
//
// Design decision: We keep the canonical form as a string rather than
// [20]byte because:
//  1. It is directly usable as a map key and in logs
//  2. Comparison with == stays trivially correct
//  3. JSON and SQLite round trips need no conversion
type Address struct {
	hex string
}

// ZeroAddress is the all-zero address. Analyzers use it to mean "unset".
var ZeroAddress = Address{hex: hexPrefix + strings.Repeat("0", addressHexLength)}

// NewAddress validates and canonicalises an address string.
// Mixed case (EIP-55), upper case and a missing 0x prefix are all accepted.
func NewAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Address{}, ErrEmptyAddress
	}

	body := s
	if len(body) >= 2 && (body[:2] == "0x" || body[:2] == "0X") {
		body = body[2:]
	}
	if len(body) != addressHexLength {
		return Address{}, ErrInvalidAddress
	}
	if _, err := hex.DecodeString(body); err != nil {
		return Address{}, ErrInvalidAddress
	}

	return Address{hex: hexPrefix + strings.ToLower(body)}, nil
}

// MustNewAddress creates a new Address or panics if invalid.
// Use only for known-valid addresses in tests or initialization.
func MustNewAddress(s string) Address {
	a, err := NewAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String returns the canonical lower-case form.
func (a Address) String() string {
	return a.hex
}

// IsZero reports whether a is the empty value or the all-zero address.
func (a Address) IsZero() bool {
	return a.hex == "" || a == ZeroAddress
}

// Bytes returns the 20 raw address bytes. Empty for the zero value.
func (a Address) Bytes() []byte {
	if a.hex == "" {
		return nil
	}
	b, _ := hex.DecodeString(a.hex[2:]) //nolint:errcheck // validated in NewAddress
	return b
}

// Checksum returns the EIP-55 mixed-case encoding of the address.
// The case of each hex letter is taken from the Keccak-256 hash of the
// lower-case hex string.
func (a Address) Checksum() string {
	if a.hex == "" {
		return ""
	}
	body := a.hex[2:]

	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write([]byte(body)) //nolint:errcheck // hash.Hash never returns an error
	digest := h.Sum(nil)

	out := []byte(body)
	for i := range out {
		if out[i] < 'a' {
			continue
		}
		nibble := digest[i/2]
		if i%2 == 0 {
			nibble >>= 4
		}
		if nibble&0x0f >= 8 {
			out[i] -= 'a' - 'A'
		}
	}
	return hexPrefix + string(out)
}

// Less orders addresses by canonical form.
func (a Address) Less(other Address) bool {
	return a.hex < other.hex
}

// MarshalJSON encodes the address in EIP-55 checksum form.
func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Checksum())
}

// UnmarshalJSON accepts any case and canonicalises.
func (a *Address) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := NewAddress(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// MarshalText lets Address be used as a map key in JSON and YAML.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.Checksum()), nil
}

// UnmarshalText parses a textual address.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := NewAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAddresses canonicalises a list of address strings, keeping the input
// order and dropping duplicates. It fails on the first invalid entry.
func ParseAddresses(values []string) ([]Address, error) {
	out := make([]Address, 0, len(values))
	seen := make(map[Address]bool, len(values))
	for _, v := range values {
		a, err := NewAddress(v)
		if err != nil {
			return nil, &AddressError{Input: v, Err: err}
		}
		if seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out, nil
}

// AddressError reports which input failed to parse.
type AddressError struct {
	Input string
	Err   error
}

// Error implements the error interface.
func (e *AddressError) Error() string {
	return "address " + strings.TrimSpace(e.Input) + ": " + e.Err.Error()
}

// Unwrap returns the underlying validation error.
func (e *AddressError) Unwrap() error {
	return e.Err
}

// SortAddresses sorts addresses in place by canonical form.
func SortAddresses(addrs []Address) {
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Less(addrs[j]) })
}
