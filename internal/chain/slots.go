package chain

import (
	"bytes"

	"github.com/ethereum/go-ethereum/common"
)

// Well-known proxy storage slots.
var (
	// eip1967ImplementationSlot is bytes32(uint256(keccak256("eip1967.proxy.implementation")) - 1).
	eip1967ImplementationSlot = common.HexToHash("0x360894a13ba1a3210667c828492db98dca3e2076cc3735a920a3ca505d382bbc")

	// eip1967AdminSlot is bytes32(uint256(keccak256("eip1967.proxy.admin")) - 1).
	eip1967AdminSlot = common.HexToHash("0xb53127684a568b3173ae13b9f8a6016e243e63b6e8ee1178d6a717850b5d6103")

	// eip1967BeaconSlot is bytes32(uint256(keccak256("eip1967.proxy.beacon")) - 1).
	eip1967BeaconSlot = common.HexToHash("0xa3f0ad74e5423aebfd80d3ef4346578335a9a72aeaee59ff6cb3582b35133d50")

	// eip1822ProxiableSlot is keccak256("PROXIABLE").
	eip1822ProxiableSlot = common.HexToHash("0xc5f16f0fcc639fa48a6947836d9850f504798523bf8c9a3a87d5876cf622bcf7")

	// safeMasterCopySlot holds the singleton address of a Gnosis Safe proxy.
	safeMasterCopySlot = common.Hash{}
)

// Function selectors.
var (
	// implementationSelector is implementation() on an upgrade beacon.
	implementationSelector = []byte{0x5c, 0x60, 0xda, 0x1b}

	// masterCopySelector is masterCopy(), which the Safe proxy answers in its
	// fallback. The proxy bytecode embeds it as PUSH4 0xa619486e.
	masterCopySelector = []byte{0xa6, 0x19, 0x48, 0x6e}
)

// opPush4 is the EVM PUSH4 opcode.
const opPush4 = 0x63

// Upgradeability types reported in the manifest.
const (
	TypeImmutable  = "immutable"
	TypeEIP1967    = "EIP1967 proxy"
	TypeEIP1822    = "EIP1822 proxy"
	TypeBeacon     = "beacon proxy"
	TypeGnosisSafe = "gnosis safe"
)

// Field names used in Values, Errors and relatives. Names starting with $
// are addresses read from storage and can be listed in ignoreMethods and
// ignoreRelatives.
const (
	FieldImplementation = "$implementation"
	FieldAdmin          = "$admin"
	FieldBeacon         = "$beacon"
	FieldCodeHash       = "codeHash"
	FieldCodeSize       = "codeSize"
)

// looksLikeSafeProxy reports whether code dispatches masterCopy() itself.
func looksLikeSafeProxy(code []byte) bool {
	needle := append([]byte{opPush4}, masterCopySelector...)
	return bytes.Contains(code, needle)
}

// slotAddress extracts the address stored in the low 20 bytes of a slot.
func slotAddress(word []byte) common.Address {
	return common.BytesToAddress(word)
}
