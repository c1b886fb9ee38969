package storage

import "github.com/wippyai/chainvm/common"

// Key namespaces.
const (
	prefixContract byte = 0x01
	prefixStorage  byte = 0x02
)

// ContractKey is the key of a contract's code record.
func ContractKey(addr common.Address) []byte {
	return append([]byte{prefixContract}, addr[:]...)
}

// StoragePrefix is the common prefix of every storage record of addr.
func StoragePrefix(addr common.Address) []byte {
	return append([]byte{prefixStorage}, addr[:]...)
}

// StorageKey is the key of one storage record: the contract address
// followed by the contract's own key.
func StorageKey(addr common.Address, key []byte) []byte {
	out := make([]byte, 0, 1+common.AddrLen+len(key))
	out = append(out, prefixStorage)
	out = append(out, addr[:]...)
	return append(out, key...)
}

// SplitStorageKey returns the contract key part of a full storage key.
func SplitStorageKey(full []byte) []byte {
	return full[1+common.AddrLen:]
}
