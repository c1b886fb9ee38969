package common

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // address derivation is defined over ripemd160
)

const (
	AddrLen = 20
	HashLen = 32

	addrVersion = 0x17
)

// Address identifies a contract or account.
type Address [AddrLen]byte

// ZeroAddress is the empty address.
var ZeroAddress Address

// H256 is a 32-byte digest.
type H256 [HashLen]byte

// AddressFromBytes copies a 20-byte slice into an Address.
func AddressFromBytes(b []byte) (Address, error) {
	var a Address
	if len(b) != AddrLen {
		return a, fmt.Errorf("address: want %d bytes, got %d", AddrLen, len(b))
	}
	copy(a[:], b)
	return a, nil
}

// AddressFromHex parses a hex encoded address.
func AddressFromHex(s string) (Address, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return ZeroAddress, fmt.Errorf("address: %w", err)
	}
	return AddressFromBytes(b)
}

// AddressFromCode derives an address from a code blob.
func AddressFromCode(code []byte) Address {
	h := sha256.Sum256(code)
	r := ripemd160.New()
	r.Write(h[:])
	var a Address
	copy(a[:], r.Sum(nil))
	return a
}

// Base58 returns the checksummed text form.
func (a Address) Base58() string {
	data := make([]byte, 0, 1+AddrLen+4)
	data = append(data, addrVersion)
	data = append(data, a[:]...)
	sum := checksum(data)
	data = append(data, sum[:4]...)
	return base58.Encode(data)
}

// AddressFromBase58 parses the checksummed text form.
func AddressFromBase58(s string) (Address, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return ZeroAddress, fmt.Errorf("address: %w", err)
	}
	if len(raw) != 1+AddrLen+4 || raw[0] != addrVersion {
		return ZeroAddress, fmt.Errorf("address: malformed base58 %q", s)
	}
	sum := checksum(raw[:1+AddrLen])
	if !bytes.Equal(sum[:4], raw[1+AddrLen:]) {
		return ZeroAddress, fmt.Errorf("address: checksum mismatch for %q", s)
	}
	var a Address
	copy(a[:], raw[1:1+AddrLen])
	return a, nil
}

// ParseAddress accepts either the base58 or the 40 character hex form.
func ParseAddress(s string) (Address, error) {
	if len(s) == 2*AddrLen {
		if a, err := AddressFromHex(s); err == nil {
			return a, nil
		}
	}
	return AddressFromBase58(s)
}

func (a Address) String() string { return a.Base58() }

// Hex returns the hex form.
func (a Address) Hex() string { return hex.EncodeToString(a[:]) }

// IsZero reports whether a is the empty address.
func (a Address) IsZero() bool { return a == ZeroAddress }

func checksum(data []byte) [32]byte {
	first := sha256.Sum256(data)
	return sha256.Sum256(first[:])
}

// H256FromBytes copies a 32-byte slice into an H256.
func H256FromBytes(b []byte) (H256, error) {
	var h H256
	if len(b) != HashLen {
		return h, fmt.Errorf("h256: want %d bytes, got %d", HashLen, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// H256FromHex parses a hex encoded digest.
func H256FromHex(s string) (H256, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return H256{}, fmt.Errorf("h256: %w", err)
	}
	return H256FromBytes(b)
}

func (h H256) String() string { return hex.EncodeToString(h[:]) }
