// Package codec defines the value model shared by the argument encodings.
//
// A Value is a tagged variant covering the argument types contracts
// exchange: fixed width integers up to 128 bits, bool, address, H256, bytes,
// string, and the composites seq, set, map, pair, tuple, record and array,
// nested arbitrarily. Two encodings implement Codec: codec/native for calls
// between WASM contracts and codec/crossvm for calls into the legacy VM.
package codec

import (
	"math/big"
	"strconv"

	"github.com/holiman/uint256"

	"github.com/wippyai/chainvm/errors"
)

// Codec converts values to and from one wire format.
type Codec interface {
	Name() string
	Encode(v Value) ([]byte, error)
	// Decode reads exactly one value of shape s and rejects trailing bytes.
	Decode(data []byte, s Shape) (Value, error)
}

// Fit checks that an integer value is within range of kind k and returns it
// re-tagged as k. path is used for error reporting.
func Fit(v Value, k Kind, path []string) (Value, error) {
	if !v.kind.IsInteger() {
		return Value{}, errors.TypeMismatch(errors.PhaseDecode, path, k.String(), v.kind.String())
	}
	if !fits(&v.num, k) {
		return Value{}, errors.Overflow(errors.PhaseDecode, path, v.Big(), k.String())
	}
	v.kind = k
	return v, nil
}

// FromUint256 builds a decoded integer of kind k from a two's complement
// number.
func FromUint256(k Kind, z *uint256.Int, path []string) (Value, error) {
	v := Value{kind: KindI128, num: *z}
	if !k.IsInteger() {
		return Value{}, errors.TypeMismatch(errors.PhaseDecode, path, "integer", k.String())
	}
	return Fit(v, k, path)
}

// FromBig builds a decoded integer of kind k from x.
func FromBig(k Kind, x *big.Int, path []string) (Value, error) {
	var z uint256.Int
	if !fromBig(&z, x) {
		return Value{}, errors.Overflow(errors.PhaseDecode, path, x, k.String())
	}
	return FromUint256(k, &z, path)
}

// Index extends a path with an element index.
func Index(path []string, i int) []string {
	return append(append([]string(nil), path...), strconv.Itoa(i))
}

// Child extends a path with a field name.
func Child(path []string, name string) []string {
	return append(append([]string(nil), path...), name)
}

// CheckDistinct rejects sets and maps with repeated members.
func CheckDistinct(v Value, path []string) error {
	switch v.kind {
	case KindSet:
		for i := range v.items {
			for j := 0; j < i; j++ {
				if v.items[i].Equal(v.items[j]) {
					return errors.InvalidData(errors.PhaseDecode, Index(path, i), "duplicate set member")
				}
			}
		}
	case KindMap:
		for i := range v.entries {
			for j := 0; j < i; j++ {
				if v.entries[i].Key.Equal(v.entries[j].Key) {
					return errors.InvalidData(errors.PhaseDecode, Index(path, i), "duplicate map key")
				}
			}
		}
	}
	return nil
}

// WithRecordNames returns a record value carrying the shape's names.
func WithRecordNames(items []Value, s Shape) Value {
	return Value{kind: KindRecord, names: s.Names, items: items}
}
