// Package legacyvm runs contracts of the legacy stack VM and bridges their
// values to the cross-VM encoding.
package legacyvm

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/wippyai/chainvm/common"
	"github.com/wippyai/chainvm/errors"
)

// Type is the type of a legacy value.
type Type byte

const (
	TypeByteArray Type = iota
	TypeBoolean
	TypeInteger
	TypeArray
	TypeStruct
)

func (t Type) String() string {
	switch t {
	case TypeByteArray:
		return "bytearray"
	case TypeBoolean:
		return "boolean"
	case TypeInteger:
		return "integer"
	case TypeArray:
		return "array"
	case TypeStruct:
		return "struct"
	}
	return fmt.Sprintf("type(%d)", byte(t))
}

// MaxIntBytes bounds integer size, in two's complement bytes.
const MaxIntBytes = 32

// Value is a legacy VM stack item.
type Value struct {
	n     *big.Int
	data  []byte
	items []Value
	typ   Type
	b     bool
}

func NewByteArray(b []byte) Value    { return Value{typ: TypeByteArray, data: b} }
func NewBool(v bool) Value           { return Value{typ: TypeBoolean, b: v} }
func NewArray(items ...Value) Value  { return Value{typ: TypeArray, items: items} }
func NewStruct(items ...Value) Value { return Value{typ: TypeStruct, items: items} }

// NewInt builds an integer, failing when x exceeds MaxIntBytes.
func NewInt(x *big.Int) (Value, error) {
	if len(common.BigIntToNeoBytes(x)) > MaxIntBytes {
		return Value{}, errors.Overflow(errors.PhaseRuntime, nil, x, "legacy integer")
	}
	return Value{typ: TypeInteger, n: new(big.Int).Set(x)}, nil
}

// NewInt64 builds a small integer.
func NewInt64(v int64) Value { return Value{typ: TypeInteger, n: big.NewInt(v)} }

func (v Value) Type() Type { return v.typ }

// Items returns the members of an array or struct.
func (v Value) Items() []Value { return v.items }

// AsBytes converts the value to a byte array.
func (v Value) AsBytes() ([]byte, error) {
	switch v.typ {
	case TypeByteArray:
		return v.data, nil
	case TypeInteger:
		return common.BigIntToNeoBytes(v.n), nil
	case TypeBoolean:
		if v.b {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	}
	return nil, errors.TypeMismatch(errors.PhaseRuntime, nil, "bytearray", v.typ.String())
}

// AsInt converts the value to an integer.
func (v Value) AsInt() (*big.Int, error) {
	switch v.typ {
	case TypeInteger:
		return v.n, nil
	case TypeByteArray:
		if len(v.data) > MaxIntBytes {
			return nil, errors.Overflow(errors.PhaseRuntime, nil, fmt.Sprintf("%d bytes", len(v.data)), "legacy integer")
		}
		return common.BigIntFromNeoBytes(v.data), nil
	case TypeBoolean:
		if v.b {
			return big.NewInt(1), nil
		}
		return new(big.Int), nil
	}
	return nil, errors.TypeMismatch(errors.PhaseRuntime, nil, "integer", v.typ.String())
}

// AsBool converts the value to a boolean. Byte arrays are true when any
// byte is non-zero; arrays are always true.
func (v Value) AsBool() bool {
	switch v.typ {
	case TypeBoolean:
		return v.b
	case TypeInteger:
		return v.n.Sign() != 0
	case TypeByteArray:
		for _, c := range v.data {
			if c != 0 {
				return true
			}
		}
		return false
	}
	return true
}

// Equal compares values the way the EQUAL opcode does: scalars by their
// byte form, arrays and structs member by member.
func (v Value) Equal(o Value) bool {
	if v.typ == TypeArray || v.typ == TypeStruct || o.typ == TypeArray || o.typ == TypeStruct {
		if v.typ != o.typ || len(v.items) != len(o.items) {
			return false
		}
		for i := range v.items {
			if !v.items[i].Equal(o.items[i]) {
				return false
			}
		}
		return true
	}
	a, _ := v.AsBytes()
	b, _ := o.AsBytes()
	return bytes.Equal(a, b)
}

func (v Value) String() string {
	switch v.typ {
	case TypeByteArray:
		return fmt.Sprintf("0x%x", v.data)
	case TypeBoolean:
		return fmt.Sprintf("%t", v.b)
	case TypeInteger:
		return v.n.String()
	}
	return fmt.Sprintf("%s%v", v.typ, v.items)
}
