package codec

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"

	"github.com/wippyai/chainvm/common"
	"github.com/wippyai/chainvm/errors"
)

// Value is a tagged variant holding one argument or result. Integers of every
// width are kept as a 256-bit two's complement number so 128-bit values need
// no special casing.
type Value struct {
	num     uint256.Int
	bytes   []byte
	items   []Value
	entries []Entry
	names   []string
	addr    common.Address
	hash    common.H256
	kind    Kind
	b       bool
}

// Entry is one key/value pair of a map.
type Entry struct {
	Key Value
	Val Value
}

func Bool(v bool) Value { return Value{kind: KindBool, b: v} }

func U8(v uint8) Value   { return unsigned(KindU8, uint64(v)) }
func U16(v uint16) Value { return unsigned(KindU16, uint64(v)) }
func U32(v uint32) Value { return unsigned(KindU32, uint64(v)) }
func U64(v uint64) Value { return unsigned(KindU64, v) }
func I8(v int8) Value    { return signed(KindI8, int64(v)) }
func I16(v int16) Value  { return signed(KindI16, int64(v)) }
func I32(v int32) Value  { return signed(KindI32, int64(v)) }
func I64(v int64) Value  { return signed(KindI64, v) }

func Address(a common.Address) Value { return Value{kind: KindAddress, addr: a} }
func H256(h common.H256) Value       { return Value{kind: KindH256, hash: h} }
func Bytes(b []byte) Value           { return Value{kind: KindBytes, bytes: clone(b)} }
func String(s string) Value          { return Value{kind: KindString, bytes: []byte(s)} }

func unsigned(k Kind, v uint64) Value {
	val := Value{kind: k}
	val.num.SetUint64(v)
	return val
}

func signed(k Kind, v int64) Value {
	val := Value{kind: k}
	setInt64(&val.num, v)
	return val
}

func setInt64(z *uint256.Int, v int64) {
	if v >= 0 {
		z.SetUint64(uint64(v))
		return
	}
	z.SetUint64(uint64(-v))
	z.Neg(z)
}

// U128 builds a u128 from its high and low halves.
func U128(hi, lo uint64) Value {
	val := Value{kind: KindU128}
	val.num = uint256.Int{lo, hi, 0, 0}
	return val
}

// I128 builds an i128 from a 64-bit value.
func I128(v int64) Value { return signed(KindI128, v) }

// Integer builds an integer of kind k from x, failing when x does not fit.
func Integer(k Kind, x *big.Int) (Value, error) {
	if !k.IsInteger() {
		return Value{}, errors.TypeMismatch(errors.PhaseEncode, nil, "integer kind", k.String())
	}
	var num uint256.Int
	if !fromBig(&num, x) || !fits(&num, k) {
		return Value{}, errors.Overflow(errors.PhaseEncode, nil, x, k.String())
	}
	return Value{kind: k, num: num}, nil
}

// fromBig stores x as two's complement. It fails for values outside the
// signed 256-bit range.
func fromBig(z *uint256.Int, x *big.Int) bool {
	if x.BitLen() > 255 {
		return false
	}
	abs := new(big.Int).Abs(x)
	z.SetFromBig(abs)
	if x.Sign() < 0 {
		z.Neg(z)
	}
	return true
}

// fits reports whether the two's complement number z is in range for k.
func fits(z *uint256.Int, k Kind) bool {
	bits := int(k.Bits())
	if !k.Signed() {
		return z.Sign() >= 0 && z.BitLen() <= bits
	}
	if z.Sign() >= 0 {
		return z.BitLen() <= bits-1
	}
	var n uint256.Int
	n.Not(z)
	return n.BitLen() <= bits-1
}

// Seq builds a homogeneous sequence.
func Seq(items ...Value) Value { return Value{kind: KindSeq, items: items} }

// Set builds a set. Order is preserved as given.
func Set(items ...Value) Value { return Value{kind: KindSet, items: items} }

// Map builds a map. Order is preserved as given.
func Map(entries ...Entry) Value { return Value{kind: KindMap, entries: entries} }

func Pair(a, b Value) Value               { return Value{kind: KindPair, items: []Value{a, b}} }
func Tuple(items ...Value) Value          { return Value{kind: KindTuple, items: items} }
func Array(items ...Value) Value          { return Value{kind: KindArray, items: items} }
func KV(key, val Value) Entry             { return Entry{Key: key, Val: val} }
func (v Value) Kind() Kind                { return v.kind }
func (v Value) IsValid() bool             { return v.kind != KindInvalid }
func (v Value) Items() []Value            { return v.items }
func (v Value) Entries() []Entry          { return v.entries }
func (v Value) Names() []string           { return v.names }
func (v Value) AsBool() bool              { return v.b }
func (v Value) AsAddress() common.Address { return v.addr }
func (v Value) AsH256() common.H256       { return v.hash }
func (v Value) AsBytes() []byte           { return v.bytes }
func (v Value) AsString() string          { return string(v.bytes) }

// Record builds a record from parallel field names and values.
func Record(names []string, items ...Value) (Value, error) {
	if len(names) != len(items) {
		return Value{}, errors.InvalidInput(errors.PhaseEncode,
			fmt.Sprintf("record has %d names and %d fields", len(names), len(items)))
	}
	return Value{kind: KindRecord, names: names, items: items}, nil
}

// Uint256 returns the two's complement integer. The result is a copy.
func (v Value) Uint256() *uint256.Int {
	return v.num.Clone()
}

// Big returns the integer value with its sign.
func (v Value) Big() *big.Int {
	if v.num.Sign() < 0 {
		var abs uint256.Int
		abs.Neg(&v.num)
		return new(big.Int).Neg(abs.ToBig())
	}
	return v.num.ToBig()
}

// Uint64 returns the value when it is a non-negative integer that fits.
func (v Value) Uint64() (uint64, bool) {
	if !v.kind.IsInteger() || v.num.Sign() < 0 || !v.num.IsUint64() {
		return 0, false
	}
	return v.num.Uint64(), true
}

// Int64 returns the value when it is an integer that fits in 64 bits.
func (v Value) Int64() (int64, bool) {
	if !v.kind.IsInteger() || !fits(&v.num, KindI64) {
		return 0, false
	}
	return int64(v.num.Uint64()), true
}

// Equal reports deep equality, including kinds.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch {
	case v.kind == KindBool:
		return v.b == o.b
	case v.kind.IsInteger():
		return v.num.Eq(&o.num)
	case v.kind == KindAddress:
		return v.addr == o.addr
	case v.kind == KindH256:
		return v.hash == o.hash
	case v.kind == KindBytes, v.kind == KindString:
		return bytes.Equal(v.bytes, o.bytes)
	case v.kind == KindMap:
		if len(v.entries) != len(o.entries) {
			return false
		}
		for i := range v.entries {
			if !v.entries[i].Key.Equal(o.entries[i].Key) || !v.entries[i].Val.Equal(o.entries[i].Val) {
				return false
			}
		}
		return true
	case v.kind.IsComposite():
		if len(v.items) != len(o.items) {
			return false
		}
		if v.kind == KindRecord {
			for i := range v.names {
				if v.names[i] != o.names[i] {
					return false
				}
			}
		}
		for i := range v.items {
			if !v.items[i].Equal(o.items[i]) {
				return false
			}
		}
		return true
	}
	return true
}

func (v Value) String() string {
	var sb strings.Builder
	v.format(&sb)
	return sb.String()
}

func (v Value) format(sb *strings.Builder) {
	switch {
	case v.kind == KindBool:
		fmt.Fprintf(sb, "%t", v.b)
	case v.kind.IsInteger():
		fmt.Fprintf(sb, "%s:%s", v.kind, v.Big())
	case v.kind == KindAddress:
		sb.WriteString(v.addr.Base58())
	case v.kind == KindH256:
		sb.WriteString(v.hash.String())
	case v.kind == KindBytes:
		fmt.Fprintf(sb, "0x%x", v.bytes)
	case v.kind == KindString:
		fmt.Fprintf(sb, "%q", v.bytes)
	case v.kind == KindMap:
		sb.WriteByte('{')
		for i, e := range v.entries {
			if i > 0 {
				sb.WriteString(", ")
			}
			e.Key.format(sb)
			sb.WriteString(": ")
			e.Val.format(sb)
		}
		sb.WriteByte('}')
	case v.kind.IsComposite():
		sb.WriteString(v.kind.String())
		sb.WriteByte('[')
		for i, it := range v.items {
			if i > 0 {
				sb.WriteString(", ")
			}
			if v.kind == KindRecord {
				sb.WriteString(v.names[i])
				sb.WriteString(": ")
			}
			it.format(sb)
		}
		sb.WriteByte(']')
	default:
		sb.WriteString("invalid")
	}
}

func clone(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return append([]byte{}, b...)
}
