package codec

// Kind identifies the variant held by a Value or described by a Shape.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindBool
	KindU8
	KindU16
	KindU32
	KindU64
	KindU128
	KindI8
	KindI16
	KindI32
	KindI64
	KindI128
	KindAddress
	KindH256
	KindBytes
	KindString
	KindSeq
	KindSet
	KindMap
	KindPair
	KindTuple
	KindRecord
	KindArray
)

var kindNames = [...]string{
	KindInvalid: "invalid",
	KindBool:    "bool",
	KindU8:      "u8",
	KindU16:     "u16",
	KindU32:     "u32",
	KindU64:     "u64",
	KindU128:    "u128",
	KindI8:      "i8",
	KindI16:     "i16",
	KindI32:     "i32",
	KindI64:     "i64",
	KindI128:    "i128",
	KindAddress: "address",
	KindH256:    "h256",
	KindBytes:   "bytes",
	KindString:  "string",
	KindSeq:     "seq",
	KindSet:     "set",
	KindMap:     "map",
	KindPair:    "pair",
	KindTuple:   "tuple",
	KindRecord:  "record",
	KindArray:   "array",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// IsInteger reports whether k is one of the fixed width integer kinds.
func (k Kind) IsInteger() bool {
	return k >= KindU8 && k <= KindI128
}

// Signed reports whether k is a signed integer kind.
func (k Kind) Signed() bool {
	return k >= KindI8 && k <= KindI128
}

// Bits is the width of an integer kind, 0 for everything else.
func (k Kind) Bits() uint {
	switch k {
	case KindU8, KindI8:
		return 8
	case KindU16, KindI16:
		return 16
	case KindU32, KindI32:
		return 32
	case KindU64, KindI64:
		return 64
	case KindU128, KindI128:
		return 128
	}
	return 0
}

// IsComposite reports whether values of kind k hold other values.
func (k Kind) IsComposite() bool {
	return k >= KindSeq
}
