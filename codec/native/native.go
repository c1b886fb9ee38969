// Package native implements the argument encoding used between WASM
// contracts.
//
// Scalars are little-endian and fixed width, 128-bit integers take 16 bytes.
// Bytes and strings carry a varuint length, seqs, sets and maps a varuint
// count. Pairs, tuples and records are the concatenation of their fields;
// arrays have a fixed length and no prefix. A call is the method name as a
// varstring followed by the encoded arguments.
package native

import (
	"unicode/utf8"

	"github.com/holiman/uint256"

	"github.com/wippyai/chainvm/codec"
	"github.com/wippyai/chainvm/common"
	"github.com/wippyai/chainvm/errors"
)

// maxZeroSized bounds the element count of collections whose elements
// encode to nothing.
const maxZeroSized = 1 << 16

// Codec is the native encoding. The zero value is ready to use.
type Codec struct{}

var _ codec.Codec = Codec{}

func (Codec) Name() string { return "native" }

func (Codec) Encode(v codec.Value) ([]byte, error) {
	sink := common.NewZeroCopySink(nil)
	if err := encode(sink, v, nil); err != nil {
		return nil, err
	}
	return sink.Bytes(), nil
}

func (Codec) Decode(data []byte, s codec.Shape) (codec.Value, error) {
	src := common.NewZeroCopySource(data)
	v, err := decode(src, s, nil)
	if err != nil {
		return codec.Value{}, err
	}
	if src.Len() != 0 {
		return codec.Value{}, trailing(src)
	}
	return v, nil
}

// EncodeCall encodes a method invocation.
func EncodeCall(method string, args ...codec.Value) ([]byte, error) {
	sink := common.NewZeroCopySink(nil)
	sink.WriteString(method)
	for i, a := range args {
		if err := encode(sink, a, codec.Index(nil, i)); err != nil {
			return nil, err
		}
	}
	return sink.Bytes(), nil
}

// DecodeCall splits an invocation into its method and arguments.
func DecodeCall(data []byte, shapes ...codec.Shape) (string, []codec.Value, error) {
	src := common.NewZeroCopySource(data)
	method, err := src.NextString()
	if err != nil {
		return "", nil, truncated(nil, "method", err)
	}
	args := make([]codec.Value, len(shapes))
	for i, s := range shapes {
		if args[i], err = decode(src, s, codec.Index(nil, i)); err != nil {
			return "", nil, err
		}
	}
	if src.Len() != 0 {
		return "", nil, trailing(src)
	}
	return method, args, nil
}

func encode(sink *common.ZeroCopySink, v codec.Value, path []string) error {
	k := v.Kind()
	switch {
	case k == codec.KindBool:
		sink.WriteBool(v.AsBool())
	case k.IsInteger():
		writeInt(sink, v.Uint256(), k.Bits())
	case k == codec.KindAddress:
		sink.WriteAddress(v.AsAddress())
	case k == codec.KindH256:
		sink.WriteHash(v.AsH256())
	case k == codec.KindBytes, k == codec.KindString:
		sink.WriteVarBytes(v.AsBytes())
	case k == codec.KindSeq, k == codec.KindSet:
		sink.WriteVarUint(uint64(len(v.Items())))
		return encodeAll(sink, v.Items(), path)
	case k == codec.KindMap:
		sink.WriteVarUint(uint64(len(v.Entries())))
		for i, e := range v.Entries() {
			p := codec.Index(path, i)
			if err := encode(sink, e.Key, codec.Child(p, "key")); err != nil {
				return err
			}
			if err := encode(sink, e.Val, codec.Child(p, "value")); err != nil {
				return err
			}
		}
	case k == codec.KindPair, k == codec.KindTuple, k == codec.KindRecord, k == codec.KindArray:
		return encodeAll(sink, v.Items(), path)
	default:
		return errors.Unsupported(errors.PhaseEncode, "value kind "+k.String())
	}
	return nil
}

func encodeAll(sink *common.ZeroCopySink, items []codec.Value, path []string) error {
	for i, it := range items {
		if err := encode(sink, it, codec.Index(path, i)); err != nil {
			return err
		}
	}
	return nil
}

// writeInt writes the low bits of z little-endian.
func writeInt(sink *common.ZeroCopySink, z *uint256.Int, bits uint) {
	be := z.Bytes32()
	n := int(bits / 8)
	for i := 0; i < n; i++ {
		sink.WriteUint8(be[31-i])
	}
}

func readInt(src *common.ZeroCopySource, k codec.Kind, path []string) (codec.Value, error) {
	n := k.Bits() / 8
	le, err := src.NextBytes(uint64(n))
	if err != nil {
		return codec.Value{}, truncated(path, k.String(), err)
	}
	be := make([]byte, n)
	for i := range le {
		be[int(n)-1-i] = le[i]
	}
	var z uint256.Int
	z.SetBytes(be)
	if k.Signed() && le[n-1]&0x80 != 0 {
		// sign extend to 256 bits
		var m uint256.Int
		m.Lsh(uint256.NewInt(1), k.Bits())
		z.Sub(&z, &m)
	}
	return codec.FromUint256(k, &z, path)
}

func decode(src *common.ZeroCopySource, s codec.Shape, path []string) (codec.Value, error) {
	k := s.Kind
	switch {
	case k == codec.KindBool:
		b, err := src.NextBool()
		if err != nil {
			return codec.Value{}, truncated(path, "bool", err)
		}
		return codec.Bool(b), nil
	case k.IsInteger():
		return readInt(src, k, path)
	case k == codec.KindAddress:
		a, err := src.NextAddress()
		if err != nil {
			return codec.Value{}, truncated(path, "address", err)
		}
		return codec.Address(a), nil
	case k == codec.KindH256:
		h, err := src.NextHash()
		if err != nil {
			return codec.Value{}, truncated(path, "h256", err)
		}
		return codec.H256(h), nil
	case k == codec.KindBytes:
		b, err := src.NextVarBytes()
		if err != nil {
			return codec.Value{}, truncated(path, "bytes", err)
		}
		return codec.Bytes(b), nil
	case k == codec.KindString:
		b, err := src.NextVarBytes()
		if err != nil {
			return codec.Value{}, truncated(path, "string", err)
		}
		if !utf8.Valid(b) {
			return codec.Value{}, errors.InvalidData(errors.PhaseDecode, path, "string is not valid UTF-8")
		}
		return codec.String(string(b)), nil
	case k == codec.KindSeq, k == codec.KindSet:
		items, err := decodeCollection(src, s.Elem, path)
		if err != nil {
			return codec.Value{}, err
		}
		if k == codec.KindSeq {
			return codec.Seq(items...), nil
		}
		v := codec.Set(items...)
		if err := codec.CheckDistinct(v, path); err != nil {
			return codec.Value{}, err
		}
		return v, nil
	case k == codec.KindMap:
		return decodeMap(src, s, path)
	case k == codec.KindPair, k == codec.KindTuple, k == codec.KindRecord:
		if k == codec.KindPair && len(s.Items) != 2 {
			return codec.Value{}, errors.InvalidInput(errors.PhaseDecode, "pair shape needs two items")
		}
		items, err := decodeFields(src, s.Items, path, s.Names)
		if err != nil {
			return codec.Value{}, err
		}
		switch k {
		case codec.KindPair:
			return codec.Pair(items[0], items[1]), nil
		case codec.KindRecord:
			return codec.WithRecordNames(items, s), nil
		}
		return codec.Tuple(items...), nil
	case k == codec.KindArray:
		if s.Elem == nil {
			return codec.Value{}, errors.InvalidInput(errors.PhaseDecode, "array shape has no element")
		}
		items := make([]codec.Value, s.Len)
		for i := range items {
			var err error
			if items[i], err = decode(src, *s.Elem, codec.Index(path, i)); err != nil {
				return codec.Value{}, err
			}
		}
		return codec.Array(items...), nil
	}
	return codec.Value{}, errors.Unsupported(errors.PhaseDecode, "shape "+s.String())
}

func decodeFields(src *common.ZeroCopySource, shapes []codec.Shape, path, names []string) ([]codec.Value, error) {
	items := make([]codec.Value, len(shapes))
	for i, fs := range shapes {
		p := codec.Index(path, i)
		if i < len(names) {
			p = codec.Child(path, names[i])
		}
		var err error
		if items[i], err = decode(src, fs, p); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func readCount(src *common.ZeroCopySource, elem []*codec.Shape, path []string) (uint64, error) {
	n, err := src.NextVarUint()
	if err != nil {
		return 0, truncated(path, "count", err)
	}
	if n == 0 {
		return 0, nil
	}
	var each uint64
	for _, e := range elem {
		if e == nil {
			return 0, errors.InvalidInput(errors.PhaseDecode, "collection shape has no element")
		}
		each += minSize(*e)
	}
	if each > 0 && n > uint64(src.Len())/each {
		return 0, errors.OutOfBounds(errors.PhaseDecode, path, int(n), src.Len())
	}
	if each == 0 && n > maxZeroSized {
		return 0, errors.Overflow(errors.PhaseDecode, path, n, "collection")
	}
	return n, nil
}

func decodeCollection(src *common.ZeroCopySource, elem *codec.Shape, path []string) ([]codec.Value, error) {
	n, err := readCount(src, []*codec.Shape{elem}, path)
	if err != nil {
		return nil, err
	}
	items := make([]codec.Value, n)
	for i := range items {
		if items[i], err = decode(src, *elem, codec.Index(path, i)); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func decodeMap(src *common.ZeroCopySource, s codec.Shape, path []string) (codec.Value, error) {
	n, err := readCount(src, []*codec.Shape{s.Key, s.Val}, path)
	if err != nil {
		return codec.Value{}, err
	}
	entries := make([]codec.Entry, n)
	for i := range entries {
		p := codec.Index(path, i)
		if entries[i].Key, err = decode(src, *s.Key, codec.Child(p, "key")); err != nil {
			return codec.Value{}, err
		}
		if entries[i].Val, err = decode(src, *s.Val, codec.Child(p, "value")); err != nil {
			return codec.Value{}, err
		}
	}
	v := codec.Map(entries...)
	if err := codec.CheckDistinct(v, path); err != nil {
		return codec.Value{}, err
	}
	return v, nil
}

// minSize is the smallest encoding of a value of shape s.
func minSize(s codec.Shape) uint64 {
	switch {
	case s.Kind == codec.KindBool:
		return 1
	case s.Kind.IsInteger():
		return uint64(s.Kind.Bits() / 8)
	case s.Kind == codec.KindAddress:
		return common.AddrLen
	case s.Kind == codec.KindH256:
		return common.HashLen
	case s.Kind == codec.KindBytes, s.Kind == codec.KindString,
		s.Kind == codec.KindSeq, s.Kind == codec.KindSet, s.Kind == codec.KindMap:
		return 1
	case s.Kind == codec.KindArray:
		if s.Elem == nil {
			return 0
		}
		return uint64(s.Len) * minSize(*s.Elem)
	}
	var n uint64
	for _, it := range s.Items {
		n += minSize(it)
	}
	return n
}

func truncated(path []string, what string, cause error) error {
	return errors.New(errors.PhaseDecode, errors.KindInvalidData).
		Path(path...).
		Cause(cause).
		Detail("read %s", what).
		Build()
}

func trailing(src *common.ZeroCopySource) error {
	return errors.New(errors.PhaseDecode, errors.KindInvalidData).
		Value(src.Len()).
		Detail("%d trailing bytes", src.Len()).
		Build()
}
