// Package crossvm implements the tagged encoding used to call into the
// legacy VM and to carry its results back.
//
// An encoding is a version byte (0) followed by tagged items. Sets, pairs,
// tuples, records and arrays travel as lists, maps as lists of two element
// lists. Integers are minimal two's complement and decode into the width the
// caller asks for; values that do not fit fail with an overflow error.
package crossvm

import (
	"math/big"
	"unicode/utf8"

	"github.com/wippyai/chainvm/codec"
	"github.com/wippyai/chainvm/common"
	"github.com/wippyai/chainvm/errors"
)

// Codec is the cross-VM encoding. The zero value is ready to use.
type Codec struct{}

var _ codec.Codec = Codec{}

func (Codec) Name() string { return "crossvm" }

func (Codec) Encode(v codec.Value) ([]byte, error) {
	it, err := ToItem(v)
	if err != nil {
		return nil, err
	}
	return EncodeItems(it)
}

func (Codec) Decode(data []byte, s codec.Shape) (codec.Value, error) {
	items, err := DecodeItems(data)
	if err != nil {
		return codec.Value{}, err
	}
	if len(items) != 1 {
		return codec.Value{}, errors.InvalidData(errors.PhaseDecode, nil, "expected exactly one item")
	}
	return FromItem(items[0], s, nil)
}

// EncodeCall encodes a legacy contract invocation: the method as a string
// followed by the arguments as one list.
func EncodeCall(method string, args ...codec.Value) ([]byte, error) {
	list := make([]Item, len(args))
	for i, a := range args {
		it, err := ToItem(a)
		if err != nil {
			return nil, err
		}
		list[i] = it
	}
	return EncodeItems(StringItem(method), ListItem(list...))
}

// DecodeCall is the inverse of EncodeCall.
func DecodeCall(data []byte, shapes ...codec.Shape) (string, []codec.Value, error) {
	items, err := DecodeItems(data)
	if err != nil {
		return "", nil, err
	}
	if len(items) != 2 {
		return "", nil, errors.InvalidData(errors.PhaseDecode, nil, "expected method and argument list")
	}
	m, err := FromItem(items[0], codec.Of(codec.KindString), []string{"method"})
	if err != nil {
		return "", nil, err
	}
	args, err := FromItem(items[1], codec.TupleOf(shapes...), []string{"args"})
	if err != nil {
		return "", nil, err
	}
	return m.AsString(), args.Items(), nil
}

// ToItem converts a value to its wire item.
func ToItem(v codec.Value) (Item, error) {
	k := v.Kind()
	switch {
	case k == codec.KindBool:
		return BoolItem(v.AsBool()), nil
	case k.IsInteger():
		return IntItem(v.Big()), nil
	case k == codec.KindAddress:
		return AddressItem(v.AsAddress()), nil
	case k == codec.KindH256:
		return H256Item(v.AsH256()), nil
	case k == codec.KindBytes:
		return ByteArrayItem(v.AsBytes()), nil
	case k == codec.KindString:
		return StringItem(v.AsString()), nil
	case k == codec.KindMap:
		list := make([]Item, len(v.Entries()))
		for i, e := range v.Entries() {
			key, err := ToItem(e.Key)
			if err != nil {
				return Item{}, err
			}
			val, err := ToItem(e.Val)
			if err != nil {
				return Item{}, err
			}
			list[i] = ListItem(key, val)
		}
		return ListItem(list...), nil
	case k.IsComposite():
		list := make([]Item, len(v.Items()))
		for i, sub := range v.Items() {
			it, err := ToItem(sub)
			if err != nil {
				return Item{}, err
			}
			list[i] = it
		}
		return ListItem(list...), nil
	}
	return Item{}, errors.Unsupported(errors.PhaseEncode, "value kind "+k.String())
}

// FromItem converts a wire item into a value of shape s.
func FromItem(it Item, s codec.Shape, path []string) (codec.Value, error) {
	k := s.Kind
	mismatch := func() error {
		return errors.TypeMismatch(errors.PhaseDecode, path, s.String(), it.Tag.String())
	}
	switch {
	case k == codec.KindBool:
		if it.Tag != TagBool {
			return codec.Value{}, mismatch()
		}
		return codec.Bool(it.Bool), nil
	case k.IsInteger():
		if it.Tag != TagInt {
			return codec.Value{}, mismatch()
		}
		if it.Int == nil {
			return codec.FromBig(k, new(big.Int), path)
		}
		return codec.FromBig(k, it.Int, path)
	case k == codec.KindAddress:
		// the legacy VM has no address type and returns addresses as byte arrays
		if it.Tag != TagAddress && !(it.Tag == TagByteArray && len(it.Bytes) == common.AddrLen) {
			return codec.Value{}, mismatch()
		}
		a, _ := common.AddressFromBytes(it.Bytes)
		return codec.Address(a), nil
	case k == codec.KindH256:
		if it.Tag != TagH256 && !(it.Tag == TagByteArray && len(it.Bytes) == common.HashLen) {
			return codec.Value{}, mismatch()
		}
		h, _ := common.H256FromBytes(it.Bytes)
		return codec.H256(h), nil
	case k == codec.KindBytes:
		if it.Tag != TagByteArray && it.Tag != TagString {
			return codec.Value{}, mismatch()
		}
		return codec.Bytes(it.Bytes), nil
	case k == codec.KindString:
		if it.Tag != TagByteArray && it.Tag != TagString {
			return codec.Value{}, mismatch()
		}
		if !utf8.Valid(it.Bytes) {
			return codec.Value{}, errors.InvalidData(errors.PhaseDecode, path, "string is not valid UTF-8")
		}
		return codec.String(string(it.Bytes)), nil
	}

	if it.Tag != TagList {
		return codec.Value{}, mismatch()
	}
	switch k {
	case codec.KindSeq, codec.KindSet, codec.KindArray:
		if k == codec.KindArray && len(it.List) != s.Len {
			return codec.Value{}, errors.New(errors.PhaseDecode, errors.KindTypeMismatch).
				Path(path...).
				Detail("array of %d, got %d items", s.Len, len(it.List)).
				Build()
		}
		if len(it.List) > 0 && s.Elem == nil {
			return codec.Value{}, errors.InvalidInput(errors.PhaseDecode, "collection shape has no element")
		}
		items := make([]codec.Value, len(it.List))
		for i, sub := range it.List {
			var err error
			if items[i], err = FromItem(sub, *s.Elem, codec.Index(path, i)); err != nil {
				return codec.Value{}, err
			}
		}
		switch k {
		case codec.KindSeq:
			return codec.Seq(items...), nil
		case codec.KindArray:
			return codec.Array(items...), nil
		}
		v := codec.Set(items...)
		if err := codec.CheckDistinct(v, path); err != nil {
			return codec.Value{}, err
		}
		return v, nil
	case codec.KindMap:
		if len(it.List) > 0 && (s.Key == nil || s.Val == nil) {
			return codec.Value{}, errors.InvalidInput(errors.PhaseDecode, "map shape has no key or value")
		}
		entries := make([]codec.Entry, len(it.List))
		for i, sub := range it.List {
			p := codec.Index(path, i)
			if sub.Tag != TagList || len(sub.List) != 2 {
				return codec.Value{}, errors.TypeMismatch(errors.PhaseDecode, p, "two element list", sub.Tag.String())
			}
			var err error
			if entries[i].Key, err = FromItem(sub.List[0], *s.Key, codec.Child(p, "key")); err != nil {
				return codec.Value{}, err
			}
			if entries[i].Val, err = FromItem(sub.List[1], *s.Val, codec.Child(p, "value")); err != nil {
				return codec.Value{}, err
			}
		}
		v := codec.Map(entries...)
		if err := codec.CheckDistinct(v, path); err != nil {
			return codec.Value{}, err
		}
		return v, nil
	case codec.KindPair, codec.KindTuple, codec.KindRecord:
		if len(it.List) != len(s.Items) {
			return codec.Value{}, errors.New(errors.PhaseDecode, errors.KindTypeMismatch).
				Path(path...).
				Detail("%s of %d, got %d items", k, len(s.Items), len(it.List)).
				Build()
		}
		items := make([]codec.Value, len(it.List))
		for i, sub := range it.List {
			p := codec.Index(path, i)
			if k == codec.KindRecord && i < len(s.Names) {
				p = codec.Child(path, s.Names[i])
			}
			var err error
			if items[i], err = FromItem(sub, s.Items[i], p); err != nil {
				return codec.Value{}, err
			}
		}
		switch k {
		case codec.KindPair:
			return codec.Pair(items[0], items[1]), nil
		case codec.KindRecord:
			return codec.WithRecordNames(items, s), nil
		}
		return codec.Tuple(items...), nil
	}
	return codec.Value{}, errors.Unsupported(errors.PhaseDecode, "shape "+s.String())
}
