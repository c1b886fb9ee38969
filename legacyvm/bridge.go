package legacyvm

import (
	"github.com/wippyai/chainvm/codec/crossvm"
	"github.com/wippyai/chainvm/common"
	"github.com/wippyai/chainvm/errors"
)

// maxResultLen bounds the encoded size of a result.
const maxResultLen = 1 << 20

// FromItem converts a cross-VM item into a legacy value. Strings,
// addresses and hashes become byte arrays.
func FromItem(it crossvm.Item) (Value, error) {
	switch it.Tag {
	case crossvm.TagByteArray, crossvm.TagString, crossvm.TagAddress, crossvm.TagH256:
		return NewByteArray(it.Bytes), nil
	case crossvm.TagBool:
		return NewBool(it.Bool), nil
	case crossvm.TagInt:
		return NewInt(it.Int)
	case crossvm.TagList:
		items := make([]Value, len(it.List))
		for i, sub := range it.List {
			v, err := FromItem(sub)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return NewArray(items...), nil
	}
	return Value{}, errors.Unsupported(errors.PhaseDecode, it.Tag.String())
}

// ToItem converts a legacy result into a cross-VM item. Structs travel as
// lists.
func ToItem(v Value) (crossvm.Item, error) {
	switch v.typ {
	case TypeByteArray:
		return crossvm.ByteArrayItem(v.data), nil
	case TypeBoolean:
		return crossvm.BoolItem(v.b), nil
	case TypeInteger:
		return crossvm.IntItem(v.n), nil
	case TypeArray, TypeStruct:
		list := make([]crossvm.Item, len(v.items))
		for i, sub := range v.items {
			it, err := ToItem(sub)
			if err != nil {
				return crossvm.Item{}, err
			}
			list[i] = it
		}
		return crossvm.ListItem(list...), nil
	}
	return crossvm.Item{}, errors.Unsupported(errors.PhaseEncode, "legacy result "+v.typ.String())
}

// BuildResult encodes a legacy result as a versioned cross-VM item.
func BuildResult(v Value) ([]byte, error) {
	it, err := ToItem(v)
	if err != nil {
		return nil, err
	}
	sink := common.NewZeroCopySink(nil)
	sink.WriteUint8(crossvm.Version)
	if err := crossvm.AppendItem(sink, it); err != nil {
		return nil, err
	}
	if sink.Size() > maxResultLen {
		return nil, errors.New(errors.PhaseEncode, errors.KindOverflow).
			Value(sink.Size()).
			Detail("result of %d bytes", sink.Size()).
			Build()
	}
	return sink.Bytes(), nil
}

// ParseCall decodes an invocation: the method followed by an optional
// argument list.
func ParseCall(input []byte) (string, []Value, error) {
	items, err := crossvm.DecodeItems(input)
	if err != nil {
		return "", nil, err
	}
	if len(items) == 0 || len(items) > 2 {
		return "", nil, errors.InvalidData(errors.PhaseDecode, nil, "expected method and argument list")
	}
	switch items[0].Tag {
	case crossvm.TagString, crossvm.TagByteArray:
	default:
		return "", nil, errors.TypeMismatch(errors.PhaseDecode, []string{"method"}, "string", items[0].Tag.String())
	}
	method := string(items[0].Bytes)
	if len(items) == 1 {
		return method, nil, nil
	}
	if items[1].Tag != crossvm.TagList {
		return "", nil, errors.TypeMismatch(errors.PhaseDecode, []string{"args"}, "list", items[1].Tag.String())
	}
	args, err := FromItem(items[1])
	if err != nil {
		return "", nil, err
	}
	return method, args.Items(), nil
}
