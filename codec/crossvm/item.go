package crossvm

import (
	"fmt"
	"math/big"

	"github.com/wippyai/chainvm/common"
	"github.com/wippyai/chainvm/errors"
)

// Tag identifies an item on the wire.
type Tag byte

const (
	TagByteArray Tag = 0x00
	TagString    Tag = 0x01
	TagAddress   Tag = 0x02
	TagBool      Tag = 0x03
	TagInt       Tag = 0x04
	TagH256      Tag = 0x05
	TagList      Tag = 0x10
)

func (t Tag) String() string {
	switch t {
	case TagByteArray:
		return "bytearray"
	case TagString:
		return "string"
	case TagAddress:
		return "address"
	case TagBool:
		return "bool"
	case TagInt:
		return "int"
	case TagH256:
		return "h256"
	case TagList:
		return "list"
	}
	return fmt.Sprintf("tag(0x%02x)", byte(t))
}

// Version is the leading byte of every encoded parameter sequence.
const Version byte = 0

const (
	// MaxIntLen is the longest integer payload the legacy VM accepts.
	MaxIntLen = 32
	// MaxNesting bounds list nesting when parsing.
	MaxNesting = 64
)

// Item is one untyped wire item. Bytes holds the payload of byte arrays,
// strings, addresses and hashes.
type Item struct {
	Int   *big.Int
	Bytes []byte
	List  []Item
	Tag   Tag
	Bool  bool
}

func ByteArrayItem(b []byte) Item { return Item{Tag: TagByteArray, Bytes: b} }
func StringItem(s string) Item    { return Item{Tag: TagString, Bytes: []byte(s)} }
func BoolItem(v bool) Item        { return Item{Tag: TagBool, Bool: v} }
func IntItem(x *big.Int) Item     { return Item{Tag: TagInt, Int: x} }
func ListItem(items ...Item) Item { return Item{Tag: TagList, List: items} }

func AddressItem(a common.Address) Item { return Item{Tag: TagAddress, Bytes: a[:]} }
func H256Item(h common.H256) Item       { return Item{Tag: TagH256, Bytes: h[:]} }

// EncodeItems writes the version byte followed by items.
func EncodeItems(items ...Item) ([]byte, error) {
	sink := common.NewZeroCopySink(nil)
	sink.WriteUint8(Version)
	for _, it := range items {
		if err := AppendItem(sink, it); err != nil {
			return nil, err
		}
	}
	return sink.Bytes(), nil
}

// AppendItem writes one item without a version byte.
func AppendItem(sink *common.ZeroCopySink, it Item) error {
	sink.WriteUint8(byte(it.Tag))
	switch it.Tag {
	case TagByteArray, TagString:
		sink.WriteUint32(uint32(len(it.Bytes)))
		sink.WriteBytes(it.Bytes)
	case TagAddress:
		if len(it.Bytes) != common.AddrLen {
			return errors.InvalidData(errors.PhaseEncode, nil, "address item is not 20 bytes")
		}
		sink.WriteBytes(it.Bytes)
	case TagH256:
		if len(it.Bytes) != common.HashLen {
			return errors.InvalidData(errors.PhaseEncode, nil, "h256 item is not 32 bytes")
		}
		sink.WriteBytes(it.Bytes)
	case TagBool:
		sink.WriteBool(it.Bool)
	case TagInt:
		x := it.Int
		if x == nil {
			x = new(big.Int)
		}
		b := common.BigIntToNeoBytes(x)
		if len(b) > MaxIntLen {
			return errors.Overflow(errors.PhaseEncode, nil, x, "legacy integer")
		}
		sink.WriteUint32(uint32(len(b)))
		sink.WriteBytes(b)
	case TagList:
		sink.WriteUint32(uint32(len(it.List)))
		for _, sub := range it.List {
			if err := AppendItem(sink, sub); err != nil {
				return err
			}
		}
	default:
		return errors.Unsupported(errors.PhaseEncode, it.Tag.String())
	}
	return nil
}

// DecodeItems parses a version byte followed by items up to the end of
// data.
func DecodeItems(data []byte) ([]Item, error) {
	src := common.NewZeroCopySource(data)
	ver, err := src.NextByte()
	if err != nil {
		return nil, errors.Wrap(errors.PhaseDecode, errors.KindInvalidData, err, "read version")
	}
	if ver != Version {
		return nil, errors.New(errors.PhaseDecode, errors.KindUnsupported).
			Value(ver).
			Detail("version %d", ver).
			Build()
	}
	var items []Item
	for src.Len() > 0 {
		it, err := readItem(src, 0)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, nil
}

func readItem(src *common.ZeroCopySource, depth int) (Item, error) {
	if depth > MaxNesting {
		return Item{}, errors.Overflow(errors.PhaseDecode, nil, depth, "list nesting")
	}
	t, err := src.NextByte()
	if err != nil {
		return Item{}, short("tag", err)
	}
	it := Item{Tag: Tag(t)}
	switch it.Tag {
	case TagByteArray, TagString:
		n, err := src.NextUint32()
		if err != nil {
			return Item{}, short(it.Tag.String(), err)
		}
		b, err := src.NextBytes(uint64(n))
		if err != nil {
			return Item{}, short(it.Tag.String(), err)
		}
		it.Bytes = append([]byte{}, b...)
	case TagAddress, TagH256:
		n := uint64(common.AddrLen)
		if it.Tag == TagH256 {
			n = common.HashLen
		}
		b, err := src.NextBytes(n)
		if err != nil {
			return Item{}, short(it.Tag.String(), err)
		}
		it.Bytes = append([]byte{}, b...)
	case TagBool:
		if it.Bool, err = src.NextBool(); err != nil {
			return Item{}, short("bool", err)
		}
	case TagInt:
		n, err := src.NextUint32()
		if err != nil {
			return Item{}, short("int", err)
		}
		if n > MaxIntLen {
			return Item{}, errors.Overflow(errors.PhaseDecode, nil, fmt.Sprintf("%d byte integer", n), "legacy integer")
		}
		b, err := src.NextBytes(uint64(n))
		if err != nil {
			return Item{}, short("int", err)
		}
		it.Int = common.BigIntFromNeoBytes(b)
	case TagList:
		n, err := src.NextUint32()
		if err != nil {
			return Item{}, short("list", err)
		}
		// every item takes at least two bytes
		if uint64(n) > uint64(src.Len())/2 {
			return Item{}, errors.OutOfBounds(errors.PhaseDecode, nil, int(n), src.Len())
		}
		it.List = make([]Item, n)
		for i := range it.List {
			if it.List[i], err = readItem(src, depth+1); err != nil {
				return Item{}, err
			}
		}
	default:
		return Item{}, errors.New(errors.PhaseDecode, errors.KindUnsupported).
			Value(t).
			Detail("unknown tag 0x%02x", t).
			Build()
	}
	return it, nil
}

func short(what string, cause error) error {
	return errors.New(errors.PhaseDecode, errors.KindInvalidData).
		Cause(cause).
		Detail("read %s", what).
		Build()
}
