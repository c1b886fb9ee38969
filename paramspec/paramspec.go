// Package paramspec parses the textual parameter lists used on the command
// line to build invocation input.
//
// A list is a comma separated sequence of type:value items and bracketed
// sublists, for example
//
//	string:foo,[int:0,[bool:true,string:bar]],u128:340282366920938463463374607431768211455
//
// String values may be double quoted to include commas, brackets or
// surrounding spaces. A sublist whose items all have the same shape
// becomes a codec.Seq; a mixed sublist becomes a codec.Tuple.
package paramspec

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/wippyai/chainvm/codec"
	"github.com/wippyai/chainvm/common"
)

// Type names.
const (
	TypeBool      = "bool"
	TypeString    = "string"
	TypeInt       = "int"
	TypeU64       = "u64"
	TypeU128      = "u128"
	TypeI128      = "i128"
	TypeByteArray = "bytearray"
	TypeAddress   = "address"
	TypeH256      = "h256"
)

// SyntaxError reports malformed input at a byte offset.
type SyntaxError struct {
	Msg    string
	Offset int
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("paramspec: %s at offset %d", e.Msg, e.Offset)
}

// Parse parses s. An empty or blank string yields no values.
func Parse(s string) ([]codec.Value, error) {
	p := &parser{src: s}
	vals, err := p.list(false)
	if err != nil {
		return nil, err
	}
	return vals, nil
}

type parser struct {
	src string
	pos int
}

func (p *parser) errorf(format string, args ...any) error {
	return &SyntaxError{Msg: fmt.Sprintf(format, args...), Offset: p.pos}
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t') {
		p.pos++
	}
}

// list parses items up to the end of input, or up to the closing bracket
// when nested.
func (p *parser) list(nested bool) ([]codec.Value, error) {
	var out []codec.Value
	for {
		p.skipSpace()
		if p.pos == len(p.src) {
			if nested {
				return nil, p.errorf("unclosed [")
			}
			return out, nil
		}
		if p.src[p.pos] == ']' {
			if !nested {
				return nil, p.errorf("unexpected ]")
			}
			if len(out) > 0 {
				return nil, p.errorf("expected item after ,")
			}
			p.pos++
			return out, nil
		}

		v, err := p.item()
		if err != nil {
			return nil, err
		}
		out = append(out, v)

		p.skipSpace()
		if p.pos == len(p.src) {
			if nested {
				return nil, p.errorf("unclosed [")
			}
			return out, nil
		}
		switch p.src[p.pos] {
		case ',':
			p.pos++
		case ']':
			if !nested {
				return nil, p.errorf("unexpected ]")
			}
			p.pos++
			return out, nil
		default:
			return nil, p.errorf("expected , or ]")
		}
	}
}

func (p *parser) item() (codec.Value, error) {
	if p.src[p.pos] == '[' {
		p.pos++
		items, err := p.list(true)
		if err != nil {
			return codec.Value{}, err
		}
		return group(items), nil
	}

	start := p.pos
	i := strings.IndexAny(p.src[p.pos:], ":,[]")
	if i < 0 || p.src[p.pos+i] != ':' {
		return codec.Value{}, p.errorf("missing type")
	}
	typ := strings.ToLower(strings.TrimSpace(p.src[p.pos : p.pos+i]))
	p.pos += i + 1
	p.skipSpace()

	var raw string
	if p.pos < len(p.src) && p.src[p.pos] == '"' {
		q, err := strconv.QuotedPrefix(p.src[p.pos:])
		if err != nil {
			return codec.Value{}, p.errorf("bad quoted value")
		}
		p.pos += len(q)
		raw, _ = strconv.Unquote(q)
	} else {
		end := p.pos
		for end < len(p.src) && p.src[end] != ',' && p.src[end] != ']' && p.src[end] != '[' {
			end++
		}
		raw = strings.TrimSpace(p.src[p.pos:end])
		p.pos = end
	}

	v, err := Value(typ, raw)
	if err != nil {
		return codec.Value{}, fmt.Errorf("paramspec: item at offset %d: %w", start, err)
	}
	return v, nil
}

func group(items []codec.Value) codec.Value {
	if len(items) == 0 {
		return codec.Seq()
	}
	first := codec.ShapeOf(items[0]).String()
	for _, it := range items[1:] {
		if codec.ShapeOf(it).String() != first {
			return codec.Tuple(items...)
		}
	}
	return codec.Seq(items...)
}

// Value converts one typed value.
func Value(typ, raw string) (codec.Value, error) {
	switch typ {
	case TypeBool:
		switch strings.ToLower(raw) {
		case "true":
			return codec.Bool(true), nil
		case "false":
			return codec.Bool(false), nil
		}
		return codec.Value{}, fmt.Errorf("bool %q", raw)
	case TypeString:
		return codec.String(raw), nil
	case TypeInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return codec.Value{}, err
		}
		return codec.I64(n), nil
	case TypeU64:
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return codec.Value{}, err
		}
		return codec.U64(n), nil
	case TypeU128, TypeI128:
		x, ok := new(big.Int).SetString(raw, 10)
		if !ok {
			return codec.Value{}, fmt.Errorf("%s %q is not a decimal integer", typ, raw)
		}
		kind := codec.KindU128
		if typ == TypeI128 {
			kind = codec.KindI128
		}
		return codec.Integer(kind, x)
	case TypeByteArray:
		b, err := hex.DecodeString(strings.TrimPrefix(raw, "0x"))
		if err != nil {
			return codec.Value{}, err
		}
		return codec.Bytes(b), nil
	case TypeAddress:
		a, err := common.ParseAddress(raw)
		if err != nil {
			return codec.Value{}, err
		}
		return codec.Address(a), nil
	case TypeH256:
		h, err := common.H256FromHex(strings.TrimPrefix(raw, "0x"))
		if err != nil {
			return codec.Value{}, err
		}
		return codec.H256(h), nil
	}
	return codec.Value{}, fmt.Errorf("unknown type %q", typ)
}
