package legacyvm

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/wippyai/chainvm/errors"
)

// Opcodes understood by ScriptContract.
const (
	OpPush0     byte = 0x00
	OpPushBytes byte = 0x01 // 0x01..0x4B push the next n bytes
	OpPushData1 byte = 0x4C
	OpPushM1    byte = 0x4F
	OpPush1     byte = 0x51 // 0x51..0x60 push 1..16
	OpPush16    byte = 0x60
	OpNop       byte = 0x61
	OpJmp       byte = 0x62
	OpJmpIf     byte = 0x63
	OpJmpIfNot  byte = 0x64
	OpRet       byte = 0x66
	OpDrop      byte = 0x75
	OpDup       byte = 0x76
	OpSwap      byte = 0x7C
	OpCat       byte = 0x7E
	OpEqual     byte = 0x87
	OpNegate    byte = 0x8F
	OpAdd       byte = 0x93
	OpSub       byte = 0x94
	OpMul       byte = 0x95
	OpPack      byte = 0xC1
	OpUnpack    byte = 0xC2
	OpThrow     byte = 0xF0
)

const (
	maxStack    = 2048
	maxItemSize = 1 << 20
)

// ScriptContract interprets stack bytecode. On entry the stack holds the
// argument array with the method name on top. The value on top of the
// stack at RET, if any, is the result.
type ScriptContract struct {
	code []byte
}

// NewScriptContract checks code and wraps it.
func NewScriptContract(code []byte) (*ScriptContract, error) {
	if err := ParseScript(code); err != nil {
		return nil, err
	}
	return &ScriptContract{code: code}, nil
}

// ParseScript checks that every instruction is known, its operands are
// complete, and every jump lands on an instruction boundary.
func ParseScript(code []byte) error {
	if len(code) == 0 {
		return errors.Validation([]string{"script"}, "empty script")
	}
	starts := make(map[int]bool)
	var jumps [][2]int
	for pc := 0; pc < len(code); {
		starts[pc] = true
		next, target, err := step(code, pc)
		if err != nil {
			return err
		}
		if target >= 0 {
			jumps = append(jumps, [2]int{pc, target})
		}
		pc = next
	}
	for _, j := range jumps {
		if !starts[j[1]] {
			return errors.Validation([]string{"script", fmt.Sprint(j[0])}, "jump to %d is not an instruction", j[1])
		}
	}
	return nil
}

// step decodes the instruction at pc and returns the next pc and, for
// jumps, the target (otherwise -1).
func step(code []byte, pc int) (int, int, error) {
	op := code[pc]
	bad := func(detail string) (int, int, error) {
		return 0, 0, errors.Validation([]string{"script", fmt.Sprint(pc)}, "opcode 0x%02x: %s", op, detail)
	}
	switch {
	case op >= OpPushBytes && op < OpPushData1:
		n := int(op)
		if pc+1+n > len(code) {
			return bad("truncated push")
		}
		return pc + 1 + n, -1, nil
	case op == OpPushData1:
		if pc+1 >= len(code) {
			return bad("truncated length")
		}
		n := int(code[pc+1])
		if pc+2+n > len(code) {
			return bad("truncated push")
		}
		return pc + 2 + n, -1, nil
	case op == OpJmp, op == OpJmpIf, op == OpJmpIfNot:
		if pc+3 > len(code) {
			return bad("truncated offset")
		}
		off := int(int16(binary.LittleEndian.Uint16(code[pc+1:])))
		target := pc + off
		if target < 0 || target >= len(code) {
			return bad("jump out of range")
		}
		return pc + 3, target, nil
	case op == OpPush0, op == OpPushM1, op >= OpPush1 && op <= OpPush16,
		op == OpNop, op == OpRet, op == OpDrop, op == OpDup, op == OpSwap,
		op == OpCat, op == OpEqual, op == OpNegate, op == OpAdd, op == OpSub,
		op == OpMul, op == OpPack, op == OpUnpack, op == OpThrow:
		return pc + 1, -1, nil
	}
	return bad("unknown")
}

type machine struct {
	stack []Value
}

func (m *machine) push(v Value) error {
	if len(m.stack) >= maxStack {
		return errors.Trap("stack overflow", nil)
	}
	m.stack = append(m.stack, v)
	return nil
}

func (m *machine) pop() (Value, error) {
	if len(m.stack) == 0 {
		return Value{}, errors.Trap("stack underflow", nil)
	}
	v := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	return v, nil
}

func (m *machine) popInt() (*big.Int, error) {
	v, err := m.pop()
	if err != nil {
		return nil, err
	}
	n, err := v.AsInt()
	if err != nil {
		return nil, errors.Trap("expected integer", err)
	}
	return n, nil
}

func (m *machine) pushInt(x *big.Int) error {
	v, err := NewInt(x)
	if err != nil {
		return errors.Trap("integer overflow", err)
	}
	return m.push(v)
}

func (c *ScriptContract) Invoke(env *Env, method string, args []Value) (Value, error) {
	m := &machine{}
	if err := m.push(NewArray(args...)); err != nil {
		return Value{}, err
	}
	if err := m.push(NewByteArray([]byte(method))); err != nil {
		return Value{}, err
	}

	costs := env.Ctx.Costs()
	code := c.code
	for pc := 0; pc < len(code); {
		if err := env.Ctx.ChargeSteps(costs.Opcode); err != nil {
			return Value{}, err
		}
		next, target, err := step(code, pc)
		if err != nil {
			return Value{}, err
		}
		op := code[pc]
		switch {
		case op == OpPush0:
			err = m.push(NewByteArray([]byte{}))
		case op >= OpPushBytes && op < OpPushData1:
			err = m.push(NewByteArray(code[pc+1 : next]))
		case op == OpPushData1:
			err = m.push(NewByteArray(code[pc+2 : next]))
		case op == OpPushM1:
			err = m.push(NewInt64(-1))
		case op >= OpPush1 && op <= OpPush16:
			err = m.push(NewInt64(int64(op-OpPush1) + 1))
		case op == OpNop:
		case op == OpJmp:
			next = target
		case op == OpJmpIf, op == OpJmpIfNot:
			var v Value
			if v, err = m.pop(); err == nil && v.AsBool() == (op == OpJmpIf) {
				next = target
			}
		case op == OpRet:
			if len(m.stack) == 0 {
				return NewByteArray(nil), nil
			}
			return m.pop()
		case op == OpDrop:
			_, err = m.pop()
		case op == OpDup:
			if len(m.stack) == 0 {
				err = errors.Trap("stack underflow", nil)
			} else {
				err = m.push(m.stack[len(m.stack)-1])
			}
		case op == OpSwap:
			err = m.swap()
		case op == OpCat:
			err = m.cat()
		case op == OpEqual:
			err = m.equal()
		case op == OpNegate:
			var x *big.Int
			if x, err = m.popInt(); err == nil {
				err = m.pushInt(new(big.Int).Neg(x))
			}
		case op == OpAdd, op == OpSub, op == OpMul:
			err = m.arith(op)
		case op == OpPack:
			err = m.pack()
		case op == OpUnpack:
			err = m.unpack()
		case op == OpThrow:
			return Value{}, errors.Trap("script threw", nil)
		}
		if err != nil {
			return Value{}, err
		}
		pc = next
	}
	// falling off the end behaves like RET
	if len(m.stack) == 0 {
		return NewByteArray(nil), nil
	}
	return m.pop()
}

func (m *machine) swap() error {
	if len(m.stack) < 2 {
		return errors.Trap("stack underflow", nil)
	}
	n := len(m.stack)
	m.stack[n-1], m.stack[n-2] = m.stack[n-2], m.stack[n-1]
	return nil
}

func (m *machine) cat() error {
	b, err := m.pop()
	if err != nil {
		return err
	}
	a, err := m.pop()
	if err != nil {
		return err
	}
	ab, err := a.AsBytes()
	if err != nil {
		return errors.Trap("cat operand", err)
	}
	bb, err := b.AsBytes()
	if err != nil {
		return errors.Trap("cat operand", err)
	}
	if len(ab)+len(bb) > maxItemSize {
		return errors.Trap("item too large", nil)
	}
	out := make([]byte, 0, len(ab)+len(bb))
	return m.push(NewByteArray(append(append(out, ab...), bb...)))
}

func (m *machine) equal() error {
	b, err := m.pop()
	if err != nil {
		return err
	}
	a, err := m.pop()
	if err != nil {
		return err
	}
	return m.push(NewBool(a.Equal(b)))
}

func (m *machine) arith(op byte) error {
	b, err := m.popInt()
	if err != nil {
		return err
	}
	a, err := m.popInt()
	if err != nil {
		return err
	}
	r := new(big.Int)
	switch op {
	case OpAdd:
		r.Add(a, b)
	case OpSub:
		r.Sub(a, b)
	case OpMul:
		r.Mul(a, b)
	}
	return m.pushInt(r)
}

// pack pops a count n and then n items, and pushes them as an array with
// the item popped first at index 0.
func (m *machine) pack() error {
	n, err := m.popInt()
	if err != nil {
		return err
	}
	if n.Sign() < 0 || !n.IsInt64() || n.Int64() > int64(len(m.stack)) {
		return errors.Trap("bad pack count", nil)
	}
	items := make([]Value, n.Int64())
	for i := range items {
		if items[i], err = m.pop(); err != nil {
			return err
		}
	}
	return m.push(NewArray(items...))
}

// unpack is the inverse of pack.
func (m *machine) unpack() error {
	v, err := m.pop()
	if err != nil {
		return err
	}
	if v.typ != TypeArray && v.typ != TypeStruct {
		return errors.Trap("unpack of "+v.typ.String(), nil)
	}
	for i := len(v.items) - 1; i >= 0; i-- {
		if err := m.push(v.items[i]); err != nil {
			return err
		}
	}
	return m.push(NewInt64(int64(len(v.items))))
}
