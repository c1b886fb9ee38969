package wasm

import (
	"fmt"

	wbin "github.com/wippyai/chainvm/wasm/internal/binary"
)

// Opcodes referenced by name outside the opcode table.
const (
	OpUnreachable  byte = 0x00
	OpNop          byte = 0x01
	OpBlock        byte = 0x02
	OpLoop         byte = 0x03
	OpIf           byte = 0x04
	OpElse         byte = 0x05
	OpEnd          byte = 0x0B
	OpBr           byte = 0x0C
	OpBrIf         byte = 0x0D
	OpBrTable      byte = 0x0E
	OpReturn       byte = 0x0F
	OpCall         byte = 0x10
	OpCallIndirect byte = 0x11
	OpDrop         byte = 0x1A
	OpSelect       byte = 0x1B
	OpLocalGet     byte = 0x20
	OpLocalSet     byte = 0x21
	OpLocalTee     byte = 0x22
	OpGlobalGet    byte = 0x23
	OpGlobalSet    byte = 0x24
	OpI32Load      byte = 0x28
	OpI64Load      byte = 0x29
	OpI32Store     byte = 0x36
	OpI64Store     byte = 0x37
	OpMemorySize   byte = 0x3F
	OpMemoryGrow   byte = 0x40
	OpI32Const     byte = 0x41
	OpI64Const     byte = 0x42
	OpI32Eqz       byte = 0x45
	OpI32Eq        byte = 0x46
	OpI32LtU       byte = 0x49
	OpI32GtU       byte = 0x4B
	OpI32GeU       byte = 0x4F
	OpI64Eqz       byte = 0x50
	OpI32Add       byte = 0x6A
	OpI32Sub       byte = 0x6B
	OpI32Mul       byte = 0x6C
	OpI64Add       byte = 0x7C
	OpI64Sub       byte = 0x7D
	OpI64Mul       byte = 0x7E
	OpI32WrapI64   byte = 0xA7
	OpI64ExtendI32 byte = 0xAD // unsigned
	OpPrefixFC     byte = 0xFC
)

// 0xFC sub-opcodes that are deterministic and allowed.
const (
	SubMemoryCopy uint32 = 10
	SubMemoryFill uint32 = 11
)

type immKind uint8

const (
	immInvalid immKind = iota
	immNone
	immBlockType
	immIndex
	immBrTable
	immCallIndirect
	immMemArg
	immZeroByte
	immI32
	immI64
	immPrefixFC
)

var opImm [256]immKind

func init() {
	set := func(kind immKind, ops ...byte) {
		for _, op := range ops {
			opImm[op] = kind
		}
	}
	set(immNone, OpUnreachable, OpNop, OpElse, OpEnd, OpReturn, OpDrop, OpSelect)
	set(immBlockType, OpBlock, OpLoop, OpIf)
	set(immIndex, OpBr, OpBrIf, OpCall, OpLocalGet, OpLocalSet, OpLocalTee, OpGlobalGet, OpGlobalSet)
	opImm[OpBrTable] = immBrTable
	opImm[OpCallIndirect] = immCallIndirect

	// integer loads and stores; float variants stay invalid
	for op := 0x28; op <= 0x3E; op++ {
		switch op {
		case 0x2A, 0x2B, 0x38, 0x39:
			continue
		}
		opImm[op] = immMemArg
	}
	set(immZeroByte, OpMemorySize, OpMemoryGrow)
	opImm[OpI32Const] = immI32
	opImm[OpI64Const] = immI64

	// i32 and i64 comparisons and arithmetic
	for op := 0x45; op <= 0x5A; op++ {
		opImm[op] = immNone
	}
	for op := 0x67; op <= 0x8A; op++ {
		opImm[op] = immNone
	}
	// i32.wrap_i64, i64.extend_i32_s/u and the sign-extension operators
	set(immNone, 0xA7, 0xAC, 0xAD, 0xC0, 0xC1, 0xC2, 0xC3, 0xC4)
	opImm[OpPrefixFC] = immPrefixFC
}

// Instr is one decoded instruction.
type Instr struct {
	Op     byte
	SubOp  uint32 // for the 0xFC prefix
	Offset int    // start within the expression
	End    int    // offset after the immediates
	Index  uint32 // call target, branch depth, local, global or type index
}

// Control reports whether the instruction ends a straight-line run.
func (in Instr) Control() bool {
	switch in.Op {
	case OpBlock, OpLoop, OpIf, OpElse, OpEnd, OpBr, OpBrIf, OpBrTable, OpReturn, OpUnreachable:
		return true
	}
	return false
}

// UnsupportedOpError reports an opcode outside the deterministic subset.
type UnsupportedOpError struct {
	Op     byte
	SubOp  uint32
	Offset int
}

func (e *UnsupportedOpError) Error() string {
	if e.Op == OpPrefixFC {
		return fmt.Sprintf("unsupported opcode 0xfc %d at offset %d", e.SubOp, e.Offset)
	}
	return fmt.Sprintf("unsupported opcode 0x%02x at offset %d", e.Op, e.Offset)
}

// ReadInstr decodes the instruction at code[pos:].
func ReadInstr(code []byte, pos int) (Instr, error) {
	r := wbin.NewReaderAt(code, pos)
	op, err := r.ReadByte()
	if err != nil {
		return Instr{}, err
	}
	in := Instr{Op: op, Offset: pos}

	switch opImm[op] {
	case immInvalid:
		return in, &UnsupportedOpError{Op: op, Offset: pos}
	case immNone:
	case immBlockType:
		if err = readBlockType(r); err != nil {
			return in, fmt.Errorf("block type at offset %d: %w", pos, err)
		}
	case immIndex:
		in.Index, err = r.ReadU32()
	case immBrTable:
		var n uint32
		if n, err = r.ReadU32(); err == nil {
			for i := uint32(0); i <= n && err == nil; i++ {
				in.Index, err = r.ReadU32()
			}
		}
	case immCallIndirect:
		if in.Index, err = r.ReadU32(); err == nil {
			var table byte
			if table, err = r.ReadByte(); err == nil && table != 0 {
				err = fmt.Errorf("call_indirect table %d", table)
			}
		}
	case immMemArg:
		if _, err = r.ReadU32(); err == nil {
			_, err = r.ReadU32()
		}
	case immZeroByte:
		var b byte
		if b, err = r.ReadByte(); err == nil && b != 0 {
			err = fmt.Errorf("memory index %d", b)
		}
	case immI32:
		_, err = r.ReadS32()
	case immI64:
		_, err = r.ReadS64()
	case immPrefixFC:
		if in.SubOp, err = r.ReadU32(); err != nil {
			break
		}
		switch in.SubOp {
		case SubMemoryCopy:
			var a, b byte
			if a, err = r.ReadByte(); err == nil {
				b, err = r.ReadByte()
			}
			if err == nil && (a != 0 || b != 0) {
				err = fmt.Errorf("memory.copy memory index")
			}
		case SubMemoryFill:
			var b byte
			if b, err = r.ReadByte(); err == nil && b != 0 {
				err = fmt.Errorf("memory.fill memory index")
			}
		default:
			return in, &UnsupportedOpError{Op: op, SubOp: in.SubOp, Offset: pos}
		}
	}
	if err != nil {
		return in, fmt.Errorf("opcode 0x%02x at offset %d: %w", op, pos, err)
	}
	in.End = r.Position()
	return in, nil
}

func readBlockType(r *wbin.Reader) error {
	b, err := r.Peek()
	if err != nil {
		return err
	}
	switch b {
	case 0x40, byte(ValI32), byte(ValI64):
		_, err = r.ReadByte()
		return err
	case byte(ValF32), byte(ValF64), byte(ValV128), byte(ValFuncRef), byte(ValExternRef):
		return fmt.Errorf("%w: block type %s", ErrUnsupported, ValType(b))
	}
	// multi-value type index
	idx, err := r.ReadS33()
	if err != nil {
		return err
	}
	if idx < 0 {
		return fmt.Errorf("invalid block type %d", idx)
	}
	return nil
}

// WalkCode calls fn for each instruction of a function expression.
func WalkCode(code []byte, fn func(Instr) error) error {
	for pos := 0; pos < len(code); {
		in, err := ReadInstr(code, pos)
		if err != nil {
			return err
		}
		if err := fn(in); err != nil {
			return err
		}
		pos = in.End
	}
	return nil
}
