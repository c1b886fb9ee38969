package wasm

import (
	stderrors "errors"
	"fmt"
	"strconv"

	"github.com/wippyai/chainvm/errors"
)

// Limits applied to every contract module.
const (
	MaxLocals   = 50000
	MaxFuncs    = 10000
	MaxMemories = 1
	MaxTables   = 1
)

// ImportLookup returns the signature of an importable host function.
type ImportLookup func(module, name string) (FuncType, bool)

// Policy restricts what a contract module may contain.
type Policy struct {
	Imports        ImportLookup
	Entry          string // required export of type () -> ()
	MaxMemoryPages uint32
}

// Validate parses code and checks it against p.
func Validate(code []byte, p Policy) (*Module, error) {
	m, err := ParseModule(code)
	if err != nil {
		var op *UnsupportedOpError
		if stderrors.As(err, &op) || stderrors.Is(err, ErrUnsupported) {
			return nil, errors.New(errors.PhaseValidate, errors.KindUnsupported).Cause(err).Detail("decode").Build()
		}
		return nil, errors.New(errors.PhaseValidate, errors.KindInvalidData).Cause(err).Detail("decode").Build()
	}
	if err := m.Validate(p); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate checks the decoded module against p.
func (m *Module) Validate(p Policy) error {
	for i, t := range m.Types {
		for _, v := range append(append([]ValType(nil), t.Params...), t.Results...) {
			if !v.Integer() {
				return unsupported([]string{"type", strconv.Itoa(i)}, "value type %s", v)
			}
		}
	}

	if err := m.validateImports(p); err != nil {
		return err
	}

	if len(m.Funcs) > MaxFuncs {
		return errors.Validation([]string{"function"}, "%d functions exceed limit %d", len(m.Funcs), MaxFuncs)
	}
	for i, t := range m.Funcs {
		if int(t) >= len(m.Types) {
			return errors.Validation([]string{"function", strconv.Itoa(i)}, "type index %d out of range", t)
		}
	}

	if len(m.Tables) > MaxTables {
		return unsupported([]string{"table"}, "%d tables", len(m.Tables))
	}
	for _, t := range m.Tables {
		if t.ElemType != ValFuncRef {
			return unsupported([]string{"table"}, "element type %s", t.ElemType)
		}
	}
	if len(m.Memories) > MaxMemories {
		return unsupported([]string{"memory"}, "%d memories", len(m.Memories))
	}
	for _, mem := range m.Memories {
		if p.MaxMemoryPages > 0 && mem.Min > p.MaxMemoryPages {
			return errors.Validation([]string{"memory"}, "initial %d pages exceed limit %d", mem.Min, p.MaxMemoryPages)
		}
	}

	for i, g := range m.Globals {
		path := []string{"global", strconv.Itoa(i)}
		if !g.Type.Integer() {
			return unsupported(path, "value type %s", g.Type)
		}
		if err := checkConstExpr(g.Init, g.Type); err != nil {
			return errors.Validation(path, "%v", err)
		}
	}

	if err := m.validateExports(p); err != nil {
		return err
	}

	if m.Start != nil {
		ft, ok := m.FuncTypeOf(*m.Start)
		if !ok {
			return errors.Validation([]string{"start"}, "function %d out of range", *m.Start)
		}
		if len(ft.Params) != 0 || len(ft.Results) != 0 {
			return errors.Validation([]string{"start"}, "start function must take and return nothing")
		}
	}

	for i, e := range m.Elements {
		path := []string{"element", strconv.Itoa(i)}
		if len(m.Tables) == 0 {
			return errors.Validation(path, "element segment without table")
		}
		if err := checkConstExpr(e.Offset, ValI32); err != nil {
			return errors.Validation(path, "%v", err)
		}
		for _, f := range e.Funcs {
			if f >= m.NumFuncs() {
				return errors.Validation(path, "function %d out of range", f)
			}
		}
	}

	if m.DataCount != nil && int(*m.DataCount) != len(m.Data) {
		return errors.Validation([]string{"datacount"}, "count %d does not match %d segments", *m.DataCount, len(m.Data))
	}
	for i, d := range m.Data {
		path := []string{"data", strconv.Itoa(i)}
		if len(m.Memories) == 0 {
			return errors.Validation(path, "data segment without memory")
		}
		if !d.Passive {
			if err := checkConstExpr(d.Offset, ValI32); err != nil {
				return errors.Validation(path, "%v", err)
			}
		}
	}

	for i := range m.Code {
		if err := m.validateBody(i); err != nil {
			return err
		}
	}
	return nil
}

func (m *Module) validateImports(p Policy) error {
	var missing []string
	for _, imp := range m.Imports {
		path := []string{"import", imp.Module, imp.Name}
		if imp.Kind != KindFunc {
			return unsupported(path, "only function imports are allowed")
		}
		if int(imp.TypeIdx) >= len(m.Types) {
			return errors.Validation(path, "type index %d out of range", imp.TypeIdx)
		}
		if p.Imports == nil {
			missing = append(missing, imp.Module+"#"+imp.Name)
			continue
		}
		want, ok := p.Imports(imp.Module, imp.Name)
		if !ok {
			missing = append(missing, imp.Module+"#"+imp.Name)
			continue
		}
		if !want.Equal(m.Types[imp.TypeIdx]) {
			return errors.New(errors.PhaseValidate, errors.KindTypeMismatch).
				Path(path...).
				Detail("signature does not match host function").
				Build()
		}
	}
	if len(missing) > 0 {
		return errors.New(errors.PhaseValidate, errors.KindMissingImport).
			Cause(errors.NewMissingImportsError(missing)).
			Detail("imports outside the host surface").
			Build()
	}
	return nil
}

func (m *Module) validateExports(p Policy) error {
	for _, e := range m.Exports {
		path := []string{"export", e.Name}
		var limit uint32
		switch e.Kind {
		case KindFunc:
			limit = m.NumFuncs()
		case KindTable:
			limit = uint32(len(m.Tables))
		case KindMemory:
			limit = uint32(len(m.Memories))
		case KindGlobal:
			limit = uint32(len(m.Globals))
		}
		if e.Index >= limit {
			return errors.Validation(path, "index %d out of range", e.Index)
		}
	}
	if p.Entry == "" {
		return nil
	}
	e, ok := m.Export(p.Entry)
	if !ok || e.Kind != KindFunc {
		return errors.New(errors.PhaseValidate, errors.KindNotFound).
			Path("export", p.Entry).
			Detail("entry function not exported").
			Build()
	}
	ft, _ := m.FuncTypeOf(e.Index)
	if len(ft.Params) != 0 || len(ft.Results) != 0 {
		return errors.Validation([]string{"export", p.Entry}, "entry function must take and return nothing")
	}
	return nil
}

func (m *Module) validateBody(i int) error {
	body := m.Code[i]
	path := []string{"code", strconv.Itoa(i)}

	var locals uint64
	for _, l := range body.Locals {
		if !l.Type.Integer() {
			return unsupported(path, "local type %s", l.Type)
		}
		locals += uint64(l.Count)
	}
	if ft, ok := m.FuncTypeOf(m.NumImportedFuncs() + uint32(i)); ok {
		locals += uint64(len(ft.Params))
	}
	if locals > MaxLocals {
		return errors.Validation(path, "%d locals exceed limit %d", locals, MaxLocals)
	}

	numFuncs := m.NumFuncs()
	hasMemory := len(m.Memories) > 0
	depth := 1
	err := WalkCode(body.Code, func(in Instr) error {
		if depth == 0 {
			return fmt.Errorf("instruction after final end at offset %d", in.Offset)
		}
		switch in.Op {
		case OpBlock, OpLoop, OpIf:
			depth++
		case OpEnd:
			depth--
		case OpCall:
			if in.Index >= numFuncs {
				return fmt.Errorf("call target %d out of range", in.Index)
			}
		case OpCallIndirect:
			if len(m.Tables) == 0 {
				return fmt.Errorf("call_indirect without table")
			}
			if int(in.Index) >= len(m.Types) {
				return fmt.Errorf("call_indirect type %d out of range", in.Index)
			}
		case OpGlobalGet, OpGlobalSet:
			if int(in.Index) >= len(m.Globals) {
				return fmt.Errorf("global %d out of range", in.Index)
			}
		case OpMemorySize, OpMemoryGrow, OpPrefixFC:
			if !hasMemory {
				return fmt.Errorf("memory instruction without memory")
			}
		default:
			if opImm[in.Op] == immMemArg && !hasMemory {
				return fmt.Errorf("memory access without memory")
			}
		}
		return nil
	})
	if err != nil {
		var op *UnsupportedOpError
		if stderrors.As(err, &op) {
			return errors.New(errors.PhaseValidate, errors.KindUnsupported).Path(path...).Cause(err).Detail("opcode").Build()
		}
		return errors.New(errors.PhaseValidate, errors.KindInvalidData).Path(path...).Cause(err).Detail("body").Build()
	}
	if depth != 0 {
		return errors.Validation(path, "unbalanced blocks")
	}
	return nil
}

func checkConstExpr(expr []byte, want ValType) error {
	if len(expr) == 0 {
		return fmt.Errorf("empty constant expression")
	}
	switch expr[0] {
	case OpI32Const:
		if want != ValI32 {
			return fmt.Errorf("constant expression type i32, want %s", want)
		}
	case OpI64Const:
		if want != ValI64 {
			return fmt.Errorf("constant expression type i64, want %s", want)
		}
	default:
		return fmt.Errorf("constant expression must be a %s.const", want)
	}
	return nil
}

func unsupported(path []string, format string, args ...any) error {
	return errors.New(errors.PhaseValidate, errors.KindUnsupported).Path(path...).Detail(format, args...).Build()
}
