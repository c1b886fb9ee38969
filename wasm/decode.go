package wasm

import (
	"encoding/binary"
	"errors"
	"fmt"

	wbin "github.com/wippyai/chainvm/wasm/internal/binary"
)

// Parsing errors returned by ParseModule.
var (
	ErrInvalidMagic   = errors.New("invalid wasm magic number")
	ErrInvalidVersion = errors.New("invalid wasm version")
	ErrUnsupported    = errors.New("unsupported encoding")
)

// ParseModule parses a WebAssembly binary module
func ParseModule(data []byte) (*Module, error) {
	if len(data) < 8 {
		return nil, ErrInvalidMagic
	}
	if binary.LittleEndian.Uint32(data[0:4]) != Magic {
		return nil, ErrInvalidMagic
	}
	if binary.LittleEndian.Uint32(data[4:8]) != Version {
		return nil, ErrInvalidVersion
	}

	r := wbin.NewReaderAt(data, 8)
	m := &Module{}
	var last byte
	var funcCount *uint32

	for r.Len() > 0 {
		id, _ := r.ReadByte()
		if id != SectionCustom {
			order := sectionOrder(id)
			if order == 0 {
				return nil, r.WrapError("section header", fmt.Errorf("unknown section ID: 0x%02x", id))
			}
			if order <= sectionOrder(last) {
				return nil, fmt.Errorf("section %d appears out of order", id)
			}
			last = id
		}

		size, err := r.ReadU32()
		if err != nil {
			return nil, r.WrapError("section size", err)
		}
		body, err := r.ReadBytes(int(size))
		if err != nil {
			return nil, r.WrapError("section data", err)
		}
		sr := wbin.NewReader(body)

		switch id {
		case SectionCustom:
			err = parseCustomSection(sr, m)
		case SectionType:
			err = parseTypeSection(sr, m)
		case SectionImport:
			err = parseImportSection(sr, m)
		case SectionFunction:
			err = parseFunctionSection(sr, m)
			n := uint32(len(m.Funcs))
			funcCount = &n
		case SectionTable:
			err = parseTableSection(sr, m)
		case SectionMemory:
			err = parseMemorySection(sr, m)
		case SectionGlobal:
			err = parseGlobalSection(sr, m)
		case SectionExport:
			err = parseExportSection(sr, m)
		case SectionStart:
			var idx uint32
			idx, err = sr.ReadU32()
			m.Start = &idx
		case SectionElement:
			err = parseElementSection(sr, m)
		case SectionCode:
			err = parseCodeSection(sr, m)
		case SectionData:
			err = parseDataSection(sr, m)
		case SectionDataCount:
			var n uint32
			n, err = sr.ReadU32()
			m.DataCount = &n
		}
		if err != nil {
			return nil, fmt.Errorf("%s section: %w", sectionName(id), err)
		}
		if sr.Len() != 0 {
			return nil, fmt.Errorf("%s section: %d trailing bytes", sectionName(id), sr.Len())
		}
	}

	var declared uint32
	if funcCount != nil {
		declared = *funcCount
	}
	if declared != uint32(len(m.Code)) {
		return nil, fmt.Errorf("function and code section have inconsistent lengths: %d != %d", declared, len(m.Code))
	}
	return m, nil
}

// Canonical section order. Zero means unknown.
func sectionOrder(id byte) int {
	switch id {
	case SectionType:
		return 1
	case SectionImport:
		return 2
	case SectionFunction:
		return 3
	case SectionTable:
		return 4
	case SectionMemory:
		return 5
	case SectionGlobal:
		return 6
	case SectionExport:
		return 7
	case SectionStart:
		return 8
	case SectionElement:
		return 9
	case SectionDataCount:
		return 10
	case SectionCode:
		return 11
	case SectionData:
		return 12
	}
	return 0
}

func sectionName(id byte) string {
	names := [...]string{"custom", "type", "import", "function", "table", "memory",
		"global", "export", "start", "element", "code", "data", "data count"}
	if int(id) < len(names) {
		return names[id]
	}
	return fmt.Sprintf("section(%d)", id)
}

func readValType(r *wbin.Reader) (ValType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	switch ValType(b) {
	case ValI32, ValI64, ValF32, ValF64, ValV128, ValFuncRef, ValExternRef:
		return ValType(b), nil
	}
	return 0, fmt.Errorf("invalid value type 0x%02x", b)
}

func readValTypes(r *wbin.Reader) ([]ValType, error) {
	n, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	if int(n) > r.Len() {
		return nil, fmt.Errorf("value type count %d exceeds section", n)
	}
	out := make([]ValType, n)
	for i := range out {
		if out[i], err = readValType(r); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func readCount(r *wbin.Reader) (uint32, error) {
	n, err := r.ReadU32()
	if err != nil {
		return 0, err
	}
	// every entry takes at least one byte
	if int(n) > r.Len() {
		return 0, fmt.Errorf("vector length %d exceeds remaining %d bytes", n, r.Len())
	}
	return n, nil
}

func parseCustomSection(r *wbin.Reader, m *Module) error {
	name, err := r.ReadName()
	if err != nil {
		return err
	}
	data, _ := r.ReadBytes(r.Len())
	m.Customs = append(m.Customs, CustomSection{Name: name, Data: append([]byte(nil), data...)})
	return nil
}

func parseTypeSection(r *wbin.Reader, m *Module) error {
	n, err := readCount(r)
	if err != nil {
		return err
	}
	m.Types = make([]FuncType, 0, n)
	for i := uint32(0); i < n; i++ {
		form, err := r.ReadByte()
		if err != nil {
			return err
		}
		if form != 0x60 {
			return fmt.Errorf("type %d: %w: form 0x%02x", i, ErrUnsupported, form)
		}
		params, err := readValTypes(r)
		if err != nil {
			return fmt.Errorf("type %d params: %w", i, err)
		}
		results, err := readValTypes(r)
		if err != nil {
			return fmt.Errorf("type %d results: %w", i, err)
		}
		m.Types = append(m.Types, FuncType{Params: params, Results: results})
	}
	return nil
}

func parseLimits(r *wbin.Reader) (Limits, error) {
	flag, err := r.ReadByte()
	if err != nil {
		return Limits{}, err
	}
	min, err := r.ReadU32()
	if err != nil {
		return Limits{}, err
	}
	switch flag {
	case 0x00:
		return Limits{Min: min}, nil
	case 0x01:
		max, err := r.ReadU32()
		if err != nil {
			return Limits{}, err
		}
		if max < min {
			return Limits{}, fmt.Errorf("limits max %d below min %d", max, min)
		}
		return Limits{Min: min, Max: &max}, nil
	}
	return Limits{}, fmt.Errorf("%w: limits flag 0x%02x", ErrUnsupported, flag)
}

func parseTable(r *wbin.Reader) (Table, error) {
	et, err := readValType(r)
	if err != nil {
		return Table{}, err
	}
	lim, err := parseLimits(r)
	return Table{ElemType: et, Limits: lim}, err
}

func parseGlobalType(r *wbin.Reader) (GlobalType, error) {
	vt, err := readValType(r)
	if err != nil {
		return GlobalType{}, err
	}
	mut, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	if mut > 1 {
		return GlobalType{}, fmt.Errorf("invalid mutability 0x%02x", mut)
	}
	return GlobalType{Type: vt, Mutable: mut == 1}, nil
}

func parseImportSection(r *wbin.Reader, m *Module) error {
	n, err := readCount(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		var imp Import
		if imp.Module, err = r.ReadName(); err != nil {
			return err
		}
		if imp.Name, err = r.ReadName(); err != nil {
			return err
		}
		if imp.Kind, err = r.ReadByte(); err != nil {
			return err
		}
		switch imp.Kind {
		case KindFunc:
			imp.TypeIdx, err = r.ReadU32()
		case KindTable:
			var t Table
			t, err = parseTable(r)
			imp.Table = &t
		case KindMemory:
			var l Limits
			l, err = parseLimits(r)
			imp.Memory = &l
		case KindGlobal:
			var g GlobalType
			g, err = parseGlobalType(r)
			imp.Global = &g
		default:
			err = fmt.Errorf("%w: import kind 0x%02x", ErrUnsupported, imp.Kind)
		}
		if err != nil {
			return fmt.Errorf("import %s.%s: %w", imp.Module, imp.Name, err)
		}
		m.Imports = append(m.Imports, imp)
	}
	return nil
}

func parseFunctionSection(r *wbin.Reader, m *Module) error {
	n, err := readCount(r)
	if err != nil {
		return err
	}
	m.Funcs = make([]uint32, n)
	for i := range m.Funcs {
		if m.Funcs[i], err = r.ReadU32(); err != nil {
			return err
		}
	}
	return nil
}

func parseTableSection(r *wbin.Reader, m *Module) error {
	n, err := readCount(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		t, err := parseTable(r)
		if err != nil {
			return err
		}
		m.Tables = append(m.Tables, t)
	}
	return nil
}

func parseMemorySection(r *wbin.Reader, m *Module) error {
	n, err := readCount(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		l, err := parseLimits(r)
		if err != nil {
			return err
		}
		m.Memories = append(m.Memories, l)
	}
	return nil
}

// readConstExpr reads a single-instruction constant expression and returns
// its bytes including the trailing end.
func readConstExpr(r *wbin.Reader) ([]byte, error) {
	start := r.Position()
	op, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	switch op {
	case OpI32Const:
		_, err = r.ReadS32()
	case OpI64Const:
		_, err = r.ReadS64()
	case OpGlobalGet:
		_, err = r.ReadU32()
	default:
		return nil, fmt.Errorf("%w: constant expression opcode 0x%02x", ErrUnsupported, op)
	}
	if err != nil {
		return nil, err
	}
	end, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if end != OpEnd {
		return nil, fmt.Errorf("constant expression not terminated")
	}
	return append([]byte(nil), r.Since(start)...), nil
}

func parseGlobalSection(r *wbin.Reader, m *Module) error {
	n, err := readCount(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		gt, err := parseGlobalType(r)
		if err != nil {
			return err
		}
		init, err := readConstExpr(r)
		if err != nil {
			return fmt.Errorf("global %d: %w", i, err)
		}
		m.Globals = append(m.Globals, Global{GlobalType: gt, Init: init})
	}
	return nil
}

func parseExportSection(r *wbin.Reader, m *Module) error {
	n, err := readCount(r)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, n)
	for i := uint32(0); i < n; i++ {
		var e Export
		if e.Name, err = r.ReadName(); err != nil {
			return err
		}
		if seen[e.Name] {
			return fmt.Errorf("duplicate export %q", e.Name)
		}
		seen[e.Name] = true
		if e.Kind, err = r.ReadByte(); err != nil {
			return err
		}
		if e.Kind > KindGlobal {
			return fmt.Errorf("export %q: invalid kind 0x%02x", e.Name, e.Kind)
		}
		if e.Index, err = r.ReadU32(); err != nil {
			return err
		}
		m.Exports = append(m.Exports, e)
	}
	return nil
}

func parseElementSection(r *wbin.Reader, m *Module) error {
	n, err := readCount(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		flags, err := r.ReadU32()
		if err != nil {
			return err
		}
		if flags != 0 {
			return fmt.Errorf("element %d: %w: segment flags %d", i, ErrUnsupported, flags)
		}
		offset, err := readConstExpr(r)
		if err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
		cnt, err := readCount(r)
		if err != nil {
			return err
		}
		funcs := make([]uint32, cnt)
		for j := range funcs {
			if funcs[j], err = r.ReadU32(); err != nil {
				return err
			}
		}
		m.Elements = append(m.Elements, Element{Offset: offset, Funcs: funcs})
	}
	return nil
}

func parseCodeSection(r *wbin.Reader, m *Module) error {
	n, err := readCount(r)
	if err != nil {
		return err
	}
	m.Code = make([]FuncBody, 0, n)
	for i := uint32(0); i < n; i++ {
		size, err := r.ReadU32()
		if err != nil {
			return err
		}
		raw, err := r.ReadBytes(int(size))
		if err != nil {
			return fmt.Errorf("body %d: %w", i, err)
		}
		br := wbin.NewReader(raw)
		groups, err := readCount(br)
		if err != nil {
			return fmt.Errorf("body %d locals: %w", i, err)
		}
		body := FuncBody{Locals: make([]LocalDecl, groups)}
		for j := range body.Locals {
			if body.Locals[j].Count, err = br.ReadU32(); err != nil {
				return err
			}
			if body.Locals[j].Type, err = readValType(br); err != nil {
				return err
			}
		}
		code, _ := br.ReadBytes(br.Len())
		if len(code) == 0 || code[len(code)-1] != OpEnd {
			return fmt.Errorf("body %d: missing end", i)
		}
		body.Code = append([]byte(nil), code...)
		m.Code = append(m.Code, body)
	}
	return nil
}

func parseDataSection(r *wbin.Reader, m *Module) error {
	n, err := readCount(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		flags, err := r.ReadU32()
		if err != nil {
			return err
		}
		var seg DataSegment
		switch flags {
		case 0:
			seg.Offset, err = readConstExpr(r)
		case 1:
			seg.Passive = true
		case 2:
			var mem uint32
			if mem, err = r.ReadU32(); err == nil && mem != 0 {
				err = fmt.Errorf("%w: memory index %d", ErrUnsupported, mem)
			}
			if err == nil {
				seg.Offset, err = readConstExpr(r)
			}
		default:
			err = fmt.Errorf("%w: data flags %d", ErrUnsupported, flags)
		}
		if err != nil {
			return fmt.Errorf("data %d: %w", i, err)
		}
		size, err := r.ReadU32()
		if err != nil {
			return err
		}
		init, err := r.ReadBytes(int(size))
		if err != nil {
			return err
		}
		seg.Init = append([]byte(nil), init...)
		m.Data = append(m.Data, seg)
	}
	return nil
}
