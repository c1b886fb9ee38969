package wasm

// Binary header
const (
	Magic   uint32 = 0x6d736100 // \0asm
	Version uint32 = 0x00000001
)

// Section IDs
const (
	SectionCustom    byte = 0
	SectionType      byte = 1
	SectionImport    byte = 2
	SectionFunction  byte = 3
	SectionTable     byte = 4
	SectionMemory    byte = 5
	SectionGlobal    byte = 6
	SectionExport    byte = 7
	SectionStart     byte = 8
	SectionElement   byte = 9
	SectionCode      byte = 10
	SectionData      byte = 11
	SectionDataCount byte = 12
)

// ValType is a value type code.
type ValType byte

const (
	ValI32       ValType = 0x7F
	ValI64       ValType = 0x7E
	ValF32       ValType = 0x7D
	ValF64       ValType = 0x7C
	ValV128      ValType = 0x7B
	ValFuncRef   ValType = 0x70
	ValExternRef ValType = 0x6F
)

func (v ValType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	case ValV128:
		return "v128"
	case ValFuncRef:
		return "funcref"
	case ValExternRef:
		return "externref"
	}
	return "unknown"
}

// Integer reports whether v is one of the deterministic integer types.
func (v ValType) Integer() bool {
	return v == ValI32 || v == ValI64
}

// External kinds
const (
	KindFunc   byte = 0x00
	KindTable  byte = 0x01
	KindMemory byte = 0x02
	KindGlobal byte = 0x03
)

// Module is a parsed WebAssembly module restricted to the MVP
// encodings contracts use.
type Module struct {
	Types     []FuncType
	Imports   []Import
	Funcs     []uint32 // type index per defined function
	Tables    []Table
	Memories  []Limits
	Globals   []Global
	Exports   []Export
	Start     *uint32
	Elements  []Element
	Code      []FuncBody
	Data      []DataSegment
	DataCount *uint32
	Customs   []CustomSection
}

// FuncType is a function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Equal reports whether two signatures match.
func (f FuncType) Equal(o FuncType) bool {
	if len(f.Params) != len(o.Params) || len(f.Results) != len(o.Results) {
		return false
	}
	for i := range f.Params {
		if f.Params[i] != o.Params[i] {
			return false
		}
	}
	for i := range f.Results {
		if f.Results[i] != o.Results[i] {
			return false
		}
	}
	return true
}

// Import describes an imported entity. Only function imports carry TypeIdx.
type Import struct {
	Module  string
	Name    string
	Kind    byte
	TypeIdx uint32
	Table   *Table
	Memory  *Limits
	Global  *GlobalType
}

// Limits are memory or table bounds.
type Limits struct {
	Min uint32
	Max *uint32
}

// Table is a funcref table.
type Table struct {
	ElemType ValType
	Limits   Limits
}

// GlobalType is the type of a global.
type GlobalType struct {
	Type    ValType
	Mutable bool
}

// Global is a module-defined global.
type Global struct {
	GlobalType
	Init []byte // constant expression including the trailing end
}

// Export is an exported entity.
type Export struct {
	Name  string
	Kind  byte
	Index uint32
}

// Element is an active funcref segment for table 0.
type Element struct {
	Offset []byte // constant expression including the trailing end
	Funcs  []uint32
}

// LocalDecl declares Count locals of Type.
type LocalDecl struct {
	Count uint32
	Type  ValType
}

// FuncBody is a function's locals and its expression bytes including
// the trailing end opcode.
type FuncBody struct {
	Locals []LocalDecl
	Code   []byte
}

// DataSegment initializes linear memory.
type DataSegment struct {
	Passive bool
	Offset  []byte
	Init    []byte
}

// CustomSection is preserved verbatim.
type CustomSection struct {
	Name string
	Data []byte
}

// NumImportedFuncs counts function imports.
func (m *Module) NumImportedFuncs() uint32 {
	var n uint32
	for _, imp := range m.Imports {
		if imp.Kind == KindFunc {
			n++
		}
	}
	return n
}

// NumFuncs counts imported and defined functions.
func (m *Module) NumFuncs() uint32 {
	return m.NumImportedFuncs() + uint32(len(m.Funcs))
}

// FuncTypeOf returns the signature of function idx in the combined index space.
func (m *Module) FuncTypeOf(idx uint32) (FuncType, bool) {
	var seen uint32
	for _, imp := range m.Imports {
		if imp.Kind != KindFunc {
			continue
		}
		if seen == idx {
			if int(imp.TypeIdx) < len(m.Types) {
				return m.Types[imp.TypeIdx], true
			}
			return FuncType{}, false
		}
		seen++
	}
	local := idx - seen
	if idx < seen || int(local) >= len(m.Funcs) {
		return FuncType{}, false
	}
	t := m.Funcs[local]
	if int(t) >= len(m.Types) {
		return FuncType{}, false
	}
	return m.Types[t], true
}

// Export returns the export named name.
func (m *Module) Export(name string) (Export, bool) {
	for _, e := range m.Exports {
		if e.Name == name {
			return e, true
		}
	}
	return Export{}, false
}

// TypeIndex returns the index of an existing signature equal to ft,
// appending it when absent.
func (m *Module) TypeIndex(ft FuncType) uint32 {
	for i, t := range m.Types {
		if t.Equal(ft) {
			return uint32(i)
		}
	}
	m.Types = append(m.Types, ft)
	return uint32(len(m.Types) - 1)
}

func (m *Module) numImported(kind byte) uint32 {
	var n uint32
	for _, imp := range m.Imports {
		if imp.Kind == kind {
			n++
		}
	}
	return n
}
