// Package wasmtest assembles small contract modules for tests.
package wasmtest

import (
	"fmt"

	"github.com/wippyai/chainvm/abi"
	"github.com/wippyai/chainvm/wasm"
)

// Code accumulates a function expression.
type Code struct {
	buf []byte
}

func (c *Code) Op(ops ...byte) *Code {
	c.buf = append(c.buf, ops...)
	return c
}

func (c *Code) uleb(v uint64) *Code {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		c.buf = append(c.buf, b)
		if v == 0 {
			return c
		}
	}
}

func (c *Code) sleb(v int64) *Code {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			c.buf = append(c.buf, b)
			return c
		}
		c.buf = append(c.buf, b|0x80)
	}
}

func (c *Code) I32(v int32) *Code        { return c.Op(wasm.OpI32Const).sleb(int64(v)) }
func (c *Code) I64(v int64) *Code        { return c.Op(wasm.OpI64Const).sleb(v) }
func (c *Code) Get(i uint32) *Code       { return c.Op(wasm.OpLocalGet).uleb(uint64(i)) }
func (c *Code) Set(i uint32) *Code       { return c.Op(wasm.OpLocalSet).uleb(uint64(i)) }
func (c *Code) Tee(i uint32) *Code       { return c.Op(wasm.OpLocalTee).uleb(uint64(i)) }
func (c *Code) Call(f uint32) *Code      { return c.Op(wasm.OpCall).uleb(uint64(f)) }
func (c *Code) Br(d uint32) *Code        { return c.Op(wasm.OpBr).uleb(uint64(d)) }
func (c *Code) BrIf(d uint32) *Code      { return c.Op(wasm.OpBrIf).uleb(uint64(d)) }
func (c *Code) Block() *Code             { return c.Op(wasm.OpBlock, 0x40) }
func (c *Code) Loop() *Code              { return c.Op(wasm.OpLoop, 0x40) }
func (c *Code) If() *Code                { return c.Op(wasm.OpIf, 0x40) }
func (c *Code) Else() *Code              { return c.Op(wasm.OpElse) }
func (c *Code) End() *Code               { return c.Op(wasm.OpEnd) }
func (c *Code) Return() *Code            { return c.Op(wasm.OpReturn) }
func (c *Code) Drop() *Code              { return c.Op(wasm.OpDrop) }
func (c *Code) Add() *Code               { return c.Op(wasm.OpI32Add) }
func (c *Code) Sub() *Code               { return c.Op(wasm.OpI32Sub) }
func (c *Code) Eq() *Code                { return c.Op(wasm.OpI32Eq) }
func (c *Code) Eqz() *Code               { return c.Op(wasm.OpI32Eqz) }
func (c *Code) Load8U(off uint32) *Code  { return c.Op(0x2D).uleb(0).uleb(uint64(off)) }
func (c *Code) Load32(off uint32) *Code  { return c.Op(wasm.OpI32Load).uleb(2).uleb(uint64(off)) }
func (c *Code) Load64(off uint32) *Code  { return c.Op(wasm.OpI64Load).uleb(3).uleb(uint64(off)) }
func (c *Code) Store8(off uint32) *Code  { return c.Op(0x3A).uleb(0).uleb(uint64(off)) }
func (c *Code) Store32(off uint32) *Code { return c.Op(wasm.OpI32Store).uleb(2).uleb(uint64(off)) }
func (c *Code) Store64(off uint32) *Code { return c.Op(wasm.OpI64Store).uleb(3).uleb(uint64(off)) }

// Bytes returns the expression with the terminating end.
func (c *Code) Bytes() []byte {
	return append(append([]byte(nil), c.buf...), wasm.OpEnd)
}

// Builder assembles a module. Imports must be declared before functions.
type Builder struct {
	m       wasm.Module
	imports map[string]uint32
}

// NewBuilder starts a module with pages of linear memory.
func NewBuilder(pages uint32) *Builder {
	b := &Builder{imports: make(map[string]uint32)}
	if pages > 0 {
		b.m.Memories = []wasm.Limits{{Min: pages}}
	}
	return b
}

// Import declares a host function from the env surface and returns its index.
func (b *Builder) Import(name string) uint32 {
	if idx, ok := b.imports[name]; ok {
		return idx
	}
	ft, ok := abi.Signatures[name]
	if !ok {
		panic(fmt.Sprintf("wasmtest: unknown host function %q", name))
	}
	return b.ImportFunc(abi.Module, name, ft)
}

// ImportFunc declares an arbitrary function import.
func (b *Builder) ImportFunc(module, name string, ft wasm.FuncType) uint32 {
	if len(b.m.Funcs) > 0 {
		panic("wasmtest: imports must precede functions")
	}
	idx := uint32(len(b.m.Imports))
	b.m.Imports = append(b.m.Imports, wasm.Import{
		Module:  module,
		Name:    name,
		Kind:    wasm.KindFunc,
		TypeIdx: b.m.TypeIndex(ft),
	})
	b.imports[name] = idx
	return idx
}

// Func adds a function and returns its index.
func (b *Builder) Func(ft wasm.FuncType, locals []wasm.ValType, code *Code) uint32 {
	idx := b.m.NumImportedFuncs() + uint32(len(b.m.Funcs))
	b.m.Funcs = append(b.m.Funcs, b.m.TypeIndex(ft))
	var decls []wasm.LocalDecl
	for _, l := range locals {
		decls = append(decls, wasm.LocalDecl{Count: 1, Type: l})
	}
	b.m.Code = append(b.m.Code, wasm.FuncBody{Locals: decls, Code: code.Bytes()})
	return idx
}

// RawFunc adds a function whose expression is given verbatim.
func (b *Builder) RawFunc(ft wasm.FuncType, expr []byte) uint32 {
	idx := b.m.NumImportedFuncs() + uint32(len(b.m.Funcs))
	b.m.Funcs = append(b.m.Funcs, b.m.TypeIndex(ft))
	b.m.Code = append(b.m.Code, wasm.FuncBody{Code: expr})
	return idx
}

// Export exports function idx under name.
func (b *Builder) Export(name string, idx uint32) *Builder {
	b.m.Exports = append(b.m.Exports, wasm.Export{Name: name, Kind: wasm.KindFunc, Index: idx})
	return b
}

// Data places bytes at a fixed memory offset.
func (b *Builder) Data(offset int32, data []byte) *Builder {
	expr := (&Code{}).I32(offset).Bytes()
	b.m.Data = append(b.m.Data, wasm.DataSegment{Offset: expr, Init: data})
	return b
}

// Start sets the start function.
func (b *Builder) Start(idx uint32) *Builder {
	b.m.Start = &idx
	return b
}

// Module returns the assembled module.
func (b *Builder) Module() *wasm.Module {
	m := b.m
	return &m
}

// Bytes encodes the module.
func (b *Builder) Bytes() []byte {
	return b.m.Encode()
}

// Void is the () -> () signature.
var Void = wasm.FuncType{}
