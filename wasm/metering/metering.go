// Package metering instruments contract modules with gas charging calls.
//
// Every straight-line run of instructions is prefixed with
//
//	i64.const <cost>
//	call $meter
//
// where $meter is a host import appended after the module's own function
// imports. A run ends at each control instruction, so the charge for a run
// always happens before any instruction in it executes. Branching out of a
// run early still pays for the whole run.
package metering

import (
	"strconv"

	"github.com/wippyai/chainvm/errors"
	"github.com/wippyai/chainvm/wasm"
	wbin "github.com/wippyai/chainvm/wasm/internal/binary"
)

// DefaultMeterName is the import name of the charge function.
const DefaultMeterName = "__meter"

// CostTable prices individual opcodes.
type CostTable struct {
	Default uint64
	Ops     map[byte]uint64
}

// DefaultCosts charges one step per instruction and more for memory growth.
func DefaultCosts() CostTable {
	return CostTable{
		Default: 1,
		Ops: map[byte]uint64{
			wasm.OpMemoryGrow:   1024,
			wasm.OpCallIndirect: 2,
		},
	}
}

func (c CostTable) cost(op byte) uint64 {
	if v, ok := c.Ops[op]; ok {
		return v
	}
	return c.Default
}

// Options configures Instrument.
type Options struct {
	// HostModule replaces the module name of every function import and
	// names the meter import.
	HostModule string
	MeterName  string
	Costs      CostTable
}

// MeterType is the signature of the charge function.
var MeterType = wasm.FuncType{Params: []wasm.ValType{wasm.ValI64}}

// Instrument returns a copy of m with gas charging inserted. m must have
// passed validation.
func Instrument(m *wasm.Module, opts Options) (*wasm.Module, error) {
	if opts.MeterName == "" {
		opts.MeterName = DefaultMeterName
	}
	if opts.Costs.Default == 0 && len(opts.Costs.Ops) == 0 {
		opts.Costs = DefaultCosts()
	}

	out := *m
	out.Types = append([]wasm.FuncType(nil), m.Types...)
	out.Customs = nil

	imported := m.NumImportedFuncs()
	meterIdx := imported
	shift := func(idx uint32) uint32 {
		if idx >= imported {
			return idx + 1
		}
		return idx
	}

	out.Imports = make([]wasm.Import, 0, len(m.Imports)+1)
	for _, imp := range m.Imports {
		if imp.Kind == wasm.KindFunc && opts.HostModule != "" {
			imp.Module = opts.HostModule
		}
		out.Imports = append(out.Imports, imp)
	}
	host := opts.HostModule
	if host == "" {
		host = "env"
	}
	out.Imports = append(out.Imports, wasm.Import{
		Module:  host,
		Name:    opts.MeterName,
		Kind:    wasm.KindFunc,
		TypeIdx: out.TypeIndex(MeterType),
	})

	out.Exports = make([]wasm.Export, len(m.Exports))
	for i, e := range m.Exports {
		if e.Kind == wasm.KindFunc {
			e.Index = shift(e.Index)
		}
		out.Exports[i] = e
	}

	if m.Start != nil {
		s := shift(*m.Start)
		out.Start = &s
	}

	out.Elements = make([]wasm.Element, len(m.Elements))
	for i, e := range m.Elements {
		funcs := make([]uint32, len(e.Funcs))
		for j, f := range e.Funcs {
			funcs[j] = shift(f)
		}
		out.Elements[i] = wasm.Element{Offset: e.Offset, Funcs: funcs}
	}

	out.Code = make([]wasm.FuncBody, len(m.Code))
	for i, body := range m.Code {
		code, err := instrumentCode(body.Code, meterIdx, shift, opts.Costs)
		if err != nil {
			return nil, errors.New(errors.PhaseCompile, errors.KindInvalidData).
				Path("code", strconv.Itoa(i)).
				Cause(err).
				Detail("instrument").
				Build()
		}
		out.Code[i] = wasm.FuncBody{Locals: body.Locals, Code: code}
	}
	return &out, nil
}

func instrumentCode(code []byte, meterIdx uint32, shift func(uint32) uint32, costs CostTable) ([]byte, error) {
	var instrs []wasm.Instr
	if err := wasm.WalkCode(code, func(in wasm.Instr) error {
		instrs = append(instrs, in)
		return nil
	}); err != nil {
		return nil, err
	}

	w := wbin.NewWriter()
	runStart := 0
	for i, in := range instrs {
		if i == runStart {
			var cost uint64
			for j := i; j < len(instrs); j++ {
				cost += costs.cost(instrs[j].Op)
				if instrs[j].Control() {
					break
				}
			}
			if cost > 0 {
				w.Byte(wasm.OpI64Const)
				w.WriteS64(int64(cost))
				w.Byte(wasm.OpCall)
				w.WriteU32(meterIdx)
			}
		}

		if in.Op == wasm.OpCall {
			w.Byte(wasm.OpCall)
			w.WriteU32(shift(in.Index))
		} else {
			w.WriteBytes(code[in.Offset:in.End])
		}

		if in.Control() {
			runStart = i + 1
		}
	}
	return w.Bytes(), nil
}

// RunCosts returns the charge of every straight-line run in code, in order.
func RunCosts(code []byte, costs CostTable) ([]uint64, error) {
	var runs []uint64
	var cur uint64
	open := false
	err := wasm.WalkCode(code, func(in wasm.Instr) error {
		cur += costs.cost(in.Op)
		open = true
		if in.Control() {
			runs = append(runs, cur)
			cur, open = 0, false
		}
		return nil
	})
	if open {
		runs = append(runs, cur)
	}
	return runs, err
}
