package metering

import (
	"bytes"
	"testing"

	"github.com/wippyai/chainvm/abi"
	"github.com/wippyai/chainvm/internal/wasmtest"
	"github.com/wippyai/chainvm/wasm"
)

func parse(t *testing.T, code []byte) *wasm.Module {
	t.Helper()
	m, err := wasm.ParseModule(code)
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}
	return m
}

func TestRunCosts(t *testing.T) {
	code := (&wasmtest.Code{}).I32(1).Drop().Block().Op(wasm.OpNop).End().Bytes()
	runs, err := RunCosts(code, DefaultCosts())
	if err != nil {
		t.Fatalf("RunCosts: %v", err)
	}
	want := []uint64{3, 2, 1}
	if len(runs) != len(want) {
		t.Fatalf("runs = %v, want %v", runs, want)
	}
	for i := range want {
		if runs[i] != want[i] {
			t.Errorf("run %d = %d, want %d", i, runs[i], want[i])
		}
	}

	grow := (&wasmtest.Code{}).I32(1).Op(wasm.OpMemoryGrow, 0).Drop().Bytes()
	runs, err = RunCosts(grow, DefaultCosts())
	if err != nil {
		t.Fatalf("RunCosts: %v", err)
	}
	if len(runs) != 1 || runs[0] != 1+1024+1+1 {
		t.Errorf("memory.grow runs = %v", runs)
	}
}

func TestInstrumentAddsMeterImport(t *testing.T) {
	m := parse(t, wasmtest.Adder())
	out, err := Instrument(m, Options{HostModule: abi.Module})
	if err != nil {
		t.Fatalf("Instrument: %v", err)
	}

	imported := m.NumImportedFuncs()
	if got := out.NumImportedFuncs(); got != imported+1 {
		t.Fatalf("imported funcs = %d, want %d", got, imported+1)
	}
	meter := out.Imports[len(out.Imports)-1]
	if meter.Module != abi.Module || meter.Name != DefaultMeterName {
		t.Errorf("meter import = %s.%s", meter.Module, meter.Name)
	}
	if !out.Types[meter.TypeIdx].Equal(MeterType) {
		t.Errorf("meter type = %+v", out.Types[meter.TypeIdx])
	}

	in, _ := m.Export(abi.Entry)
	got, _ := out.Export(abi.Entry)
	if got.Index != in.Index+1 {
		t.Errorf("entry index = %d, want %d", got.Index, in.Index+1)
	}
	if len(m.Imports) != len(out.Imports)-1 {
		t.Error("input module was modified")
	}
}

func TestInstrumentedModuleValidates(t *testing.T) {
	lookup := func(module, name string) (wasm.FuncType, bool) {
		if module == abi.Module && name == DefaultMeterName {
			return MeterType, true
		}
		return abi.Lookup(module, name)
	}
	for name, code := range map[string][]byte{
		"adder":    wasmtest.Adder(),
		"storage":  wasmtest.Storage(),
		"recurser": wasmtest.Recurser(),
		"counter":  wasmtest.Counter(3),
	} {
		t.Run(name, func(t *testing.T) {
			out, err := Instrument(parse(t, code), Options{})
			if err != nil {
				t.Fatalf("Instrument: %v", err)
			}
			if _, err := wasm.Validate(out.Encode(), wasm.Policy{Imports: lookup, Entry: abi.Entry}); err != nil {
				t.Errorf("instrumented module invalid: %v", err)
			}
		})
	}
}

func TestInstrumentShiftsCalls(t *testing.T) {
	b := wasmtest.NewBuilder(0)
	callee := b.Func(wasmtest.Void, nil, &wasmtest.Code{})
	b.Export(abi.Entry, b.Func(wasmtest.Void, nil, (&wasmtest.Code{}).Call(callee)))
	b.Start(callee)

	out, err := Instrument(b.Module(), Options{})
	if err != nil {
		t.Fatalf("Instrument: %v", err)
	}
	// the meter takes index 0, so the callee moves to 1
	want := []byte{
		wasm.OpI64Const, 2, wasm.OpCall, 0,
		wasm.OpCall, 1,
		wasm.OpEnd,
	}
	if got := out.Code[1].Code; !bytes.Equal(got, want) {
		t.Errorf("caller body = %x, want %x", got, want)
	}
	if out.Start == nil || *out.Start != 1 {
		t.Errorf("start = %v, want 1", out.Start)
	}
}

func TestCustomCosts(t *testing.T) {
	costs := CostTable{Default: 2, Ops: map[byte]uint64{wasm.OpEnd: 0}}
	out, err := Instrument(parse(t, wasmtest.Counter(1)), Options{Costs: costs})
	if err != nil {
		t.Fatalf("Instrument: %v", err)
	}
	body := out.Code[0].Code
	// i32.const, local.set, block: 3 * 2
	if body[0] != wasm.OpI64Const || body[1] != 6 {
		t.Errorf("first charge = %x", body[:2])
	}
}
