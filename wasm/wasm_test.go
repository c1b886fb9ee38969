package wasm_test

import (
	"bytes"
	stderrors "errors"
	"testing"

	"github.com/wippyai/chainvm/abi"
	"github.com/wippyai/chainvm/errors"
	"github.com/wippyai/chainvm/internal/wasmtest"
	"github.com/wippyai/chainvm/wasm"
)

var policy = wasm.Policy{Imports: abi.Lookup, Entry: abi.Entry, MaxMemoryPages: 16}

func TestParseEncodeRoundTrip(t *testing.T) {
	for name, code := range map[string][]byte{
		"adder":    wasmtest.Adder(),
		"storage":  wasmtest.Storage(),
		"proxy":    wasmtest.Proxy(),
		"recurser": wasmtest.Recurser(),
	} {
		t.Run(name, func(t *testing.T) {
			m, err := wasm.ParseModule(code)
			if err != nil {
				t.Fatalf("ParseModule: %v", err)
			}
			if got := m.Encode(); !bytes.Equal(got, code) {
				t.Errorf("re-encoded module differs: %d bytes, want %d", len(got), len(code))
			}
		})
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	tests := []struct {
		name string
		code []byte
	}{
		{"empty", nil},
		{"bad magic", []byte{0x00, 'a', 's', 'n', 1, 0, 0, 0}},
		{"bad version", []byte{0x00, 'a', 's', 'm', 2, 0, 0, 0}},
		{"truncated section", []byte{0x00, 'a', 's', 'm', 1, 0, 0, 0, 0x01, 0x05, 0x01}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := wasm.ParseModule(tt.code); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestValidate(t *testing.T) {
	entryWithParam := func() []byte {
		b := wasmtest.NewBuilder(1)
		ft := wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}}
		b.Export(abi.Entry, b.Func(ft, nil, &wasmtest.Code{}))
		return b.Bytes()
	}
	wrongSignature := func() []byte {
		b := wasmtest.NewBuilder(1)
		b.ImportFunc(abi.Module, abi.Return, wasm.FuncType{Params: []wasm.ValType{wasm.ValI64}})
		b.Export(abi.Entry, b.Func(wasmtest.Void, nil, &wasmtest.Code{}))
		return b.Bytes()
	}
	bigMemory := func() []byte {
		b := wasmtest.NewBuilder(17)
		b.Export(abi.Entry, b.Func(wasmtest.Void, nil, &wasmtest.Code{}))
		return b.Bytes()
	}
	unbalanced := func() []byte {
		b := wasmtest.NewBuilder(1)
		b.Export(abi.Entry, b.Func(wasmtest.Void, nil, (&wasmtest.Code{}).Block()))
		return b.Bytes()
	}

	tests := []struct {
		name string
		code []byte
		kind errors.Kind
		ok   bool
	}{
		{"adder", wasmtest.Adder(), "", true},
		{"env", wasmtest.Env(), "", true},
		{"float", wasmtest.Float(), errors.KindUnsupported, false},
		{"unknown import", wasmtest.UnknownImport(), errors.KindMissingImport, false},
		{"no entry", wasmtest.NoEntry(), errors.KindNotFound, false},
		{"entry with params", entryWithParam(), errors.KindInvalidData, false},
		{"wrong import signature", wrongSignature(), errors.KindTypeMismatch, false},
		{"memory over limit", bigMemory(), errors.KindInvalidData, false},
		{"unbalanced blocks", unbalanced(), errors.KindInvalidData, false},
		{"garbage", []byte("not wasm"), errors.KindInvalidData, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := wasm.Validate(tt.code, policy)
			if tt.ok {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			e, ok := errors.As(err)
			if !ok {
				t.Fatalf("Validate = %v, want *errors.Error", err)
			}
			if e.Phase != errors.PhaseValidate || e.Kind != tt.kind {
				t.Errorf("got %s/%s, want validate/%s", e.Phase, e.Kind, tt.kind)
			}
		})
	}
}

func TestMissingImportsListed(t *testing.T) {
	_, err := wasm.Validate(wasmtest.UnknownImport(), policy)
	var missing *errors.MissingImportsError
	if !stderrors.As(err, &missing) {
		t.Fatalf("Validate = %v, want missing imports", err)
	}
	if len(missing.Imports) != 1 || missing.Imports[0].Function != "ontio_unknown" {
		t.Errorf("missing = %+v", missing.Imports)
	}
}

func TestWalkCode(t *testing.T) {
	code := (&wasmtest.Code{}).I32(300).Drop().Block().Br(0).End().Bytes()
	var ops []byte
	var offsets []int
	err := wasm.WalkCode(code, func(in wasm.Instr) error {
		ops = append(ops, in.Op)
		offsets = append(offsets, in.Offset)
		return nil
	})
	if err != nil {
		t.Fatalf("WalkCode: %v", err)
	}
	wantOps := []byte{wasm.OpI32Const, wasm.OpDrop, wasm.OpBlock, wasm.OpBr, wasm.OpEnd, wasm.OpEnd}
	if !bytes.Equal(ops, wantOps) {
		t.Errorf("ops = %x, want %x", ops, wantOps)
	}
	// i32.const 300 takes a two byte immediate
	if offsets[1] != 3 {
		t.Errorf("drop at offset %d, want 3", offsets[1])
	}

	err = wasm.WalkCode([]byte{0x43, 0, 0, 0, 0}, func(wasm.Instr) error { return nil })
	var op *wasm.UnsupportedOpError
	if !stderrors.As(err, &op) || op.Op != 0x43 {
		t.Errorf("WalkCode(f32.const) = %v, want unsupported opcode", err)
	}
}

func TestMemoryCopyAllowed(t *testing.T) {
	in, err := wasm.ReadInstr([]byte{wasm.OpPrefixFC, 10, 0, 0}, 0)
	if err != nil {
		t.Fatalf("ReadInstr(memory.copy): %v", err)
	}
	if in.SubOp != wasm.SubMemoryCopy || in.End != 4 {
		t.Errorf("instr = %+v", in)
	}
	if _, err := wasm.ReadInstr([]byte{wasm.OpPrefixFC, 0}, 0); err == nil {
		t.Error("saturating float conversion should be rejected")
	}
}
