package engine

import (
	"context"
	"encoding/binary"
	stderrors "errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/chainvm/abi"
	"github.com/wippyai/chainvm/errors"
	"github.com/wippyai/chainvm/internal/wasmtest"
	"github.com/wippyai/chainvm/wasm"
	"github.com/wippyai/chainvm/wasm/metering"
)

func newEngine(t *testing.T, cfg *Config) *Engine {
	t.Helper()
	e, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e
}

// meterResolver counts charged steps and aborts once limit is passed.
func meterResolver(steps *atomic.Uint64, limit uint64) *Resolver {
	return NewResolver(abi.Module).Define(metering.DefaultMeterName, metering.MeterType,
		func(_ context.Context, _ api.Module, stack []uint64) {
			if n := steps.Add(stack[0]); limit > 0 && n > limit {
				panic(errors.OutOfGas(stack[0], 0))
			}
		})
}

func TestNew(t *testing.T) {
	tests := []struct {
		cfg  *Config
		name string
	}{
		{nil, "nil config"},
		{&Config{}, "default config"},
		{&Config{MemoryLimitPages: 16, CacheEntries: 4, CacheTTL: time.Minute}, "small limits"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := newEngine(t, tc.cfg)
			if e.runtime == nil {
				t.Error("engine runtime should not be nil")
			}
			if e.policy.Entry != abi.Entry {
				t.Errorf("entry = %q, want %q", e.policy.Entry, abi.Entry)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	e := newEngine(t, nil)
	if _, err := e.Validate(wasmtest.Adder()); err != nil {
		t.Fatalf("Validate(Adder): %v", err)
	}
	_, err := e.Validate(wasmtest.Float())
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseValidate, Kind: errors.KindUnsupported}) {
		t.Fatalf("Validate(Float) = %v, want unsupported", err)
	}
}

func TestCompileCache(t *testing.T) {
	e := newEngine(t, nil)
	ctx := context.Background()
	code := wasmtest.Counter(10)

	m1, err := e.Compile(ctx, code)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	m2, err := e.Compile(ctx, code)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if m1 != m2 {
		t.Error("second compile should return the cached module")
	}
	if got := e.Stats(); got.Hits != 1 || got.Misses != 1 || got.Modules != 1 {
		t.Errorf("stats = %+v", got)
	}
}

func TestInvokeMeters(t *testing.T) {
	e := newEngine(t, nil)
	ctx := context.Background()
	var steps atomic.Uint64
	r := meterResolver(&steps, 0)

	run := func(n int32) uint64 {
		steps.Store(0)
		inst, err := e.Load(ctx, wasmtest.Counter(n), r)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		defer inst.Close(ctx)
		if err := inst.Invoke(ctx); err != nil {
			t.Fatalf("Invoke: %v", err)
		}
		return steps.Load()
	}
	small, large := run(10), run(100)
	if small == 0 || large <= small {
		t.Errorf("steps for 10 and 100 iterations: %d, %d", small, large)
	}
	if again := run(10); again != small {
		t.Errorf("metering not deterministic: %d then %d", small, again)
	}
}

func TestHaltReturnsOutput(t *testing.T) {
	e := newEngine(t, nil)
	ctx := context.Background()
	var steps atomic.Uint64

	input := []byte{3, 'a', 'd', 'd'}
	input = binary.LittleEndian.AppendUint64(input, 40)
	input = binary.LittleEndian.AppendUint64(input, 2)
	var output []byte

	r := meterResolver(&steps, 0).
		Define(abi.GetInput, abi.Signatures[abi.GetInput], func(_ context.Context, m api.Module, stack []uint64) {
			m.Memory().Write(api.DecodeU32(stack[0]), input)
		}).
		Define(abi.Return, abi.Signatures[abi.Return], func(_ context.Context, m api.Module, stack []uint64) {
			out, _ := m.Memory().Read(api.DecodeU32(stack[0]), api.DecodeU32(stack[1]))
			output = append([]byte(nil), out...)
			Halt()
		})

	inst, err := e.Load(ctx, wasmtest.Adder(), r)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer inst.Close(ctx)
	if err := inst.Invoke(ctx); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if len(output) != 8 || binary.LittleEndian.Uint64(output) != 42 {
		t.Errorf("output = %x, want 42", output)
	}
}

func TestMissingImports(t *testing.T) {
	e := newEngine(t, nil)
	var steps atomic.Uint64

	_, err := e.Load(context.Background(), wasmtest.Adder(), meterResolver(&steps, 0))
	var missing *errors.MissingImportsError
	if !stderrors.As(err, &missing) {
		t.Fatalf("Load = %v, want missing imports", err)
	}
	if len(missing.Imports) != 2 {
		t.Errorf("missing = %v, want get_input and return", missing.Imports)
	}
	if errors.ResultKindOf(err) != errors.ResultLink {
		t.Errorf("result kind = %s", errors.ResultKindOf(err))
	}
}

func TestHostErrorPassesThrough(t *testing.T) {
	e := newEngine(t, nil)
	ctx := context.Background()
	var steps atomic.Uint64

	inst, err := e.Load(ctx, wasmtest.Counter(1000), meterResolver(&steps, 50))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer inst.Close(ctx)
	err = inst.Invoke(ctx)
	if !stderrors.Is(err, errors.ErrOutOfGas) {
		t.Fatalf("Invoke = %v, want out of gas", err)
	}
}

func TestGuestTrap(t *testing.T) {
	e := newEngine(t, nil)
	ctx := context.Background()
	var steps atomic.Uint64

	b := wasmtest.NewBuilder(0)
	b.Export(abi.Entry, b.Func(wasmtest.Void, nil, (&wasmtest.Code{}).Op(wasm.OpUnreachable)))
	inst, err := e.Load(ctx, b.Bytes(), meterResolver(&steps, 0))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer inst.Close(ctx)
	if err := inst.Invoke(ctx); !stderrors.Is(err, errors.ErrTrap) {
		t.Fatalf("Invoke = %v, want trap", err)
	}
}

func TestStartFunctionIsMetered(t *testing.T) {
	e := newEngine(t, nil)
	var steps atomic.Uint64

	b := wasmtest.NewBuilder(0)
	spin := b.Func(wasmtest.Void, nil, (&wasmtest.Code{}).Loop().Br(0).End())
	b.Start(spin)
	b.Export(abi.Entry, b.Func(wasmtest.Void, nil, &wasmtest.Code{}))

	_, err := e.Load(context.Background(), b.Bytes(), meterResolver(&steps, 1000))
	if !stderrors.Is(err, errors.ErrOutOfGas) {
		t.Fatalf("Load = %v, want out of gas from the start function", err)
	}
}

func TestLinkOneResolverPerModule(t *testing.T) {
	e := newEngine(t, nil)
	ctx := context.Background()
	var steps atomic.Uint64
	r := meterResolver(&steps, 0)

	if err := e.Link(ctx, r); err != nil {
		t.Fatalf("Link: %v", err)
	}
	if err := e.Link(ctx, r); err != nil {
		t.Errorf("relinking the same resolver: %v", err)
	}
	err := e.Link(ctx, meterResolver(&steps, 0))
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseHost, Kind: errors.KindRegistration}) {
		t.Errorf("Link(other) = %v, want registration error", err)
	}
}

func TestEviction(t *testing.T) {
	e := newEngine(t, &Config{CacheEntries: 1})
	ctx := context.Background()
	var steps atomic.Uint64
	r := meterResolver(&steps, 0)

	first, err := e.Compile(ctx, wasmtest.Counter(1))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if _, err := e.Compile(ctx, wasmtest.Counter(2)); err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if n := e.Stats().Modules; n != 1 {
		t.Errorf("modules = %d, want 1", n)
	}
	if _, err := e.Instantiate(ctx, first, r); err == nil {
		t.Error("instantiating an evicted module should fail")
	}

	inst, err := e.Load(ctx, wasmtest.Counter(1), r)
	if err != nil {
		t.Fatalf("Load after eviction: %v", err)
	}
	defer inst.Close(ctx)
	if err := inst.Invoke(ctx); err != nil {
		t.Errorf("Invoke: %v", err)
	}
}

func TestCancellation(t *testing.T) {
	e := newEngine(t, nil)
	var steps atomic.Uint64

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	inst, err := e.Load(ctx, wasmtest.Counter(1<<30), meterResolver(&steps, 0))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer inst.Close(context.Background())

	err = inst.Invoke(ctx)
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseRuntime, Kind: errors.KindInternal}) {
		t.Fatalf("Invoke = %v, want cancellation", err)
	}
	if !stderrors.Is(err, context.DeadlineExceeded) {
		t.Errorf("cause = %v, want deadline exceeded", err)
	}
}
