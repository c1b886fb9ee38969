package host

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/chainvm/abi"
	"github.com/wippyai/chainvm/chainctx"
	"github.com/wippyai/chainvm/common"
	"github.com/wippyai/chainvm/engine"
	"github.com/wippyai/chainvm/errors"
	"github.com/wippyai/chainvm/internal/wasmtest"
	"github.com/wippyai/chainvm/storage"
)

var (
	self   = common.Address{0xAA}
	sender = common.Address{0xBB}
)

type fakeCalls struct {
	out    []byte
	err    error
	inputs [][]byte
}

func (d *fakeCalls) Call(_ context.Context, _ common.Address, input []byte) ([]byte, error) {
	d.inputs = append(d.inputs, append([]byte(nil), input...))
	return d.out, d.err
}

func newFrame(t *testing.T, gas, depth uint64, calls Dispatcher) *Frame {
	t.Helper()
	ctx, err := chainctx.New(chainctx.Params{
		Callers:   chainctx.EncodeAddressList(sender),
		Witnesses: chainctx.EncodeAddressList(sender),
		GasLeft:   gas,
		DepthLeft: depth,
	})
	require.NoError(t, err)
	t.Cleanup(ctx.Close)
	db, err := storage.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &Frame{Ctx: ctx, State: storage.NewOverlay(db), Calls: calls, Self: self}
}

// invoke runs code with f attached and returns the call output.
func invoke(t *testing.T, ctx context.Context, code []byte, f *Frame) ([]byte, error) {
	t.Helper()
	e, err := engine.New(context.Background(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(context.Background()) })

	inst, err := e.Load(context.Background(), code, NewResolver())
	require.NoError(t, err)
	defer inst.Close(context.Background())
	if f != nil {
		ctx = WithFrame(ctx, f)
	}
	if err := inst.Invoke(ctx); err != nil {
		return nil, err
	}
	return f.Ctx.CallOutput(), nil
}

func TestStorageReadOffset(t *testing.T) {
	b := wasmtest.NewBuilder(1)
	write, read, ret := b.Import(abi.StorageWrite), b.Import(abi.StorageRead), b.Import(abi.Return)
	b.Data(0, []byte("k")).Data(2, []byte("z")).Data(16, []byte("hello"))

	c := &wasmtest.Code{}
	c.I32(0).I32(1).I32(16).I32(5).Call(write)
	c.I32(wasmtest.OutAt + 8)
	c.I32(0).I32(1).I32(wasmtest.OutAt).I32(2).I32(2).Call(read)
	c.Store32(0)
	c.I32(wasmtest.OutAt + 12)
	c.I32(2).I32(1).I32(wasmtest.OutAt + 16).I32(8).I32(0).Call(read)
	c.Store32(0)
	c.I32(wasmtest.OutAt).I32(16).Call(ret)
	b.Export(abi.Entry, b.Func(wasmtest.Void, nil, c))

	f := newFrame(t, 1_000_000, 1, nil)
	out, err := invoke(t, context.Background(), b.Bytes(), f)
	require.NoError(t, err)
	require.Len(t, out, 16)
	assert.Equal(t, []byte("ll"), out[:2])
	assert.Equal(t, uint32(5), binary.LittleEndian.Uint32(out[8:]), "full value length")
	assert.Equal(t, abi.StorageMiss, binary.LittleEndian.Uint32(out[12:]))

	v, ok, err := f.State.Get(storage.StorageKey(self, []byte("k")))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("hello"), v)
}

// tryCaller calls a contract with "ping" and returns the status, output
// length and output.
func tryCaller() []byte {
	b := wasmtest.NewBuilder(1)
	try := b.Import(abi.TryCallContract)
	outLen, getOut, ret := b.Import(abi.CallOutputLen), b.Import(abi.GetCallOutput), b.Import(abi.Return)
	b.Data(0, []byte("ping"))

	c := &wasmtest.Code{}
	c.I32(wasmtest.OutAt)
	c.I32(wasmtest.AddrAt).I32(0).I32(4).Call(try)
	c.Store32(0)
	c.I32(wasmtest.OutAt + 4).Call(outLen).Store32(0)
	c.I32(wasmtest.OutAt + 8).Call(getOut)
	c.I32(wasmtest.OutAt).I32(12).Call(ret)
	b.Export(abi.Entry, b.Func(wasmtest.Void, nil, c))
	return b.Bytes()
}

func TestTryCall(t *testing.T) {
	t.Run("depth left", func(t *testing.T) {
		calls := &fakeCalls{out: []byte("pong")}
		out, err := invoke(t, context.Background(), tryCaller(), newFrame(t, 1_000_000, 1, calls))
		require.NoError(t, err)
		assert.Equal(t, []byte{0, 0, 0, 0, 4, 0, 0, 0, 'p', 'o', 'n', 'g'}, out)
		assert.Equal(t, [][]byte{[]byte("ping")}, calls.inputs)
	})

	t.Run("depth exhausted", func(t *testing.T) {
		calls := &fakeCalls{out: []byte("pong")}
		out, err := invoke(t, context.Background(), tryCaller(), newFrame(t, 1_000_000, 0, calls))
		require.NoError(t, err)
		assert.Equal(t, byte(abi.CallDepthExceeded), out[0])
		assert.Equal(t, make([]byte, 8), out[4:])
		assert.Empty(t, calls.inputs, "no call is dispatched")
	})

	t.Run("callee fails", func(t *testing.T) {
		calls := &fakeCalls{err: errors.Trap("callee failed", nil)}
		_, err := invoke(t, context.Background(), tryCaller(), newFrame(t, 1_000_000, 1, calls))
		assert.ErrorIs(t, err, errors.ErrTrap)
		assert.Contains(t, err.Error(), "callee failed")
	})
}

func TestNotify(t *testing.T) {
	build := func(n int32) []byte {
		b := wasmtest.NewBuilder(2)
		notify := b.Import(abi.Notify)
		b.Data(0, []byte("ping"))
		c := (&wasmtest.Code{}).I32(0).I32(n).Call(notify)
		b.Export(abi.Entry, b.Func(wasmtest.Void, nil, c))
		return b.Bytes()
	}

	f := newFrame(t, 1_000_000, 1, nil)
	_, err := invoke(t, context.Background(), build(4), f)
	require.NoError(t, err)
	require.Len(t, f.Ctx.Notifications(), 1)
	assert.Equal(t, self, f.Ctx.Notifications()[0].Contract)
	assert.Equal(t, []byte("ping"), f.Ctx.Notifications()[0].Data)

	f = newFrame(t, 1_000_000, 1, nil)
	_, err = invoke(t, context.Background(), build(MaxNotifyLen), f)
	assert.ErrorIs(t, err, errors.ErrTrap)
	assert.Empty(t, f.Ctx.Notifications())
}

func TestBadPointerTraps(t *testing.T) {
	b := wasmtest.NewBuilder(1)
	ret := b.Import(abi.Return)
	b.Export(abi.Entry, b.Func(wasmtest.Void, nil, (&wasmtest.Code{}).I32(70000).I32(4).Call(ret)))

	_, err := invoke(t, context.Background(), b.Bytes(), newFrame(t, 1_000_000, 1, nil))
	assert.ErrorIs(t, err, errors.ErrTrap)
	assert.Contains(t, err.Error(), "bad guest pointer")
}

func TestGasExhaustion(t *testing.T) {
	f := newFrame(t, 10, 1, nil)
	_, err := invoke(t, context.Background(), wasmtest.Counter(1000), f)
	assert.ErrorIs(t, err, errors.ErrOutOfGas)
	assert.Zero(t, f.Ctx.GasLeft())
}

func TestHostCallWithoutFrame(t *testing.T) {
	_, err := invoke(t, context.Background(), wasmtest.Counter(1), nil)
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseHost, Kind: errors.KindInternal})
}

func TestResolverSubset(t *testing.T) {
	r := NewResolver(abi.Return, "not_a_host_func")
	_, ok := r.Lookup(abi.Module, abi.Return)
	assert.True(t, ok)
	_, ok = r.Lookup(abi.Module, abi.Notify)
	assert.False(t, ok)

	full := NewResolver()
	for name := range abi.Signatures {
		_, ok := full.Lookup(abi.Module, name)
		assert.True(t, ok, name)
	}
}
