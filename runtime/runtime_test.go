package runtime

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/wippyai/chainvm/codec"
	"github.com/wippyai/chainvm/codec/crossvm"
	nativecodec "github.com/wippyai/chainvm/codec/native"
	"github.com/wippyai/chainvm/common"
	"github.com/wippyai/chainvm/contract"
	"github.com/wippyai/chainvm/errors"
	"github.com/wippyai/chainvm/host"
	"github.com/wippyai/chainvm/internal/wasmtest"
	"github.com/wippyai/chainvm/legacyvm"
	"github.com/wippyai/chainvm/storage"
)

var (
	sender = common.Address{0x5E}
	other  = common.Address{0x07}
)

type fixture struct {
	t     *testing.T
	rt    *Runtime
	store *storage.LevelStore
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	store, err := storage.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	rt, err := New(ctx, store, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close(ctx) })
	return &fixture{t: t, rt: rt, store: store}
}

func (f *fixture) deploy(code []byte, name string) common.Address {
	f.t.Helper()
	addr, err := f.rt.Deploy(context.Background(), &contract.DeployCode{
		Code:   code,
		VMType: contract.VMWasm,
		Name:   name,
	})
	require.NoError(f.t, err)
	return addr
}

func (f *fixture) exec(addr common.Address, input []byte, mods ...func(*Transaction)) *Receipt {
	f.t.Helper()
	tx := &Transaction{Contract: addr, Input: input, Sender: sender}
	for _, m := range mods {
		m(tx)
	}
	rec, err := f.rt.Execute(context.Background(), tx)
	require.NoError(f.t, err)
	return rec
}

func (f *fixture) applied(addr common.Address, input []byte, mods ...func(*Transaction)) []byte {
	f.t.Helper()
	rec := f.exec(addr, input, mods...)
	require.Equal(f.t, Applied, rec.State, rec.Error)
	return rec.Output
}

func depth(n uint64) func(*Transaction) {
	return func(tx *Transaction) { tx.DepthLimit = Depth(n) }
}

func gas(n uint64) func(*Transaction) {
	return func(tx *Transaction) { tx.GasLimit = n }
}

// nat encodes a native codec call.
func nat(t *testing.T, method string, args ...codec.Value) []byte {
	t.Helper()
	data, err := nativecodec.EncodeCall(method, args...)
	require.NoError(t, err)
	return data
}

// raw is a method name followed by unframed bytes.
func raw(method string, parts ...[]byte) []byte {
	sink := common.NewZeroCopySink(nil)
	sink.WriteString(method)
	for _, p := range parts {
		sink.WriteBytes(p)
	}
	return sink.Bytes()
}

func migrated(code []byte) common.Address {
	d := &contract.DeployCode{
		Code:    code,
		VMType:  contract.VMWasm,
		Name:    "migrated",
		Version: "migrated",
		Author:  "migrated",
		Email:   "migrated",
		Desc:    "migrated",
	}
	return d.Address()
}

func TestAdd(t *testing.T) {
	f := newFixture(t)
	addr := f.deploy(wasmtest.Adder(), "adder")

	rec := f.exec(addr, nat(t, "add", codec.U64(1), codec.U64(2)))
	require.Equal(t, Applied, rec.State, rec.Error)
	require.Len(t, rec.Output, 8)
	assert.Equal(t, uint64(3), binary.LittleEndian.Uint64(rec.Output))
	assert.Equal(t, errors.ResultOK, rec.Kind)
	assert.Greater(t, rec.GasUsed, f.rt.costs.MinTransaction)
	assert.NotZero(t, rec.ExecSteps)
	assert.NoError(t, rec.Err())
}

func TestRecursion(t *testing.T) {
	f := newFixture(t)
	addr := f.deploy(wasmtest.Recurser(), "recurser")
	in := nat(t, "recurse", codec.U64(1), codec.U64(2), codec.U32(20))

	out := f.applied(addr, in, depth(20))
	require.Len(t, out, 8)
	assert.Equal(t, uint64(3), binary.LittleEndian.Uint64(out))

	rec := f.exec(addr, in, depth(19))
	assert.Equal(t, Failed, rec.State)
	assert.Equal(t, errors.ResultDepth, rec.Kind)
	assert.ErrorIs(t, rec.Err(), errors.ErrDepthExceeded)
	assert.Empty(t, rec.Output)
}

func TestStorage(t *testing.T) {
	f := newFixture(t)
	addr := f.deploy(wasmtest.Storage(), "store")
	key, val := []byte{0x23}, []byte{0x13, 0x82, 0x97}

	f.applied(addr, nat(t, "put", codec.Bytes(key), codec.Bytes(val)))
	got, ok, err := f.rt.GetStorage(addr, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, val, got)

	assert.Equal(t, []byte{1, 3, 0x13, 0x82, 0x97}, f.applied(addr, nat(t, "get", codec.Bytes(key))))
	assert.Equal(t, []byte{0}, f.applied(addr, nat(t, "get", codec.Bytes([]byte{0x24}))))

	f.applied(addr, nat(t, "xdel", codec.Bytes(key)))
	_, ok, err = f.rt.GetStorage(addr, key)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []byte{0}, f.applied(addr, nat(t, "get", codec.Bytes(key))))
}

func TestMigrate(t *testing.T) {
	f := newFixture(t)
	old := f.deploy(wasmtest.Storage(), "store")
	key, val := []byte{0x23}, []byte{0x13, 0x82, 0x97}
	f.applied(old, nat(t, "put", codec.Bytes(key), codec.Bytes(val)))

	out := f.applied(old, raw("migrate", wasmtest.Storage()))
	want := migrated(wasmtest.Storage())
	require.Equal(t, want[:], out)

	got, ok, err := f.rt.GetStorage(want, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, val, got)
	_, ok, err = f.rt.GetStorage(old, key)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = f.rt.GetContract(old)
	require.NoError(t, err)
	assert.False(t, ok)
	d, ok, err := f.rt.GetContract(want)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "migrated", d.Name)

	assert.Equal(t, []byte{1, 3, 0x13, 0x82, 0x97}, f.applied(want, nat(t, "get", codec.Bytes(key))))
	rec := f.exec(old, nat(t, "get", codec.Bytes(key)))
	assert.Equal(t, Failed, rec.State)
	assert.ErrorIs(t, rec.Err(), errors.ErrContractNotFound)

	// the target already exists now
	rec = f.exec(want, raw("migrate", wasmtest.Storage()))
	assert.ErrorIs(t, rec.Err(), errors.ErrContractExists)
}

func TestDestroy(t *testing.T) {
	f := newFixture(t)
	addr := f.deploy(wasmtest.Storage(), "store")
	f.applied(addr, nat(t, "put", codec.Bytes([]byte("k")), codec.Bytes([]byte("v"))))

	out := f.applied(addr, raw("destroy"))
	assert.Empty(t, out)

	_, ok, err := f.rt.GetContract(addr)
	require.NoError(t, err)
	assert.False(t, ok)
	for _, k := range []string{"k", "after"} {
		_, ok, err := f.rt.GetStorage(addr, []byte(k))
		require.NoError(t, err)
		assert.False(t, ok, k)
	}
}

func TestOutOfGasLeavesNoWrites(t *testing.T) {
	f := newFixture(t)
	addr := f.deploy(wasmtest.Storage(), "store")
	key := []byte("k")

	rec := f.exec(addr, nat(t, "write_loop", codec.Bytes(key), codec.Bytes([]byte("v"))), gas(100_000))
	assert.Equal(t, Failed, rec.State)
	assert.Equal(t, errors.ResultOutOfGas, rec.Kind)
	assert.Equal(t, uint64(100_000), rec.GasUsed)
	assert.Empty(t, rec.Notifications)

	_, ok, err := f.rt.GetStorage(addr, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNestedFailureLeavesNoWrites(t *testing.T) {
	f := newFixture(t)
	store := f.deploy(wasmtest.Storage(), "store")
	proxy := f.deploy(wasmtest.Proxy(), "proxy")
	key := []byte("k")

	in := raw("call", store[:], nat(t, "write_loop", codec.Bytes(key), codec.Bytes([]byte("v"))))
	rec := f.exec(proxy, in, gas(200_000))
	assert.Equal(t, errors.ResultOutOfGas, rec.Kind)

	_, ok, err := f.rt.GetStorage(store, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStepLimit(t *testing.T) {
	f := newFixture(t)
	addr := f.deploy(wasmtest.Storage(), "store")

	rec := f.exec(addr, raw("loop"), func(tx *Transaction) { tx.StepLimit = 10_000 })
	assert.Equal(t, errors.ResultStepLimit, rec.Kind)
	assert.ErrorIs(t, rec.Err(), errors.ErrStepLimit)
	assert.Greater(t, rec.ExecSteps, uint64(10_000))
}

func TestGasFactor(t *testing.T) {
	f := newFixture(t)
	addr := f.deploy(wasmtest.Counter(5000), "counter")

	run := func(factor uint64) *Receipt {
		rec, err := f.rt.PreExecute(context.Background(), &Transaction{
			Contract:  addr,
			Sender:    sender,
			GasFactor: factor,
		})
		require.NoError(t, err)
		require.Equal(t, Applied, rec.State, rec.Error)
		return rec
	}
	one, ten := run(1), run(10)
	assert.Equal(t, one.ExecSteps, ten.ExecSteps)
	assert.Less(t, ten.GasUsed, one.GasUsed)
	base := f.rt.costs.MinTransaction
	assert.InDelta(t, float64(one.GasUsed-base)/10, float64(ten.GasUsed-base), 1)
}

func TestEnv(t *testing.T) {
	f := newFixture(t)
	env := f.deploy(wasmtest.Env(), "env")
	proxy := f.deploy(wasmtest.Proxy(), "proxy")

	t.Run("witness", func(t *testing.T) {
		assert.Equal(t, []byte{1}, f.applied(env, raw("witness", sender[:])))
		assert.Equal(t, []byte{0}, f.applied(env, raw("witness", other[:])))
		assert.Equal(t, []byte{1}, f.applied(env, raw("witness", other[:]), func(tx *Transaction) {
			tx.Witnesses = []common.Address{other}
		}))
		// the calling contract counts as a witness
		assert.Equal(t, []byte{1}, f.applied(proxy, raw("call", env[:], raw("witness", proxy[:]))))
	})

	t.Run("addresses", func(t *testing.T) {
		out := f.applied(env, raw("addrs"))
		assert.Equal(t, cat(env[:], sender[:], env[:]), out)

		out = f.applied(proxy, raw("call", env[:], raw("addrs")))
		assert.Equal(t, cat(env[:], proxy[:], proxy[:]), out)
	})

	t.Run("block", func(t *testing.T) {
		bh, th := common.H256{1, 2, 3}, common.H256{4, 5, 6}
		out := f.applied(env, raw("block"), func(tx *Transaction) {
			tx.Height = 7
			tx.Timestamp = 1_700_000_000
			tx.BlockHash = bh
			tx.TxHash = th
		})
		require.Len(t, out, 76)
		assert.Equal(t, uint64(1_700_000_000), binary.LittleEndian.Uint64(out))
		assert.Equal(t, uint32(7), binary.LittleEndian.Uint32(out[8:]))
		assert.Equal(t, bh[:], out[12:44])
		assert.Equal(t, th[:], out[44:76])
	})

	t.Run("notify", func(t *testing.T) {
		rec := f.exec(env, raw("notify", []byte("hello")))
		require.Equal(t, Applied, rec.State, rec.Error)
		require.Len(t, rec.Notifications, 1)
		assert.Equal(t, env, rec.Notifications[0].Contract)
		assert.Equal(t, []byte("hello"), rec.Notifications[0].Data)

		rec = f.exec(env, raw("notify", make([]byte, host.MaxNotifyLen)))
		assert.Equal(t, errors.ResultTrap, rec.Kind)
	})

	t.Run("hash", func(t *testing.T) {
		sum := sha256.Sum256([]byte("abc"))
		assert.Equal(t, sum[:], f.applied(env, raw("hash", []byte("abc"))))
	})

	t.Run("panic", func(t *testing.T) {
		rec := f.exec(env, raw("zzz"))
		assert.Equal(t, errors.ResultTrap, rec.Kind)
		assert.Contains(t, rec.Error, "boom")
	})
}

func cat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func TestCallDepth(t *testing.T) {
	f := newFixture(t)
	env := f.deploy(wasmtest.Env(), "env")
	proxy := f.deploy(wasmtest.Proxy(), "proxy")

	t.Run("try reports exhaustion", func(t *testing.T) {
		in := raw("try", proxy[:], raw("try", env[:], raw("echo")))
		assert.Equal(t, []byte{0, 7}, f.applied(proxy, in, depth(1)))

		echo := raw("echo")
		assert.Equal(t, cat([]byte{0, 0}, echo), f.applied(proxy, in, depth(2)))
	})

	t.Run("call is fatal", func(t *testing.T) {
		in := raw("call", proxy[:], raw("call", env[:], raw("echo")))
		rec := f.exec(proxy, in, depth(1))
		assert.Equal(t, errors.ResultDepth, rec.Kind)

		assert.Equal(t, raw("echo"), f.applied(proxy, in, depth(2)))
	})

	t.Run("zero budget", func(t *testing.T) {
		rec := f.exec(proxy, raw("call", env[:], raw("echo")), depth(0))
		assert.Equal(t, Failed, rec.State)
		assert.Equal(t, errors.ResultDepth, rec.Kind)

		assert.Equal(t, []byte{7}, f.applied(proxy, raw("try", env[:], raw("echo")), depth(0)))
		assert.Equal(t, raw("echo"), f.applied(env, raw("echo"), depth(0)), "top level needs no depth")
	})

	t.Run("zero default", func(t *testing.T) {
		g := newFixture(t, WithLimits(Limits{Depth: Depth(0)}))
		env := g.deploy(wasmtest.Env(), "env")
		proxy := g.deploy(wasmtest.Proxy(), "proxy")
		require.NotNil(t, g.rt.Limits().Depth)
		assert.Equal(t, uint64(0), *g.rt.Limits().Depth)

		rec := g.exec(proxy, raw("call", env[:], raw("echo")))
		assert.Equal(t, errors.ResultDepth, rec.Kind)
		assert.Equal(t, raw("echo"), g.applied(proxy, raw("call", env[:], raw("echo")), depth(1)))
	})
}

func TestCreateFromContract(t *testing.T) {
	f := newFixture(t)
	proxy := f.deploy(wasmtest.Proxy(), "proxy")

	out := f.applied(proxy, raw("new", wasmtest.Adder()))
	want := migrated(wasmtest.Adder())
	require.Equal(t, want[:], out)

	res := f.applied(want, nat(t, "add", codec.U64(40), codec.U64(2)))
	assert.Equal(t, uint64(42), binary.LittleEndian.Uint64(res))

	rec := f.exec(proxy, raw("new", wasmtest.Adder()))
	assert.ErrorIs(t, rec.Err(), errors.ErrContractExists)
}

func TestContractNotFound(t *testing.T) {
	f := newFixture(t)
	rec := f.exec(common.Address{0xEE}, nil)
	assert.Equal(t, Failed, rec.State)
	assert.Equal(t, errors.ResultTrap, rec.Kind)
	assert.ErrorIs(t, rec.Err(), errors.ErrContractNotFound)
}

func TestDeployRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		code []byte
		want errors.ResultKind
	}{
		{"float", wasmtest.Float(), errors.ResultValidation},
		{"unknown import", wasmtest.UnknownImport(), errors.ResultLink},
		{"no entry", wasmtest.NoEntry(), errors.ResultValidation},
		{"garbage", []byte("not wasm"), errors.ResultValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.rt.Deploy(ctx, &contract.DeployCode{Code: tt.code, VMType: contract.VMWasm})
			require.Error(t, err)
			assert.Equal(t, tt.want, errors.ResultKindOf(err), err.Error())
		})
	}

	f.deploy(wasmtest.Adder(), "adder")
	_, err := f.rt.Deploy(ctx, &contract.DeployCode{Code: wasmtest.Adder(), VMType: contract.VMWasm, Name: "adder"})
	assert.ErrorIs(t, err, errors.ErrContractExists)
}

func TestDeployGasLimit(t *testing.T) {
	f := newFixture(t, WithGasLimit(1000))
	_, err := f.rt.Deploy(context.Background(), &contract.DeployCode{Code: wasmtest.Adder(), VMType: contract.VMWasm})
	assert.ErrorIs(t, err, errors.ErrOutOfGas)
}

func TestPreExecuteDoesNotCommit(t *testing.T) {
	f := newFixture(t)
	addr := f.deploy(wasmtest.Storage(), "store")

	rec, err := f.rt.PreExecute(context.Background(), &Transaction{
		Contract: addr,
		Input:    nat(t, "put", codec.Bytes([]byte("k")), codec.Bytes([]byte("v"))),
		Sender:   sender,
	})
	require.NoError(t, err)
	assert.Equal(t, Applied, rec.State)

	_, ok, err := f.rt.GetStorage(addr, []byte("k"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeterminism(t *testing.T) {
	type outcome struct {
		addr  common.Address
		out   []byte
		gas   uint64
		steps uint64
	}
	run := func() []outcome {
		f := newFixture(t)
		addr := f.deploy(wasmtest.Recurser(), "recurser")
		var res []outcome
		for i := uint32(0); i < 3; i++ {
			rec := f.exec(addr, nat(t, "recurse", codec.U64(5), codec.U64(6), codec.U32(i)))
			res = append(res, outcome{addr, rec.Output, rec.GasUsed, rec.ExecSteps})
		}
		return res
	}
	assert.Equal(t, run(), run())
}

func TestConcurrentTransactions(t *testing.T) {
	f := newFixture(t)
	addr := f.deploy(wasmtest.Adder(), "adder")

	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data, err := nativecodec.EncodeCall("add", codec.U64(uint64(i)), codec.U64(1))
			if err != nil {
				errs[i] = err
				return
			}
			rec, err := f.rt.Execute(context.Background(), &Transaction{Contract: addr, Input: data, Sender: sender})
			if err != nil {
				errs[i] = err
				return
			}
			if rec.State != Applied || binary.LittleEndian.Uint64(rec.Output) != uint64(i)+1 {
				errs[i] = rec.Err()
				if errs[i] == nil {
					errs[i] = errors.Trap("wrong output", nil)
				}
			}
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		assert.NoError(t, err, "tx %d", i)
	}
	assert.NotZero(t, f.rt.Engine().Stats().Hits)
}

// adderScript dispatches "add" and throws for anything else.
var adderScript = []byte{
	legacyvm.OpDup,
	0x03, 'a', 'd', 'd',
	legacyvm.OpEqual,
	legacyvm.OpJmpIfNot, 0x08, 0x00,
	legacyvm.OpDrop,
	legacyvm.OpUnpack,
	legacyvm.OpDrop,
	legacyvm.OpAdd,
	legacyvm.OpRet,
	legacyvm.OpThrow,
}

func decodeInt(t *testing.T, out []byte) int64 {
	t.Helper()
	v, err := crossvm.Codec{}.Decode(out, codec.Of(codec.KindI64))
	require.NoError(t, err)
	n, ok := v.Int64()
	require.True(t, ok)
	return n
}

func TestCrossVM(t *testing.T) {
	f := newFixture(t)
	proxy := f.deploy(wasmtest.Proxy(), "proxy")

	legacyAddr := common.Address{0x4C}
	f.rt.RegisterLegacy(legacyAddr, legacyvm.NewFuncContract().
		Handle("add", func(env *legacyvm.Env, args []legacyvm.Value) (legacyvm.Value, error) {
			a, err := args[0].AsInt()
			if err != nil {
				return legacyvm.Value{}, err
			}
			b, err := args[1].AsInt()
			if err != nil {
				return legacyvm.Value{}, err
			}
			return legacyvm.NewInt(new(big.Int).Add(a, b))
		}).
		Handle("caller", func(env *legacyvm.Env, _ []legacyvm.Value) (legacyvm.Value, error) {
			caller := env.Ctx.Caller()
			return legacyvm.NewByteArray(caller[:]), nil
		}))

	in, err := crossvm.EncodeCall("add", codec.I64(2), codec.I64(40))
	require.NoError(t, err)
	assert.Equal(t, int64(42), decodeInt(t, f.applied(proxy, raw("call", legacyAddr[:], in))))

	in, err = crossvm.EncodeCall("caller")
	require.NoError(t, err)
	v, err := crossvm.Codec{}.Decode(f.applied(proxy, raw("call", legacyAddr[:], in)), codec.Of(codec.KindAddress))
	require.NoError(t, err)
	assert.Equal(t, proxy, v.AsAddress())

	t.Run("deployed script", func(t *testing.T) {
		script, err := f.rt.Deploy(context.Background(), &contract.DeployCode{
			Code:   adderScript,
			VMType: contract.VMLegacy,
			Name:   "script",
		})
		require.NoError(t, err)

		in, err := crossvm.EncodeCall("add", codec.I64(2), codec.I64(3))
		require.NoError(t, err)
		assert.Equal(t, int64(5), decodeInt(t, f.applied(script, in)))
		assert.Equal(t, int64(5), decodeInt(t, f.applied(proxy, raw("call", script[:], in))))

		bad, err := crossvm.EncodeCall("sub")
		require.NoError(t, err)
		assert.Equal(t, errors.ResultTrap, f.exec(proxy, raw("call", script[:], bad)).Kind)
	})

	t.Run("invalid script", func(t *testing.T) {
		_, err := f.rt.Deploy(context.Background(), &contract.DeployCode{
			Code:   []byte{legacyvm.OpPushData1},
			VMType: contract.VMLegacy,
		})
		assert.Error(t, err)
	})
}

func TestServiceIndexTraced(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	f := newFixture(t, WithTracerProvider(tp))
	addr := f.deploy(wasmtest.Adder(), "adder")

	f.applied(addr, nat(t, "add", codec.U64(1), codec.U64(2)), func(tx *Transaction) { tx.ServiceIndex = 3 })

	var found bool
	for _, s := range exp.GetSpans() {
		if s.Name != "chainvm.execute" {
			continue
		}
		for _, kv := range s.Attributes {
			if kv.Key == attribute.Key("service_index") {
				found = true
				assert.Equal(t, int64(3), kv.Value.AsInt64())
			}
		}
	}
	assert.True(t, found, "execute span carries the service index")
}
