package native

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/chainvm/chainctx"
	"github.com/wippyai/chainvm/codec"
	nativecodec "github.com/wippyai/chainvm/codec/native"
	"github.com/wippyai/chainvm/common"
	"github.com/wippyai/chainvm/contract"
	"github.com/wippyai/chainvm/errors"
	"github.com/wippyai/chainvm/storage"
)

var (
	alice = common.Address{0xA1}
	bob   = common.Address{0xB0}
)

func newEnv(t *testing.T, gas uint64, witnesses ...common.Address) *contract.Env {
	t.Helper()
	ctx, err := chainctx.New(chainctx.Params{
		Callers:   chainctx.EncodeAddressList(alice),
		Witnesses: chainctx.EncodeAddressList(witnesses...),
		GasLeft:   gas,
		DepthLeft: 4,
	})
	require.NoError(t, err)
	t.Cleanup(ctx.Close)
	s, err := storage.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return &contract.Env{Ctx: ctx, State: storage.NewOverlay(s), Self: LedgerAddress}
}

func args(t *testing.T, vs ...codec.Value) []byte {
	t.Helper()
	data, err := nativecodec.Codec{}.Encode(codec.Tuple(vs...))
	require.NoError(t, err)
	return data
}

func TestCallFraming(t *testing.T) {
	data := EncodeCall("balanceOf", []byte{1, 2, 3})
	assert.Equal(t, CallVersion, data[0])

	method, a, err := ParseCall(data)
	require.NoError(t, err)
	assert.Equal(t, "balanceOf", method)
	assert.Equal(t, []byte{1, 2, 3}, a)

	tests := []struct {
		name string
		data []byte
		kind errors.Kind
	}{
		{"empty", nil, errors.KindInvalidData},
		{"version", []byte{1, 0, 0}, errors.KindUnsupported},
		{"no args", []byte{0, 1, 'x'}, errors.KindInvalidData},
		{"trailing", append(EncodeCall("x", nil), 0), errors.KindInvalidData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseCall(tt.data)
			e, ok := errors.As(err)
			require.True(t, ok, "%v", err)
			assert.Equal(t, tt.kind, e.Kind)
		})
	}
}

func TestLedgerTransfer(t *testing.T) {
	env := newEnv(t, 1_000_000, alice)
	require.NoError(t, Credit(env.State, alice, uint256.NewInt(100)))

	out, err := Call(env, Ledger{}, EncodeCall("transfer",
		args(t, codec.Address(alice), codec.Address(bob), codec.U128(0, 30))))
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, out)

	a, err := Balance(env.State, alice)
	require.NoError(t, err)
	b, err := Balance(env.State, bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(70), a.Uint64())
	assert.Equal(t, uint64(30), b.Uint64())
	require.Len(t, env.Ctx.Notifications(), 1)
	assert.Equal(t, LedgerAddress, env.Ctx.Notifications()[0].Contract)

	out, err = Call(env, Ledger{}, EncodeCall("balanceOf", args(t, codec.Address(bob))))
	require.NoError(t, err)
	v, err := nativecodec.Codec{}.Decode(out, codec.Of(codec.KindU128))
	require.NoError(t, err)
	n, _ := v.Uint64()
	assert.Equal(t, uint64(30), n)
}

func TestLedgerRejects(t *testing.T) {
	env := newEnv(t, 1_000_000, alice)
	require.NoError(t, Credit(env.State, alice, uint256.NewInt(10)))
	require.NoError(t, Credit(env.State, bob, uint256.NewInt(10)))

	_, err := Call(env, Ledger{}, EncodeCall("transfer",
		args(t, codec.Address(bob), codec.Address(alice), codec.U128(0, 1))))
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseRuntime, Kind: errors.KindTrap})

	_, err = Call(env, Ledger{}, EncodeCall("transfer",
		args(t, codec.Address(alice), codec.Address(bob), codec.U128(0, 11))))
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseRuntime, Kind: errors.KindTrap})

	_, err = Call(env, Ledger{}, EncodeCall("mint", nil))
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseRuntime, Kind: errors.KindTrap})

	a, err := Balance(env.State, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), a.Uint64())
}

func TestLedgerName(t *testing.T) {
	env := newEnv(t, 1_000_000)
	out, err := Call(env, Ledger{}, EncodeCall("name", nil))
	require.NoError(t, err)
	assert.Equal(t, append([]byte{6}, "ledger"...), out)
}

func TestCallChargesNativeInvoke(t *testing.T) {
	env := newEnv(t, 500)
	_, err := Call(env, Ledger{}, EncodeCall("name", nil))
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseRuntime, Kind: errors.KindOutOfGas})
	assert.Zero(t, env.Ctx.GasLeft())
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(LedgerAddress, Ledger{})
	c, ok := r.Lookup(LedgerAddress)
	require.True(t, ok)
	assert.IsType(t, Ledger{}, c)
	_, ok = r.Lookup(alice)
	assert.False(t, ok)
	assert.Equal(t, []common.Address{LedgerAddress}, r.Addresses())
}
