package contract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/chainvm/common"
	"github.com/wippyai/chainvm/errors"
	"github.com/wippyai/chainvm/storage"
)

func newState(t *testing.T) *storage.Overlay {
	t.Helper()
	s, err := storage.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return storage.NewOverlay(s)
}

func sample(code string) *DeployCode {
	return &DeployCode{
		Code:    []byte(code),
		VMType:  VMWasm,
		Name:    "name",
		Version: "1.0",
		Author:  "author",
		Email:   "a@b.c",
		Desc:    "desc",
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	d := sample("\x00asm")
	back, err := Deserialize(d.Serialize())
	require.NoError(t, err)
	assert.Equal(t, d, back)

	_, err = Deserialize(append(d.Serialize(), 0))
	assert.Error(t, err)
	_, err = Deserialize(d.Serialize()[:5])
	assert.Error(t, err)
}

func TestAddressDependsOnMetadata(t *testing.T) {
	a := sample("code")
	b := sample("code")
	b.Version = "2.0"
	assert.NotEqual(t, a.Address(), b.Address())
	assert.Equal(t, a.Address(), sample("code").Address())
	assert.Equal(t, common.AddressFromCode(a.Serialize()), a.Address())
}

func TestCheckLimits(t *testing.T) {
	tests := []struct {
		name string
		mod  func(d *DeployCode)
		ok   bool
	}{
		{"valid", func(d *DeployCode) {}, true},
		{"empty code", func(d *DeployCode) { d.Code = nil }, false},
		{"large code", func(d *DeployCode) { d.Code = make([]byte, MaxCodeLen+1) }, false},
		{"max code", func(d *DeployCode) { d.Code = make([]byte, MaxCodeLen) }, true},
		{"long name", func(d *DeployCode) { d.Name = strings.Repeat("n", MaxMetaLen+1) }, false},
		{"long email", func(d *DeployCode) { d.Email = strings.Repeat("e", MaxMetaLen+1) }, false},
		{"max desc", func(d *DeployCode) { d.Desc = strings.Repeat("d", MaxDescLen) }, true},
		{"long desc", func(d *DeployCode) { d.Desc = strings.Repeat("d", MaxDescLen+1) }, false},
		{"bad vm", func(d *DeployCode) { d.VMType = 9 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := sample("code")
			tt.mod(d)
			err := d.Check()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestCreate(t *testing.T) {
	st := newState(t)
	m := NewManager(nil, nil)

	addr, err := m.Create(st, sample("one"))
	require.NoError(t, err)
	got, ok, err := Get(st, addr)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("one"), got.Code)

	_, err = m.Create(st, sample("one"))
	assert.ErrorIs(t, err, errors.ErrContractExists)
}

func TestCreateRunsValidator(t *testing.T) {
	st := newState(t)
	m := NewManager(func(d *DeployCode) error {
		return errors.Validation(nil, "rejected")
	}, nil)
	_, err := m.Create(st, sample("x"))
	assert.Equal(t, errors.ResultValidation, errors.ResultKindOf(err))
}

func TestMigrateMovesStorage(t *testing.T) {
	st := newState(t)
	m := NewManager(nil, nil)
	old, err := m.Create(st, sample("old"))
	require.NoError(t, err)

	other := common.AddressFromCode([]byte("other"))
	st.Put(storage.StorageKey(old, []byte{0x23}), []byte{0x13, 0x82, 0x97})
	st.Put(storage.StorageKey(old, []byte("k2")), []byte("v2"))
	st.Put(storage.StorageKey(other, []byte{0x23}), []byte("untouched"))

	next, err := m.Migrate(st, old, sample("new"))
	require.NoError(t, err)
	assert.NotEqual(t, old, next)

	v, ok, err := st.Get(storage.StorageKey(next, []byte{0x23}))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{0x13, 0x82, 0x97}, v)

	_, ok, err = st.Get(storage.StorageKey(old, []byte{0x23}))
	require.NoError(t, err)
	assert.False(t, ok)

	v, ok, err = st.Get(storage.StorageKey(other, []byte{0x23}))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("untouched"), v)

	ok, err = Exists(st, old)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = Exists(st, next)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMigrateFailures(t *testing.T) {
	st := newState(t)
	m := NewManager(nil, nil)
	a, err := m.Create(st, sample("a"))
	require.NoError(t, err)
	_, err = m.Create(st, sample("b"))
	require.NoError(t, err)

	_, err = m.Migrate(st, a, sample("b"))
	assert.ErrorIs(t, err, errors.ErrContractExists)

	_, err = m.Migrate(st, common.Address{1}, sample("c"))
	assert.ErrorIs(t, err, errors.ErrContractNotFound)
}

func TestDestroy(t *testing.T) {
	st := newState(t)
	m := NewManager(nil, nil)
	addr, err := m.Create(st, sample("d"))
	require.NoError(t, err)
	st.Put(storage.StorageKey(addr, []byte("a")), []byte("1"))
	st.Put(storage.StorageKey(addr, []byte("b")), []byte("2"))

	n, err := m.Destroy(st, addr)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ok, err := Exists(st, addr)
	require.NoError(t, err)
	assert.False(t, ok)
	kvs, err := st.Prefix(storage.StoragePrefix(addr))
	require.NoError(t, err)
	assert.Empty(t, kvs)

	_, err = m.Destroy(st, addr)
	assert.ErrorIs(t, err, errors.ErrContractNotFound)
}
