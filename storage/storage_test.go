package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/chainvm/common"
)

func openMem(t *testing.T) *LevelStore {
	t.Helper()
	s, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLevelStore(t *testing.T) {
	s := openMem(t)

	_, ok, err := s.Get([]byte("missing"))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Write([]Op{
		{Key: []byte("a/1"), Value: []byte("one")},
		{Key: []byte("a/2"), Value: []byte("two")},
		{Key: []byte("b/1"), Value: []byte("other")},
	}))
	v, ok, err := s.Get([]byte("a/1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("one"), v)

	kvs, err := s.Prefix([]byte("a/"))
	require.NoError(t, err)
	require.Len(t, kvs, 2)
	assert.Equal(t, []byte("a/1"), kvs[0].Key)
	assert.Equal(t, []byte("a/2"), kvs[1].Key)

	require.NoError(t, s.Write([]Op{{Key: []byte("a/1"), Delete: true}}))
	_, ok, err = s.Get([]byte("a/1"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOverlayReadsThrough(t *testing.T) {
	s := openMem(t)
	require.NoError(t, s.Write([]Op{
		{Key: []byte("k1"), Value: []byte("base1")},
		{Key: []byte("k2"), Value: []byte("base2")},
	}))

	o := NewOverlay(s)
	o.Put([]byte("k1"), []byte("new1"))
	o.Delete([]byte("k2"))
	o.Put([]byte("k3"), []byte("new3"))

	v, ok, err := o.Get([]byte("k1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("new1"), v)

	_, ok, err = o.Get([]byte("k2"))
	require.NoError(t, err)
	assert.False(t, ok)

	kvs, err := o.Prefix([]byte("k"))
	require.NoError(t, err)
	require.Len(t, kvs, 2)
	assert.Equal(t, "k1", string(kvs[0].Key))
	assert.Equal(t, "k3", string(kvs[1].Key))

	// nothing reached the backend yet
	v, ok, err = s.Get([]byte("k1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("base1"), v)
}

func TestOverlayCommitAndDiscard(t *testing.T) {
	s := openMem(t)
	o := NewOverlay(s)
	o.Put([]byte("x"), []byte("1"))
	o.Discard()
	assert.Equal(t, 0, o.Len())
	require.NoError(t, o.Commit())
	_, ok, err := s.Get([]byte("x"))
	require.NoError(t, err)
	assert.False(t, ok)

	o.Put([]byte("x"), []byte("2"))
	o.Put([]byte("y"), []byte("3"))
	assert.Equal(t, 2, o.Len())
	require.NoError(t, o.Commit())
	assert.Equal(t, 0, o.Len())

	v, ok, err := s.Get([]byte("y"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("3"), v)
}

func TestOverlayCopiesValues(t *testing.T) {
	o := NewOverlay(openMem(t))
	buf := []byte("abc")
	o.Put([]byte("k"), buf)
	buf[0] = 'z'
	v, _, err := o.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), v)
}

func TestStorageKeys(t *testing.T) {
	a := common.AddressFromCode([]byte("a"))
	b := common.AddressFromCode([]byte("b"))
	k := StorageKey(a, []byte{0x23})
	assert.Len(t, k, 22)
	assert.Equal(t, []byte{0x23}, SplitStorageKey(k))
	assert.Equal(t, StoragePrefix(a), k[:21])
	assert.NotEqual(t, StoragePrefix(a), StoragePrefix(b))
	assert.NotEqual(t, ContractKey(a)[0], k[0])
}
