package ramindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flashkv/blockdevice"
	"flashkv/internal/record"
)

func writeAt(t *testing.T, dev blockdevice.Device, addr uint32, key string, value []byte) {
	t.Helper()
	txBuf := make([]byte, 8)
	require.NoError(t, record.Write(dev, txBuf, addr, false, []byte(key), value))
}

func TestFind_EmptyIndexIsNotFoundAtZero(t *testing.T) {
	dev := blockdevice.NewMemDevice(4096, 1, 8, 4096)
	scratch := make([]byte, 16)

	res, err := Find(dev, scratch, 0, nil, []byte("missing"))
	require.NoError(t, err)
	assert.False(t, res.Found)
	assert.Equal(t, 0, res.Pos)
}

func TestApply_AddGrowsCapacityByDoublingFrom32(t *testing.T) {
	var idx Index
	for i := 0; i < 33; i++ {
		require.NoError(t, idx.Apply(OpAdd, idx.Len(), uint16(i), uint32(i)))
	}
	assert.Equal(t, 33, idx.Len())
	assert.Equal(t, 64, idx.Cap())
}

func TestFindAndApply_RoundTripThroughRecords(t *testing.T) {
	dev := blockdevice.NewMemDevice(4096, 1, 8, 4096)
	scratch := make([]byte, 16)
	var idx Index

	keys := []string{"alpha", "bravo", "charlie", "delta"}
	var addr uint32
	for _, k := range keys {
		res, err := Find(dev, scratch, 0, idx.Entries(), []byte(k))
		require.NoError(t, err)
		require.False(t, res.Found)
		writeAt(t, dev, addr, k, []byte(k+"-value"))
		require.NoError(t, idx.Apply(OpAdd, res.Pos, res.Hash, addr))
		addr += record.HeaderSize + uint32(len(k)) + uint32(len(k)+6)
		addr = blockdevice.AlignUp(addr, 8)
	}

	for _, k := range keys {
		res, err := Find(dev, scratch, 0, idx.Entries(), []byte(k))
		require.NoError(t, err)
		assert.True(t, res.Found, "key %q should be found", k)
		assert.Equal(t, uint32(len(k)+6), res.Header.DataSize)
	}

	res, err := Find(dev, scratch, 0, idx.Entries(), []byte("nope"))
	require.NoError(t, err)
	assert.False(t, res.Found)
}

func TestApply_UpdateReplacesOffsetInPlace(t *testing.T) {
	dev := blockdevice.NewMemDevice(4096, 1, 8, 4096)
	scratch := make([]byte, 16)
	var idx Index

	writeAt(t, dev, 0, "k", []byte("v1"))
	res, err := Find(dev, scratch, 0, idx.Entries(), []byte("k"))
	require.NoError(t, err)
	require.NoError(t, idx.Apply(OpAdd, res.Pos, res.Hash, 0))

	writeAt(t, dev, 64, "k", []byte("v2-longer"))
	res, err = Find(dev, scratch, 0, idx.Entries(), []byte("k"))
	require.NoError(t, err)
	require.True(t, res.Found)
	require.NoError(t, idx.Apply(OpUpdate, res.Pos, res.Hash, 64))
	assert.Equal(t, 1, idx.Len())
	assert.Equal(t, uint32(64), idx.Entries()[0].Offset)
}

func TestApply_DeleteRemovesEntry(t *testing.T) {
	dev := blockdevice.NewMemDevice(4096, 1, 8, 4096)
	scratch := make([]byte, 16)
	var idx Index

	writeAt(t, dev, 0, "k", []byte("v"))
	res, err := Find(dev, scratch, 0, idx.Entries(), []byte("k"))
	require.NoError(t, err)
	require.NoError(t, idx.Apply(OpAdd, res.Pos, res.Hash, 0))
	require.Equal(t, 1, idx.Len())

	res, err = Find(dev, scratch, 0, idx.Entries(), []byte("k"))
	require.NoError(t, err)
	require.True(t, res.Found)
	require.NoError(t, idx.Apply(OpDelete, res.Pos, res.Hash, 0))
	assert.Equal(t, 0, idx.Len())

	res, err = Find(dev, scratch, 0, idx.Entries(), []byte("k"))
	require.NoError(t, err)
	assert.False(t, res.Found)
}

func TestFind_EqualHashCollisionScansPastMismatch(t *testing.T) {
	dev := blockdevice.NewMemDevice(4096, 1, 8, 4096)
	scratch := make([]byte, 16)
	var idx Index

	h := Hash([]byte("second"))
	writeAt(t, dev, 0, "first", []byte("1"))
	writeAt(t, dev, 64, "second", []byte("2"))
	require.NoError(t, idx.Apply(OpAdd, 0, h, 0))
	require.NoError(t, idx.Apply(OpAdd, 1, h, 64))

	res, err := Find(dev, scratch, 0, idx.Entries(), []byte("second"))
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, 1, res.Pos)
}

func TestReset_ClearsEntriesKeepsCapacity(t *testing.T) {
	var idx Index
	for i := 0; i < 5; i++ {
		require.NoError(t, idx.Apply(OpAdd, idx.Len(), uint16(i), uint32(i)))
	}
	cap := idx.Cap()
	idx.Reset()
	assert.Equal(t, 0, idx.Len())
	assert.Equal(t, cap, idx.Cap())
}

func TestRewriteOffsets_ReplacesInEntryOrder(t *testing.T) {
	var idx Index
	require.NoError(t, idx.Apply(OpAdd, 0, 1, 100))
	require.NoError(t, idx.Apply(OpAdd, 1, 2, 200))
	idx.RewriteOffsets([]uint32{1000, 2000})
	assert.Equal(t, uint32(1000), idx.Entries()[0].Offset)
	assert.Equal(t, uint32(2000), idx.Entries()[1].Offset)
}
