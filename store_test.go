package flashkv

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flashkv/blockdevice"
	"flashkv/crc16"
	"flashkv/internal/record"
)

func openMem(t *testing.T, size, readSize, programSize, eraseSize, length uint32) (*Store, *blockdevice.MemDevice) {
	t.Helper()
	dev := blockdevice.NewMemDevice(size, readSize, programSize, eraseSize)
	s, err := Open(Config{StartAddr: 0, Length: length, Device: dev})
	require.NoError(t, err)
	return s, dev
}

func TestOpen_FreshMediumInitializesVersion1(t *testing.T) {
	s, _ := openMem(t, 8192, 1, 8, 4096, 8192)
	defer s.Close()

	assert.Equal(t, uint16(1), s.activeVersion)

	headerSize := s.areaHeaderRecordSize(s.activeBase)
	size, err := s.Size()
	require.NoError(t, err)
	assert.Equal(t, headerSize, size)

	rem, err := s.Remaining()
	require.NoError(t, err)
	assert.Equal(t, s.areaSize-headerSize, rem)
}

func TestWriteRead_RoundTrip(t *testing.T) {
	s, _ := openMem(t, 8192, 1, 8, 4096, 8192)
	defer s.Close()

	require.NoError(t, s.Write([]byte("alpha"), []byte{0x01, 0x02, 0x03}))

	buf := make([]byte, 8)
	n, err := s.Read([]byte("alpha"), buf)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, buf[:n])
}

func TestWrite_OverwriteReturnsLatestValue(t *testing.T) {
	s, _ := openMem(t, 8192, 1, 8, 4096, 8192)
	defer s.Close()

	require.NoError(t, s.Write([]byte("alpha"), []byte{0xAA}))
	require.NoError(t, s.Write([]byte("alpha"), []byte{0xBB, 0xBB}))

	buf := make([]byte, 4)
	n, err := s.Read([]byte("alpha"), buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte{0xBB, 0xBB}, buf[:n])
}

func TestWrite_RepeatedOverwritesTriggerGC(t *testing.T) {
	s, _ := openMem(t, 8192, 1, 8, 4096, 8192)
	defer s.Close()

	initialActive := s.activeBase
	for i := 0; i < 200; i++ {
		val := bytes.Repeat([]byte{byte(i)}, 50)
		require.NoError(t, s.Write([]byte("k"), val))
	}
	assert.NotEqual(t, initialActive, s.activeBase, "GC should have swapped the active area at least once")

	ok, err := s.Contains([]byte("k"))
	require.NoError(t, err)
	assert.True(t, ok)

	buf := make([]byte, 50)
	n, err := s.Read([]byte("k"), buf)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{199}, 50), buf[:n])
	assert.Equal(t, 1, s.index.Len())
}

func TestOpen_RecoversFromCorruptedRecord(t *testing.T) {
	dev := blockdevice.NewMemDevice(8192, 1, 8, 4096)
	s, err := Open(Config{StartAddr: 0, Length: 8192, Device: dev})
	require.NoError(t, err)
	require.NoError(t, s.Write([]byte("keep"), []byte("v1")))
	require.NoError(t, s.Write([]byte("corrupt-me"), []byte("v2")))
	require.NoError(t, s.Close())

	headerSize := record.SizeAt(dev, 0, uint32(record.HeaderSize)+uint32(len(record.AreaHeaderKey))+4)
	rec1Size := record.SizeAt(dev, headerSize, uint32(record.HeaderSize)+uint32(len("keep"))+uint32(len("v1")))
	rec2Addr := headerSize + rec1Size
	rec2ValueOffset := rec2Addr + uint32(record.HeaderSize) + uint32(len("corrupt-me"))
	dev.Corrupt(rec2ValueOffset, 0x01)

	s2, err := Open(Config{StartAddr: 0, Length: 8192, Device: dev})
	require.NoError(t, err)
	defer s2.Close()

	ok, err := s2.Contains([]byte("keep"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s2.Contains([]byte("corrupt-me"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCRC16Collision_BothKeysCoexist(t *testing.T) {
	seen := map[uint16]string{}
	var keyA, keyB string
outer:
	for a := byte('a'); a <= 'z'; a++ {
		for b := byte('a'); b <= 'z'; b++ {
			for c := byte('a'); c <= 'z'; c++ {
				k := string([]byte{a, b, c})
				h := crc16.Checksum([]byte(k))
				if prev, ok := seen[h]; ok {
					keyA, keyB = prev, k
					break outer
				}
				seen[h] = k
			}
		}
	}
	require.NotEmpty(t, keyB, "expected a 3-byte CRC-16 collision within the lowercase-letter keyspace")

	s, _ := openMem(t, 8192, 1, 8, 4096, 8192)
	defer s.Close()

	require.NoError(t, s.Write([]byte(keyA), []byte("vA")))
	require.NoError(t, s.Write([]byte(keyB), []byte("vB")))

	buf := make([]byte, 8)
	n, err := s.Read([]byte(keyA), buf)
	require.NoError(t, err)
	assert.Equal(t, "vA", string(buf[:n]))

	n, err = s.Read([]byte(keyB), buf)
	require.NoError(t, err)
	assert.Equal(t, "vB", string(buf[:n]))
}

func TestDelete_AbsentKeyIsNoop(t *testing.T) {
	s, _ := openMem(t, 8192, 1, 8, 4096, 8192)
	defer s.Close()

	require.NoError(t, s.Delete([]byte("never-written")))
}

func TestDelete_IsIdempotentAndHidesValue(t *testing.T) {
	s, _ := openMem(t, 8192, 1, 8, 4096, 8192)
	defer s.Close()

	require.NoError(t, s.Write([]byte("k"), []byte("v")))
	require.NoError(t, s.Delete([]byte("k")))
	require.NoError(t, s.Delete([]byte("k")))

	_, err := s.Read([]byte("k"), make([]byte, 1))
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestReset_LeavesOnlyAreaHeader(t *testing.T) {
	s, _ := openMem(t, 8192, 1, 8, 4096, 8192)
	defer s.Close()

	require.NoError(t, s.Write([]byte("a"), []byte("1")))
	require.NoError(t, s.Write([]byte("b"), []byte("2")))
	require.NoError(t, s.Reset())

	size, err := s.Size()
	require.NoError(t, err)
	assert.Equal(t, s.areaHeaderRecordSize(s.activeBase), size)

	ok, err := s.Contains([]byte("a"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSizeAndRemaining_SumToAreaSize(t *testing.T) {
	s, _ := openMem(t, 8192, 1, 8, 4096, 8192)
	defer s.Close()

	require.NoError(t, s.Write([]byte("k"), []byte("value")))

	size, err := s.Size()
	require.NoError(t, err)
	rem, err := s.Remaining()
	require.NoError(t, err)
	assert.Equal(t, s.areaSize, size+rem)
}

func TestWrite_RejectsBadKeyLengths(t *testing.T) {
	s, _ := openMem(t, 8192, 1, 8, 4096, 8192)
	defer s.Close()

	err := s.Write([]byte(""), []byte("v"))
	assert.ErrorIs(t, err, ErrBadParam)

	tooLong := bytes.Repeat([]byte("k"), int(record.MaxKeySize))
	err = s.Write(tooLong, []byte("v"))
	assert.ErrorIs(t, err, ErrBadParam)
}

func TestWrite_AcceptsBoundaryKeyLengths(t *testing.T) {
	s, _ := openMem(t, 8192, 1, 8, 4096, 8192)
	defer s.Close()

	require.NoError(t, s.Write([]byte("a"), []byte("v")))

	almostMax := bytes.Repeat([]byte("k"), int(record.MaxKeySize)-1)
	require.NoError(t, s.Write(almostMax, []byte("v")))
}

func TestWrite_ZeroLengthValuePermitted(t *testing.T) {
	s, _ := openMem(t, 8192, 1, 8, 4096, 8192)
	defer s.Close()

	require.NoError(t, s.Write([]byte("empty"), nil))

	n, err := s.Read([]byte("empty"), make([]byte, 1))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRead_ShortBufferReportsRequiredSize(t *testing.T) {
	s, _ := openMem(t, 8192, 1, 8, 4096, 8192)
	defer s.Close()

	require.NoError(t, s.Write([]byte("k"), []byte("0123456789")))

	n, err := s.Read([]byte("k"), make([]byte, 2))
	assert.ErrorIs(t, err, ErrInvalidData)
	assert.Equal(t, 10, n)
}

// TestWrite_ValueExactlyFillsAreaThenOneByteMoreTriggersStorageFull
// constructs a deliberately tiny area (one erase sector) so the second
// key's record cannot be reclaimed by compaction: the first key's
// record is the only live data and GC cannot make room it doesn't have.
func TestWrite_ValueExactlyFillsAreaThenOneByteMoreTriggersStorageFull(t *testing.T) {
	s, _ := openMem(t, 128, 1, 8, 64, 128)
	defer s.Close()

	headerSize := s.areaHeaderRecordSize(s.activeBase)
	require.Equal(t, uint32(32), headerSize)

	require.NoError(t, s.Write([]byte("k"), make([]byte, 6))) // record size 32, fills the area exactly

	rem, err := s.Remaining()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), rem)

	err = s.Write([]byte("other"), make([]byte, 1))
	assert.ErrorIs(t, err, ErrStorageFull)
}

func TestUniformSize1Medium_BehavesLikeMismatchedGranularities(t *testing.T) {
	s, _ := openMem(t, 8192, 1, 1, 1, 8192)
	defer s.Close()

	require.NoError(t, s.Write([]byte("alpha"), []byte{1, 2, 3}))
	require.NoError(t, s.Write([]byte("beta"), []byte{4, 5}))
	require.NoError(t, s.Delete([]byte("alpha")))

	_, err := s.Read([]byte("alpha"), make([]byte, 1))
	assert.ErrorIs(t, err, ErrItemNotFound)

	buf := make([]byte, 2)
	n, err := s.Read([]byte("beta"), buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{4, 5}, buf[:n])
}

func TestOpen_RejectsMisalignedRegion(t *testing.T) {
	dev := blockdevice.NewMemDevice(8192, 1, 8, 4096)
	_, err := Open(Config{StartAddr: 1, Length: 8192, Device: dev})
	assert.ErrorIs(t, err, ErrAlignment)
}

func TestOpen_RejectsOddSectorCount(t *testing.T) {
	dev := blockdevice.NewMemDevice(4096*3, 1, 8, 4096)
	_, err := Open(Config{StartAddr: 0, Length: 4096 * 3, Device: dev})
	assert.ErrorIs(t, err, ErrAlignment)
}

func TestClose_IsIdempotentAndBlocksFurtherOps(t *testing.T) {
	s, _ := openMem(t, 8192, 1, 8, 4096, 8192)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	err := s.Write([]byte("k"), []byte("v"))
	assert.True(t, errors.Is(err, ErrClosed))
}
