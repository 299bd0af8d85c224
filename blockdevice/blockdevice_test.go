package blockdevice

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlignUp(t *testing.T) {
	assert.Equal(t, uint32(0), AlignUp(0, 8))
	assert.Equal(t, uint32(8), AlignUp(1, 8))
	assert.Equal(t, uint32(8), AlignUp(8, 8))
	assert.Equal(t, uint32(16), AlignUp(9, 8))
	assert.Equal(t, uint32(5), AlignUp(5, 0))
}

func TestMemDevice_ErasedReadsAsFF(t *testing.T) {
	d := NewMemDevice(4096, 1, 1, 4096)
	buf := make([]byte, 16)
	require.NoError(t, d.Read(0, buf))
	for _, b := range buf {
		assert.Equal(t, byte(0xFF), b)
	}
}

func TestMemDevice_ProgramReadRoundTrip(t *testing.T) {
	d := NewMemDevice(4096, 1, 4, 4096)
	require.NoError(t, d.Program(0, []byte{1, 2, 3, 4}))
	got := make([]byte, 4)
	require.NoError(t, d.Read(0, got))
	assert.Equal(t, []byte{1, 2, 3, 4}, got)
}

func TestMemDevice_TearNextProgram(t *testing.T) {
	d := NewMemDevice(4096, 1, 4, 4096)
	d.TearNextProgramAfter = 2
	require.NoError(t, d.Program(0, []byte{1, 2, 3, 4}))
	got := make([]byte, 4)
	require.NoError(t, d.Read(0, got))
	assert.Equal(t, []byte{1, 2, 0xFF, 0xFF}, got)
	// subsequent calls are not torn.
	require.NoError(t, d.Program(4, []byte{5, 6, 7, 8}))
	require.NoError(t, d.Read(4, got))
	assert.Equal(t, []byte{5, 6, 7, 8}, got)
}

func TestMemDevice_OutOfRange(t *testing.T) {
	d := NewMemDevice(16, 1, 1, 16)
	err := d.Read(10, make([]byte, 16))
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestFileDevice_ProgramReadRoundTripAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.img")

	d, err := OpenFileDevice(path, 8192, 1, 16, 4096)
	require.NoError(t, err)
	require.NoError(t, d.Program(0, []byte("hello, flash!!!!")))
	require.NoError(t, d.Sync())
	require.NoError(t, d.Close())

	reopened, err := OpenFileDevice(path, 8192, 1, 16, 4096)
	require.NoError(t, err)
	defer reopened.Close()

	got := make([]byte, 16)
	require.NoError(t, reopened.Read(0, got))
	assert.Equal(t, "hello, flash!!!!", string(got))
}

func TestFileDevice_ErasedOnGrow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.img")
	d, err := OpenFileDevice(path, 4096, 1, 1, 4096)
	require.NoError(t, err)
	defer d.Close()

	buf := make([]byte, 32)
	require.NoError(t, d.Read(100, buf))
	for _, b := range buf {
		assert.Equal(t, byte(0xFF), b)
	}
}
