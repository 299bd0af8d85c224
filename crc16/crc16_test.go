package crc16

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChecksum_KnownVector(t *testing.T) {
	// CRC-16/CCITT-FALSE check value for the ASCII string "123456789".
	assert.Equal(t, uint16(0x29B1), Checksum([]byte("123456789")))
}

func TestUpdate_AssociativeOverConcatenation(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	whole := Checksum(data)

	for split := 0; split <= len(data); split++ {
		got := Update(data[split:], Update(data[:split], InitialValue))
		assert.Equalf(t, whole, got, "split at %d", split)
	}
}

func TestUpdate_EmptyBufIsIdentity(t *testing.T) {
	assert.Equal(t, InitialValue, Update(nil, InitialValue))
	got := Update(nil, Update([]byte("abc"), InitialValue))
	assert.Equal(t, Checksum([]byte("abc")), got)
}
