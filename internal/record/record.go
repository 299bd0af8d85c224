// Package record implements the on-medium record format: header
// layout, its CRC, the write path (through internal/txio) and the read
// path (header validation, key disambiguation, CRC verification).
package record

import (
	"encoding/binary"
	"fmt"

	"flashkv/blockdevice"
	"flashkv/crc16"
	"flashkv/internal/txio"
	"flashkv/kvfault"
)

// Magic identifies a valid record header.
const Magic uint32 = 0xFACEFACE

// FormatVersion is the only header format this module writes and
// understands. It exists so a future format revision can read
// old-format headers before deciding how to upgrade them.
const FormatVersion uint8 = 0

// FlagDelete, when set in Header.Flags, marks the record a tombstone;
// its DataSize is always 0. All other flag bits are reserved and must
// be 0.
const FlagDelete uint8 = 0x80

// HeaderSize is the on-medium size of a record header, in bytes:
// magic(4) + format_version(1) + flags(1) + header_size(2) +
// key_size(2) + data_size(4) + crc(4).
const HeaderSize = 18

// AreaHeaderKey is the fixed key of the first record of an active
// area, marking it as a valid area header rather than a regular entry.
const AreaHeaderKey = "MTBAREAIDX"

// MaxKeySize bounds key_size: 1 <= len(key) < MaxKeySize. It is a
// package variable, not a constant, so code inside this module (tests,
// for instance) may lower it before the first Open — mirroring the
// original C library's MTB_KVSTORE_MAX_KEY_SIZE override knob. It lives
// in an internal package and is not reachable from outside the module.
var MaxKeySize uint16 = 64

// Header is the decoded form of a record's fixed-size prefix.
type Header struct {
	FormatVersion uint8
	Flags         uint8
	HeaderSize    uint16
	KeySize       uint16
	DataSize      uint32
	CRC           uint16
}

// IsDelete reports whether the header marks a delete tombstone.
func (h Header) IsDelete() bool {
	return h.Flags&FlagDelete != 0
}

// ContentSize is the unaligned number of bytes the record occupies:
// header + key + value.
func (h Header) ContentSize() uint32 {
	return uint32(h.HeaderSize) + uint32(h.KeySize) + h.DataSize
}

// Size is the record's total on-medium footprint, aligned up to the
// medium's program size at the record's starting address.
func (h Header) Size(programSize uint32) uint32 {
	return blockdevice.AlignUp(h.ContentSize(), programSize)
}

// SizeAt computes the aligned record size for a record known to start
// at addr, asking dev for the program size that applies there.
func SizeAt(dev blockdevice.Device, addr uint32, contentSize uint32) uint32 {
	return blockdevice.AlignUp(contentSize, dev.ProgramSize(addr))
}

// encodeHeaderPrefix serializes every header field except crc, in
// declared order, into the first 14 bytes of buf (little-endian,
// matching the originating embedded target's native byte order).
func encodeHeaderPrefix(buf []byte, formatVersion, flags uint8, headerSize, keySize uint16, dataSize uint32) {
	buf[0] = byte(Magic & 0xFF)
	buf[1] = byte((Magic >> 8) & 0xFF)
	buf[2] = byte((Magic >> 16) & 0xFF)
	buf[3] = byte((Magic >> 24) & 0xFF)
	buf[4] = formatVersion
	buf[5] = flags
	binary.LittleEndian.PutUint16(buf[6:8], headerSize)
	binary.LittleEndian.PutUint16(buf[8:10], keySize)
	binary.LittleEndian.PutUint32(buf[10:14], dataSize)
}

// headerCRC computes the CRC-16/CCITT-FALSE over the header fields in
// declared order, excluding crc itself.
func headerCRC(formatVersion, flags uint8, headerSize, keySize uint16, dataSize uint32) uint16 {
	var prefix [14]byte
	encodeHeaderPrefix(prefix[:], formatVersion, flags, headerSize, keySize, dataSize)
	return crc16.Checksum(prefix[:])
}

// EncodeHeader serializes a full HeaderSize-byte header (including
// crc) for a record with the given key/value and delete flag. crc is
// the header CRC already extended over the key and value bytes (see
// RecordCRC).
func EncodeHeader(isDelete bool, keySize uint16, dataSize uint32, crc uint16) []byte {
	var flags uint8
	if isDelete {
		flags = FlagDelete
	}
	buf := make([]byte, HeaderSize)
	encodeHeaderPrefix(buf, FormatVersion, flags, HeaderSize, keySize, dataSize)
	binary.LittleEndian.PutUint16(buf[14:16], crc)
	// buf[16:18] reserved by the 4-byte crc field's upper half; the
	// wire crc is carried in its low 16 bits per the record format.
	binary.LittleEndian.PutUint16(buf[16:18], 0)
	return buf
}

// RecordCRC extends the header CRC (computed over the header fields
// excluding crc) over the key bytes and then the value bytes, yielding
// the record's final crc.
func RecordCRC(isDelete bool, key, value []byte) uint16 {
	var flags uint8
	if isDelete {
		flags = FlagDelete
	}
	crc := headerCRC(FormatVersion, flags, HeaderSize, uint16(len(key)), uint32(len(value)))
	crc = crc16.Update(key, crc)
	crc = crc16.Update(value, crc)
	return crc
}

// decodeHeader parses a HeaderSize-byte buffer into a Header. It does
// not validate magic or field ranges; callers check those via
// Header-level helpers or the Read path below.
func decodeHeader(buf []byte) (magic uint32, h Header) {
	magic = uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
	h.FormatVersion = buf[4]
	h.Flags = buf[5]
	h.HeaderSize = binary.LittleEndian.Uint16(buf[6:8])
	h.KeySize = binary.LittleEndian.Uint16(buf[8:10])
	h.DataSize = binary.LittleEndian.Uint32(buf[10:14])
	h.CRC = binary.LittleEndian.Uint16(buf[14:16])
	return magic, h
}

// Write serializes and programs one record starting at addr: the
// header, then the key, then the value, flushing the transaction
// buffer's last partial program page on the final call. txBuf is the
// shared transaction buffer (see txio.BufferSize).
func Write(dev blockdevice.Device, txBuf []byte, addr uint32, isDelete bool, key, value []byte) error {
	if len(key) == 0 || uint16(len(key)) >= MaxKeySize {
		return fmt.Errorf("record: %w: key length %d", kvfault.ErrBadParam, len(key))
	}

	crc := RecordCRC(isDelete, key, value)
	header := EncodeHeader(isDelete, uint16(len(key)), uint32(len(value)), crc)

	w := txio.NewWriter(dev, txBuf, addr, dev.ProgramSize(addr))
	if err := w.Append(header); err != nil {
		return err
	}
	if err := w.Append(key); err != nil {
		return err
	}
	if err := w.Append(value); err != nil {
		return err
	}
	return w.Flush()
}

// ReadResult carries everything the read path recovered from a valid
// record, aside from the value bytes (which the caller provides the
// destination buffer for).
type ReadResult struct {
	Header   Header
	KeySize  uint16
	DataSize uint32
}

// ReadHeader reads and minimally validates the header at addr: magic
// recognized as erased data, magic valid, key_size in range. It does
// not touch the key or value bytes and does not verify the CRC —
// callers that only need a record's header fields (GC sizing a live
// record before copying it) use this; Read below does the full job.
func ReadHeader(dev blockdevice.Device, addr uint32) (Header, error) {
	var buf [HeaderSize]byte
	if err := dev.Read(addr, buf[:]); err != nil {
		return Header{}, fmt.Errorf("record: read header at %d: %w", addr, err)
	}
	magic, h := decodeHeader(buf[:])

	if magic == 0x00000000 || magic == 0xFFFFFFFF {
		return Header{}, kvfault.ErrErasedData
	}
	if magic != Magic {
		return Header{}, kvfault.ErrInvalidData
	}
	if h.KeySize == 0 || h.KeySize >= MaxKeySize {
		return Header{}, kvfault.ErrInvalidData
	}
	return h, nil
}

// Read performs the full record read path at addr: header validation,
// optional key disambiguation against expectKey, CRC verification
// streamed through scratch, and (if data is non-nil) copying the value
// into data.
//
// If expectKey is non-nil and the medium's key bytes don't match it,
// Read returns kvfault.ErrItemNotFound without reading or validating
// the value — this is how hash collisions are disambiguated without
// paying for a full CRC pass on a record that isn't the one being
// looked up.
//
// If data is non-nil and shorter than the record's DataSize, Read sets
// *dataSizeOut to DataSize and returns kvfault.ErrInvalidData so the
// caller can retry with a larger buffer.
func Read(dev blockdevice.Device, scratch []byte, addr uint32, expectKey []byte, data []byte, dataSizeOut *uint32) (Header, error) {
	h, err := ReadHeader(dev, addr)
	if err != nil {
		return Header{}, err
	}

	if data != nil && uint32(len(data)) < h.DataSize {
		if dataSizeOut != nil {
			*dataSizeOut = h.DataSize
		}
		return Header{}, kvfault.ErrInvalidData
	}

	crc := headerCRC(h.FormatVersion, h.Flags, h.HeaderSize, h.KeySize, h.DataSize)
	keyAddr := addr + uint32(h.HeaderSize)
	valueAddr := keyAddr + uint32(h.KeySize)

	if expectKey != nil {
		if uint16(len(expectKey)) != h.KeySize {
			return Header{}, kvfault.ErrItemNotFound
		}
		var match bool
		crc, match, err = txio.StreamCompareCRC(dev, keyAddr, uint32(h.KeySize), scratch, expectKey, crc)
		if err != nil {
			return Header{}, err
		}
		if !match {
			return Header{}, kvfault.ErrItemNotFound
		}
	} else {
		crc, err = txio.StreamCRC(dev, keyAddr, uint32(h.KeySize), scratch, crc)
		if err != nil {
			return Header{}, err
		}
	}

	if data != nil && h.DataSize > 0 {
		crc, err = txio.StreamCopyCRC(dev, valueAddr, h.DataSize, scratch, data, crc)
	} else {
		crc, err = txio.StreamCRC(dev, valueAddr, h.DataSize, scratch, crc)
	}
	if err != nil {
		return Header{}, err
	}

	if crc != h.CRC {
		return Header{}, kvfault.ErrInvalidData
	}
	if dataSizeOut != nil {
		*dataSizeOut = h.DataSize
	}
	return h, nil
}

// ReadKeyInto reads exactly h.KeySize key bytes starting at the
// record's key offset into dst (which must have capacity >=
// h.KeySize), used by area replay to recover the key for a record it
// has no caller-supplied key to compare against.
func ReadKeyInto(dev blockdevice.Device, addr uint32, h Header, dst []byte) error {
	keyAddr := addr + uint32(h.HeaderSize)
	return dev.Read(keyAddr, dst[:h.KeySize])
}
