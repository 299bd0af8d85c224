// Package txio implements the buffered I/O pipeline that reconciles
// arbitrary-sized key+data writes with the medium's program-size
// granularity, and streams arbitrary-sized reads through a CRC
// accumulator. Record writes program the medium only through it, and
// every CRC-checked read of a record's key and value bytes goes through
// it.
package txio

import (
	"fmt"

	"flashkv/blockdevice"
	"flashkv/crc16"
)

// BufferSize computes the shared transaction buffer size: at least
// max(programSize, readSize), at least 128 bytes, aligned up to
// programSize.
func BufferSize(programSize, readSize uint32) uint32 {
	size := programSize
	if readSize > size {
		size = readSize
	}
	if size < 128 {
		size = 128
	}
	return blockdevice.AlignUp(size, programSize)
}

// Writer accumulates bytes across multiple Append calls into a shared
// transaction buffer and programs the medium one program-size-aligned
// burst at a time. Record callers (internal/record) Append the header,
// then the key, then the value, and Flush only on the last call.
type Writer struct {
	dev         blockdevice.Device
	buf         []byte
	filled      int
	addr        uint32
	programSize uint32
}

// NewWriter creates a Writer that will program dev starting at addr,
// using buf as the shared transaction buffer (its capacity is the
// buffer size B; a multiple of programSize).
func NewWriter(dev blockdevice.Device, buf []byte, addr uint32, programSize uint32) *Writer {
	return &Writer{dev: dev, buf: buf, addr: addr, programSize: programSize}
}

// Append copies src into the transaction buffer, programming and
// draining it whenever it fills, possibly more than once for a large
// src.
func (w *Writer) Append(src []byte) error {
	for len(src) > 0 {
		room := len(w.buf) - w.filled
		n := room
		if n > len(src) {
			n = len(src)
		}
		copy(w.buf[w.filled:w.filled+n], src[:n])
		w.filled += n
		src = src[n:]

		if w.filled == len(w.buf) {
			if err := w.dev.Program(w.addr, w.buf); err != nil {
				return fmt.Errorf("txio: program at %d: %w", w.addr, err)
			}
			w.addr += uint32(len(w.buf))
			w.filled = 0
		}
	}
	return nil
}

// Flush pads any partial fill up to a program-size boundary and writes
// it. Pad content is whatever was already sitting in the transaction
// buffer from a previous record — harmless, since it falls outside the
// CRC'd region. The address advances only by the aligned amount just
// flushed, not by the full buffer capacity.
func (w *Writer) Flush() error {
	if w.filled == 0 {
		return nil
	}
	aligned := blockdevice.AlignUp(uint32(w.filled), w.programSize)
	if err := w.dev.Program(w.addr, w.buf[:aligned]); err != nil {
		return fmt.Errorf("txio: flush at %d: %w", w.addr, err)
	}
	w.addr += aligned
	w.filled = 0
	return nil
}

// StreamCRC reads length bytes starting at addr in scratch-sized
// chunks, folding each chunk into the running CRC, without retaining
// the bytes. It is used for the portion of a record (typically the
// value) whose content doesn't need to be copied anywhere.
func StreamCRC(dev blockdevice.Device, addr, length uint32, scratch []byte, crc uint16) (uint16, error) {
	for length > 0 {
		chunk := uint32(len(scratch))
		if chunk > length {
			chunk = length
		}
		if err := dev.Read(addr, scratch[:chunk]); err != nil {
			return crc, fmt.Errorf("txio: read at %d: %w", addr, err)
		}
		crc = crc16.Update(scratch[:chunk], crc)
		addr += chunk
		length -= chunk
	}
	return crc, nil
}

// StreamCopyCRC behaves like StreamCRC but also copies every byte read
// into out (which must have length >= length).
func StreamCopyCRC(dev blockdevice.Device, addr, length uint32, scratch, out []byte, crc uint16) (uint16, error) {
	var off uint32
	for length > 0 {
		chunk := uint32(len(scratch))
		if chunk > length {
			chunk = length
		}
		if err := dev.Read(addr, scratch[:chunk]); err != nil {
			return crc, fmt.Errorf("txio: read at %d: %w", addr, err)
		}
		copy(out[off:off+chunk], scratch[:chunk])
		crc = crc16.Update(scratch[:chunk], crc)
		addr += chunk
		off += chunk
		length -= chunk
	}
	return crc, nil
}

// StreamCompareCRC behaves like StreamCRC but also compares every byte
// read against want (which must have length >= length), stopping at
// the first mismatching chunk and reporting match=false without
// necessarily having folded the entire length into crc — callers that
// get match=false are expected to abandon the record, not rely on crc.
func StreamCompareCRC(dev blockdevice.Device, addr, length uint32, scratch, want []byte, crc uint16) (newCRC uint16, match bool, err error) {
	var off uint32
	for length > 0 {
		chunk := uint32(len(scratch))
		if chunk > length {
			chunk = length
		}
		if err := dev.Read(addr, scratch[:chunk]); err != nil {
			return crc, false, fmt.Errorf("txio: read at %d: %w", addr, err)
		}
		for i := uint32(0); i < chunk; i++ {
			if scratch[i] != want[off+i] {
				return crc, false, nil
			}
		}
		crc = crc16.Update(scratch[:chunk], crc)
		addr += chunk
		off += chunk
		length -= chunk
	}
	return crc, true, nil
}
