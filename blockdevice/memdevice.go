package blockdevice

import "fmt"

// MemDevice is an in-RAM simulated NOR flash device for tests. It
// reports its configured read/program/erase granularities but checks
// only that each access falls inside the device; misaligned Program or
// Erase calls are not rejected. It erases to 0xFF and can model a torn
// write by capping
// the number of bytes a subsequent Program call is allowed to apply
// (TearNextProgramAfter), which is how the store's crash-recovery
// tests model "truncation of the last BD program call".
type MemDevice struct {
	buf         []byte
	readSize    uint32
	programSize uint32
	eraseSize   uint32

	// TearNextProgramAfter, when >= 0, caps the next Program call to at
	// most that many bytes actually applied (the rest of the call still
	// reports success, mirroring a controller that silently drops the
	// tail of a page write on power loss). It is reset to -1 after one
	// use.
	TearNextProgramAfter int

	// ProgramCount counts completed Program calls, useful for assertions
	// about how many page writes a scenario produced.
	ProgramCount int
}

// NewMemDevice creates a device of the given size with uniform
// read/program/erase granularities, pre-erased to 0xFF.
func NewMemDevice(size, readSize, programSize, eraseSize uint32) *MemDevice {
	d := &MemDevice{
		buf:                  make([]byte, size),
		readSize:             readSize,
		programSize:          programSize,
		eraseSize:            eraseSize,
		TearNextProgramAfter: -1,
	}
	for i := range d.buf {
		d.buf[i] = 0xFF
	}
	return d
}

func (d *MemDevice) bounds(addr, length uint32) error {
	if uint64(addr)+uint64(length) > uint64(len(d.buf)) {
		return fmt.Errorf("%w: addr=%d len=%d size=%d", ErrOutOfRange, addr, length, len(d.buf))
	}
	return nil
}

func (d *MemDevice) Read(addr uint32, buf []byte) error {
	if err := d.bounds(addr, uint32(len(buf))); err != nil {
		return err
	}
	copy(buf, d.buf[addr:addr+uint32(len(buf))])
	return nil
}

func (d *MemDevice) Program(addr uint32, buf []byte) error {
	if err := d.bounds(addr, uint32(len(buf))); err != nil {
		return err
	}
	apply := len(buf)
	if d.TearNextProgramAfter >= 0 {
		if d.TearNextProgramAfter < apply {
			apply = d.TearNextProgramAfter
		}
		d.TearNextProgramAfter = -1
	}
	copy(d.buf[addr:addr+uint32(apply)], buf[:apply])
	d.ProgramCount++
	return nil
}

func (d *MemDevice) Erase(addr uint32, length uint32) error {
	if err := d.bounds(addr, length); err != nil {
		return err
	}
	for i := addr; i < addr+length; i++ {
		d.buf[i] = 0xFF
	}
	return nil
}

func (d *MemDevice) ReadSize(uint32) uint32    { return d.readSize }
func (d *MemDevice) ProgramSize(uint32) uint32 { return d.programSize }
func (d *MemDevice) EraseSize(uint32) uint32   { return d.eraseSize }

// Corrupt flips a single bit at the given absolute byte offset, used by
// tests to simulate bit-rot or a torn write inside a record body.
func (d *MemDevice) Corrupt(addr uint32, bitMask byte) {
	d.buf[addr] ^= bitMask
}

// Bytes exposes the raw backing buffer for assertions in tests. Callers
// must not mutate the returned slice.
func (d *MemDevice) Bytes() []byte {
	return d.buf
}
