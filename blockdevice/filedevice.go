package blockdevice

import (
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
)

// FileDevice is a host-side Device backed by a regular file, memory
// mapped with github.com/edsrzf/mmap-go. It stands in for NOR flash in
// integration tests and in cmd/kvstorectl / cmd/kvflashd, where a real
// flash controller isn't available. Unlike MemDevice it gives every
// byte a durable backing store across process restarts, which is the
// property the init-time replay and crash-recovery tests actually care
// about.
type FileDevice struct {
	f           *os.File
	m           mmap.MMap
	readSize    uint32
	programSize uint32
	eraseSize   uint32
}

// OpenFileDevice opens (creating if necessary) path as a Device of the
// given size. If the file is smaller than size it is extended and the
// new region is left erased (0xFF), matching how a freshly provisioned
// flash region reads before anything has ever been written to it.
func OpenFileDevice(path string, size, readSize, programSize, eraseSize uint32) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("OpenFileDevice: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("OpenFileDevice: %w", err)
	}

	if info.Size() < int64(size) {
		if err := extendErased(f, info.Size(), int64(size)); err != nil {
			f.Close()
			return nil, fmt.Errorf("OpenFileDevice: %w", err)
		}
	}

	m, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("OpenFileDevice: %w", err)
	}

	return &FileDevice{
		f:           f,
		m:           m,
		readSize:    readSize,
		programSize: programSize,
		eraseSize:   eraseSize,
	}, nil
}

func extendErased(f *os.File, from, to int64) error {
	if err := f.Truncate(to); err != nil {
		return err
	}
	pad := make([]byte, to-from)
	for i := range pad {
		pad[i] = 0xFF
	}
	_, err := f.WriteAt(pad, from)
	return err
}

func (d *FileDevice) bounds(addr, length uint32) error {
	if uint64(addr)+uint64(length) > uint64(len(d.m)) {
		return fmt.Errorf("%w: addr=%d len=%d size=%d", ErrOutOfRange, addr, length, len(d.m))
	}
	return nil
}

func (d *FileDevice) Read(addr uint32, buf []byte) error {
	if err := d.bounds(addr, uint32(len(buf))); err != nil {
		return err
	}
	copy(buf, d.m[addr:addr+uint32(len(buf))])
	return nil
}

func (d *FileDevice) Program(addr uint32, buf []byte) error {
	if err := d.bounds(addr, uint32(len(buf))); err != nil {
		return err
	}
	copy(d.m[addr:addr+uint32(len(buf))], buf)
	return nil
}

func (d *FileDevice) Erase(addr uint32, length uint32) error {
	if err := d.bounds(addr, length); err != nil {
		return err
	}
	for i := addr; i < addr+length; i++ {
		d.m[i] = 0xFF
	}
	return nil
}

func (d *FileDevice) ReadSize(uint32) uint32    { return d.readSize }
func (d *FileDevice) ProgramSize(uint32) uint32 { return d.programSize }
func (d *FileDevice) EraseSize(uint32) uint32   { return d.eraseSize }

// Sync flushes the mapped region to the backing file. The store itself
// never calls this — Program is expected to be durable on return, as it
// would be on real flash — but host tooling that wants an explicit
// fsync point before e.g. copying the image file can call it.
func (d *FileDevice) Sync() error {
	return d.m.Flush()
}

// Close unmaps the file and closes the underlying descriptor.
func (d *FileDevice) Close() error {
	if err := d.m.Unmap(); err != nil {
		d.f.Close()
		return err
	}
	return d.f.Close()
}
