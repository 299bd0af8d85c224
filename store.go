// Package flashkv implements a power-fail-safe key-value store over a
// block-addressed medium such as NOR flash: a two-area log-structured
// layout with atomic-by-construction area swap, a RAM-resident index
// that tolerates hash collisions, and a garbage collector that can be
// interrupted at any step without losing data written before it ran.
package flashkv

import (
	"errors"
	"fmt"
	"time"

	"flashkv/blockdevice"
	"flashkv/internal/ramindex"
	"flashkv/internal/record"
	"flashkv/internal/txio"
	"flashkv/kvfault"
)

// Store is a single open instance of the key-value store over one
// region of one block device. A Store must not be used after Close.
type Store struct {
	dev         blockdevice.Device
	locker      Locker
	lockTimeout time.Duration
	logger      Logger

	startAddr uint32
	areaSize  uint32

	activeBase      uint32
	swapBase        uint32
	activeVersion   uint16
	freeSpaceOffset uint32
	consumedSize    uint32

	index    ramindex.Index
	buf      []byte
	keyStage []byte

	closed bool
}

func validateRegion(dev blockdevice.Device, start, length uint32) error {
	if dev == nil {
		return fmt.Errorf("flashkv: %w: nil device", kvfault.ErrBadParam)
	}
	if length == 0 {
		return fmt.Errorf("flashkv: %w: zero length", kvfault.ErrBadParam)
	}
	eraseSize := dev.EraseSize(start)
	if eraseSize == 0 {
		return fmt.Errorf("flashkv: %w: zero erase size", kvfault.ErrBadParam)
	}
	if !blockdevice.IsAligned(start, eraseSize) || !blockdevice.IsAligned(start+length, eraseSize) {
		return fmt.Errorf("flashkv: %w: region not erase-sector aligned", kvfault.ErrAlignment)
	}
	numSectors := length / eraseSize
	if numSectors == 0 || numSectors%2 != 0 {
		return fmt.Errorf("flashkv: %w: region does not split into an even number of sectors", kvfault.ErrAlignment)
	}
	return nil
}

// Open validates cfg, scans the medium to identify the active area,
// replays its log to rebuild the RAM index, and returns a ready Store.
func Open(cfg Config) (*Store, error) {
	if err := validateRegion(cfg.Device, cfg.StartAddr, cfg.Length); err != nil {
		return nil, err
	}

	locker := cfg.Locker
	if locker == nil {
		locker = NewLocker()
	}
	if err := locker.Lock(cfg.lockTimeout()); err != nil {
		return nil, err
	}
	defer locker.Unlock()

	s := &Store{
		dev:         cfg.Device,
		locker:      locker,
		lockTimeout: cfg.lockTimeout(),
		logger:      cfg.logger(),
		startAddr:   cfg.StartAddr,
		areaSize:    cfg.Length / 2,
	}

	bufSize := txioBufferSize(s.dev, s.startAddr)
	s.buf = make([]byte, bufSize)
	s.keyStage = make([]byte, record.MaxKeySize)

	if err := s.identifyAreas(); err != nil {
		return nil, err
	}
	if err := s.replay(); err != nil {
		return nil, err
	}

	return s, nil
}

func txioBufferSize(dev blockdevice.Device, addr uint32) uint32 {
	return txio.BufferSize(dev.ProgramSize(addr), dev.ReadSize(addr))
}

func (s *Store) lock() error {
	return s.locker.Lock(s.lockTimeout)
}

func (s *Store) unlock() {
	s.locker.Unlock()
}

func (s *Store) checkKey(key []byte) error {
	if len(key) == 0 || uint16(len(key)) >= record.MaxKeySize {
		return fmt.Errorf("flashkv: %w: key length %d", kvfault.ErrBadParam, len(key))
	}
	return nil
}

// Write stores value under key, overwriting any existing value.
func (s *Store) Write(key, value []byte) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.unlock()
	if s.closed {
		return kvfault.ErrClosed
	}
	return s.mutate(key, value, false)
}

// Delete removes key. Deleting an absent key succeeds as a no-op.
func (s *Store) Delete(key []byte) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.unlock()
	if s.closed {
		return kvfault.ErrClosed
	}
	return s.mutate(key, nil, true)
}

// Read copies key's value into data, returning the number of bytes
// the value occupies. If data is shorter than the value, Read returns
// ErrInvalidData and the required length (not the bytes copied) as n,
// so the caller can retry with a larger buffer. Read returns
// ErrItemNotFound if key has no live value.
func (s *Store) Read(key []byte, data []byte) (int, error) {
	if err := s.lock(); err != nil {
		return 0, err
	}
	defer s.unlock()
	if s.closed {
		return 0, kvfault.ErrClosed
	}
	if err := s.checkKey(key); err != nil {
		return 0, err
	}

	entries := s.index.Entries()
	res, err := ramindex.Find(s.dev, s.buf, s.activeBase, entries, key)
	if err != nil {
		return 0, err
	}
	if !res.Found {
		return 0, kvfault.ErrItemNotFound
	}

	addr := s.activeBase + entries[res.Pos].Offset
	var size uint32
	_, err = record.Read(s.dev, s.buf, addr, key, data, &size)
	if err != nil {
		if errors.Is(err, kvfault.ErrInvalidData) && data != nil && uint32(len(data)) < size {
			return int(size), err
		}
		return 0, err
	}
	return int(size), nil
}

// Contains reports whether key has a live value, without copying it: a
// probe-only read.
func (s *Store) Contains(key []byte) (bool, error) {
	if err := s.lock(); err != nil {
		return false, err
	}
	defer s.unlock()
	if s.closed {
		return false, kvfault.ErrClosed
	}
	if err := s.checkKey(key); err != nil {
		return false, err
	}

	res, err := ramindex.Find(s.dev, s.buf, s.activeBase, s.index.Entries(), key)
	if err != nil {
		return false, err
	}
	return res.Found, nil
}

// Size returns the total bytes occupied by live records in the active
// area, including its area-header record.
func (s *Store) Size() (uint32, error) {
	if err := s.lock(); err != nil {
		return 0, err
	}
	defer s.unlock()
	if s.closed {
		return 0, kvfault.ErrClosed
	}
	return s.consumedSize, nil
}

// Remaining returns the area size minus Size(): the room not taken by
// live records. Space held by superseded records counts as remaining
// and becomes usable once a GC pass compacts it away.
func (s *Store) Remaining() (uint32, error) {
	if err := s.lock(); err != nil {
		return 0, err
	}
	defer s.unlock()
	if s.closed {
		return 0, kvfault.ErrClosed
	}
	return s.areaSize - s.consumedSize, nil
}

// Stat is the read-only snapshot Store.Stat returns: the layout detail
// host tooling wants to print but that mutating operations have no
// reason to expose.
type Stat struct {
	ActiveBase    uint32
	SwapBase      uint32
	ActiveVersion uint16
	AreaSize      uint32
	Used          uint32
	Free          uint32
	LiveKeys      int
}

// Stat reports the active/swap area layout and occupancy, the
// host-tooling analogue of kvstorectl's area-header dump.
func (s *Store) Stat() (Stat, error) {
	if err := s.lock(); err != nil {
		return Stat{}, err
	}
	defer s.unlock()
	if s.closed {
		return Stat{}, kvfault.ErrClosed
	}
	return Stat{
		ActiveBase:    s.activeBase,
		SwapBase:      s.swapBase,
		ActiveVersion: s.activeVersion,
		AreaSize:      s.areaSize,
		Used:          s.consumedSize,
		Free:          s.areaSize - s.consumedSize,
		LiveKeys:      s.index.Len(),
	}, nil
}

// Reset discards every key, compacting to an empty area with a fresh
// area-header version, as if the store had just been initialized.
func (s *Store) Reset() error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.unlock()
	if s.closed {
		return kvfault.ErrClosed
	}
	s.index.Reset()
	return s.runGC(nil)
}

// Compact forces a garbage-collection pass against the swap area even
// if the active area has room, preserving every live key. It is the
// manual counterpart to the GC mutate and replay trigger automatically,
// exposed for host tooling that wants to reclaim tombstone/overwrite
// space on demand rather than wait for the next mutation to need it.
func (s *Store) Compact() error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.unlock()
	if s.closed {
		return kvfault.ErrClosed
	}
	return s.runGC(nil)
}

// Close releases the Store. It waits indefinitely for the lock — the
// one operation not bounded by LockTimeout — and is idempotent.
func (s *Store) Close() error {
	if err := s.locker.Lock(-1); err != nil {
		return err
	}
	defer s.locker.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.buf = nil
	s.keyStage = nil
	s.index.Reset()
	return nil
}
