package flashkv

import (
	"encoding/binary"
	"errors"
	"fmt"

	"flashkv/blockdevice"
	"flashkv/internal/ramindex"
	"flashkv/internal/record"
	"flashkv/kvfault"
)

// areaHeaderContentSize is the unaligned size of the area-header
// record's key+value payload: the fixed AreaHeaderKey plus a 4-byte
// {version, format_version} pair.
const areaHeaderContentSize = uint32(len(record.AreaHeaderKey)) + 4

func (s *Store) areaHeaderRecordSize(base uint32) uint32 {
	return record.SizeAt(s.dev, base, uint32(record.HeaderSize)+areaHeaderContentSize)
}

func encodeAreaHeaderValue(version uint16) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint16(buf[0:2], version)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(record.FormatVersion))
	return buf
}

func decodeAreaHeaderValue(buf []byte) (version uint16) {
	return binary.LittleEndian.Uint16(buf[0:2])
}

func writeAreaHeader(dev blockdevice.Device, txBuf []byte, base uint32, version uint16) error {
	return record.Write(dev, txBuf, base, false, []byte(record.AreaHeaderKey), encodeAreaHeaderValue(version))
}

// probeAreaHeader reads and validates the area-header record at base,
// classifying the half as valid(version) or invalid. Only a propagated
// device error aborts init; ErasedData, InvalidData and ItemNotFound
// all mean "invalid, try the other half".
func probeAreaHeader(dev blockdevice.Device, scratch []byte, base uint32) (version uint16, valid bool, err error) {
	value := make([]byte, 4)
	var size uint32
	_, err = record.Read(dev, scratch, base, []byte(record.AreaHeaderKey), value, &size)
	if err == nil {
		return decodeAreaHeaderValue(value), true, nil
	}
	if errors.Is(err, kvfault.ErrErasedData) || errors.Is(err, kvfault.ErrInvalidData) || errors.Is(err, kvfault.ErrItemNotFound) {
		return 0, false, nil
	}
	return 0, false, err
}

// versionNewer reports whether a is newer than b under the modular
// window resolution of the version-wraparound open question: a is
// newer iff (a-b) mod 2^16 lies in [1, 2^15). This subsumes the
// original "treat 0 as the successor of 0xFFFF" special case.
func versionNewer(a, b uint16) bool {
	d := a - b
	return d >= 1 && d < 1<<15
}

// identifyAreas probes both halves of the region and picks the active
// one: the only valid header wins outright, the newer version wins
// when both are valid, and two invalid headers mean a first-ever init.
func (s *Store) identifyAreas() error {
	baseA := s.startAddr
	baseB := s.startAddr + s.areaSize

	vA, validA, err := probeAreaHeader(s.dev, s.buf, baseA)
	if err != nil {
		return fmt.Errorf("flashkv: probing area A header: %w", err)
	}
	vB, validB, err := probeAreaHeader(s.dev, s.buf, baseB)
	if err != nil {
		return fmt.Errorf("flashkv: probing area B header: %w", err)
	}

	switch {
	case !validA && !validB:
		if err := s.dev.Erase(baseA, s.areaSize); err != nil {
			return err
		}
		if err := writeAreaHeader(s.dev, s.buf, baseA, 1); err != nil {
			return err
		}
		s.activeBase, s.swapBase, s.activeVersion = baseA, baseB, 1
	case validA && !validB:
		s.activeBase, s.swapBase, s.activeVersion = baseA, baseB, vA
	case !validA && validB:
		s.activeBase, s.swapBase, s.activeVersion = baseB, baseA, vB
	default:
		if vA == vB {
			return kvfault.ErrCorruptAreaLayout
		}
		if versionNewer(vA, vB) {
			s.activeBase, s.swapBase, s.activeVersion = baseA, baseB, vA
		} else {
			s.activeBase, s.swapBase, s.activeVersion = baseB, baseA, vB
		}
	}
	return nil
}

// replay walks the active area from just past its header, classifying
// and applying each record to the RAM index, until erased space (end
// of log) or corrupt data (recovery GC)
// is reached.
func (s *Store) replay() error {
	s.index.Reset()
	headerSize := s.areaHeaderRecordSize(s.activeBase)
	s.consumedSize = headerSize
	addr := s.activeBase + headerSize
	progSize := s.dev.ProgramSize(s.activeBase)

	for {
		h, err := record.Read(s.dev, s.buf, addr, nil, nil, nil)
		if errors.Is(err, kvfault.ErrErasedData) {
			s.freeSpaceOffset = addr - s.activeBase
			return nil
		}
		if errors.Is(err, kvfault.ErrInvalidData) {
			s.logger.Warnf("corrupt record at offset %d, running recovery GC", addr-s.activeBase)
			return s.runGC(nil)
		}
		if err != nil {
			return err
		}

		recSize := h.Size(progSize)
		if uint32(cap(s.keyStage)) < uint32(h.KeySize) {
			s.keyStage = make([]byte, h.KeySize)
		}
		key := s.keyStage[:h.KeySize]
		if err := record.ReadKeyInto(s.dev, addr, h, key); err != nil {
			return err
		}

		entries := s.index.Entries()
		res, err := ramindex.Find(s.dev, s.buf, s.activeBase, entries, key)
		if err != nil {
			return err
		}

		var oldSize uint32
		if res.Found {
			oldSize = res.Header.Size(progSize)
		}

		switch {
		case h.IsDelete() && !res.Found:
			// A tombstone for a key the index never saw live: not a
			// live record either way, contributes nothing.
		case h.IsDelete():
			if err := s.index.Apply(ramindex.OpDelete, res.Pos, res.Hash, 0); err != nil {
				return err
			}
			s.consumedSize -= oldSize
		case res.Found:
			if err := s.index.Apply(ramindex.OpUpdate, res.Pos, res.Hash, addr-s.activeBase); err != nil {
				return err
			}
			s.consumedSize += recSize - oldSize
		default:
			if err := s.index.Apply(ramindex.OpAdd, res.Pos, res.Hash, addr-s.activeBase); err != nil {
				return err
			}
			s.consumedSize += recSize
		}

		addr += recSize
	}
}
