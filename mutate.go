package flashkv

import (
	"fmt"

	"flashkv/blockdevice"
	"flashkv/internal/ramindex"
	"flashkv/internal/record"
	"flashkv/kvfault"
)

// mutate implements the write/delete pipeline: locate, classify,
// size, check capacity, then append or fold into a GC pass. Callers
// hold the store lock and have already rejected a closed store.
func (s *Store) mutate(key, value []byte, isDelete bool) error {
	if len(key) == 0 || uint16(len(key)) >= record.MaxKeySize {
		return fmt.Errorf("flashkv: %w: key length %d", kvfault.ErrBadParam, len(key))
	}
	if isDelete {
		value = nil
	}

	entries := s.index.Entries()
	res, err := ramindex.Find(s.dev, s.buf, s.activeBase, entries, key)
	if err != nil {
		return fmt.Errorf("flashkv: locating key: %w", err)
	}

	var op ramindex.Op
	switch {
	case isDelete && !res.Found:
		return nil
	case isDelete:
		op = ramindex.OpDelete
	case res.Found:
		op = ramindex.OpUpdate
	default:
		op = ramindex.OpAdd
	}

	progSize := s.dev.ProgramSize(s.activeBase)
	newContentSize := uint32(record.HeaderSize) + uint32(len(key)) + uint32(len(value))
	newSize := blockdevice.AlignUp(newContentSize, progSize)

	var oldSize uint32
	if res.Found {
		oldSize = res.Header.Size(progSize)
	}

	if op != ramindex.OpDelete {
		projected := s.consumedSize - oldSize + newSize
		if projected > s.areaSize {
			return kvfault.ErrStorageFull
		}
	}

	if s.freeSpaceOffset+newSize > s.areaSize {
		var fold *foldOp
		if op == ramindex.OpUpdate || op == ramindex.OpDelete {
			fold = &foldOp{
				op: op, pos: res.Pos, hash: res.Hash,
				key: key, value: value,
				oldRecordSize: oldSize, newRecordSize: newSize,
			}
		}
		if err := s.runGC(fold); err != nil {
			return err
		}
		if fold != nil {
			return nil
		}
		if s.freeSpaceOffset+newSize > s.areaSize {
			return kvfault.ErrStorageFull
		}
	}

	addr := s.activeBase + s.freeSpaceOffset
	if err := record.Write(s.dev, s.buf, addr, isDelete, key, value); err != nil {
		return err
	}

	if op == ramindex.OpDelete {
		if err := s.index.Apply(ramindex.OpDelete, res.Pos, res.Hash, 0); err != nil {
			return err
		}
		s.consumedSize -= oldSize
	} else {
		if err := s.index.Apply(op, res.Pos, res.Hash, s.freeSpaceOffset); err != nil {
			return err
		}
		if op == ramindex.OpAdd {
			s.consumedSize += newSize
		} else {
			s.consumedSize += newSize - oldSize
		}
	}
	s.freeSpaceOffset += newSize

	return nil
}
