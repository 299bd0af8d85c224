package flashkv

import (
	"fmt"

	"flashkv/internal/ramindex"
	"flashkv/internal/record"
	"flashkv/kvfault"
)

// foldOp describes a single in-flight Update or Delete that runGC
// should fold into its compaction pass instead of writing it
// separately afterward. A nil *foldOp means pure compaction (also used
// by Add's post-GC retry and by Reset).
type foldOp struct {
	op            ramindex.Op // OpUpdate or OpDelete; never OpAdd
	pos           int
	hash          uint16
	key           []byte
	value         []byte
	oldRecordSize uint32
	newRecordSize uint32
}

func copyRecordBytes(s *Store, src, dst, size uint32) error {
	for size > 0 {
		chunk := uint32(len(s.buf))
		if chunk > size {
			chunk = size
		}
		if err := s.dev.Read(src, s.buf[:chunk]); err != nil {
			return fmt.Errorf("flashkv: gc copy read at %d: %w", src, err)
		}
		if err := s.dev.Program(dst, s.buf[:chunk]); err != nil {
			return fmt.Errorf("flashkv: gc copy program at %d: %w", dst, err)
		}
		src += chunk
		dst += chunk
		size -= chunk
	}
	return nil
}

// runGC compacts every live record into the swap area, optionally
// folding one Update or Delete in, commits by writing the new area
// header, then swaps active and swap roles.
func (s *Store) runGC(fold *foldOp) error {
	oldHeaderSize := s.areaHeaderRecordSize(s.activeBase)
	newHeaderSize := s.areaHeaderRecordSize(s.swapBase)

	if fold != nil && fold.op == ramindex.OpUpdate {
		projected := s.consumedSize - oldHeaderSize - fold.oldRecordSize + fold.newRecordSize + newHeaderSize
		if projected > s.areaSize {
			return kvfault.ErrStorageFull
		}
	}

	// Erase sectors beyond the first, then the first sector, so an
	// interrupted erase leaves the old active area's header intact.
	eraseSize := s.dev.EraseSize(s.swapBase)
	if s.areaSize > eraseSize {
		if err := s.dev.Erase(s.swapBase+eraseSize, s.areaSize-eraseSize); err != nil {
			return err
		}
	}
	if err := s.dev.Erase(s.swapBase, eraseSize); err != nil {
		return err
	}

	entries := s.index.Entries()
	newOffsets := make([]uint32, len(entries))
	skipPos := -1
	if fold != nil {
		// Both OpUpdate and OpDelete fold over an in-flight mutation of
		// an already-live key, so the old copy of that record must
		// never be carried into the swap area — OpUpdate writes its
		// replacement below, OpDelete just drops it.
		skipPos = fold.pos
	}

	progSize := s.dev.ProgramSize(s.activeBase)
	dstOffset := newHeaderSize
	for i, e := range entries {
		if i == skipPos {
			continue
		}
		srcAddr := s.activeBase + e.Offset
		h, err := record.ReadHeader(s.dev, srcAddr)
		if err != nil {
			return fmt.Errorf("flashkv: gc re-reading live record at %d: %w", e.Offset, err)
		}
		size := h.Size(progSize)
		if err := copyRecordBytes(s, srcAddr, s.swapBase+dstOffset, size); err != nil {
			return err
		}
		newOffsets[i] = dstOffset
		dstOffset += size
	}

	if fold != nil && fold.op == ramindex.OpUpdate {
		addr := s.swapBase + dstOffset
		if err := record.Write(s.dev, s.buf, addr, false, fold.key, fold.value); err != nil {
			return err
		}
		newOffsets[fold.pos] = dstOffset
		dstOffset += fold.newRecordSize
	}

	if fold != nil && fold.op == ramindex.OpDelete {
		deletedHash := entries[skipPos].Hash
		newOffsets = append(newOffsets[:skipPos], newOffsets[skipPos+1:]...)
		if err := s.index.Apply(ramindex.OpDelete, skipPos, deletedHash, 0); err != nil {
			return err
		}
	}
	s.index.RewriteOffsets(newOffsets)

	newVersion := s.activeVersion + 1
	if err := writeAreaHeader(s.dev, s.buf, s.swapBase, newVersion); err != nil {
		return err
	}

	s.activeBase, s.swapBase = s.swapBase, s.activeBase
	s.activeVersion = newVersion
	s.freeSpaceOffset = dstOffset
	s.consumedSize = dstOffset

	s.logger.Debugf("gc complete: active area base=%d version=%d live=%d", s.activeBase, s.activeVersion, len(newOffsets))
	return nil
}
