// Package ramindex implements the RAM-resident index: an ordered
// sequence of (key-hash, active-area offset) entries, a two-byte hash
// and a four-byte offset per entry, that accelerates lookup while permitting hash collisions. It
// deliberately does not store keys — collisions are resolved by
// reading and byte-comparing the key on the medium, a deliberate
// memory-for-I/O trade.
package ramindex

import (
	"fmt"

	"golang.org/x/exp/slices"

	"flashkv/blockdevice"
	"flashkv/crc16"
	"flashkv/internal/record"
	"flashkv/kvfault"
)

// Entry is one (hash, offset) pair. offset is measured from the active
// area's base.
type Entry struct {
	Hash   uint16
	Offset uint32
}

// Op identifies which mutation Apply should perform at a position
// returned by Find.
type Op int

const (
	OpAdd Op = iota
	OpUpdate
	OpDelete
)

// startCapacity is the initial backing-array capacity; it doubles each
// time Apply(OpAdd, ...) would overflow it.
const startCapacity = 32

// Index is the sorted-by-hash entry sequence. The zero value is a
// usable, empty index.
type Index struct {
	entries []Entry
	cap     int
}

// Len reports the number of live entries.
func (idx *Index) Len() int { return len(idx.entries) }

// Cap reports the current backing-array capacity (always a power of
// two times startCapacity, or 0 before the first entry is added).
func (idx *Index) Cap() int { return idx.cap }

// Hash computes a key's index hash: CRC-16/CCITT-FALSE seeded with its
// initial value, exactly the streaming checksum a collision-free key
// comparison would also start from.
func Hash(key []byte) uint16 {
	return crc16.Checksum(key)
}

// Result is what Find reports: where in the sequence the key's slot is
// (for Add, where it should be inserted; for Update/Delete, where the
// live entry is), its hash, whether it was found, and — when found —
// the validated header of the record it points at, so callers don't
// need a second read to learn DataSize or IsDelete.
type Result struct {
	Pos    int
	Hash   uint16
	Found  bool
	Header record.Header
}

// Find locates key's slot. base is the active area's base address
// (entry offsets are relative to it); dev and scratch are used to read
// and byte-compare candidate records on hash collisions.
//
// Entries with Hash < the query hash are skipped; scanning stops at
// the first entry with Hash > the query hash (Result.Pos then names
// the insertion point for a new equal-or-sorted entry). Entries with
// an equal hash are resolved by reading the record at their offset and
// comparing its key against the caller's key; a mismatch continues the
// scan within the same run of equal hashes, any other outcome
// (match, or a read/CRC error) stops it.
func Find(dev blockdevice.Device, scratch []byte, base uint32, entries []Entry, key []byte) (Result, error) {
	hash := Hash(key)

	pos, _ := slices.BinarySearchFunc(entries, hash, func(e Entry, target uint16) int {
		return int(e.Hash) - int(target)
	})

	for i := pos; i < len(entries) && entries[i].Hash == hash; i++ {
		addr := base + entries[i].Offset
		h, err := record.Read(dev, scratch, addr, key, nil, nil)
		switch {
		case err == nil:
			return Result{Pos: i, Hash: hash, Found: true, Header: h}, nil
		case err == kvfault.ErrItemNotFound:
			continue
		default:
			return Result{}, fmt.Errorf("ramindex: resolving collision at offset %d: %w", entries[i].Offset, err)
		}
	}

	return Result{Pos: pos, Hash: hash, Found: false}, nil
}

// Apply performs op at pos, growing the backing array by doubling
// (starting at 32) when an OpAdd would overflow it.
func (idx *Index) Apply(op Op, pos int, hash uint16, offset uint32) error {
	switch op {
	case OpAdd:
		if len(idx.entries) == idx.cap {
			if err := idx.grow(); err != nil {
				return err
			}
		}
		idx.entries = slices.Insert(idx.entries, pos, Entry{Hash: hash, Offset: offset})
	case OpUpdate:
		idx.entries[pos] = Entry{Hash: hash, Offset: offset}
	case OpDelete:
		idx.entries = slices.Delete(idx.entries, pos, pos+1)
	default:
		return fmt.Errorf("ramindex: unknown op %d", op)
	}
	return nil
}

func (idx *Index) grow() error {
	newCap := startCapacity
	if idx.cap > 0 {
		newCap = idx.cap * 2
	}
	grown := make([]Entry, len(idx.entries), newCap)
	copy(grown, idx.entries)
	idx.entries = grown
	idx.cap = newCap
	return nil
}

// Entries exposes the live entries in hash order for GC's compaction
// pass and for tests. Callers must not retain or mutate the returned
// slice across a subsequent Apply call.
func (idx *Index) Entries() []Entry {
	return idx.entries
}

// Reset discards every entry without shrinking the backing array
// (used by replay before rebuilding the index, and by Store.Reset and
// Store.Close).
func (idx *Index) Reset() {
	idx.entries = idx.entries[:0]
}

// RewriteOffsets replaces every entry's offset in place, in the same
// order Entries() returned them, used by GC after it has copied live
// records to new offsets in the swap area.
func (idx *Index) RewriteOffsets(offsets []uint32) {
	for i := range idx.entries {
		idx.entries[i].Offset = offsets[i]
	}
}
