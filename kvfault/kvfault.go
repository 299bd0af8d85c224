// Package kvfault holds the error taxonomy shared across the store's
// internal packages and its public API, so a caller can errors.Is
// against a single sentinel regardless of which layer returned it.
package kvfault

import "errors"

var (
	// ErrBadParam is returned when an argument violates its documented
	// contract (e.g. an empty or over-long key, or a nil device).
	ErrBadParam = errors.New("flashkv: bad parameter")

	// ErrAlignment is returned when the caller-supplied region is not
	// erase-sector aligned or does not split into two equal halves.
	ErrAlignment = errors.New("flashkv: region is not erase-sector aligned")

	// ErrMemAlloc is returned when a required allocation (transaction
	// buffer, RAM index growth) fails.
	ErrMemAlloc = errors.New("flashkv: allocation failed")

	// ErrInvalidData is returned when a record's header or CRC fails
	// validation, or when a caller-supplied read buffer is too small.
	ErrInvalidData = errors.New("flashkv: invalid or corrupt record")

	// ErrErasedData is an internal sentinel marking free space (an
	// all-0x00 or all-0xFF magic word). It is never surfaced by the
	// public API.
	ErrErasedData = errors.New("flashkv: erased data")

	// ErrItemNotFound is returned when a key has no live record.
	ErrItemNotFound = errors.New("flashkv: item not found")

	// ErrStorageFull is returned when a mutation's logical projection
	// would exceed the area size; the medium is left untouched.
	ErrStorageFull = errors.New("flashkv: storage full")

	// ErrLockTimeout is returned when the bounded lock-acquisition
	// timeout on a public operation expires, playing the same role a
	// propagated block-device-port timeout error would.
	ErrLockTimeout = errors.New("flashkv: lock acquisition timed out")

	// ErrCorruptAreaLayout is returned when both halves of the region
	// carry a valid area header with the same version, an asserted
	// impossibility that init refuses to paper over.
	ErrCorruptAreaLayout = errors.New("flashkv: both areas report the same version")

	// ErrClosed is returned by any operation invoked after Close.
	ErrClosed = errors.New("flashkv: store is closed")
)
