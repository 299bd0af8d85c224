package flashkv

import "flashkv/kvfault"

// These re-export the shared sentinel errors so callers can
// errors.Is(err, flashkv.ErrItemNotFound) without importing kvfault
// directly. internal/record and internal/ramindex return the exact
// same sentinel values, not private copies, so the comparison works
// regardless of which layer produced the error.
var (
	ErrBadParam     = kvfault.ErrBadParam
	ErrAlignment    = kvfault.ErrAlignment
	ErrMemAlloc     = kvfault.ErrMemAlloc
	ErrInvalidData  = kvfault.ErrInvalidData
	ErrItemNotFound = kvfault.ErrItemNotFound
	ErrStorageFull  = kvfault.ErrStorageFull
	ErrLockTimeout  = kvfault.ErrLockTimeout
	ErrClosed       = kvfault.ErrClosed
)
