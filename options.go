package flashkv

import (
	"time"

	"flashkv/blockdevice"
)

// Logger is the optional diagnostic sink the store reports GC and
// area-swap events to. The zero value of Config uses noopLogger, so
// the hot path never pays for formatting a message nobody reads.
// cmd/kvflashd and cmd/kvstorectl wire a logrus.Logger in through the
// small adapter in cmd/internal/logadapter.
type Logger interface {
	Debugf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

type noopLogger struct{}

func (noopLogger) Debugf(string, ...interface{}) {}
func (noopLogger) Warnf(string, ...interface{})  {}

// DefaultLockTimeout bounds how long Open/Write/Read/Delete/Reset wait
// to acquire the store's lock before returning ErrLockTimeout.
const DefaultLockTimeout = 5 * time.Second

// Config bundles everything Open needs: the region to manage, the
// block device that backs it, and the optional cross-cutting
// collaborators (lock, logger) that are externally supplied rather than
// owned by the store.
type Config struct {
	// StartAddr and Length describe the caller-owned region. Length
	// must split into two equal, erase-sector-aligned halves.
	StartAddr uint32
	Length    uint32

	// Device is the block-device port. Required.
	Device blockdevice.Device

	// Locker, if nil, defaults to an internal channel-based semaphore
	// scoped to this Store. Supplying one lets multiple Stores share a
	// single external mutual-exclusion token.
	Locker Locker

	// LockTimeout bounds lock acquisition for every operation except
	// Close. Zero means DefaultLockTimeout; negative means wait
	// forever (matching Close's own unbounded wait).
	LockTimeout time.Duration

	// Logger receives Debugf/Warnf calls around GC and area-swap
	// events. Defaults to a no-op.
	Logger Logger
}

func (c *Config) logger() Logger {
	if c.Logger == nil {
		return noopLogger{}
	}
	return c.Logger
}

func (c *Config) lockTimeout() time.Duration {
	if c.LockTimeout == 0 {
		return DefaultLockTimeout
	}
	return c.LockTimeout
}
