// Package cache implements Percas's hybrid memory+disk key-value engine: a
// sharded, weighted-LFU memory tier backed by a block-structured disk tier.
// Unlike a typical write-through cache, entries are written to disk only
// when the memory tier evicts them (write-on-eviction), which trades a
// slightly higher miss cost after a restart for far less disk write
// amplification under a hot, frequently-overwritten working set.
package cache

import (
	"errors"
	"runtime"
)

// ErrNotFound is returned by Get when key is absent from both tiers.
var ErrNotFound = errors.New("cache: key not found")

// memoryCapacityFactor is applied to the configured (or detected) memory
// budget: only half of it backs the weighted-LFU tier, leaving headroom for
// the process's own working set (block write buffers, index, connections).
const memoryCapacityFactor = 0.5

// Config configures a new Engine.
type Config struct {
	// DataDir is where block files and the on-disk index are stored.
	DataDir string
	// MemoryCapacityBytes is the raw memory budget before
	// memoryCapacityFactor is applied. If zero, half of
	// detectAvailableMemory's fixed per-core estimate is used instead.
	MemoryCapacityBytes int64
	// DiskCapacityBytes bounds how many bytes the disk tier will hold.
	DiskCapacityBytes int64
	// Throttle bounds the disk tier's IOPS and throughput. The zero value
	// disables throttling; use DefaultThrottle() for sensible per-core
	// defaults.
	Throttle Throttle
	// ShardCount is the number of memory-tier shards. Zero uses
	// defaultShardCount.
	ShardCount int
}

// DefaultThrottle returns the per-core disk throttle defaults.
func DefaultThrottle() Throttle {
	return defaultThrottle()
}

// Engine is Percas's hybrid cache: Get/Put/Delete backed by a memory tier
// that evicts into a disk tier on capacity pressure.
type Engine struct {
	mem   *memTier
	disk  *diskTier
	stats *Statistics

	diskCapacity int64
}

// New constructs an Engine from cfg. It creates cfg.DataDir if missing and
// recovers whatever disk index it finds there (best-effort; see
// diskTier.recover).
func New(cfg Config) (*Engine, error) {
	stats := &Statistics{}

	disk, err := newDiskTier(cfg.DataDir, cfg.DiskCapacityBytes, cfg.Throttle, stats)
	if err != nil {
		return nil, err
	}

	e := &Engine{disk: disk, stats: stats, diskCapacity: cfg.DiskCapacityBytes}

	memCapacity := cfg.MemoryCapacityBytes
	if memCapacity == 0 {
		memCapacity = int64(detectAvailableMemory())
	}
	memCapacity = int64(float64(memCapacity) * memoryCapacityFactor)

	e.mem = newMemTier(memCapacity, cfg.ShardCount, e.onMemoryEviction)

	return e, nil
}

// onMemoryEviction is called by the memory tier whenever it evicts an entry
// to stay within its byte budget. It is the write-on-eviction hook: the
// value is hardened to disk here, not on the original Put.
func (e *Engine) onMemoryEviction(key string, value []byte) {
	e.disk.Evict(key, value)
}

// Get returns the value for key, checking the memory tier first and
// falling back to disk. A disk hit is not promoted back into memory:
// promotion would undermine write-on-eviction's whole point, which is to
// keep hot overwritten keys from ever touching disk in the first place.
func (e *Engine) Get(key string) ([]byte, error) {
	if v, ok := e.mem.get(key); ok {
		return v, nil
	}
	if v, ok := e.disk.Get(key); ok {
		return v, nil
	}
	return nil, ErrNotFound
}

// Put stores key/value in the memory tier. It may trigger eviction of other
// entries to disk, but never writes key/value itself to disk immediately.
func (e *Engine) Put(key string, value []byte) {
	e.mem.put(key, value)
}

// Delete removes key from both tiers.
func (e *Engine) Delete(key string) {
	e.mem.delete(key)
	e.disk.Delete(key)
}

// Capacity returns the disk tier's configured capacity in bytes, which is
// the reported "total capacity" of the cache as a whole: the memory tier is
// considered a performance optimization over the disk tier, not additional
// capacity.
func (e *Engine) Capacity() int64 {
	return e.diskCapacity
}

// Used returns the disk tier's reserved byte count, which is always equal
// to Capacity: Percas pre-reserves the full disk budget for the device at
// startup rather than growing it on demand, so "used" describes reserved
// space, not live occupancy. internal/cache.Statistics tracks the actual
// bytes moved, for callers that want a live occupancy signal instead.
func (e *Engine) Used() int64 {
	return e.diskCapacity
}

// Statistics returns the engine's disk I/O counters.
func (e *Engine) Statistics() *Statistics {
	return e.stats
}

// Close flushes and closes the disk tier.
func (e *Engine) Close() error {
	return e.disk.Close()
}

// detectAvailableMemory is a conservative placeholder for "available system
// memory": Go's runtime doesn't expose free physical memory directly, so
// this uses a fixed multiple of GOMAXPROCS as a stand-in, which keeps
// behavior deterministic across environments unless MemoryCapacityBytes is
// configured explicitly (the recommended path in production).
func detectAvailableMemory() int64 {
	const perCore = 512 * 1024 * 1024 // 512 MiB per core, conservative default
	cores := runtime.GOMAXPROCS(0)
	if cores < 1 {
		cores = 1
	}
	return int64(cores) * perCore
}
