package cache

import "sync/atomic"

// Statistics are monotone counters describing disk activity since the
// engine started. They back the scheduled reporter's delta counters
// (internal/metrics) and are cheap to read from any goroutine.
type Statistics struct {
	diskReadBytes  atomic.Int64
	diskWriteBytes atomic.Int64
	diskReadIOs    atomic.Int64
	diskWriteIOs   atomic.Int64
}

func (s *Statistics) addDiskRead(n int64) {
	s.diskReadBytes.Add(n)
	s.diskReadIOs.Add(1)
}

func (s *Statistics) addDiskWrite(n int64) {
	s.diskWriteBytes.Add(n)
	s.diskWriteIOs.Add(1)
}

// DiskReadBytes returns the total bytes read from disk since startup.
func (s *Statistics) DiskReadBytes() int64 { return s.diskReadBytes.Load() }

// DiskWriteBytes returns the total bytes written to disk since startup.
func (s *Statistics) DiskWriteBytes() int64 { return s.diskWriteBytes.Load() }

// DiskReadIOs returns the total number of disk read operations since
// startup.
func (s *Statistics) DiskReadIOs() int64 { return s.diskReadIOs.Load() }

// DiskWriteIOs returns the total number of disk write operations since
// startup.
func (s *Statistics) DiskWriteIOs() int64 { return s.diskWriteIOs.Load() }
