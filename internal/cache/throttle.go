package cache

import (
	"context"
	"runtime"

	"golang.org/x/time/rate"
)

// Throttle bounds the disk tier's I/O rate, independently for reads and
// writes, on both an IOPS axis and a throughput (bytes/sec) axis. A zero
// Throttle (all four limiters nil) applies no limit.
type Throttle struct {
	readIOPS        *rate.Limiter
	writeIOPS       *rate.Limiter
	readThroughput  *rate.Limiter
	writeThroughput *rate.Limiter
}

// defaultThrottle derives per-core defaults matching the reference engine's
// rule of thumb: roughly 1.5 Gbps and 10k IOPS per core, split 75/25 between
// read and write since reads dominate a cache's working set.
func defaultThrottle() Throttle {
	cores := runtime.GOMAXPROCS(0)
	if cores < 1 {
		cores = 1
	}

	bytesPerSecPerCore := 1_500_000_000 / 8 // 1.5 Gbps in bytes/sec
	iopsPerCore := 10_000

	totalBytes := bytesPerSecPerCore * cores
	totalIOPS := iopsPerCore * cores

	return Throttle{
		readIOPS:        rate.NewLimiter(rate.Limit(totalIOPS*3/4), totalIOPS),
		writeIOPS:       rate.NewLimiter(rate.Limit(totalIOPS*1/4), totalIOPS),
		readThroughput:  rate.NewLimiter(rate.Limit(totalBytes*3/4), totalBytes),
		writeThroughput: rate.NewLimiter(rate.Limit(totalBytes*1/4), totalBytes),
	}
}

// NewThrottle builds a Throttle from explicit per-second limits. A zero
// value for any axis leaves that axis unlimited.
func NewThrottle(readIOPS, writeIOPS, readThroughput, writeThroughput float64) Throttle {
	var t Throttle
	if readIOPS > 0 {
		t.readIOPS = rate.NewLimiter(rate.Limit(readIOPS), int(readIOPS))
	}
	if writeIOPS > 0 {
		t.writeIOPS = rate.NewLimiter(rate.Limit(writeIOPS), int(writeIOPS))
	}
	if readThroughput > 0 {
		t.readThroughput = rate.NewLimiter(rate.Limit(readThroughput), int(readThroughput))
	}
	if writeThroughput > 0 {
		t.writeThroughput = rate.NewLimiter(rate.Limit(writeThroughput), int(writeThroughput))
	}
	return t
}

func (t Throttle) waitRead(ctx context.Context, n int) error {
	if t.readIOPS != nil {
		if err := t.readIOPS.Wait(ctx); err != nil {
			return err
		}
	}
	if t.readThroughput != nil {
		if err := t.readThroughput.WaitN(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

func (t Throttle) waitWrite(ctx context.Context, n int) error {
	if t.writeIOPS != nil {
		if err := t.writeIOPS.Wait(ctx); err != nil {
			return err
		}
	}
	if t.writeThroughput != nil {
		if err := t.writeThroughput.WaitN(ctx, n); err != nil {
			return err
		}
	}
	return nil
}
