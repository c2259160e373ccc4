package device

import (
	"context"
	"fmt"
	"time"
)

// BenchmarkResult reports a bounded read-throughput measurement.
type BenchmarkResult struct {
	Drive     string  `json:"drive"`
	BytesRead int64   `json:"bytes_read"`
	Duration  string  `json:"duration"`
	MBPerSec  float64 `json:"read_speed_mbps"`
}

// DefaultBenchmarkBytes is read when the caller does not specify a size.
const DefaultBenchmarkBytes = 64 << 20 // 64 MiB

// Benchmark measures sequential read throughput from the start of the
// drive. It reads at most size bytes and stops early if ctx is cancelled.
func Benchmark(ctx context.Context, drive string, size int64) (*BenchmarkResult, error) {
	rd, err := Open(drive)
	if err != nil {
		return nil, err
	}
	defer rd.Close()

	return benchmarkReader(ctx, rd, drive, size)
}

// benchmarkReader runs the measurement against an already open reader.
func benchmarkReader(ctx context.Context, rd SectorReader, drive string, size int64) (*BenchmarkResult, error) {
	if size <= 0 {
		size = DefaultBenchmarkBytes
	}
	if devSize := rd.Size(); devSize < size {
		size = devSize
	}

	const chunk = 1 << 20
	buf := make([]byte, chunk)

	start := time.Now()
	var read int64
	for read < size {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n := int64(chunk)
		if remaining := size - read; remaining < n {
			n = remaining
		}
		got, err := rd.ReadAt(buf[:n], read)
		read += int64(got)
		if err != nil {
			return nil, fmt.Errorf("benchmark read at %d: %w", read, err)
		}
	}
	elapsed := time.Since(start)

	if elapsed <= 0 {
		elapsed = time.Nanosecond
	}
	return &BenchmarkResult{
		Drive:     drive,
		BytesRead: read,
		Duration:  elapsed.Round(time.Millisecond).String(),
		MBPerSec:  float64(read) / elapsed.Seconds() / (1 << 20),
	}, nil
}
