package device

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
)

// SectorReader is raw read access to one block device. An unreadable
// region is a normal outcome and is reported as an error wrapping
// ErrUnreadable; a device that has gone away entirely wraps ErrUnavailable.
type SectorReader interface {
	io.ReaderAt

	// Size is the device size in bytes, determined when the device
	// was opened.
	Size() int64

	Close() error
}

// OpenFunc opens a SectorReader for a drive name. Injected into the scan
// registry so tests can substitute fakes.
type OpenFunc func(drive string) (SectorReader, error)

// Open opens the named drive's device node for raw reading.
func Open(drive string) (SectorReader, error) {
	return OpenPath(DevicePath(drive))
}

// OpenPath opens a device node (or plain file) for raw reading.
func OpenPath(path string) (SectorReader, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w: %v", path, ErrUnavailable, err)
	}

	size, err := deviceSize(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("size %s: %w: %v", path, ErrUnavailable, err)
	}

	return &fileReader{f: f, size: size}, nil
}

type fileReader struct {
	f    *os.File
	size int64
}

func (r *fileReader) ReadAt(p []byte, off int64) (int, error) {
	n, err := r.f.ReadAt(p, off)
	if err != nil && err != io.EOF {
		return n, classifyReadError(err)
	}
	return n, nil
}

func (r *fileReader) Size() int64 { return r.size }

func (r *fileReader) Close() error { return r.f.Close() }

// classifyReadError maps an OS read error onto the package taxonomy:
// a vanished device is fatal, anything else is one unreadable region.
func classifyReadError(err error) error {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ENODEV, syscall.ENXIO:
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrUnreadable, err)
}
