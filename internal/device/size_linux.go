//go:build linux

package device

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// deviceSize returns the size of a file or block device in bytes. Seeking
// to the end works for regular files and most block devices; BLKGETSIZE64
// covers the rest.
func deviceSize(f *os.File) (int64, error) {
	size, err := f.Seek(0, io.SeekEnd)
	if err == nil && size > 0 {
		_, _ = f.Seek(0, io.SeekStart)
		return size, nil
	}

	n, err := unix.IoctlGetInt(int(f.Fd()), unix.BLKGETSIZE64)
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}
