//go:build !linux

package device

import (
	"io"
	"os"
)

func deviceSize(f *os.File) (int64, error) {
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	_, _ = f.Seek(0, io.SeekStart)
	return size, nil
}
