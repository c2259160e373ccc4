//go:build !linux

package device

func listDrives() ([]Drive, error) {
	return nil, ErrUnsupported
}
