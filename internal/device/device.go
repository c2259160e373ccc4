// Package device provides access to physical block devices: enumeration,
// classification, raw sector reads, read benchmarking and secure erase.
package device

import (
	"errors"
	"fmt"
)

// DriveType classifies a physical drive.
type DriveType string

const (
	DriveTypeHDD  DriveType = "hdd"
	DriveTypeSSD  DriveType = "ssd"
	DriveTypeNVMe DriveType = "nvme"
)

// Drive describes one physical block device.
type Drive struct {
	Name       string    `json:"name"` // e.g. "sda", "nvme0n1"
	Path       string    `json:"path"` // e.g. "/dev/sda"
	Type       DriveType `json:"type"`
	Model      string    `json:"model,omitempty"`
	Serial     string    `json:"serial,omitempty"`
	SizeBytes  int64     `json:"size_bytes"`
	Rotational bool      `json:"rotational"`
}

var (
	// ErrUnsupported is returned when drive enumeration is not available
	// on the current platform.
	ErrUnsupported = errors.New("drive enumeration not supported on this platform")

	// ErrUnreadable marks a per-sector read failure. Expected during a
	// surface scan; callers count it and keep going.
	ErrUnreadable = errors.New("sector unreadable")

	// ErrUnavailable marks a device that cannot be opened, sized, or has
	// disappeared entirely. Fatal to the session that hits it.
	ErrUnavailable = errors.New("device unavailable")
)

// List enumerates the physical drives visible to the system.
func List() ([]Drive, error) {
	return listDrives()
}

// DevicePath maps a drive name to its device node.
func DevicePath(name string) string {
	return fmt.Sprintf("/dev/%s", name)
}
