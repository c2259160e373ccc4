//go:build linux

package device

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Prefixes of virtual block devices that are not physical drives.
var virtualPrefixes = []string{"loop", "ram", "zram", "dm-", "md", "sr", "fd"}

func listDrives() ([]Drive, error) {
	return listDrivesFrom("/sys/block")
}

// listDrivesFrom enumerates drives from a sysfs block directory. Split out
// so tests can point it at a fake tree.
func listDrivesFrom(root string) ([]Drive, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	var drives []Drive
	for _, entry := range entries {
		name := entry.Name()
		if isVirtual(name) {
			continue
		}

		base := filepath.Join(root, name)
		d := Drive{
			Name:       name,
			Path:       DevicePath(name),
			Model:      readSysfsString(filepath.Join(base, "device", "model")),
			Serial:     readSysfsString(filepath.Join(base, "device", "serial")),
			Rotational: readSysfsInt(filepath.Join(base, "queue", "rotational")) == 1,
		}

		// /sys/block/<dev>/size is in 512-byte units regardless of the
		// device's logical block size.
		d.SizeBytes = readSysfsInt(filepath.Join(base, "size")) * 512
		d.Type = classify(name, d.Rotational)

		drives = append(drives, d)
	}
	return drives, nil
}

func classify(name string, rotational bool) DriveType {
	if strings.HasPrefix(name, "nvme") {
		return DriveTypeNVMe
	}
	if rotational {
		return DriveTypeHDD
	}
	return DriveTypeSSD
}

func isVirtual(name string) bool {
	for _, p := range virtualPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

func readSysfsString(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func readSysfsInt(path string) int64 {
	s := readSysfsString(path)
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
