package device

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Eraser issues ATA secure-erase commands via hdparm.
type Eraser struct {
	binaryPath string
}

// NewEraser creates an Eraser using hdparm from PATH.
func NewEraser() *Eraser {
	return &Eraser{binaryPath: "hdparm"}
}

// SetBinaryPath sets a custom path to the hdparm binary.
func (e *Eraser) SetBinaryPath(path string) {
	if path != "" {
		e.binaryPath = path
	}
}

// SecureErase runs a destructive ATA security erase against the drive.
// Fire-and-forget from the caller's perspective: the command output is
// returned verbatim.
func (e *Eraser) SecureErase(ctx context.Context, drive string) (string, error) {
	cmd := exec.CommandContext(ctx, e.binaryPath,
		"--user-master", "u", "--security-erase", "password", DevicePath(drive))
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("hdparm secure-erase %s: %w", drive, err)
	}
	return strings.TrimSpace(string(output)), nil
}
