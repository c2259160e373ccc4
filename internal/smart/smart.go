// Package smart fetches vendor health telemetry via smartctl.
package smart

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/drivesentry/drivesentry/internal/device"
)

// Report holds the raw smartctl output plus the few fields parsed out of it.
type Report struct {
	Drive       string `json:"drive"`
	Output      string `json:"output"`
	HealthOK    bool   `json:"health_ok"`
	Temperature int    `json:"temperature_celsius,omitempty"`
}

// Executor runs smartctl commands
type Executor struct {
	binaryPath string
}

// NewExecutor creates a new smartctl executor
func NewExecutor() *Executor {
	return &Executor{binaryPath: "smartctl"}
}

// SetBinaryPath sets a custom path to the smartctl binary
func (e *Executor) SetBinaryPath(path string) {
	if path != "" {
		e.binaryPath = path
	}
}

// CheckInstalled verifies that smartctl is installed and accessible
func (e *Executor) CheckInstalled(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, e.binaryPath, "--version")
	output, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("smartctl not found or not executable: %w", err)
	}
	if !strings.Contains(string(output), "smartctl") {
		return fmt.Errorf("unexpected output from smartctl --version: %s", output)
	}
	return nil
}

// Attributes fetches the full SMART attribute report for a drive.
func (e *Executor) Attributes(ctx context.Context, drive string) (*Report, error) {
	cmd := exec.CommandContext(ctx, e.binaryPath, "-a", device.DevicePath(drive))
	output, err := cmd.CombinedOutput()
	// smartctl uses nonzero exit bits to flag failing attributes; as long
	// as it produced output the report is usable.
	if err != nil && len(output) == 0 {
		return nil, fmt.Errorf("smartctl -a %s: %w", drive, err)
	}

	report := parseReport(string(output))
	report.Drive = drive
	return report, nil
}

func parseReport(output string) *Report {
	r := &Report{Output: output}

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)

		// ATA form: "SMART overall-health self-assessment test result: PASSED"
		// NVMe form: "SMART overall-health self-assessment test result: PASSED"
		if strings.Contains(line, "overall-health self-assessment test result:") {
			r.HealthOK = strings.HasSuffix(line, "PASSED") || strings.HasSuffix(line, "OK")
			continue
		}

		// NVMe form: "Temperature: 36 Celsius"
		if strings.HasPrefix(line, "Temperature:") {
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				if t, err := strconv.Atoi(fields[1]); err == nil {
					r.Temperature = t
				}
			}
			continue
		}

		// ATA attribute table row for 194 Temperature_Celsius; raw value
		// is the last column, sometimes "36 (Min/Max 20/45)".
		if strings.Contains(line, "Temperature_Celsius") {
			fields := strings.Fields(line)
			if len(fields) >= 10 {
				if t, err := strconv.Atoi(fields[9]); err == nil {
					r.Temperature = t
				}
			}
		}
	}

	return r
}
