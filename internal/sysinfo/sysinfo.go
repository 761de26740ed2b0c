// Package sysinfo inspects the host the console runs on: CPU, memory and disk
// utilisation through gopsutil, and a truncated process listing taken from the
// platform's own tool (ps aux, or tasklist on Windows).
package sysinfo

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/opsconsole/opsconsole/internal/config"
)

// DefaultProcessLimit caps the process listing when none is configured.
const DefaultProcessLimit = 40

// cpuSampleInterval is the window over which CPU utilisation is measured.
const cpuSampleInterval = 500 * time.Millisecond

// Metrics is a point-in-time utilisation snapshot. Percentages are 0-100.
type Metrics struct {
	CPUPercent       float64   `json:"cpu_percent"`
	MemoryPercent    float64   `json:"memory_percent"`
	MemoryUsedBytes  uint64    `json:"memory_used_bytes"`
	MemoryTotalBytes uint64    `json:"memory_total_bytes"`
	DiskPercent      float64   `json:"disk_percent"`
	DiskPath         string    `json:"disk_path"`
	CollectedAt      time.Time `json:"collected_at"`

	// Error is set instead of the readings when sampling failed.
	Error string `json:"error,omitempty"`
}

// CommandRunner runs an external command and returns its standard output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Collector gathers host metrics and process listings.
type Collector struct {
	processLimit int
	diskPath     string
	cpuInterval  time.Duration
	run          CommandRunner
}

// New creates a Collector from the host configuration.
func New(cfg config.HostConfig) *Collector {
	c := &Collector{
		processLimit: cfg.ProcessLimit,
		diskPath:     cfg.DiskPath,
		cpuInterval:  cpuSampleInterval,
		run:          execRunner,
	}
	if c.processLimit <= 0 {
		c.processLimit = DefaultProcessLimit
	}
	if c.diskPath == "" {
		c.diskPath = "/"
	}
	return c
}

// WithRunner replaces the command runner used by ListProcesses.
func (c *Collector) WithRunner(run CommandRunner) *Collector {
	c.run = run
	return c
}

// Metrics samples CPU, memory and disk utilisation.
func (c *Collector) Metrics(ctx context.Context) (Metrics, error) {
	cpuPercents, err := cpu.PercentWithContext(ctx, c.cpuInterval, false)
	if err != nil {
		return Metrics{}, fmt.Errorf("failed to read cpu usage: %w", err)
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("failed to read memory usage: %w", err)
	}
	du, err := disk.UsageWithContext(ctx, c.diskPath)
	if err != nil {
		return Metrics{}, fmt.Errorf("failed to read disk usage of %s: %w", c.diskPath, err)
	}

	m := Metrics{
		MemoryPercent:    vm.UsedPercent,
		MemoryUsedBytes:  vm.Used,
		MemoryTotalBytes: vm.Total,
		DiskPercent:      du.UsedPercent,
		DiskPath:         c.diskPath,
		CollectedAt:      time.Now().UTC(),
	}
	if len(cpuPercents) > 0 {
		m.CPUPercent = cpuPercents[0]
	}
	return m, nil
}

// ListProcesses returns the first lines of the platform process listing,
// header included. Failures come back as a single explanatory line.
func (c *Collector) ListProcesses(ctx context.Context) []string {
	name, args := processCommand()
	out, err := c.run(ctx, name, args...)
	if err != nil {
		return []string{fmt.Sprintf("Error fetching processes: %v", err)}
	}

	lines := strings.Split(strings.TrimRight(string(out), "\r\n"), "\n")
	if len(lines) > c.processLimit {
		lines = lines[:c.processLimit]
	}
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, "\r")
	}
	return lines
}

func processCommand() (string, []string) {
	if runtime.GOOS == "windows" {
		return "tasklist", nil
	}
	return "ps", []string{"aux"}
}
