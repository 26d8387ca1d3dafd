package sysstat

import (
	"fmt"
	"time"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"

	"github.com/gfacchetti/wakerelay/internal/model"
)

// Collector gathers the host figures reported in USAGE responses.
type Collector interface {
	Collect() (*model.UsageReport, error)
}

// ProcCollector reads /proc via procfs and statfs for the disk, measuring
// uptime from its own construction time (process uptime, as the original
// relay reported).
type ProcCollector struct {
	fs       procfs.FS
	diskPath string
	started  time.Time
}

// New creates a ProcCollector rooted at the default /proc. diskPath is the
// filesystem whose usage is reported, "/" when empty.
func New(diskPath string) (*ProcCollector, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("open procfs: %w", err)
	}
	if diskPath == "" {
		diskPath = "/"
	}
	return &ProcCollector{fs: fs, diskPath: diskPath, started: time.Now()}, nil
}

// Collect snapshots disk, memory and CPU figures. Partial failures zero the
// affected field rather than failing the whole report.
func (c *ProcCollector) Collect() (*model.UsageReport, error) {
	report := &model.UsageReport{
		UptimeSec: int64(time.Since(c.started) / time.Second),
	}

	var stat unix.Statfs_t
	if err := unix.Statfs(c.diskPath, &stat); err == nil {
		report.DiskTotal = stat.Blocks * uint64(stat.Bsize)
		report.DiskFree = stat.Bavail * uint64(stat.Bsize)
	}

	if mi, err := c.fs.Meminfo(); err == nil {
		if mi.MemTotal != nil {
			report.MemTotal = *mi.MemTotal * 1024
		}
		if mi.MemAvailable != nil {
			report.MemFree = *mi.MemAvailable * 1024
		}
	}

	if cpus, err := c.fs.CPUInfo(); err == nil && len(cpus) > 0 {
		report.Cores = len(cpus)
		report.CPUMHz = cpus[0].CPUMHz
	}

	return report, nil
}
