// Package health implements get_system_health (§6): a snapshot of host
// resource pressure plus controller-specific readiness, cached briefly so
// repeated polling from a GUI doesn't hammer gopsutil's syscalls. Grounded
// on LanternOps-breeze's MetricsCollector shape
// (agent/internal/collectors/metrics.go), trimmed to the fields relevant
// to a single-process imaging controller (no network/process-count
// collection — this process doesn't care about host network throughput or
// how many other processes are running).
package health

import (
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// Snapshot is the data returned by get_system_health.
type Snapshot struct {
	CPUPercent   float64   `json:"cpu_percent"`
	RAMPercent   float64   `json:"ram_percent"`
	RAMUsedMB    uint64    `json:"ram_used_mb"`
	DiskPercent  float64   `json:"disk_percent"`
	DiskUsedGB   float64   `json:"disk_used_gb"`
	IsReady      bool      `json:"is_ready"`
	Details      *Details  `json:"details,omitempty"`
	CollectedAt  time.Time `json:"collected_at"`
}

// Details is attached only when include_details is requested.
type Details struct {
	CameraOpen      bool `json:"camera_open"`
	SessionLoaded   bool `json:"session_loaded"`
	AcquisitionBusy bool `json:"acquisition_busy"`
}

// ReadinessProvider supplies the controller-specific half of a Details
// block; health has no business knowing about camera/session/acquisition
// internals directly, so this is injected.
type ReadinessProvider interface {
	CameraOpen() bool
	SessionLoaded() bool
	AcquisitionBusy() bool
}

// Collector gathers a Snapshot, caching the last result for cacheTTL so
// rapid ping-like polling doesn't repeatedly hit cpu.Percent (which blocks
// briefly to sample) or disk.Usage.
type Collector struct {
	diskPath string
	cacheTTL time.Duration
	ready    ReadinessProvider

	mu       sync.Mutex
	lastAt   time.Time
	lastSnap Snapshot
}

// NewCollector constructs a Collector. diskPath is the filesystem to
// report usage for (typically the session root's volume).
func NewCollector(diskPath string, cacheTTL time.Duration, ready ReadinessProvider) *Collector {
	return &Collector{diskPath: diskPath, cacheTTL: cacheTTL, ready: ready}
}

// Collect returns a Snapshot, possibly the cached one if useCache is true
// and the cache hasn't expired. includeDetails controls whether the
// ReadinessProvider is consulted.
func (c *Collector) Collect(useCache, includeDetails bool) (Snapshot, error) {
	c.mu.Lock()
	if useCache && !c.lastAt.IsZero() && time.Since(c.lastAt) < c.cacheTTL {
		snap := c.lastSnap
		c.mu.Unlock()
		if includeDetails {
			snap.Details = c.collectDetails()
		}
		return snap, nil
	}
	c.mu.Unlock()

	snap := Snapshot{CollectedAt: time.Now()}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		snap.CPUPercent = pct[0]
	}
	if vmem, err := mem.VirtualMemory(); err == nil {
		snap.RAMPercent = vmem.UsedPercent
		snap.RAMUsedMB = vmem.Used / (1024 * 1024)
	}
	if du, err := disk.Usage(c.diskPath); err == nil {
		snap.DiskPercent = du.UsedPercent
		snap.DiskUsedGB = float64(du.Used) / (1024 * 1024 * 1024)
	}
	snap.IsReady = snap.CPUPercent < 95 && snap.RAMPercent < 95 && snap.DiskPercent < 98

	c.mu.Lock()
	c.lastAt, c.lastSnap = snap.CollectedAt, snap
	c.mu.Unlock()

	if includeDetails {
		snap.Details = c.collectDetails()
	}
	return snap, nil
}

func (c *Collector) collectDetails() *Details {
	if c.ready == nil {
		return &Details{}
	}
	return &Details{
		CameraOpen:      c.ready.CameraOpen(),
		SessionLoaded:   c.ready.SessionLoaded(),
		AcquisitionBusy: c.ready.AcquisitionBusy(),
	}
}
