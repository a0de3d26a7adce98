package source

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"leakwatch/internal/models"
)

// Gauge reads one value from the host.
type Gauge func(ctx context.Context) (float64, error)

// Host reads gauges from the machine it runs on. It stands in for a
// hardware-backed source: any failed gauge fails the whole reading with
// ErrRead, so a broken sensor never produces a partial snapshot.
type Host struct {
	gauges map[string]Gauge
	now    Clock
}

// HostMetrics are the gauges read by the host source.
var HostMetrics = []string{"cpu_percent", "mem_used_percent", "load1", "disk_used_percent"}

// DefaultHostGauges returns the gopsutil-backed gauges, one per HostMetrics name.
func DefaultHostGauges() map[string]Gauge {
	return map[string]Gauge{
		"cpu_percent":       cpuPercent,
		"mem_used_percent":  memUsedPercent,
		"load1":             load1,
		"disk_used_percent": diskUsedPercent("/"),
	}
}

// NewHost returns a host source; nil gauges use DefaultHostGauges.
func NewHost(gauges map[string]Gauge) *Host {
	if gauges == nil {
		gauges = DefaultHostGauges()
	}
	return &Host{gauges: gauges, now: time.Now}
}

func (h *Host) Next(ctx context.Context) (models.Snapshot, error) {
	names := make([]string, 0, len(h.gauges))
	for name := range h.gauges {
		names = append(names, name)
	}
	sort.Strings(names)

	m := make(map[string]float64, len(names))
	for _, name := range names {
		v, err := h.gauges[name](ctx)
		if err != nil {
			return models.Snapshot{}, fmt.Errorf("%w: %s: %v", ErrRead, name, err)
		}
		m[name] = v
	}
	return models.NewSnapshot(h.now(), m), nil
}

func cpuPercent(ctx context.Context) (float64, error) {
	pct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	if len(pct) == 0 {
		return 0, fmt.Errorf("no cpu sample")
	}
	return pct[0], nil
}

func memUsedPercent(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

func load1(ctx context.Context) (float64, error) {
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return avg.Load1, nil
}

func diskUsedPercent(path string) Gauge {
	return func(ctx context.Context) (float64, error) {
		u, err := disk.UsageWithContext(ctx, path)
		if err != nil {
			return 0, err
		}
		return u.UsedPercent, nil
	}
}
