// Package collector tracks total and currently-used CPU, memory, and disk on
// the local node.
package collector

import (
	"context"
	"fmt"
	"math"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/skiffworks/skiff/internal/rpc"
)

// Sampler reports node resource capacity and consumption. Usage reflects a
// fresh measurement on every call; the heartbeat loop relies on that.
type Sampler interface {
	Totals(ctx context.Context) (rpc.ResourceSummary, error)
	Usage(ctx context.Context) (rpc.ResourceSummary, error)
}

const mib = 1024 * 1024

// HostSampler measures the local host. CPU is logical cores, memory and disk
// are MiB; disk is measured at the configured mount point.
type HostSampler struct {
	DiskPath string
}

func NewHostSampler(diskPath string) *HostSampler {
	if diskPath == "" {
		diskPath = "/"
	}
	return &HostSampler{DiskPath: diskPath}
}

func (s *HostSampler) Totals(ctx context.Context) (rpc.ResourceSummary, error) {
	cores, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return rpc.ResourceSummary{}, fmt.Errorf("count cpus: %w", err)
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return rpc.ResourceSummary{}, fmt.Errorf("read memory: %w", err)
	}
	du, err := disk.UsageWithContext(ctx, s.DiskPath)
	if err != nil {
		return rpc.ResourceSummary{}, fmt.Errorf("read disk %s: %w", s.DiskPath, err)
	}
	return rpc.ResourceSummary{
		CPU:    uint64(cores),
		Memory: vm.Total / mib,
		Disk:   du.Total / mib,
	}, nil
}

func (s *HostSampler) Usage(ctx context.Context) (rpc.ResourceSummary, error) {
	cores, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return rpc.ResourceSummary{}, fmt.Errorf("count cpus: %w", err)
	}
	// Load since the previous call; interval 0 avoids blocking the
	// heartbeat tick.
	pcts, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return rpc.ResourceSummary{}, fmt.Errorf("read cpu usage: %w", err)
	}
	var usedCores uint64
	if len(pcts) > 0 {
		usedCores = uint64(math.Ceil(pcts[0] / 100 * float64(cores)))
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return rpc.ResourceSummary{}, fmt.Errorf("read memory: %w", err)
	}
	du, err := disk.UsageWithContext(ctx, s.DiskPath)
	if err != nil {
		return rpc.ResourceSummary{}, fmt.Errorf("read disk %s: %w", s.DiskPath, err)
	}
	return rpc.ResourceSummary{
		CPU:    usedCores,
		Memory: vm.Used / mib,
		Disk:   du.Used / mib,
	}, nil
}
