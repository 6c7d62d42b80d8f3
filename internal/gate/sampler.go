// Package gate implements resource-gated admission control: a backup run is
// admitted only when the live server and the local host are healthy enough
// to bear the load, with a bounded wait-and-retry loop.
package gate

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/driftcap/driftcap/internal/connector"
	"github.com/driftcap/driftcap/internal/core"
	"github.com/driftcap/driftcap/pkg/backuperrors"
)

// Sampler produces a point-in-time resource snapshot for the gate to
// classify. Snapshots are recomputed on every poll and never persisted.
type Sampler interface {
	Sample(ctx context.Context, targetPath string) (core.ResourceSnapshot, error)
}

// SystemSampler reads host signals through gopsutil and source signals
// through the connector.
type SystemSampler struct {
	conn   connector.Connector
	logger *zap.Logger
}

// NewSystemSampler creates a sampler bound to the source connector.
func NewSystemSampler(conn connector.Connector, logger *zap.Logger) *SystemSampler {
	return &SystemSampler{conn: conn, logger: logger}
}

// Sample implements Sampler.
func (s *SystemSampler) Sample(ctx context.Context, targetPath string) (core.ResourceSnapshot, error) {
	var snap core.ResourceSnapshot

	loadAvg, err := load.AvgWithContext(ctx)
	if err != nil {
		return snap, backuperrors.Wrap(err, backuperrors.ErrorTypeInternal, "failed to read load average")
	}
	snap.LoadPerCore = loadAvg.Load1 / float64(runtime.NumCPU())

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return snap, backuperrors.Wrap(err, backuperrors.ErrorTypeInternal, "failed to read memory stats")
	}
	snap.MemoryPercent = vm.UsedPercent

	iowait, err := s.ioWaitPercent(ctx)
	if err != nil {
		// I/O wait is advisory; a read failure must not block admission.
		s.logger.Warn("failed to read io wait", zap.Error(err))
	} else {
		snap.IOWaitPercent = iowait
	}

	usage, err := disk.UsageWithContext(ctx, targetPath)
	if err != nil {
		return snap, backuperrors.Wrap(err, backuperrors.ErrorTypeInternal, "failed to read disk usage").
			WithDetail("path", targetPath)
	}
	snap.FreeDiskPercent = 100 - usage.UsedPercent

	snap.Healthy = s.conn.Health(ctx) == nil

	if snap.Healthy {
		util, err := s.conn.ConnectionUtilization(ctx)
		if err != nil {
			s.logger.Warn("failed to read connection utilization", zap.Error(err))
		} else {
			snap.ConnectionPercent = util
		}
	}

	return snap, nil
}

// ioWaitPercent derives the instantaneous I/O wait share from two CPU time
// samples taken a short interval apart.
func (s *SystemSampler) ioWaitPercent(ctx context.Context) (float64, error) {
	before, err := cpu.TimesWithContext(ctx, false)
	if err != nil || len(before) == 0 {
		return 0, err
	}

	timer := time.NewTimer(500 * time.Millisecond)
	select {
	case <-ctx.Done():
		timer.Stop()
		return 0, ctx.Err()
	case <-timer.C:
	}

	after, err := cpu.TimesWithContext(ctx, false)
	if err != nil || len(after) == 0 {
		return 0, err
	}

	total := totalCPUTime(after[0]) - totalCPUTime(before[0])
	if total <= 0 {
		return 0, nil
	}
	return (after[0].Iowait - before[0].Iowait) / total * 100, nil
}

func totalCPUTime(t cpu.TimesStat) float64 {
	return t.User + t.System + t.Idle + t.Nice + t.Iowait + t.Irq + t.Softirq + t.Steal
}
