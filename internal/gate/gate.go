package gate

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/driftcap/driftcap/internal/core"
	"github.com/driftcap/driftcap/pkg/backuperrors"
	"github.com/driftcap/driftcap/pkg/config"
	"github.com/driftcap/driftcap/pkg/metrics"
)

// Gate decides whether a run may start. Signals are classified as blocking
// (load per core, memory, free disk, source health) or advisory (I/O wait,
// connection utilization): any blocking breach defers admission and the gate
// polls again; an advisory-only breach admits immediately with a warning.
// The gate is consulted once at the start of a run, not per entity.
type Gate struct {
	sampler Sampler
	cfg     config.GateConfig
	logger  *zap.Logger
}

// New creates a gate with the configured thresholds.
func New(sampler Sampler, cfg config.GateConfig, logger *zap.Logger) *Gate {
	return &Gate{sampler: sampler, cfg: cfg, logger: logger}
}

// Admit polls until every blocking signal clears or the wait budget is
// spent. The wait is an explicit sleep-and-repeat loop, cancellable through
// the context. On budget exhaustion it returns a gate-timeout error and the
// caller must abort the run without touching any entity.
func (g *Gate) Admit(ctx context.Context, targetPath string) error {
	start := time.Now()
	defer func() {
		metrics.GateWaitSeconds.Observe(time.Since(start).Seconds())
	}()

	for {
		snap, err := g.sampler.Sample(ctx, targetPath)
		if err != nil {
			return err
		}

		blocking := g.blockingBreaches(snap)
		if len(blocking) == 0 {
			g.warnAdvisory(snap)
			return nil
		}

		elapsed := time.Since(start)
		if elapsed+g.cfg.PollInterval > g.cfg.MaxWait {
			return backuperrors.New(backuperrors.ErrorTypeGateTimeout, "resource pressure persisted past the wait budget").
				WithDetail("waited", elapsed.String()).
				WithDetail("snapshot", snap.String()).
				WithDetail("blocking", blocking)
		}

		g.logger.Info("resource pressure, deferring run",
			zap.Strings("blocking", blocking),
			zap.String("snapshot", snap.String()),
			zap.Duration("waited", elapsed))

		timer := time.NewTimer(g.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return backuperrors.Wrap(ctx.Err(), backuperrors.ErrorTypeGateTimeout, "admission wait cancelled")
		case <-timer.C:
		}
	}
}

// blockingBreaches names the blocking signals currently over threshold.
func (g *Gate) blockingBreaches(snap core.ResourceSnapshot) []string {
	var breaches []string
	if snap.LoadPerCore > g.cfg.MaxLoadPerCore {
		breaches = append(breaches, "load_per_core")
	}
	if snap.MemoryPercent > g.cfg.MaxMemoryPercent {
		breaches = append(breaches, "memory")
	}
	if snap.FreeDiskPercent < g.cfg.MinFreeDiskPercent {
		breaches = append(breaches, "free_disk")
	}
	if !snap.Healthy {
		breaches = append(breaches, "health_probe")
	}
	return breaches
}

// warnAdvisory logs advisory breaches; they never block.
func (g *Gate) warnAdvisory(snap core.ResourceSnapshot) {
	if snap.IOWaitPercent > g.cfg.MaxIOWaitPercent {
		g.logger.Warn("io wait over threshold, admitting anyway",
			zap.Float64("io_wait_percent", snap.IOWaitPercent),
			zap.Float64("threshold", g.cfg.MaxIOWaitPercent))
	}
	if snap.ConnectionPercent > g.cfg.MaxConnectionPercent {
		g.logger.Warn("connection utilization over threshold, admitting anyway",
			zap.Float64("connection_percent", snap.ConnectionPercent),
			zap.Float64("threshold", g.cfg.MaxConnectionPercent))
	}
}
