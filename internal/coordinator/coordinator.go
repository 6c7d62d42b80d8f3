// Package coordinator orchestrates one end-to-end backup cycle:
// gate → enumerate → detect → build → commit watermark → upload → sweep.
// Per-entity failures degrade gracefully; only configuration, gate-timeout,
// enumeration, and state errors abort a run.
package coordinator

import (
	"context"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/driftcap/driftcap/internal/artifact"
	"github.com/driftcap/driftcap/internal/connector"
	"github.com/driftcap/driftcap/internal/core"
	"github.com/driftcap/driftcap/internal/detector"
	"github.com/driftcap/driftcap/internal/gate"
	"github.com/driftcap/driftcap/internal/sweeper"
	"github.com/driftcap/driftcap/internal/uploader"
	"github.com/driftcap/driftcap/internal/watermark"
	"github.com/driftcap/driftcap/pkg/backuperrors"
	"github.com/driftcap/driftcap/pkg/config"
	"github.com/driftcap/driftcap/pkg/metrics"
)

// State names one phase of the run state machine.
type State string

const (
	StateIdle        State = "idle"
	StateGating      State = "gating"
	StateEnumerating State = "enumerating"
	StateDetecting   State = "detecting"
	StateBuilding    State = "building"
	StateCommitting  State = "committing"
	StateUploading   State = "uploading"
	StateSweeping    State = "sweeping"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

// maxDeltasPerEntity caps the detect-build-commit loop for a single entity
// within one run. The log-sequence strategy legitimately cycles once per
// pending segment; the cap only guards against a detector that never
// converges.
const maxDeltasPerEntity = 10000

// Summary is the final report of one run.
type Summary struct {
	RunID             string
	State             State
	EntitiesExamined  int
	EntitiesChanged   int
	ArtifactsBuilt    int
	UploadsSucceeded  int
	UploadsFailed     int
	ArtifactsSwept    int
	DetectionErrors   int
	BuildErrors       int
	Duration          time.Duration
}

// StoreOpener opens the watermark store for one strategy; injectable for
// tests.
type StoreOpener func(strategy string) (watermark.Store, error)

// Coordinator wires the engine components into one run. Entities are
// processed sequentially; the watermark store's Set is the single authority
// for commits, so a failed build can never be masked by a racing commit for
// the same key.
type Coordinator struct {
	cfg        *config.Config
	conn       connector.Connector
	gate       *gate.Gate
	builder    *artifact.Builder
	dispatcher *uploader.Dispatcher
	sweep      *sweeper.Sweeper
	openStore  StoreOpener
	logger     *zap.Logger

	state State
}

// New creates a coordinator. dispatcher may be nil when upload is disabled.
func New(cfg *config.Config, conn connector.Connector, g *gate.Gate, builder *artifact.Builder,
	dispatcher *uploader.Dispatcher, sw *sweeper.Sweeper, logger *zap.Logger) *Coordinator {
	c := &Coordinator{
		cfg:        cfg,
		conn:       conn,
		gate:       g,
		builder:    builder,
		dispatcher: dispatcher,
		sweep:      sw,
		logger:     logger,
		state:      StateIdle,
	}
	c.openStore = func(strategy string) (watermark.Store, error) {
		return watermark.OpenFileStore(watermark.StorePath(cfg.Backup.StateDir, strategy), logger)
	}
	return c
}

// WithStoreOpener overrides the watermark store factory.
func (c *Coordinator) WithStoreOpener(open StoreOpener) *Coordinator {
	c.openStore = open
	return c
}

// strategies instantiates the enabled strategies for this run, paired with
// their retention windows.
func (c *Coordinator) strategies() []strategyRun {
	var runs []strategyRun
	if c.cfg.Strategies.TableTimestamp.Enabled {
		runs = append(runs, strategyRun{
			strategy:  detector.NewTableTimestamp(c.conn, c.logger),
			retention: c.cfg.Strategies.TableTimestamp.RetentionAge,
		})
	}
	if c.cfg.Strategies.RowWatermark.Enabled {
		runs = append(runs, strategyRun{
			strategy:  detector.NewRowWatermark(c.conn, c.logger),
			retention: c.cfg.Strategies.RowWatermark.RetentionAge,
		})
	}
	if c.cfg.Strategies.LogSequence.Enabled {
		runs = append(runs, strategyRun{
			strategy:  detector.NewLogSequence(c.conn, c.logger),
			retention: c.cfg.Strategies.LogSequence.RetentionAge,
		})
	}
	return runs
}

type strategyRun struct {
	strategy  detector.Strategy
	retention time.Duration
}

// Run executes one full cycle and returns its summary. The returned error
// is non-nil only for the run-aborting classes; recoverable per-entity and
// per-upload failures are reflected in the summary alone.
func (c *Coordinator) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	summary := &Summary{RunID: uuid.NewString()}
	log := c.logger.With(zap.String("run_id", summary.RunID))

	lease, err := AcquireLease(c.cfg.Backup.StateDir, c.cfg.Name, log)
	if err != nil {
		return c.fail(summary, start, err)
	}
	defer lease.Release()

	c.transition(log, StateGating)
	if err := c.gate.Admit(ctx, c.cfg.Backup.Dir); err != nil {
		return c.fail(summary, start, err)
	}

	c.transition(log, StateEnumerating)
	runs := c.strategies()
	type entityWork struct {
		run      strategyRun
		store    watermark.Store
		entities []core.EntityKey
	}
	var work []entityWork
	total := 0
	for _, run := range runs {
		store, err := c.openStore(run.strategy.Name())
		if err != nil {
			return c.fail(summary, start, err)
		}
		defer func(s watermark.Store) { _ = s.Close() }(store)

		entities, err := run.strategy.Entities(ctx)
		if err != nil {
			return c.fail(summary, start,
				backuperrors.Wrap(err, backuperrors.ErrorTypeEnumeration, "entity enumeration failed").
					WithDetail("strategy", run.strategy.Name()))
		}
		entities = applyFilter(entities, c.cfg.Filter)
		total += len(entities)
		work = append(work, entityWork{run: run, store: store, entities: entities})
	}
	if total == 0 {
		return c.fail(summary, start,
			backuperrors.New(backuperrors.ErrorTypeEnumeration, "no entities discovered, nothing to protect"))
	}
	summary.EntitiesExamined = total

	var produced []*artifact.Artifact
	for _, w := range work {
		for _, key := range w.entities {
			arts, err := c.captureEntity(ctx, log, w.run.strategy, w.store, key, summary)
			produced = append(produced, arts...)
			if err != nil {
				return c.fail(summary, start, err)
			}
		}
	}

	c.transition(log, StateUploading)
	if c.dispatcher != nil && len(produced) > 0 {
		res := c.dispatcher.UploadBatch(ctx, produced)
		summary.UploadsSucceeded = res.Succeeded
		summary.UploadsFailed = res.Failed
	}

	c.transition(log, StateSweeping)
	for _, run := range runs {
		dir := filepath.Join(c.cfg.Backup.Dir, run.strategy.Name())
		removed, err := c.sweep.Sweep(dir, run.retention)
		if err != nil {
			log.Warn("retention sweep failed",
				zap.String("strategy", run.strategy.Name()),
				zap.Error(err))
			continue
		}
		summary.ArtifactsSwept += removed
		metrics.SweptArtifacts.WithLabelValues(run.strategy.Name()).Add(float64(removed))
	}

	c.transition(log, StateDone)
	summary.State = StateDone
	summary.Duration = time.Since(start)
	metrics.RunsTotal.WithLabelValues("done").Inc()

	log.Info("run complete",
		zap.Int("entities_examined", summary.EntitiesExamined),
		zap.Int("entities_changed", summary.EntitiesChanged),
		zap.Int("artifacts_built", summary.ArtifactsBuilt),
		zap.Int("uploads_succeeded", summary.UploadsSucceeded),
		zap.Int("uploads_failed", summary.UploadsFailed),
		zap.Int("artifacts_swept", summary.ArtifactsSwept),
		zap.Int("detection_errors", summary.DetectionErrors),
		zap.Int("build_errors", summary.BuildErrors),
		zap.Duration("duration", summary.Duration))

	return summary, nil
}

// captureEntity runs the detect → build → commit loop for one entity. The
// loop repeats until the strategy reports no further change, which consumes
// log segments strictly in order with a commit after each; table-level
// strategies converge after a single cycle. A detection or build failure
// skips the entity for this run and leaves its watermark untouched; a
// watermark store failure aborts the run.
func (c *Coordinator) captureEntity(ctx context.Context, log *zap.Logger, strat detector.Strategy,
	store watermark.Store, key core.EntityKey, summary *Summary) ([]*artifact.Artifact, error) {

	elog := log.With(
		zap.String("strategy", strat.Name()),
		zap.String("entity", key.String()))

	var produced []*artifact.Artifact
	changed := false

	for i := 0; i < maxDeltasPerEntity; i++ {
		c.transition(log, StateDetecting)
		marker, hasMarker, err := store.Get(key)
		if err != nil {
			return produced, backuperrors.Wrap(err, backuperrors.ErrorTypeState, "watermark read failed").
				WithDetail("entity", key.String())
		}

		delta, err := strat.Detect(ctx, key, marker, hasMarker)
		if err != nil {
			elog.Warn("detection failed, skipping entity", zap.Error(err))
			summary.DetectionErrors++
			return produced, nil
		}
		if !delta.Changed {
			return produced, nil
		}

		if !changed {
			changed = true
			summary.EntitiesChanged++
			metrics.EntitiesChanged.WithLabelValues(strat.Name()).Inc()
		}

		c.transition(log, StateBuilding)
		timer := metrics.NewTimer("build")
		art, err := c.builder.Build(ctx, strat, key, delta)
		metrics.BuildDuration.WithLabelValues(strat.Name()).Observe(timer.Stop().Seconds())
		if err != nil {
			// Watermark deliberately not advanced; the next run retries
			// from the same marker.
			elog.Warn("build failed, skipping entity", zap.Error(err))
			summary.BuildErrors++
			return produced, nil
		}

		c.transition(log, StateCommitting)
		if err := store.Set(key, delta.ObservedMax); err != nil {
			return produced, backuperrors.Wrap(err, backuperrors.ErrorTypeState, "watermark commit failed").
				WithDetail("entity", key.String())
		}
		metrics.WatermarkCommits.WithLabelValues(strat.Name()).Inc()

		if art != nil {
			produced = append(produced, art)
			summary.ArtifactsBuilt++
			metrics.ArtifactsBuilt.WithLabelValues(strat.Name()).Inc()
			elog.Info("artifact built",
				zap.String("path", art.Path),
				zap.Int64("bytes", art.Size),
				zap.String("watermark", delta.ObservedMax))
		} else {
			elog.Info("no meaningful change, watermark advanced",
				zap.String("watermark", delta.ObservedMax))
		}
	}

	elog.Warn("entity produced deltas beyond the per-run cap, deferring remainder")
	return produced, nil
}

// fail finalizes a run aborted by a fatal error.
func (c *Coordinator) fail(summary *Summary, start time.Time, err error) (*Summary, error) {
	c.state = StateFailed
	summary.State = StateFailed
	summary.Duration = time.Since(start)
	metrics.RunsTotal.WithLabelValues("failed").Inc()
	return summary, err
}

// transition records a state change; transitions are logged at debug for
// run tracing.
func (c *Coordinator) transition(log *zap.Logger, next State) {
	if c.state == next {
		return
	}
	log.Debug("state transition",
		zap.String("from", string(c.state)),
		zap.String("to", string(next)))
	c.state = next
}
