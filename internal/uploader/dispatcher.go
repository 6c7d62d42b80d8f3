// Package uploader delivers artifacts to remote storage with a bounded,
// fixed-delay retry budget per artifact. The wire transport is an injected
// capability; only the retry contract lives here.
package uploader

import (
	"context"
	"path"

	"go.uber.org/zap"

	"github.com/driftcap/driftcap/internal/artifact"
	"github.com/driftcap/driftcap/pkg/backuperrors"
	"github.com/driftcap/driftcap/pkg/config"
	"github.com/driftcap/driftcap/pkg/metrics"
	"github.com/driftcap/driftcap/pkg/retry"
)

// Transport delivers one local file to a remote path. It performs a single
// attempt; retries belong to the dispatcher.
type Transport interface {
	Put(ctx context.Context, localPath, remotePath string) error
}

// Result tallies one upload batch.
type Result struct {
	Succeeded int
	Failed    int
}

// Dispatcher uploads artifacts independently: exhausting one artifact's
// retry budget never blocks or cancels the others. A failed artifact stays
// on local storage for manual recovery; the watermark already committed for
// it is deliberately not rolled back, so a local artifact can exist whose
// remote copy never arrived. That gap is visible only in the logs and the
// run summary.
type Dispatcher struct {
	transport Transport
	prefix    string
	policy    *retry.Policy
	logger    *zap.Logger
}

// NewDispatcher creates a dispatcher with the configured retry budget.
func NewDispatcher(transport Transport, cfg config.UploadConfig, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		transport: transport,
		prefix:    cfg.Prefix,
		policy:    retry.FixedPolicy(cfg.MaxAttempts, cfg.RetryDelay),
		logger:    logger,
	}
}

// Upload delivers one artifact and its digest sidecar, retrying up to the
// budget. The digest is uploaded after the artifact so a remote digest
// implies a complete remote artifact.
func (d *Dispatcher) Upload(ctx context.Context, a *artifact.Artifact) error {
	remote := path.Join(d.prefix, a.Strategy, a.RemoteName())

	err := d.policy.Execute(ctx, func() error {
		return d.transport.Put(ctx, a.Path, remote)
	})
	if err != nil {
		return backuperrors.Wrap(err, backuperrors.ErrorTypeUpload, "artifact delivery exhausted retries").
			WithDetail("artifact", a.Path).
			WithDetail("remote", remote)
	}

	err = d.policy.Execute(ctx, func() error {
		return d.transport.Put(ctx, a.DigestPath, remote+artifact.DigestExtension)
	})
	if err != nil {
		return backuperrors.Wrap(err, backuperrors.ErrorTypeUpload, "digest delivery exhausted retries").
			WithDetail("artifact", a.Path).
			WithDetail("remote", remote)
	}
	return nil
}

// UploadBatch delivers every artifact of a run, tallying failures instead of
// aborting on them.
func (d *Dispatcher) UploadBatch(ctx context.Context, artifacts []*artifact.Artifact) Result {
	var res Result
	for _, a := range artifacts {
		if err := d.Upload(ctx, a); err != nil {
			res.Failed++
			metrics.Uploads.WithLabelValues("failure").Inc()
			d.logger.Error("upload failed, artifact retained locally",
				zap.String("artifact", a.Path),
				zap.Error(err))
			continue
		}
		res.Succeeded++
		metrics.Uploads.WithLabelValues("success").Inc()
		d.logger.Info("artifact uploaded",
			zap.String("artifact", a.Path),
			zap.Int64("bytes", a.Size))
	}
	return res
}
