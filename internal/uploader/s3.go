package uploader

import (
	"context"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/driftcap/driftcap/pkg/backuperrors"
	"github.com/driftcap/driftcap/pkg/config"
)

// S3Transport delivers files to an S3-compatible store. Each Put is a single
// attempt; the dispatcher owns the retry budget.
type S3Transport struct {
	bucket   string
	uploader *manager.Uploader
}

// NewS3Transport creates a transport from the ambient AWS credential chain.
func NewS3Transport(ctx context.Context, cfg config.UploadConfig) (*S3Transport, error) {
	awscfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, backuperrors.Wrap(err, backuperrors.ErrorTypeConfig, "failed to load AWS configuration")
	}

	client := s3.NewFromConfig(awscfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Transport{
		bucket:   cfg.Bucket,
		uploader: manager.NewUploader(client),
	}, nil
}

// Put uploads one local file to the remote key.
func (t *S3Transport) Put(ctx context.Context, localPath, remotePath string) error {
	f, err := os.Open(localPath) //nolint:gosec // G304: path produced by the artifact builder
	if err != nil {
		return backuperrors.Wrap(err, backuperrors.ErrorTypeFile, "failed to open artifact for upload").
			WithDetail("path", localPath)
	}
	defer func() { _ = f.Close() }()

	_, err = t.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(remotePath),
		Body:   f,
	})
	if err != nil {
		return backuperrors.Wrap(err, backuperrors.ErrorTypeConnection, "remote put failed").
			WithDetail("remote", remotePath)
	}
	return nil
}
