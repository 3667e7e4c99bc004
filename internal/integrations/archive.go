// Package integrations holds the optional report sinks. Each one is enabled
// by configuration and runs after a report is ready; none of them affects the
// report itself.
package integrations

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"

	"github.com/symptom-intake-server/internal/domain"
	"github.com/symptom-intake-server/internal/report"
)

// ObjectStore is the subset of *minio.Client the archive needs.
type ObjectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Archive uploads rendered reports, and their audio when speech is on, to an
// S3-compatible bucket.
type Archive struct {
	store  ObjectStore
	bucket string
	region string
	prefix string
	logger *logrus.Logger

	initOnce sync.Once
	initErr  error
}

// NewArchive connects to the configured endpoint.
func NewArchive(cfg domain.ArchiveConfig, logger *logrus.Logger) (*Archive, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("archive endpoint is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("archive access key and secret key are required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating archive client: %w", err)
	}
	return NewArchiveWithStore(client, cfg.Bucket, region, cfg.Prefix, logger), nil
}

// NewArchiveWithStore builds an archive over an existing object store.
func NewArchiveWithStore(store ObjectStore, bucket, region, prefix string, logger *logrus.Logger) *Archive {
	if prefix == "" {
		prefix = "reports"
	}
	return &Archive{
		store:  store,
		bucket: bucket,
		region: region,
		prefix: strings.Trim(prefix, "/"),
		logger: logger,
	}
}

func (a *Archive) Name() string  { return "archive" }
func (a *Archive) Enabled() bool { return a != nil && a.store != nil }

// Publish uploads the Markdown rendering of r.
func (a *Archive) Publish(ctx context.Context, r *domain.Report) error {
	key := a.key(r.ID, ".md")
	if err := a.put(ctx, key, []byte(report.RenderMarkdown(r)), "text/markdown; charset=utf-8"); err != nil {
		return err
	}
	a.logger.WithFields(logrus.Fields{
		"report_id": r.ID,
		"bucket":    a.bucket,
		"key":       key,
	}).Info("Report archived")
	return nil
}

// PutAudio stores the spoken summary next to the report.
func (a *Archive) PutAudio(ctx context.Context, reportID string, audio []byte, contentType string) error {
	return a.put(ctx, a.key(reportID, ".mp3"), audio, contentType)
}

func (a *Archive) key(reportID, ext string) string {
	return path.Join(a.prefix, reportID+ext)
}

func (a *Archive) put(ctx context.Context, key string, content []byte, contentType string) error {
	if err := a.ensureBucket(ctx); err != nil {
		return fmt.Errorf("ensuring bucket %s: %w", a.bucket, err)
	}
	_, err := a.store.PutObject(ctx, a.bucket, key, bytes.NewReader(content), int64(len(content)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", key, err)
	}
	return nil
}

func (a *Archive) ensureBucket(ctx context.Context) error {
	a.initOnce.Do(func() {
		exists, err := a.store.BucketExists(ctx, a.bucket)
		if err != nil {
			a.initErr = err
			return
		}
		if exists {
			return
		}
		a.initErr = a.store.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{Region: a.region})
	})
	return a.initErr
}
