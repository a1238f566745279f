// Package distribution uploads finished datasets to a distribution target.
// Only validated datasets are distributable: a dataset that failed
// validation, or was never packaged, is refused.
package distribution

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"path"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/csiro-fair/marimba/internal/dataset"
)

// S3Config describes an S3-compatible distribution target.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Secure    bool
	Bucket    string
	Prefix    string
}

// S3Target distributes datasets to an S3-compatible object store.
type S3Target struct {
	client *minio.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// NewS3Target builds a distribution target from config.
func NewS3Target(cfg S3Config, logger *slog.Logger) (*S3Target, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("creating S3 client for %s: %w", cfg.Endpoint, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &S3Target{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix, logger: logger}, nil
}

// Distribute uploads every file of a validated dataset, keyed as
// {prefix}/{dataset name}/{dataset-relative path}.
func (t *S3Target) Distribute(ctx context.Context, ds *dataset.Dataset) error {
	if !ds.Valid() {
		return fmt.Errorf("dataset %q is not validated; refusing to distribute", ds.Name())
	}

	exists, err := t.client.BucketExists(ctx, t.bucket)
	if err != nil {
		return fmt.Errorf("checking bucket %q: %w", t.bucket, err)
	}
	if !exists {
		return fmt.Errorf("bucket %q does not exist", t.bucket)
	}

	root := ds.Root()
	uploaded := 0
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}

		key := path.Join(t.prefix, ds.Name(), filepath.ToSlash(rel))
		contentType := mime.TypeByExtension(filepath.Ext(p))
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		if _, err := t.client.FPutObject(ctx, t.bucket, key, p, minio.PutObjectOptions{
			ContentType: contentType,
		}); err != nil {
			return fmt.Errorf("uploading %s: %w", key, err)
		}

		t.logger.Debug("uploaded object", "bucket", t.bucket, "key", key)
		uploaded++
		return nil
	})
	if err != nil {
		return err
	}

	t.logger.Info("distributed dataset", "dataset", ds.Name(), "bucket", t.bucket, "objects", uploaded)
	return nil
}
