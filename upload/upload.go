// Package upload pushes a run's artifact tree to object storage.
package upload

import (
	"context"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/kbukum/sdtmforge/config"
	"github.com/kbukum/sdtmforge/errors"
	"github.com/kbukum/sdtmforge/logger"
)

// FileOutcome records one object's upload result.
type FileOutcome struct {
	Key   string `yaml:"key" json:"key"`
	Size  int64  `yaml:"size" json:"size"`
	Error string `yaml:"error,omitempty" json:"error,omitempty"`
}

// Outcome summarizes one upload pass.
type Outcome struct {
	Uploaded int           `yaml:"uploaded" json:"uploaded"`
	Failed   int           `yaml:"failed" json:"failed"`
	Files    []FileOutcome `yaml:"files" json:"files"`
}

// Uploader ships an artifact tree to storage.
type Uploader interface {
	UploadTree(ctx context.Context, root, runID string) (Outcome, error)
}

// MinioUploader implements Uploader against an S3-compatible endpoint.
type MinioUploader struct {
	client *minio.Client
	bucket string
	prefix string
	log    *logger.Logger
}

// NewMinioUploader creates the client and ensures the bucket exists.
func NewMinioUploader(ctx context.Context, cfg config.UploadConfig, log *logger.Logger) (*MinioUploader, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, errors.UploadFailed(0, fmt.Errorf("create object-store client: %w", err))
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, errors.UploadFailed(0, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err))
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, errors.UploadFailed(0, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err))
		}
	}

	return &MinioUploader{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		log:    log.WithComponent("upload"),
	}, nil
}

// UploadTree walks root and uploads every regular file under
// {prefix}/{runID}/{relative path}. Individual failures are recorded and do
// not stop the walk; any failure makes the pass an UploadFailed error with
// the partial outcome still returned.
func (u *MinioUploader) UploadTree(ctx context.Context, root, runID string) (Outcome, error) {
	outcome := Outcome{}

	walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		key := u.objectKey(runID, rel)

		info, err := u.put(ctx, p, key)
		file := FileOutcome{Key: key}
		if err != nil {
			file.Error = err.Error()
			outcome.Failed++
			u.log.Warn("object upload failed", logger.Fields("key", key, "error", err.Error()))
		} else {
			file.Size = info.Size
			outcome.Uploaded++
		}
		outcome.Files = append(outcome.Files, file)
		return nil
	})

	if walkErr != nil {
		return outcome, errors.UploadFailed(outcome.Failed, fmt.Errorf("walk artifact tree %s: %w", root, walkErr))
	}
	if outcome.Failed > 0 {
		return outcome, errors.UploadFailed(outcome.Failed, nil)
	}

	u.log.Info("artifact tree uploaded", logger.Fields(
		"run_id", runID, "bucket", u.bucket, "objects", outcome.Uploaded,
	))
	return outcome, nil
}

func (u *MinioUploader) put(ctx context.Context, localPath, key string) (minio.UploadInfo, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return minio.UploadInfo{}, err
	}

	return u.client.PutObject(ctx, u.bucket, key, f, stat.Size(), minio.PutObjectOptions{
		ContentType: contentType(localPath),
	})
}

func (u *MinioUploader) objectKey(runID, rel string) string {
	key := path.Join(runID, filepath.ToSlash(rel))
	if u.prefix != "" {
		key = path.Join(u.prefix, key)
	}
	return key
}

func contentType(p string) string {
	if ct := mime.TypeByExtension(filepath.Ext(p)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
