// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package s3

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/netSkope/prom-range-export/internal/config"
	"github.com/netSkope/prom-range-export/internal/util"
)

const (
	// Max retries for S3 operations
	maxS3Retries = 5
	// Initial retry delay
	initialRetryDelay = 1 * time.Second
	// Multipart settings used by the manager for large files
	partSize    = 10 * 1024 * 1024
	concurrency = 3
)

// UploadAPI is the subset of manager.Uploader used here.
// This allows mocking in tests.
type UploadAPI interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Uploader handles S3 uploads of export artifacts.
type Uploader struct {
	api        UploadAPI
	bucket     string
	prefix     string
	client     string
	retryDelay time.Duration
	logger     *zap.Logger
}

// NewUploader creates a new S3 uploader from cfg.
// Credentials come from the static keys in cfg when set, otherwise from the
// SDK default chain. AWS_ENDPOINT_URL switches to a custom endpoint with
// path-style addressing (LocalStack).
func NewUploader(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Uploader, error) {
	awsCfg, err := util.LoadAWSConfig(ctx, cfg.AWSRegion, util.StaticKeys{
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
		SessionToken:    cfg.AWSSessionToken,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	endpoint := os.Getenv("AWS_ENDPOINT_URL")
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	if endpoint != "" {
		logger.Info("Using custom S3 endpoint", zap.String("endpoint", endpoint))
	}

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = partSize
		u.Concurrency = concurrency
	})

	return NewUploaderWithAPI(uploader, cfg, logger), nil
}

// NewUploaderWithAPI creates an uploader around an existing upload API.
func NewUploaderWithAPI(api UploadAPI, cfg *config.Config, logger *zap.Logger) *Uploader {
	return &Uploader{
		api:        api,
		bucket:     cfg.S3Bucket,
		prefix:     cfg.S3Prefix,
		client:     cfg.Client,
		retryDelay: initialRetryDelay,
		logger:     logger,
	}
}

// Bucket returns the target bucket.
func (u *Uploader) Bucket() string {
	return u.bucket
}

// ObjectKey returns <prefix>/<client>/<file name>.
func (u *Uploader) ObjectKey(file string) string {
	return path.Join(u.prefix, u.client, filepath.Base(file))
}

// UploadFile uploads a file to S3. The manager switches to multipart for large files.
func (u *Uploader) UploadFile(ctx context.Context, filePath, s3Key string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	fileInfo, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to get file info: %w", err)
	}
	fileSize := fileInfo.Size()

	u.logger.Info("Uploading file to S3",
		zap.String("file", filePath),
		zap.String("bucket", u.bucket),
		zap.String("s3_key", s3Key),
		zap.Int64("size", fileSize))

	_, err = u.api.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(s3Key),
		Body:   file,
	})
	if err != nil {
		return fmt.Errorf("failed to upload file: %w", err)
	}

	u.logger.Info("File uploaded successfully",
		zap.String("s3_key", s3Key),
		zap.Int64("size", fileSize))

	return nil
}

// UploadFileWithRetry uploads a file, retrying with exponential backoff.
func (u *Uploader) UploadFileWithRetry(ctx context.Context, filePath, s3Key string) error {
	var lastErr error
	delay := u.retryDelay

	for attempt := 1; attempt <= maxS3Retries; attempt++ {
		err := u.UploadFile(ctx, filePath, s3Key)
		if err == nil {
			return nil
		}

		lastErr = err
		if attempt < maxS3Retries {
			u.logger.Warn("Upload failed, retrying",
				zap.String("file", filePath),
				zap.Int("attempt", attempt),
				zap.Int("max_retries", maxS3Retries),
				zap.Error(err))

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return fmt.Errorf("upload failed after %d attempts: %w", maxS3Retries, lastErr)
}
