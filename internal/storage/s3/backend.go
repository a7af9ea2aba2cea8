// Package s3 implements the ObjectStore interface against Amazon S3
// and S3-compatible endpoints such as MinIO.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"golang.org/x/sync/errgroup"

	"github.com/objcache/objcache/pkg/storeerr"
	"github.com/objcache/objcache/pkg/types"
)

// Config represents S3 backend configuration.
type Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	ForcePathStyle  bool   `yaml:"force_path_style"`

	MaxRetries     int           `yaml:"max_retries"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Parallelism bounds concurrent per-range requests in GetRanges.
	Parallelism int `yaml:"parallelism"`

	Logger *slog.Logger `yaml:"-"`
}

// NewDefaultConfig returns S3 backend defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Region:         "us-east-1",
		MaxRetries:     3,
		RequestTimeout: 30 * time.Second,
		Parallelism:    8,
	}
}

// Backend implements types.ObjectStore against S3.
type Backend struct {
	client      *s3.Client
	bucket      string
	parallelism int
	timeout     time.Duration
	logger      *slog.Logger
}

// New creates an S3 backend for the configured bucket. Credentials come
// from the default AWS chain unless static keys are configured.
func New(ctx context.Context, cfg *Config) (*Backend, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name cannot be empty")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithRetryMaxAttempts(cfg.MaxRetries),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	parallelism := cfg.Parallelism
	if parallelism <= 0 {
		parallelism = 8
	}

	logger.Info("S3 backend initialized",
		"bucket", cfg.Bucket,
		"region", cfg.Region,
		"endpoint", cfg.Endpoint)

	return &Backend{
		client:      client,
		bucket:      cfg.Bucket,
		parallelism: parallelism,
		timeout:     cfg.RequestTimeout,
		logger:      logger,
	}, nil
}

// Get retrieves the entire object at path.
func (b *Backend) Get(ctx context.Context, path string) ([]byte, error) {
	return b.getObject(ctx, "Get", path, nil)
}

// GetRange retrieves a byte range of the object at path.
func (b *Backend) GetRange(ctx context.Context, path string, rng types.ByteRange) ([]byte, error) {
	if rng.Offset < 0 || rng.Length <= 0 {
		return nil, storeerr.InvalidRange("GetRange", path, "offset must be >= 0 and length > 0")
	}
	header := fmt.Sprintf("bytes=%d-%d", rng.Offset, rng.Offset+rng.Length-1)
	return b.getObject(ctx, "GetRange", path, aws.String(header))
}

// GetRanges retrieves several byte ranges of the object at path with
// bounded parallelism. Results align positionally with rngs.
func (b *Backend) GetRanges(ctx context.Context, path string, rngs []types.ByteRange) ([][]byte, error) {
	results := make([][]byte, len(rngs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.parallelism)
	for i, rng := range rngs {
		g.Go(func() error {
			data, err := b.GetRange(gctx, path, rng)
			if err != nil {
				return err
			}
			results[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Put stores data at path.
func (b *Backend) Put(ctx context.Context, path string, data []byte) error {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(path),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return b.translateError("Put", path, err)
	}
	return nil
}

// Delete removes the object at path. S3 deletes are idempotent, so a
// HeadObject probe first surfaces missing objects as not-found.
func (b *Backend) Delete(ctx context.Context, path string) error {
	if _, err := b.Head(ctx, path); err != nil {
		return err
	}

	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return b.translateError("Delete", path, err)
	}
	return nil
}

// Copy duplicates the object at from to to within the bucket.
func (b *Backend) Copy(ctx context.Context, from, to string) error {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	source := url.PathEscape(b.bucket + "/" + from)
	_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(b.bucket),
		Key:        aws.String(to),
		CopySource: aws.String(source),
	})
	if err != nil {
		return b.translateError("Copy", from, err)
	}
	return nil
}

// Rename moves the object at from to to. S3 has no native rename, so
// this is a copy followed by a delete of the source.
func (b *Backend) Rename(ctx context.Context, from, to string) error {
	if err := b.Copy(ctx, from, to); err != nil {
		return err
	}

	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(from),
	})
	if err != nil {
		return b.translateError("Rename", from, err)
	}
	return nil
}

// List returns metadata for every object under prefix.
func (b *Backend) List(ctx context.Context, prefix string) ([]types.ObjectInfo, error) {
	var objects []types.ObjectInfo

	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, b.translateError("List", prefix, err)
		}
		for _, obj := range page.Contents {
			objects = append(objects, types.ObjectInfo{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				ETag:         aws.ToString(obj.ETag),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	return objects, nil
}

// Head returns metadata for the object at path.
func (b *Backend) Head(ctx context.Context, path string) (*types.ObjectInfo, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	result, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return nil, b.translateError("Head", path, err)
	}

	return &types.ObjectInfo{
		Key:          path,
		Size:         aws.ToInt64(result.ContentLength),
		ETag:         aws.ToString(result.ETag),
		LastModified: aws.ToTime(result.LastModified),
	}, nil
}

// HealthCheck verifies the bucket is reachable.
func (b *Backend) HealthCheck(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucket),
	})
	if err != nil {
		return fmt.Errorf("S3 health check failed: %w", err)
	}
	return nil
}

func (b *Backend) getObject(ctx context.Context, op, path string, rangeHeader *string) ([]byte, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(path),
		Range:  rangeHeader,
	})
	if err != nil {
		return nil, b.translateError(op, path, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, storeerr.Backend(op, path, fmt.Errorf("failed to read object body: %w", err))
	}
	return data, nil
}

func (b *Backend) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, b.timeout)
}

// translateError maps AWS SDK errors onto the storage error taxonomy.
func (b *Backend) translateError(op, path string, err error) error {
	var noSuchKey *s3types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return storeerr.NotFound(op, path, err)
	}
	var notFound *s3types.NotFound
	if errors.As(err, &notFound) {
		return storeerr.NotFound(op, path, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return storeerr.NotFound(op, path, err)
		case "InvalidRange":
			return storeerr.InvalidRange(op, path, apiErr.ErrorMessage())
		}
	}

	return storeerr.Backend(op, path, err)
}
