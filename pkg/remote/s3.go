package remote

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/simvis/simvis/pkg/core"
	"github.com/simvis/simvis/pkg/errors"
)

// S3Config holds S3 client configuration.
type S3Config struct {
	// Region is the AWS region (e.g., "us-east-1")
	Region string

	// Endpoint overrides the default S3 endpoint (for S3-compatible services)
	Endpoint string

	// UsePathStyle forces path-style addressing (for MinIO, LocalStack)
	UsePathStyle bool

	// Credentials (optional - uses default chain if not provided)
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// DownloadTimeout bounds a single object read.
	DownloadTimeout time.Duration
}

// ObjectAPI is the subset of the S3 client the backend needs.
type ObjectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3 reads targets stored as S3 objects. A target is either
// {Host: "s3://bucket", Path: "key"} or {Path: "s3://bucket/key"}.
type S3 struct {
	cfg    S3Config
	client ObjectAPI
}

// NewS3 creates an S3 backend from the default AWS credential chain.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	var opts []func(*config.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	// Use explicit credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				cfg.SessionToken,
			),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return NewS3WithClient(cfg, s3.NewFromConfig(awsCfg, s3Opts...)), nil
}

// NewS3WithClient wraps an existing client.
func NewS3WithClient(cfg S3Config, client ObjectAPI) *S3 {
	if cfg.DownloadTimeout == 0 {
		cfg.DownloadTimeout = 5 * time.Minute
	}
	return &S3{cfg: cfg, client: client}
}

// IsS3 reports whether t names an S3 object.
func IsS3(t core.Target) bool {
	return strings.HasPrefix(t.Host, S3Scheme) || strings.HasPrefix(t.Path, S3Scheme)
}

// objectRef splits t into bucket and key.
func objectRef(t core.Target) (bucket, key string, err error) {
	switch {
	case strings.HasPrefix(t.Host, S3Scheme):
		bucket = strings.TrimPrefix(t.Host, S3Scheme)
		key = strings.TrimPrefix(t.Path, "/")
	case strings.HasPrefix(t.Path, S3Scheme):
		bucket, key, _ = strings.Cut(strings.TrimPrefix(t.Path, S3Scheme), "/")
	}
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("not an s3 object: %s", t)
	}
	return bucket, key, nil
}

// Open returns a reader for the object.
func (c *S3) Open(ctx context.Context, _ string, t core.Target) (io.ReadCloser, error) {
	bucket, key, err := objectRef(t)
	if err != nil {
		return nil, errors.TransientIO(err, t.Host, t.Path)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.DownloadTimeout)
	output, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		cancel()
		return nil, errors.TransientIO(fmt.Errorf("failed to get object %s/%s: %w", bucket, key, err), t.Host, t.Path)
	}

	// Wrap to cancel context on close
	return &cancelOnCloseReader{
		ReadCloser: output.Body,
		cancel:     cancel,
	}, nil
}

type cancelOnCloseReader struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *cancelOnCloseReader) Close() error {
	r.cancel()
	return r.ReadCloser.Close()
}

// Stat returns the object size.
func (c *S3) Stat(ctx context.Context, _ string, t core.Target) (int64, error) {
	bucket, key, err := objectRef(t)
	if err != nil {
		return 0, errors.TransientIO(err, t.Host, t.Path)
	}
	output, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, errors.TransientIO(fmt.Errorf("failed to head object %s/%s: %w", bucket, key, err), t.Host, t.Path)
	}
	return aws.ToInt64(output.ContentLength), nil
}

// CopyToLocal downloads the object into dir.
func (c *S3) CopyToLocal(ctx context.Context, session string, t core.Target, dir string) (string, error) {
	return copyToLocal(ctx, c, session, t, dir)
}
