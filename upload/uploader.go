// Package upload publishes run artifacts to S3-compatible object storage
// under {runId}/ keys.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/supercheck-io/fleet/log"
)

// uploadTimeout bounds a single object put.
const uploadTimeout = 60 * time.Second

// Config holds the object storage settings.
type Config struct {
	// Bucket is the bucket name (required).
	Bucket string
	// Prefix is an optional key prefix within the bucket.
	Prefix string
	// Region is the AWS region (optional, default chain when empty).
	Region string
	// Endpoint is a custom endpoint for S3-compatible providers (R2, MinIO).
	Endpoint string
	// UsePathStyle forces path-style addressing, required by most
	// S3-compatible providers.
	UsePathStyle bool
	// PublicBaseURL is the URL prefix returned to callers for uploaded
	// objects (CDN or public bucket host).
	PublicBaseURL string
}

// Validate checks the required settings.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("storage bucket is required")
	}
	return nil
}

// objectPutter is the S3 surface the uploader uses.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader writes artifacts to object storage.
type Uploader struct {
	client objectPutter
	cfg    Config
	logger *log.Logger
}

// New creates an uploader using the AWS SDK default credential chain.
func New(ctx context.Context, cfg Config, logger *log.Logger) (*Uploader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.NewLogger("")
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	client := s3.NewFromConfig(awsConfig, s3Opts...)
	return &Uploader{client: client, cfg: cfg, logger: logger}, nil
}

// NewWithClient creates an uploader over an existing S3 client.
func NewWithClient(client objectPutter, cfg Config, logger *log.Logger) (*Uploader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.NewLogger("")
	}
	return &Uploader{client: client, cfg: cfg, logger: logger}, nil
}

// UploadFile uploads a local file under the given key and returns its
// public URL.
func (u *Uploader) UploadFile(ctx context.Context, key, localPath, contentType string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("read artifact %s: %w", localPath, err)
	}
	return u.UploadBytes(ctx, key, data, contentType)
}

// UploadBytes uploads raw content under the given key and returns its
// public URL.
func (u *Uploader) UploadBytes(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	fullKey := u.objectKey(key)

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	input := &s3.PutObjectInput{
		Bucket: aws.String(u.cfg.Bucket),
		Key:    aws.String(fullKey),
		Body:   bytes.NewReader(body),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := u.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("upload %s: %w", fullKey, err)
	}

	u.logger.Debug("artifact uploaded", map[string]any{
		"key":   fullKey,
		"bytes": len(body),
	})
	return u.PublicURL(key), nil
}

// PublicURL returns the caller-facing URL for an uploaded key.
func (u *Uploader) PublicURL(key string) string {
	base := strings.TrimSuffix(u.cfg.PublicBaseURL, "/")
	if base == "" {
		base = "https://" + u.cfg.Bucket + ".s3.amazonaws.com"
		if u.cfg.Prefix != "" {
			return base + "/" + u.objectKey(key)
		}
	}
	return base + "/" + key
}

// objectKey prepends the configured prefix.
func (u *Uploader) objectKey(key string) string {
	if u.cfg.Prefix == "" {
		return key
	}
	return path.Join(u.cfg.Prefix, key)
}
