// Package storage wraps the S3-compatible object store (MinIO in local and
// self-hosted deployments, S3 proper otherwise). It owns the object key
// layout and presigned upload URL generation.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"go.uber.org/fx"

	"github.com/trellis-app/trellis-core/internal/config"
	"github.com/trellis-app/trellis-core/pkg/logger"
)

var Module = fx.Module("storage",
	fx.Provide(
		NewClient,
		func(c *Client) ObjectStore { return c },
		func(c *Client) Presigner { return c },
	),
)

// ObjectStore is the narrow read/write surface handlers depend on
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, body []byte, contentType string) error
}

// Presigner issues time-limited upload URLs
type Presigner interface {
	PresignUpload(ctx context.Context, key, contentType string, expiry time.Duration) (string, time.Time, error)
}

// Client is the production S3 client.
type Client struct {
	s3      *s3.Client
	presign *s3.PresignClient
	bucket  string
	log     *slog.Logger
}

// NewClient creates the S3 client. A custom endpoint switches to path-style
// addressing, which MinIO requires.
func NewClient(cfg *config.Config, log *slog.Logger) (*Client, error) {
	log = log.With(logger.Scope("storage"))

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Storage.Region),
	}
	if cfg.Storage.IsConfigured() {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.Storage.AccessKey, cfg.Storage.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})

	log.Info("storage client created",
		slog.String("bucket", cfg.Storage.Bucket),
		slog.String("endpoint", cfg.Storage.Endpoint),
		slog.String("region", cfg.Storage.Region),
	)

	return &Client{
		s3:      client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Storage.Bucket,
		log:     log,
	}, nil
}

// Download reads an object into memory.
func (c *Client) Download(ctx context.Context, key string) ([]byte, error) {
	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Upload writes an object.
func (c *Client) Upload(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

// Exists reports whether an object is present.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("head %s: %w", key, err)
	}
	return true, nil
}

// Delete removes an object. Deleting a missing key is not an error.
func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// PresignUpload returns a time-limited PUT URL for the key and the instant
// it expires.
func (c *Client) PresignUpload(ctx context.Context, key, contentType string, expiry time.Duration) (string, time.Time, error) {
	req, err := c.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("presign upload %s: %w", key, err)
	}
	return req.URL, time.Now().Add(expiry), nil
}

// UploadKey builds the canonical object key for an original upload:
// {entity_type}/{entity_id}/{file_id}/original.{ext}. The extension comes
// from the sanitized file name; extensionless names get no suffix.
func UploadKey(entityType, entityID string, fileID uuid.UUID, fileName string) string {
	ext := strings.ToLower(path.Ext(SanitizeFilename(fileName)))
	name := "original" + ext
	return path.Join(entityType, entityID, fileID.String(), name)
}

// ThumbKey builds the key for a thumbnail derivative next to its original:
// the original's directory plus thumb-{size}.jpg.
func ThumbKey(originalKey, size string) string {
	return path.Join(path.Dir(originalKey), fmt.Sprintf("thumb-%s.jpg", size))
}

// SanitizeFilename strips path separators and control characters from a
// client-supplied file name so it is safe to embed in an object key.
func SanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r < 0x20 || r == 0x7f:
			// drop control characters
		case r == '/' || r == '\\':
			// already stripped by Base, but belt and braces
		default:
			b.WriteRune(r)
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" || out == "." || out == ".." {
		return "file"
	}
	return out
}
