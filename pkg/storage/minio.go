// Package storage lists and reads tabular assets from MinIO/S3 object
// storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Gobusters/ectologger"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/OpertusMundi/discovery-service/pkg/models"
	"github.com/OpertusMundi/discovery-service/pkg/tabular"
	"github.com/OpertusMundi/discovery-service/pkg/tracing"
)

// Config holds object storage configuration
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// Client reads tabular assets from a bucket.
type Client struct {
	mc     *minio.Client
	bucket string
	logger ectologger.Logger
}

// NewClient creates a new object storage client.
func NewClient(cfg Config, logger ectologger.Logger) (*Client, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}

	return &Client{
		mc:     mc,
		bucket: cfg.Bucket,
		logger: logger,
	}, nil
}

// Ping verifies the bucket is reachable.
func (c *Client) Ping(ctx context.Context) error {
	exists, err := c.mc.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrUpstreamUnavailable, err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", c.bucket)
	}
	return nil
}

// ListAssets returns the paths of every object in the bucket.
func (c *Client) ListAssets(ctx context.Context) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "storage.Client.ListAssets")
	defer span.End()

	var paths []string
	for object := range c.mc.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{Recursive: true}) {
		if object.Err != nil {
			return nil, fmt.Errorf("%w: failed to list assets: %v", models.ErrUpstreamUnavailable, object.Err)
		}
		paths = append(paths, object.Key)
	}
	return paths, nil
}

// AssetExists reports whether an object exists at the path.
func (c *Client) AssetExists(ctx context.Context, path string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "storage.Client.AssetExists")
	defer span.End()

	_, err := c.mc.StatObject(ctx, c.bucket, path, minio.StatObjectOptions{})
	if err != nil {
		var resp minio.ErrorResponse
		if errors.As(err, &resp) && resp.Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("%w: failed to stat %s: %v", models.ErrUpstreamUnavailable, path, err)
	}
	return true, nil
}

// ReadRaw returns the raw object stream at path. The caller closes it.
func (c *Client) ReadRaw(ctx context.Context, path string) (io.ReadCloser, error) {
	ctx, span := tracing.StartSpan(ctx, "storage.Client.ReadRaw")
	defer span.End()

	exists, err := c.AssetExists(ctx, path)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", models.ErrNotFound, path)
	}

	object, err := c.mc.GetObject(ctx, c.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to fetch %s: %v", models.ErrUpstreamUnavailable, path, err)
	}
	return object, nil
}

// ReadTabular fetches and parses the object at path as a table. rowLimit
// bounds the sample; zero means unbounded.
func (c *Client) ReadTabular(ctx context.Context, path string, rowLimit int) (*models.Table, error) {
	ctx, span := tracing.StartSpan(ctx, "storage.Client.ReadTabular")
	defer span.End()

	object, err := c.mc.GetObject(ctx, c.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to fetch %s: %v", models.ErrUpstreamUnavailable, path, err)
	}
	defer object.Close()

	table, err := tabular.Parse(path, object, rowLimit)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, models.ErrMalformedInput) {
			return nil, fmt.Errorf("%w: %s: %v", models.ErrMalformedInput, path, err)
		}
		return nil, err
	}
	return table, nil
}
