// Package r2 mirrors finished album bundles to Cloudflare R2.
package r2

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// BundlePrefix is the key prefix under which bundles are stored.
const BundlePrefix = "bundles/"

// Config holds configuration for R2 client.
type Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
	// Endpoint overrides the account endpoint.
	Endpoint string
}

// Client provides operations for Cloudflare R2 storage.
type Client struct {
	s3Client   *s3.Client
	bucketName string
	publicURL  string
}

// NewClient creates a new R2 client.
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	if cfg.AccountID == "" || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" || cfg.BucketName == "" {
		return nil, fmt.Errorf("incomplete R2 configuration")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		config.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	slog.Info("R2 client initialized",
		"bucket", cfg.BucketName,
		"endpoint", endpoint,
	)

	return &Client{
		s3Client:   s3Client,
		bucketName: cfg.BucketName,
		publicURL:  cfg.PublicURL,
	}, nil
}

// BundleKey is the object key of a job's bundle.
func BundleKey(jobID, bundleName string) string {
	return BundlePrefix + jobID + "/" + path.Base(bundleName)
}

// Upload stores data under key.
func (c *Client) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucketName),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to R2: %w", err)
	}

	slog.Info("Bundle uploaded to R2",
		"key", key,
		"size", len(data),
	)
	return nil
}

// GeneratePresignedURL returns a time-limited download link for key.
func (c *Client) GeneratePresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	presignClient := s3.NewPresignClient(c.s3Client)

	request, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucketName),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expiry
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return request.URL, nil
}

// Publish uploads a bundle and returns a link to it: the public URL when
// one is configured, otherwise a presigned one.
func (c *Client) Publish(ctx context.Context, jobID, bundleName string, bundle []byte, expiry time.Duration) (string, error) {
	key := BundleKey(jobID, bundleName)
	if err := c.Upload(ctx, key, bundle, "application/zip"); err != nil {
		return "", err
	}
	if c.publicURL != "" {
		return c.publicURL + "/" + key, nil
	}
	return c.GeneratePresignedURL(ctx, key, expiry)
}

// Delete deletes an object.
func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from R2: %w", err)
	}

	slog.Debug("Object deleted from R2", "key", key)
	return nil
}

// ListOlderThan returns bundle keys last modified before now-age.
func (c *Client) ListOlderThan(ctx context.Context, age time.Duration) ([]string, error) {
	threshold := time.Now().Add(-age)
	var oldKeys []string

	p := s3.NewListObjectsV2Paginator(c.s3Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucketName),
		Prefix: aws.String(BundlePrefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.Key != nil && obj.LastModified != nil && obj.LastModified.Before(threshold) {
				oldKeys = append(oldKeys, *obj.Key)
			}
		}
	}
	return oldKeys, nil
}

// DeleteOlderThan deletes bundles older than age.
func (c *Client) DeleteOlderThan(ctx context.Context, age time.Duration) (int, error) {
	keys, err := c.ListOlderThan(ctx, age)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, key := range keys {
		if err := c.Delete(ctx, key); err != nil {
			slog.Warn("Failed to delete old bundle",
				"key", key,
				"error", err,
			)
			continue
		}
		deleted++
	}
	return deleted, nil
}
