package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	appconfig "dev/bravebird/ipview-verify/pkg/config"
)

// ErrObjectNotFound is returned when a requested object does not exist.
var ErrObjectNotFound = errors.New("artifacts: object not found")

// S3Client uploads artifacts to an S3-compatible bucket.
type S3Client struct {
	s3Client  *s3.Client
	bucket    string
	prefix    string
	publicURL string // Base URL for links; empty means s3://bucket/key
}

// NewS3Client creates a client from the artifact S3 configuration.
func NewS3Client(ctx context.Context, cfg appconfig.S3Config) (*S3Client, error) {
	var opts []func(*config.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	sdkConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(sdkConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return NewS3ClientFrom(client, cfg.Bucket, cfg.Prefix, cfg.PublicURL), nil
}

// NewS3ClientFrom wraps an existing S3 client (used with gofakes3 in tests).
func NewS3ClientFrom(client *s3.Client, bucket, prefix, publicURL string) *S3Client {
	return &S3Client{
		s3Client:  client,
		bucket:    bucket,
		prefix:    strings.Trim(prefix, "/"),
		publicURL: strings.TrimSuffix(publicURL, "/"),
	}
}

// Key returns the object key for a run's file.
func (c *S3Client) Key(runID, filename string) string {
	parts := make([]string, 0, 3)
	if c.prefix != "" {
		parts = append(parts, c.prefix)
	}
	if runID != "" {
		parts = append(parts, runID)
	}
	parts = append(parts, filename)
	return strings.Join(parts, "/")
}

// URL returns the link recorded for key.
func (c *S3Client) URL(key string) string {
	if c.publicURL == "" {
		return "s3://" + c.bucket + "/" + key
	}
	return c.publicURL + "/" + c.bucket + "/" + key
}

// PutObject stores content under key.
func (c *S3Client) PutObject(ctx context.Context, key string, content []byte, contentType string) error {
	_, err := c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to put object %q: %w", key, err)
	}
	return nil
}

// GetObject retrieves the content stored under key.
func (c *S3Client) GetObject(ctx context.Context, key string) ([]byte, error) {
	result, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrObjectNotFound
		}
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to get object %q: %w", key, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body %q: %w", key, err)
	}
	return data, nil
}
