package backup

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectStore is the bucket operations the backup service needs, kept
// as an interface so tests substitute an in-memory fake instead of
// talking to a real bucket.
type ObjectStore interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64) error
	List(ctx context.Context, prefix string) ([]Info, error)
	Delete(ctx context.Context, key string) error
}

// S3Client is an ObjectStore backed by aws-sdk-go-v2, pointed at a
// custom endpoint and path-style addressing so the same client works
// against Cloudflare R2 or real S3.
type S3Client struct {
	client *s3.Client
	bucket string
}

// S3Config configures an S3Client.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// NewS3Client builds an S3Client against cfg.
func NewS3Client(ctx context.Context, cfg S3Config) (*S3Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})

	return &S3Client{client: client, bucket: cfg.Bucket}, nil
}

// Upload streams body to key under the configured bucket.
func (c *S3Client) Upload(ctx context.Context, key string, body io.Reader, size int64) error {
	uploader := manager.NewUploader(c.client)
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

// List returns every object under prefix.
func (c *S3Client) List(ctx context.Context, prefix string) ([]Info, error) {
	out, err := c.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("list objects with prefix %s: %w", prefix, err)
	}

	infos := make([]Info, 0, len(out.Contents))
	for _, obj := range out.Contents {
		if obj.Key == nil {
			continue
		}
		info := Info{Key: *obj.Key}
		if obj.Size != nil {
			info.SizeBytes = *obj.Size
		}
		if ts, ok := TimestampFromKey(*obj.Key); ok {
			info.Timestamp = ts
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Delete removes key from the bucket.
func (c *S3Client) Delete(ctx context.Context, key string) error {
	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

const (
	archiveKeyPrefix = "ledger-backup-"
	archiveKeySuffix = ".tar.gz"
	archiveTimeLayout = "2006-01-02-150405"
)

// TimestampFromKey recovers the timestamp embedded in an archive's key
// by archiveKeyFor, e.g. "ledger-backup-2026-01-08-143022.tar.gz".
func TimestampFromKey(key string) (time.Time, bool) {
	if !strings.HasPrefix(key, archiveKeyPrefix) || !strings.HasSuffix(key, archiveKeySuffix) {
		return time.Time{}, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(key, archiveKeyPrefix), archiveKeySuffix)
	ts, err := time.Parse(archiveTimeLayout, raw)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
