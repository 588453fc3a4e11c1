// Package storage fetches disk images from an S3 bucket.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dustin/go-humanize"

	"github.com/imagewriter/flashctl/pkg/errors"
	"github.com/imagewriter/flashctl/pkg/size"
)

// API is the subset of the S3 client used here
type API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Client provides S3 storage operations
type Client struct {
	api    API
	bucket string
}

// NewClient creates a new S3 client for anonymous access
func NewClient(ctx context.Context, bucket, region string) (*Client, error) {
	slog.Info("s3_client_init", "bucket", bucket, "region", region)

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(aws.AnonymousCredentials{}),
	)
	if err != nil {
		slog.Error("aws_config_load_failed", "error", err)
		return nil, errors.Wrap(err, "failed to load AWS config")
	}

	return NewClientWithAPI(s3.NewFromConfig(cfg), bucket), nil
}

// NewClientWithAPI wraps an existing S3 API implementation
func NewClientWithAPI(api API, bucket string) *Client {
	return &Client{api: api, bucket: bucket}
}

// RemoteImage is an image object in the bucket
type RemoteImage struct {
	Key          string     `json:"key" yaml:"key"`
	Size         size.Bytes `json:"size" yaml:"size"`
	LastModified time.Time  `json:"last_modified" yaml:"last_modified"`
}

// ListImages lists objects under prefix whose extension is in extensions.
// An empty extension list matches every object.
func (c *Client) ListImages(ctx context.Context, prefix string, extensions []string) ([]RemoteImage, error) {
	slog.Info("s3_list_start", "bucket", c.bucket, "prefix", prefix)

	allowed := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		allowed[strings.ToLower(strings.TrimPrefix(ext, "."))] = true
	}

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	}

	var images []RemoteImage
	paginator := s3.NewListObjectsV2Paginator(c.api, input)

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			slog.Error("s3_list_failed", "prefix", prefix, "error", err)
			return nil, errors.Wrap(err, "failed to list objects")
		}

		for _, obj := range page.Contents {
			if obj.Key == nil || strings.HasSuffix(*obj.Key, "/") {
				continue
			}
			ext := strings.ToLower(strings.TrimPrefix(path.Ext(*obj.Key), "."))
			if len(allowed) > 0 && !allowed[ext] {
				continue
			}
			img := RemoteImage{Key: *obj.Key, Size: size.FromInt64(aws.ToInt64(obj.Size))}
			if obj.LastModified != nil {
				img.LastModified = *obj.LastModified
			}
			images = append(images, img)
		}
	}

	slog.Info("s3_list_complete", "prefix", prefix, "image_count", len(images))
	return images, nil
}

// DownloadResult contains download metadata
type DownloadResult struct {
	LocalPath string
	SHA256    string
	Size      size.Bytes
}

// Download fetches an object into destDir and computes its SHA-256. The
// file only appears under its final name once it is complete.
func (c *Client) Download(ctx context.Context, s3Key, destDir string) (*DownloadResult, error) {
	slog.Info("s3_download_start", "bucket", c.bucket, "s3_key", s3Key)

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create download dir")
	}
	localPath := filepath.Join(destDir, path.Base(s3Key))

	result, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(s3Key),
	})
	if err != nil {
		slog.Error("s3_get_object_failed", "s3_key", s3Key, "error", err)
		return nil, errors.Wrap(err, "failed to get object from S3")
	}
	defer result.Body.Close()

	tmp, err := os.CreateTemp(destDir, "."+path.Base(s3Key)+".*.part")
	if err != nil {
		slog.Error("local_file_creation_failed", "dir", destDir, "error", err)
		return nil, errors.Wrap(err, "failed to create local file")
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	hash := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, hash), result.Body)
	if err != nil {
		slog.Error("s3_download_failed", "s3_key", s3Key, "error", err)
		return nil, errors.Wrap(err, "failed to download file")
	}
	if err := tmp.Close(); err != nil {
		return nil, errors.Wrap(err, "failed to close local file")
	}
	if err := os.Rename(tmp.Name(), localPath); err != nil {
		return nil, errors.Wrap(err, "failed to move download into place")
	}

	checksum := hex.EncodeToString(hash.Sum(nil))

	slog.Info("s3_download_complete",
		"s3_key", s3Key,
		"size", humanize.Bytes(uint64(n)),
		"local_path", localPath,
		"sha256", checksum[:16]+"...",
	)

	return &DownloadResult{
		LocalPath: localPath,
		SHA256:    checksum,
		Size:      size.FromInt64(n),
	}, nil
}

// Exists checks if an object exists in S3
func (c *Client) Exists(ctx context.Context, s3Key string) (bool, error) {
	_, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(s3Key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			slog.Info("s3_object_not_found", "s3_key", s3Key)
			return false, nil
		}
		slog.Error("s3_head_object_failed", "s3_key", s3Key, "error", err)
		return false, errors.Wrap(err, "failed to check object existence")
	}

	return true, nil
}
