package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"splat-orchestrator/core/models"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrDatasetMissing means the project archive is not in the bucket
var ErrDatasetMissing = errors.New("dataset archive not found in bucket")

// Config holds object storage settings
type Config struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Region     string
	Bucket     string
	UseSSL     bool
	PresignTTL time.Duration
}

// Validate checks required fields
func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return fmt.Errorf("object storage endpoint is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("object storage endpoint must be host[:port], got %q", c.Endpoint)
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return fmt.Errorf("bucket name is required")
	}
	return nil
}

// ArtifactStore reads and writes job artifacts in an S3-compatible bucket
type ArtifactStore struct {
	client *minio.Client
	bucket string
	ttl    time.Duration
}

// NewArtifactStore creates a store. Static credentials are used when given,
// otherwise the standard AWS environment variables.
func NewArtifactStore(cfg Config) (*ArtifactStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	creds := credentials.NewEnvAWS()
	if cfg.AccessKey != "" {
		creds = credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     creds,
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}

	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ArtifactStore{client: client, bucket: cfg.Bucket, ttl: ttl}, nil
}

// Bucket returns the configured bucket name
func (s *ArtifactStore) Bucket() string { return s.bucket }

// URI returns the s3:// form of key used by the remote CLI
func (s *ArtifactStore) URI(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, strings.TrimLeft(key, "/"))
}

// CheckDataset confirms the project archive exists before an instance is used
func (s *ArtifactStore) CheckDataset(ctx context.Context, key models.JobKey) error {
	_, err := s.client.StatObject(ctx, s.bucket, DatasetArchiveKey(key), minio.StatObjectOptions{})
	if err == nil {
		return nil
	}
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("%w: %s", ErrDatasetMissing, s.URI(DatasetArchiveKey(key)))
	}
	return fmt.Errorf("failed to stat dataset: %w", err)
}

// Put uploads body to key
func (s *ArtifactStore) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	if _, err := s.client.PutObject(ctx, s.bucket, key, body, size, opts); err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

// PresignGet returns a time-limited read URL for key
func (s *ArtifactStore) PresignGet(ctx context.Context, key string) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.ttl, nil)
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", key, err)
	}
	return u.String(), nil
}

// DatasetPrefix is the bucket prefix holding a project's uploads
func DatasetPrefix(key models.JobKey) string {
	return key.UserID + "/" + key.ProjectName
}

// DatasetArchiveKey is the uploaded dataset archive
func DatasetArchiveKey(key models.JobKey) string {
	return DatasetPrefix(key) + "/" + key.ProjectName + ".zip"
}

// MeshPrefix is where the export directory is uploaded
func MeshPrefix(key models.JobKey) string {
	return DatasetPrefix(key) + "/" + key.ProjectName + "-mesh"
}

// SplatKey is the viewer file. Conversion uploads to this key and it is
// the splatPath returned to the caller.
func SplatKey(key models.JobKey) string {
	return MeshPrefix(key) + "/point_cloud.splat"
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
