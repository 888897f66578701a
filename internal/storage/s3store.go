// Package storage implements the post image store backed by S3-compatible
// object storage.
package storage

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Default timeouts for S3 operations.
const (
	DefaultMetadataTimeout = 10 * time.Second // Stat, Delete, bucket checks
	DefaultDataTimeout     = 60 * time.Second // Put (data transfer)
)

// DefaultBucket holds uploaded post images. S3 bucket names may not
// contain underscores.
const DefaultBucket = "post-images"

// S3Config holds connection and timeout settings for S3 storage.
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`

	// PublicURL is the base under which objects are served to browsers,
	// e.g. a CDN in front of the bucket. Defaults to the endpoint itself.
	PublicURL string `yaml:"public_url"`

	// MetadataTimeout is the context timeout for metadata operations
	// (stat, delete). Defaults to 10s if zero.
	MetadataTimeout time.Duration `yaml:"metadata_timeout"`

	// DataTimeout is the context timeout for uploads. Defaults to 60s if zero.
	DataTimeout time.Duration `yaml:"data_timeout"`
}

// ImageStore stores post images and hands back their public URLs.
type ImageStore struct {
	client          *minio.Client
	bucket          string
	publicBase      string
	metadataTimeout time.Duration
	dataTimeout     time.Duration
	now             func() time.Time
}

// NewImageStore creates an ImageStore connected to cfg.Endpoint.
// It configures the underlying HTTP transport with connection and TLS
// timeouts and creates the bucket, readable anonymously, if it is missing.
func NewImageStore(ctx context.Context, cfg S3Config) (*ImageStore, error) {
	metadataTimeout := cfg.MetadataTimeout
	if metadataTimeout == 0 {
		metadataTimeout = DefaultMetadataTimeout
	}
	dataTimeout := cfg.DataTimeout
	if dataTimeout == 0 {
		dataTimeout = DefaultDataTimeout
	}
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = DefaultBucket
	}

	// ResponseHeaderTimeout bounds the wait for the server to start replying,
	// not the full upload.
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: metadataTimeout,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	s := &ImageStore{
		client:          client,
		bucket:          bucket,
		publicBase:      publicBase(cfg, bucket),
		metadataTimeout: metadataTimeout,
		dataTimeout:     dataTimeout,
		now:             time.Now,
	}

	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}

	return s, nil
}

// publicBase returns the URL prefix objects of bucket are reachable under.
func publicBase(cfg S3Config, bucket string) string {
	base := strings.TrimRight(cfg.PublicURL, "/")
	if base == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		base = scheme + "://" + cfg.Endpoint
	}
	return base + "/" + bucket + "/"
}

func (s *ImageStore) withMetadataTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.metadataTimeout)
}

func (s *ImageStore) withDataTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.dataTimeout)
}

// ensureBucket creates the bucket with an anonymous read policy if it
// doesn't already exist.
func (s *ImageStore) ensureBucket(ctx context.Context) error {
	ctx, cancel := s.withMetadataTimeout(ctx)
	defer cancel()

	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	if err := s.client.SetBucketPolicy(ctx, s.bucket, publicReadPolicy(s.bucket)); err != nil {
		return fmt.Errorf("set bucket policy %s: %w", s.bucket, err)
	}
	return nil
}

// PutImage uploads an image under a fresh object key derived from filename
// and returns the image's public URL.
func (s *ImageStore) PutImage(ctx context.Context, filename string, r io.Reader, size int64, contentType string) (string, error) {
	ctx, cancel := s.withDataTimeout(ctx)
	defer cancel()

	key := objectKey(s.now(), filename)
	if contentType == "" {
		contentType = detectContentType(key)
	}

	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: "public, max-age=31536000, immutable",
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, errorMessage(err))
	}
	return s.PublicURL(key), nil
}

// PublicURL returns the browser-facing URL of key.
func (s *ImageStore) PublicURL(key string) string {
	return s.publicBase + key
}

// KeyFromURL returns the object key of a URL produced by PublicURL. The
// second result is false for URLs that point elsewhere.
func (s *ImageStore) KeyFromURL(url string) (string, bool) {
	key, ok := strings.CutPrefix(url, s.publicBase)
	if !ok || key == "" || strings.Contains(key, "/") {
		return "", false
	}
	return key, true
}

// DeleteImage removes an object. Deleting a missing object is not an error.
func (s *ImageStore) DeleteImage(ctx context.Context, key string) error {
	ctx, cancel := s.withMetadataTimeout(ctx)
	defer cancel()

	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", key, errorMessage(err))
	}
	return nil
}

// ImageExists reports whether key is present in the bucket.
func (s *ImageStore) ImageExists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := s.withMetadataTimeout(ctx)
	defer cancel()

	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("stat object %s: %w", key, err)
	}
	return true, nil
}

// errorMessage keeps the S3 error text readable when it is shown to users.
func errorMessage(err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Message != "" {
		return fmt.Errorf("%s: %w", resp.Message, err)
	}
	return err
}

// HealthCheck reports whether the image bucket is reachable. It satisfies
// api.HealthChecker.
func (s *ImageStore) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.metadataTimeout)
	defer cancel()
	switch exists, err := s.client.BucketExists(ctx, s.bucket); {
	case err != nil:
		return fmt.Errorf("image bucket %q: %w", s.bucket, err)
	case !exists:
		return fmt.Errorf("image bucket %q is missing", s.bucket)
	}
	return nil
}
