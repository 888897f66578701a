package storage_test

import (
	"context"
	"os"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/require"

	"github.com/centralreports/reportd/internal/storage"
)

const testBucket = "reportd-test-images"

// minioEnv reads the MinIO connection from the environment, skipping the
// test when any part is missing.
func minioEnv(t *testing.T) storage.S3Config {
	t.Helper()
	cfg := storage.S3Config{Bucket: testBucket}
	for name, dst := range map[string]*string{
		"S3_ENDPOINT":   &cfg.Endpoint,
		"S3_ACCESS_KEY": &cfg.AccessKey,
		"S3_SECRET_KEY": &cfg.SecretKey,
	} {
		*dst = os.Getenv(name)
		if *dst == "" {
			t.Skipf("%s not set, skipping MinIO test", name)
		}
	}
	return cfg
}

// testImageStore connects to MinIO and returns a store over an emptied
// test bucket.
func testImageStore(t *testing.T) *storage.ImageStore {
	t.Helper()
	cfg := minioEnv(t)

	store, err := storage.NewImageStore(context.Background(), cfg)
	require.NoError(t, err, "connect image store")

	emptyBucket(t, cfg)
	return store
}

func emptyBucket(t *testing.T, cfg storage.S3Config) {
	t.Helper()
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds: credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
	})
	require.NoError(t, err)

	ctx := context.Background()
	objects := client.ListObjects(ctx, cfg.Bucket, minio.ListObjectsOptions{Recursive: true})
	for res := range client.RemoveObjects(ctx, cfg.Bucket, objects, minio.RemoveObjectsOptions{}) {
		require.NoError(t, res.Err, "remove %s", res.ObjectName)
	}
}
