package storage_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImageStore_PutAndDelete(t *testing.T) {
	store := testImageStore(t)
	ctx := context.Background()

	data := []byte("\x89PNG\r\n\x1a\nfake")
	url, err := store.PutImage(ctx, "cover.PNG", bytes.NewReader(data), int64(len(data)), "image/png")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(url, ".png"), url)

	key, ok := store.KeyFromURL(url)
	require.True(t, ok)

	exists, err := store.ImageExists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, store.DeleteImage(ctx, key))
	exists, err = store.ImageExists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestImageStore_DeleteMissingIsNoop(t *testing.T) {
	store := testImageStore(t)
	assert.NoError(t, store.DeleteImage(context.Background(), "0-missing.png"))
}

func TestImageStore_HealthCheck(t *testing.T) {
	store := testImageStore(t)
	assert.NoError(t, store.HealthCheck(context.Background()))
}
