package storage

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xammer/billops/internal/infrastructure/config"
)

func testStorageConfig() *config.StorageConfig {
	return &config.StorageConfig{
		Bucket:            "bills",
		AccessKey:         "test-key",
		SecretKey:         "test-secret",
		Region:            "us-east-1",
		Endpoint:          "http://localhost:9000",
		UsePathStyle:      true,
		PresignExpiration: 15 * time.Minute,
	}
}

func TestNewS3BlobStore_Validation(t *testing.T) {
	t.Run("nil config returns error", func(t *testing.T) {
		_, err := NewS3BlobStore(nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "configuration is required")
	})

	t.Run("missing bucket returns error", func(t *testing.T) {
		_, err := NewS3BlobStore(&config.StorageConfig{AccessKey: "k", SecretKey: "s"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bucket is required")
	})

	t.Run("missing access key returns error", func(t *testing.T) {
		_, err := NewS3BlobStore(&config.StorageConfig{Bucket: "b", SecretKey: "s"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "access key is required")
	})

	t.Run("missing secret key returns error", func(t *testing.T) {
		_, err := NewS3BlobStore(&config.StorageConfig{Bucket: "b", AccessKey: "k"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "secret key is required")
	})

	t.Run("endpoint without scheme is accepted", func(t *testing.T) {
		cfg := testStorageConfig()
		cfg.Endpoint = "localhost:9000"
		cfg.UseSSL = true
		store, err := NewS3BlobStore(cfg)
		require.NoError(t, err)
		assert.Equal(t, "bills", store.Bucket())
	})

	t.Run("default presign expiration is 15 minutes", func(t *testing.T) {
		cfg := testStorageConfig()
		cfg.PresignExpiration = 0
		store, err := NewS3BlobStore(cfg)
		require.NoError(t, err)
		assert.Equal(t, 15*time.Minute, store.presignExpiration)
	})

	t.Run("options are applied", func(t *testing.T) {
		store, err := NewS3BlobStore(testStorageConfig(),
			WithLogger(zaptest.NewLogger(t)),
			WithPresignExpiration(time.Hour),
		)
		require.NoError(t, err)
		assert.Equal(t, time.Hour, store.presignExpiration)
	})
}

func TestS3BlobStore_PresignInline(t *testing.T) {
	store, err := NewS3BlobStore(testStorageConfig())
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("empty key returns error", func(t *testing.T) {
		link, _, err := store.PresignInline(ctx, "", time.Minute)
		require.Error(t, err)
		assert.Empty(t, link)
	})

	t.Run("link renders inline", func(t *testing.T) {
		link, expiresAt, err := store.PresignInline(ctx, "bills/t1/abc/invoice.pdf", 0)
		require.NoError(t, err)

		u, err := url.Parse(link)
		require.NoError(t, err)
		assert.Equal(t, "localhost:9000", u.Host)
		assert.Contains(t, u.Path, "/bills/bills/t1/abc/invoice.pdf")
		assert.Equal(t, `inline; filename="invoice.pdf"`, u.Query().Get("response-content-disposition"))
		assert.Equal(t, "900", u.Query().Get("X-Amz-Expires"))
		assert.WithinDuration(t, time.Now().Add(15*time.Minute), expiresAt, 5*time.Second)
	})
}

func TestS3BlobStore_EmptyKey(t *testing.T) {
	store, err := NewS3BlobStore(testStorageConfig())
	require.NoError(t, err)
	ctx := context.Background()

	require.ErrorIs(t, store.Put(ctx, "", "text/csv", []byte("x")), errEmptyKey)
	_, err = store.Get(ctx, "")
	require.ErrorIs(t, err, errEmptyKey)
}
