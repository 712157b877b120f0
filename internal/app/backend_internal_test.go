package app

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/api/option"

	"github.com/JakeFAU/pnrr-announcements/internal/config"
	"github.com/JakeFAU/pnrr-announcements/internal/docstore"
	"github.com/JakeFAU/pnrr-announcements/internal/storage/gcs"
	"github.com/JakeFAU/pnrr-announcements/internal/storage/local"
)

func gcsApp(t *testing.T, bucket string, fallback bool) (*App, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.InfoLevel)
	a := &App{Logger: zap.New(core)}
	a.Config.Store = config.StoreConfig{
		Backend:       config.BackendGCS,
		GCSBucket:     bucket,
		LocalDir:      t.TempDir(),
		FallbackLocal: fallback,
	}
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a, logs
}

func stubStorageClient(t *testing.T, fn func(context.Context) (*storage.Client, error)) {
	t.Helper()
	prev := newStorageClient
	newStorageClient = fn
	t.Cleanup(func() { newStorageClient = prev })
}

func TestGCSBackendDegradesWhenClientFails(t *testing.T) {
	stubStorageClient(t, func(context.Context) (*storage.Client, error) {
		return nil, errors.New("could not find default credentials")
	})
	a, logs := gcsApp(t, "bucket", true)

	backend, err := a.documentBackend(context.Background())
	require.NoError(t, err)
	assert.IsType(t, &local.Backend{}, backend)
	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.WarnLevel).Len())
}

func TestGCSBackendDegradesWhenBucketInvalid(t *testing.T) {
	stubStorageClient(t, func(ctx context.Context) (*storage.Client, error) {
		return storage.NewClient(ctx, option.WithoutAuthentication())
	})
	a, logs := gcsApp(t, "", true)

	backend, err := a.documentBackend(context.Background())
	require.NoError(t, err)
	assert.IsType(t, &local.Backend{}, backend)
	assert.Equal(t, 1, logs.FilterMessage("gcs store unavailable, using local document store").Len())
}

func TestGCSBackendWrapsWithLocalFallback(t *testing.T) {
	stubStorageClient(t, func(ctx context.Context) (*storage.Client, error) {
		return storage.NewClient(ctx, option.WithoutAuthentication())
	})
	a, _ := gcsApp(t, "bucket", true)

	backend, err := a.documentBackend(context.Background())
	require.NoError(t, err)
	assert.IsType(t, &docstore.Fallback{}, backend)
}

func TestGCSBackendWithoutFallback(t *testing.T) {
	stubStorageClient(t, func(ctx context.Context) (*storage.Client, error) {
		return storage.NewClient(ctx, option.WithoutAuthentication())
	})
	a, _ := gcsApp(t, "bucket", false)

	backend, err := a.documentBackend(context.Background())
	require.NoError(t, err)
	assert.IsType(t, &gcs.Backend{}, backend)
}
