// Package local_test tests the local filesystem backend.
package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pnrr-announcements/internal/docstore"
	"github.com/JakeFAU/pnrr-announcements/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		backend, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, backend)
	})

	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "a", "b")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "testfile")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

func TestReadWrite(t *testing.T) {
	tempDir := t.TempDir()
	backend, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("MissingDocument", func(t *testing.T) {
		_, gen, err := backend.Read(ctx, "absent.json")
		require.ErrorIs(t, err, docstore.ErrNotFound)
		assert.Zero(t, gen)
	})

	t.Run("RoundTripNested", func(t *testing.T) {
		gen, err := backend.Write(ctx, "notifications/abc.json", []byte(`{"a":1}`), nil)
		require.NoError(t, err)
		assert.Zero(t, gen)

		data, gen, err := backend.Read(ctx, "notifications/abc.json")
		require.NoError(t, err)
		assert.Zero(t, gen)
		assert.JSONEq(t, `{"a":1}`, string(data))

		entries, err := os.ReadDir(filepath.Join(tempDir, "notifications"))
		require.NoError(t, err)
		require.Len(t, entries, 1, "temporary files must not be left behind")
	})

	t.Run("GenerationIsIgnored", func(t *testing.T) {
		stale := int64(42)
		_, err := backend.Write(ctx, "doc.json", []byte(`{}`), &stale)
		require.NoError(t, err)
	})

	t.Run("PathTraversal", func(t *testing.T) {
		_, err := backend.Write(ctx, "../escape.json", []byte(`{}`), nil)
		assert.Error(t, err)
		_, _, err = backend.Read(ctx, "../../etc/passwd")
		assert.Error(t, err)
	})

	t.Run("EmptyName", func(t *testing.T) {
		_, err := backend.Write(ctx, "", []byte(`{}`), nil)
		assert.Error(t, err)
	})
}
