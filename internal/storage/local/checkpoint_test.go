package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/arcgis-catalog-crawler/internal/storage/local"
)

func TestCheckpointFileLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "processed_roots.txt")

	cp, err := local.OpenCheckpointFile(path)
	require.NoError(t, err)

	done, err := cp.IsDone(ctx, "http://a/rest/services")
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, cp.MarkDone(ctx, "http://b/rest/services"))
	require.NoError(t, cp.MarkDone(ctx, "http://a/rest/services"))
	require.NoError(t, cp.MarkDone(ctx, "http://a/rest/services"))
	require.NoError(t, cp.Close())

	// #nosec G304 -- test reads from the controlled temp directory.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "http://b/rest/services\nhttp://a/rest/services\n", string(raw))

	reopened, err := local.OpenCheckpointFile(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	done, err = reopened.IsDone(ctx, "http://a/rest/services")
	require.NoError(t, err)
	assert.True(t, done)

	roots, err := reopened.Completed(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://a/rest/services", "http://b/rest/services"}, roots)
}

func TestCheckpointFileReset(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "processed_roots.txt")
	require.NoError(t, os.WriteFile(path, []byte("http://a\n\nhttp://b\nhttp://c\n"), 0o600))

	cp, err := local.OpenCheckpointFile(path)
	require.NoError(t, err)
	defer func() { _ = cp.Close() }()

	require.NoError(t, cp.Reset(ctx, "http://b"))
	roots, err := cp.Completed(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://a", "http://c"}, roots)

	require.NoError(t, cp.MarkDone(ctx, "http://d"))
	// #nosec G304 -- test reads from the controlled temp directory.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "http://a\nhttp://c\nhttp://d\n", string(raw))

	require.NoError(t, cp.Reset(ctx))
	roots, err = cp.Completed(ctx)
	require.NoError(t, err)
	assert.Empty(t, roots)
}

func TestCheckpointFileRepairsTornLine(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "processed_roots.txt")
	require.NoError(t, os.WriteFile(path, []byte("http://a/rest/services\nhttp://b/re"), 0o600))

	cp, err := local.OpenCheckpointFile(path)
	require.NoError(t, err)
	done, err := cp.IsDone(ctx, "http://b/re")
	require.NoError(t, err)
	assert.False(t, done)
	require.NoError(t, cp.MarkDone(ctx, "http://c/rest/services"))
	require.NoError(t, cp.Close())

	reopened, err := local.OpenCheckpointFile(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	done, err = reopened.IsDone(ctx, "http://c/rest/services")
	require.NoError(t, err)
	assert.True(t, done)

	roots, err := reopened.Completed(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://a/rest/services", "http://b/re", "http://c/rest/services"}, roots)
}
