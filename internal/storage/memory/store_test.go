package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/arcgis-catalog-crawler/internal/crawler"
)

func TestStoreAppendAndRecords(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewStore()

	fields := []string{"OBJECTID"}
	n, err := store.Append(ctx, "root", []crawler.LayerRecord{
		{URL: "http://x/b", Fields: fields},
		{URL: "http://x/a"},
		{URL: "http://x/b"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	fields[0] = "mutated"

	records, err := store.Records(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "http://x/a", records[0].URL)
	assert.Equal(t, []string{"OBJECTID"}, records[1].Fields)
}

func TestStoreCheckpoint(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewStore()

	require.NoError(t, store.MarkDone(ctx, "http://b"))
	require.NoError(t, store.MarkDone(ctx, "http://a"))
	done, err := store.IsDone(ctx, "http://a")
	require.NoError(t, err)
	assert.True(t, done)

	roots, err := store.Completed(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://a", "http://b"}, roots)

	require.NoError(t, store.Reset(ctx, "http://a"))
	done, err = store.IsDone(ctx, "http://a")
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, store.Reset(ctx))
	roots, err = store.Completed(ctx)
	require.NoError(t, err)
	assert.Empty(t, roots)
}

func TestRunnerWithMemoryStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewStore()
	walker := walkerFunc(func(_ context.Context, root string) (crawler.WalkResult, error) {
		return crawler.WalkResult{
			Root:    root,
			State:   crawler.RootCompleted,
			Records: []crawler.LayerRecord{{URL: root + "/Water/FeatureServer/0"}},
		}, nil
	})
	runner := crawler.NewRunner(walker, store, store, nil, crawler.RunnerConfig{}, nil)

	summary, err := runner.Run(ctx, []string{"http://x/arcgis/rest/services"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, 1, summary.RecordsWritten)
	assert.NotEmpty(t, summary.RunID)

	summary, err = runner.Run(ctx, []string{"http://x/arcgis/rest/services"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
}

type walkerFunc func(context.Context, string) (crawler.WalkResult, error)

func (f walkerFunc) Walk(ctx context.Context, root string) (crawler.WalkResult, error) {
	return f(ctx, root)
}
