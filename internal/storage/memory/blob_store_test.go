package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte(`[{"url":"http://x/0"}]`)
	uri, err := store.PutObject(context.Background(), "exports/records.json", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, "memory://exports/records.json", uri)

	payload[0] = '{'
	got, ok := store.Object("exports/records.json")
	require.True(t, ok)
	assert.Equal(t, `[{"url":"http://x/0"}]`, string(got))
}
