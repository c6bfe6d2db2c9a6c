package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/arcgis-catalog-crawler/internal/config"
	"github.com/JakeFAU/arcgis-catalog-crawler/internal/crawler"
	memorypublisher "github.com/JakeFAU/arcgis-catalog-crawler/internal/publisher/memory"
	"github.com/JakeFAU/arcgis-catalog-crawler/internal/storage/local"
)

// mockCloser records Close calls so shutdown order can be asserted.
type mockCloser struct {
	mock.Mock
}

func (m *mockCloser) Close() error {
	args := m.Called()
	return args.Error(0)
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	dir := t.TempDir()
	cfg.Sink.RecordsPath = filepath.Join(dir, "records.ndjson")
	cfg.Sink.CheckpointPath = filepath.Join(dir, "checkpoint.txt")
	cfg.Sink.SQLitePath = filepath.Join(dir, "catalog.db")
	cfg.Export.Dir = filepath.Join(dir, "exports")
	cfg.HTTP.RetryDelay = time.Millisecond
	return cfg
}

func catalog() http.Handler {
	docs := map[string]string{
		"/arcgis/rest/services":                       `{"folders":[],"services":[{"name":"Water","type":"FeatureServer"}]}`,
		"/arcgis/rest/services/Water/FeatureServer":   `{"layers":[{"id":0,"name":"Hydrants"}]}`,
		"/arcgis/rest/services/Water/FeatureServer/0": `{"name":"Hydrants","fields":[{"name":"OBJECTID"}],"description":"<p>Fire hydrants</p>","geometryType":"esriGeometryPoint"}`,
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := docs[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	})
}

func TestNewRunsCrawlEndToEnd(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(catalog())
	defer srv.Close()

	cfg := testConfig(t)
	cfg.Notify.Driver = "memory"

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	root := srv.URL + "/arcgis/rest/services"
	summary, err := a.Runner().Run(context.Background(), []string{root})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, 1, summary.RecordsWritten)

	records, err := a.Store().Records(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Hydrants", records[0].LayerName)
	assert.Equal(t, "Fire hydrants", records[0].Description)

	done, err := a.Store().IsDone(context.Background(), root)
	require.NoError(t, err)
	assert.True(t, done)

	pub, ok := a.Publisher().(*memorypublisher.Publisher)
	require.True(t, ok)
	notices := pub.Notices()
	require.Len(t, notices, 1)
	assert.Equal(t, crawler.RootCompleted, notices[0].State)
	assert.Equal(t, cfg.Notify.Topic, pub.Messages()[0].Topic)

	// Second run over the same file store skips the root.
	summary, err = a.Runner().Run(context.Background(), []string{root})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
}

func TestNewStoreDrivers(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{config.SinkFile, config.SinkSQLite, config.SinkMemory} {
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig(t)
			cfg.Sink.Driver = driver

			store, err := NewStore(context.Background(), cfg, nil)
			require.NoError(t, err)
			defer func() { require.NoError(t, store.Close()) }()

			n, err := store.Append(context.Background(), "http://x", []crawler.LayerRecord{{URL: "http://x/a/MapServer/0", LayerName: "A"}})
			require.NoError(t, err)
			assert.Equal(t, 1, n)
			require.NoError(t, store.MarkDone(context.Background(), "http://x"))
			roots, err := store.Completed(context.Background())
			require.NoError(t, err)
			assert.Equal(t, []string{"http://x"}, roots)
		})
	}

	cfg := testConfig(t)
	cfg.Sink.Driver = "redis"
	_, err := NewStore(context.Background(), cfg, nil)
	require.Error(t, err)
}

func TestNewPublisherDrivers(t *testing.T) {
	t.Parallel()

	p, closeFn, err := NewPublisher(context.Background(), config.NotifyConfig{Driver: "none"}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Nil(t, closeFn)

	p, closeFn, err = NewPublisher(context.Background(), config.NotifyConfig{Driver: "kafka", Brokers: "localhost:9092"}, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, p)
	require.NoError(t, closeFn())

	_, _, err = NewPublisher(context.Background(), config.NotifyConfig{Driver: "sns"}, zap.NewNop())
	require.Error(t, err)
}

func TestNewBlobStoreLocal(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	store, closeFn, err := NewBlobStore(context.Background(), cfg.Export)
	require.NoError(t, err)
	assert.Nil(t, closeFn)
	assert.IsType(t, &local.BlobStore{}, store)

	uri, err := store.PutObject(context.Background(), "records.json", "application/json", strings.NewReader("[]"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(uri, "file://"))

	_, _, err = NewBlobStore(context.Background(), config.ExportConfig{Driver: "ftp"})
	require.Error(t, err)
}

func TestCloseRunsInReverseOrder(t *testing.T) {
	t.Parallel()

	var order []string
	first, second := &mockCloser{}, &mockCloser{}
	first.On("Close").Run(func(mock.Arguments) { order = append(order, "first") }).Return(nil)
	second.On("Close").Run(func(mock.Arguments) { order = append(order, "second") }).Return(assert.AnError)

	a := &App{logger: zap.NewNop(), closers: []func() error{first.Close, second.Close}}
	a.Close()
	a.Close()

	assert.Equal(t, []string{"second", "first"}, order)
	first.AssertNumberOfCalls(t, "Close", 1)
	second.AssertNumberOfCalls(t, "Close", 1)
}
