package crawler_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/arcgis-catalog-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/arcgis-catalog-crawler/internal/fetcher/colly"
)

// catalogServer is a fake ArcGIS REST directory.
type catalogServer struct {
	mu     sync.Mutex
	docs   map[string]string
	status map[string]int
	hits   map[string]int
}

func (s *catalogServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.hits[r.URL.Path]++
	body, ok := s.docs[r.URL.Path]
	status := s.status[r.URL.Path]
	s.mu.Unlock()

	if r.URL.Query().Get("f") != "json" {
		http.Error(w, "<html>not json</html>", http.StatusOK)
		return
	}
	if status != 0 {
		w.WriteHeader(status)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_, _ = w.Write([]byte(body))
}

func (s *catalogServer) hitCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func TestCrawlAgainstCatalogServer(t *testing.T) {
	t.Parallel()

	cat := &catalogServer{
		docs: map[string]string{
			"/arcgis/rest/services":                     `{"folders":["Utilities"],"services":[{"name":"Water","type":"FeatureServer"},{"name":"Broken","type":"MapServer"}]}`,
			"/arcgis/rest/services/Water/FeatureServer": `{"layers":[{"id":0},{"id":1}]}`,
			"/arcgis/rest/services/Water/FeatureServer/0": `{"name":"Hydrants","geometryType":"esriGeometryPoint",
				"description":"<div>Fire hydrants</div>","fields":[{"name":"OBJECTID"},{"name":"FLOW"}]}`,
			"/arcgis/rest/services/Water/FeatureServer/1":             `{"name":"Pressure Zones","geometryType":"esriGeometryPolygon","fields":[]}`,
			"/arcgis/rest/services/Utilities":                         `{"folders":[],"services":[{"name":"Utilities/Sewer","type":"FeatureServer"}]}`,
			"/arcgis/rest/services/Utilities/Sewer/FeatureServer":     `{"layers":[{"id":3}]}`,
			"/arcgis/rest/services/Utilities/Sewer/FeatureServer/3":   `{"name":"Mains","geometryType":"esriGeometryPolyline"}`,
		},
		status: map[string]int{"/arcgis/rest/services/Broken/MapServer": http.StatusServiceUnavailable},
		hits:   map[string]int{},
	}
	srv := httptest.NewServer(cat)
	defer srv.Close()

	client := crawler.NewClient(
		collyfetcher.New(collyfetcher.Config{Timeout: 2 * time.Second}),
		crawler.NewFixedRetryPolicy(3, 10*time.Millisecond),
		nil,
		crawler.ClientConfig{RequestTimeout: time.Second, Concurrency: 4},
		nil,
	)
	walker := crawler.NewWalker(client, crawler.WalkerConfig{Workers: 4}, nil)

	root := srv.URL + "/arcgis/rest/services/"
	result, err := walker.Walk(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, crawler.RootPartiallyFailed, result.State)
	assert.Equal(t, 3, cat.hitCount("/arcgis/rest/services/Broken/MapServer"))
	require.Len(t, result.Records, 2)
	assert.Equal(t, crawler.LayerRecord{
		LayerName:    "Mains",
		Fields:       []string{},
		Description:  crawler.DefaultDescription,
		GeometryType: "esriGeometryPolyline",
		URL:          srv.URL + "/arcgis/rest/services/Utilities/Sewer/FeatureServer/3",
	}, result.Records[0])
	assert.Equal(t, crawler.LayerRecord{
		LayerName:    "Hydrants",
		Fields:       []string{"OBJECTID", "FLOW"},
		Description:  "Fire hydrants",
		GeometryType: "esriGeometryPoint",
		URL:          srv.URL + "/arcgis/rest/services/Water/FeatureServer/0",
	}, result.Records[1])
}

func TestCrawlRootUnreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body>Sign in</body></html>"))
	}))
	defer srv.Close()

	client := crawler.NewClient(
		collyfetcher.New(collyfetcher.Config{}),
		crawler.NewFixedRetryPolicy(3, 0),
		nil,
		crawler.ClientConfig{},
		nil,
	)
	_, err := crawler.NewWalker(client, crawler.WalkerConfig{}, nil).Walk(context.Background(), srv.URL+"/arcgis/rest/services")
	require.ErrorIs(t, err, crawler.ErrRootUnreachable)
	require.ErrorIs(t, err, crawler.ErrInvalidContent)
}
