package crawler

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/arcgis-catalog-crawler/internal/metrics"
)

// DefaultServiceTypes are the service types descended into when none are configured.
var DefaultServiceTypes = []string{"FeatureServer", "MapServer"}

// WalkerConfig tunes a Walker.
type WalkerConfig struct {
	// Workers is the number of goroutines draining one walk's queue.
	Workers int
	// ServiceTypes lists the service types to descend into (case-insensitive).
	ServiceTypes []string
	Geometry     GeometryPolicy
	// MaxFolderDepth limits subfolder nesting; 0 means unlimited.
	MaxFolderDepth int
}

// Walker traverses a catalog tree from a root listing down to layers.
type Walker struct {
	client       CatalogClient
	workers      int
	serviceTypes map[string]struct{}
	geometry     GeometryPolicy
	maxDepth     int
	logger       *zap.Logger
}

// NewWalker builds a Walker on top of a CatalogClient.
func NewWalker(client CatalogClient, cfg WalkerConfig, logger *zap.Logger) *Walker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConcurrency
	}
	if len(cfg.ServiceTypes) == 0 {
		cfg.ServiceTypes = DefaultServiceTypes
	}
	types := make(map[string]struct{}, len(cfg.ServiceTypes))
	for _, t := range cfg.ServiceTypes {
		types[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
	}
	if cfg.Geometry.allowed == nil {
		cfg.Geometry = NewGeometryPolicy(nil, cfg.Geometry.keepUnknown)
	}
	return &Walker{
		client:       client,
		workers:      cfg.Workers,
		serviceTypes: types,
		geometry:     cfg.Geometry,
		maxDepth:     cfg.MaxFolderDepth,
		logger:       logger.Named("walker"),
	}
}

// Walk fetches the root listing and then every reachable folder, service
// and layer below it. Failures below the root are logged and counted; the
// walk still returns the records of every healthy branch. Only an
// unreachable root listing is returned as an error (ErrRootUnreachable).
func (w *Walker) Walk(ctx context.Context, rootURL string) (WalkResult, error) {
	root := CanonicalRoot(rootURL)
	logger := w.logger.With(zap.String("root", root))
	logger.Info("listing root")

	listing, err := w.client.Fetch(ctx, root)
	if err != nil {
		return WalkResult{Root: root, State: RootFailed}, fmt.Errorf("%w: %s: %w", ErrRootUnreachable, root, err)
	}

	run := &walkRun{
		walker:  w,
		root:    root,
		logger:  logger,
		queue:   newWorkQueue(),
		visited: map[string]struct{}{root: {}},
		records: make(map[string]LayerRecord),
	}
	run.stats.Folders++
	run.expandFolder(node{kind: nodeFolder, url: root}, listing)

	var wg sync.WaitGroup
	for i := 0; i < w.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run.work(ctx)
		}()
	}
	wg.Wait()

	result := run.result()
	logger.Info("root walked",
		zap.String("state", string(result.State)),
		zap.Int("records", len(result.Records)),
		zap.Int("folders", result.Stats.Folders),
		zap.Int("services", result.Stats.Services),
		zap.Int("layers", result.Stats.Layers),
		zap.Int("failed_nodes", result.Stats.FailedNodes),
	)
	return result, nil
}

// walkRun holds the mutable state of one Walk call.
type walkRun struct {
	walker *Walker
	root   string
	logger *zap.Logger
	queue  *workQueue

	mu      sync.Mutex
	visited map[string]struct{}
	records map[string]LayerRecord
	stats   WalkStats
}

func (r *walkRun) work(ctx context.Context) {
	for {
		n, ok := r.queue.pop()
		if !ok {
			return
		}
		r.process(ctx, n)
		r.queue.done()
	}
}

func (r *walkRun) process(ctx context.Context, n node) {
	if err := ctx.Err(); err != nil {
		r.fail(n, err)
		return
	}
	doc, err := r.walker.client.Fetch(ctx, n.url)
	if err != nil {
		r.fail(n, err)
		return
	}
	switch n.kind {
	case nodeFolder:
		r.expandFolder(n, doc)
	case nodeService:
		r.expandService(n, doc)
	case nodeLayer:
		r.extractLayer(n, doc)
	}
}

// expandFolder enqueues the allowed services and subfolders of a listing.
func (r *walkRun) expandFolder(n node, doc Document) {
	var listing CatalogListing
	if err := doc.Decode(&listing); err != nil {
		r.malformed(n, err)
		return
	}
	for _, svc := range listing.Services {
		if _, ok := r.walker.serviceTypes[strings.ToLower(svc.Type)]; !ok || svc.Name == "" {
			r.count(func(s *WalkStats) { s.SkippedServices++ })
			continue
		}
		svcURL := JoinURL(r.root, resolveChildPath(n.path, svc.Name), svc.Type)
		if r.claim(svcURL) {
			r.count(func(s *WalkStats) { s.Services++ })
			r.queue.push(node{kind: nodeService, url: svcURL})
		}
	}
	for _, folder := range listing.Folders {
		if folder == "" {
			continue
		}
		depth := n.depth + 1
		if r.walker.maxDepth > 0 && depth > r.walker.maxDepth {
			r.logger.Debug("folder beyond max depth", zap.String("folder", folder), zap.Int("depth", depth))
			continue
		}
		path := resolveChildPath(n.path, folder)
		folderURL := JoinURL(r.root, path)
		if r.claim(folderURL) {
			r.count(func(s *WalkStats) { s.Folders++ })
			r.queue.push(node{kind: nodeFolder, url: folderURL, path: path, depth: depth})
		}
	}
}

// expandService enqueues every layer and table of a service.
func (r *walkRun) expandService(n node, doc Document) {
	var desc ServiceDescriptor
	if err := doc.Decode(&desc); err != nil {
		r.malformed(n, err)
		return
	}
	refs := make([]LayerRef, 0, len(desc.Layers)+len(desc.Tables))
	refs = append(refs, desc.Layers...)
	refs = append(refs, desc.Tables...)
	for _, ref := range refs {
		if ref.ID == nil {
			r.logger.Debug("layer reference without id", zap.String("service", n.url), zap.String("name", ref.Name))
			continue
		}
		layerURL := JoinURL(n.url, strconv.Itoa(*ref.ID))
		if r.claim(layerURL) {
			r.count(func(s *WalkStats) { s.Layers++ })
			r.queue.push(node{kind: nodeLayer, url: layerURL})
		}
	}
}

func (r *walkRun) extractLayer(n node, doc Document) {
	var desc LayerDescriptor
	if err := doc.Decode(&desc); err != nil {
		r.malformed(n, err)
		return
	}
	record, ok := ExtractLayer(desc, n.url, r.walker.geometry)
	r.mu.Lock()
	defer r.mu.Unlock()
	if !ok {
		r.stats.SkippedLayers++
		return
	}
	r.records[record.URL] = record
}

// claim marks a URL visited and reports whether the caller is the first.
func (r *walkRun) claim(url string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, seen := r.visited[url]; seen {
		return false
	}
	r.visited[url] = struct{}{}
	return true
}

func (r *walkRun) count(update func(*WalkStats)) {
	r.mu.Lock()
	update(&r.stats)
	r.mu.Unlock()
}

func (r *walkRun) fail(n node, err error) {
	r.count(func(s *WalkStats) { s.FailedNodes++ })
	metrics.ObserveNodeFailure(string(n.kind))
	r.logger.Warn("catalog node failed",
		zap.String("kind", string(n.kind)),
		zap.String("url", n.url),
		zap.Error(err),
	)
}

// malformed logs a document whose shape does not match its node kind. The
// node contributes nothing but is not counted as a failure.
func (r *walkRun) malformed(n node, err error) {
	r.logger.Warn("unexpected catalog document shape",
		zap.String("kind", string(n.kind)),
		zap.String("url", n.url),
		zap.Error(err),
	)
}

func (r *walkRun) result() WalkResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	records := make([]LayerRecord, 0, len(r.records))
	for _, rec := range r.records {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].URL < records[j].URL })
	state := RootCompleted
	if r.stats.FailedNodes > 0 {
		state = RootPartiallyFailed
	}
	return WalkResult{
		Root:    r.root,
		State:   state,
		Records: records,
		Stats:   r.stats,
	}
}
