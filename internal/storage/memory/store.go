// Package memory provides in-memory stores for tests and dry runs.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/arcgis-catalog-crawler/internal/crawler"
)

// Store keeps records and checkpoint state in memory. It satisfies
// crawler.RecordSink, crawler.RecordSource and crawler.Checkpoint.
type Store struct {
	mu      sync.RWMutex
	records map[string]crawler.LayerRecord
	done    map[string]struct{}
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		records: make(map[string]crawler.LayerRecord),
		done:    make(map[string]struct{}),
	}
}

// Append stores records whose URL is new and returns how many were kept.
func (s *Store) Append(_ context.Context, _ string, records []crawler.LayerRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	written := 0
	for _, rec := range records {
		if _, ok := s.records[rec.URL]; ok {
			continue
		}
		rec.Fields = append([]string(nil), rec.Fields...)
		s.records[rec.URL] = rec
		written++
	}
	return written, nil
}

// Records returns all records ordered by URL.
func (s *Store) Records(context.Context) ([]crawler.LayerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.LayerRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out, nil
}

// IsDone reports whether root is checkpointed.
func (s *Store) IsDone(_ context.Context, root string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.done[root]
	return ok, nil
}

// MarkDone checkpoints root.
func (s *Store) MarkDone(_ context.Context, root string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done[root] = struct{}{}
	return nil
}

// Completed lists checkpointed roots in lexical order.
func (s *Store) Completed(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.done))
	for root := range s.done {
		out = append(out, root)
	}
	sort.Strings(out)
	return out, nil
}

// Reset forgets the given roots, or every root when none are given.
func (s *Store) Reset(_ context.Context, roots ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(roots) == 0 {
		s.done = make(map[string]struct{})
		return nil
	}
	for _, root := range roots {
		delete(s.done, root)
	}
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}
