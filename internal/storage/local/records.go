package local

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/JakeFAU/arcgis-catalog-crawler/internal/crawler"
)

var recordJSON = jsoniter.ConfigCompatibleWithStandardLibrary

const maxRecordLine = 16 << 20

// RecordFile appends layer records to an NDJSON file, one record per line.
// URLs already present in the file are never written twice.
type RecordFile struct {
	mu   sync.Mutex
	path string
	file *os.File
	seen map[string]struct{}
}

// OpenRecordFile opens or creates the record file at path and indexes the
// URLs it already holds. A torn final line left by a crash is terminated so
// later appends start on a fresh line.
func OpenRecordFile(path string) (*RecordFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create record directory: %w", err)
	}
	seen := make(map[string]struct{})
	torn, err := scanRecords(path, func(rec crawler.LayerRecord) {
		seen[rec.URL] = struct{}{}
	})
	if err != nil {
		return nil, err
	}
	// #nosec G304 -- path comes from operator configuration.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open record file: %w", err)
	}
	if torn {
		if _, err := f.Write([]byte("\n")); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("repair record file: %w", err)
		}
	}
	return &RecordFile{path: path, file: f, seen: seen}, nil
}

// Append writes the records whose URL is not yet stored and fsyncs the file
// before returning.
func (s *RecordFile) Append(ctx context.Context, _ string, records []crawler.LayerRecord) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return 0, errors.New("record file is closed")
	}

	var buf bytes.Buffer
	fresh := make([]string, 0, len(records))
	batch := make(map[string]struct{}, len(records))
	for _, rec := range records {
		if _, ok := s.seen[rec.URL]; ok {
			continue
		}
		if _, ok := batch[rec.URL]; ok {
			continue
		}
		line, err := recordJSON.Marshal(rec)
		if err != nil {
			return 0, fmt.Errorf("encode record %s: %w", rec.URL, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
		batch[rec.URL] = struct{}{}
		fresh = append(fresh, rec.URL)
	}
	if len(fresh) == 0 {
		return 0, nil
	}
	if _, err := s.file.Write(buf.Bytes()); err != nil {
		return 0, fmt.Errorf("write records: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return 0, fmt.Errorf("sync records: %w", err)
	}
	for _, u := range fresh {
		s.seen[u] = struct{}{}
	}
	return len(fresh), nil
}

// Records reads every stored record ordered by URL.
func (s *RecordFile) Records(ctx context.Context) ([]crawler.LayerRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []crawler.LayerRecord
	index := make(map[string]struct{})
	if _, err := scanRecords(s.path, func(rec crawler.LayerRecord) {
		if _, dup := index[rec.URL]; dup {
			return
		}
		index[rec.URL] = struct{}{}
		out = append(out, rec)
	}); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out, nil
}

// Close closes the underlying file.
func (s *RecordFile) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	if err != nil {
		return fmt.Errorf("close record file: %w", err)
	}
	return nil
}

// scanRecords calls fn for every decodable line of the file at path and
// reports whether the file ends without a newline. A missing file is empty.
func scanRecords(path string, fn func(crawler.LayerRecord)) (bool, error) {
	// #nosec G304 -- path comes from operator configuration.
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("open record file: %w", err)
	}
	defer func() { _ = f.Close() }()

	reader := bufio.NewReaderSize(f, 64<<10)
	torn := false
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			torn = line[len(line)-1] != '\n'
			line = bytes.TrimSpace(line)
			if len(line) > 0 && len(line) <= maxRecordLine {
				var rec crawler.LayerRecord
				if recordJSON.Unmarshal(line, &rec) == nil && rec.URL != "" {
					fn(rec)
				}
			}
		}
		if errors.Is(err, io.EOF) {
			return torn, nil
		}
		if err != nil {
			return false, fmt.Errorf("read record file: %w", err)
		}
	}
}
