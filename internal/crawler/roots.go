package crawler

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
)

// LoadRoots reads the root list at path. See ReadRoots.
func LoadRoots(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open roots file: %w", err)
	}
	defer func() { _ = f.Close() }()
	roots, err := ReadRoots(f)
	if err != nil {
		return nil, fmt.Errorf("read roots file %s: %w", path, err)
	}
	return roots, nil
}

// ReadRoots parses one absolute http(s) URL per line. Blank lines and lines
// starting with '#' are ignored; every URL is normalized and duplicates are
// dropped while preserving first-seen order.
func ReadRoots(r io.Reader) ([]string, error) {
	var roots []string
	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("line %d: %q is not an absolute http(s) URL", line, raw)
		}
		root := CanonicalRoot(raw)
		if _, dup := seen[root]; dup {
			continue
		}
		seen[root] = struct{}{}
		roots = append(roots, root)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan roots: %w", err)
	}
	return roots, nil
}
