package local

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// CheckpointFile records completed roots, one URL per line. Every MarkDone
// is fsynced before it returns.
type CheckpointFile struct {
	mu   sync.Mutex
	path string
	file *os.File
	done map[string]struct{}
}

// OpenCheckpointFile loads the checkpoint at path. A missing file is an
// empty checkpoint.
func OpenCheckpointFile(path string) (*CheckpointFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}
	done, torn, err := readCheckpoint(path)
	if err != nil {
		return nil, err
	}
	c := &CheckpointFile{path: path, done: done}
	if err := c.openAppend(); err != nil {
		return nil, err
	}
	// Terminate a line left partial by a crash so the next root starts clean.
	if torn {
		if _, err := c.file.WriteString("\n"); err != nil {
			_ = c.file.Close()
			return nil, fmt.Errorf("repair checkpoint file: %w", err)
		}
	}
	return c, nil
}

func (c *CheckpointFile) openAppend() error {
	// #nosec G304 -- path comes from operator configuration.
	f, err := os.OpenFile(c.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open checkpoint file: %w", err)
	}
	c.file = f
	return nil
}

// IsDone reports whether root is checkpointed.
func (c *CheckpointFile) IsDone(_ context.Context, root string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.done[root]
	return ok, nil
}

// MarkDone appends root to the checkpoint.
func (c *CheckpointFile) MarkDone(_ context.Context, root string) error {
	root = strings.TrimSpace(root)
	if root == "" {
		return errors.New("root is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.done[root]; ok {
		return nil
	}
	if c.file == nil {
		return errors.New("checkpoint file is closed")
	}
	if _, err := c.file.WriteString(root + "\n"); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := c.file.Sync(); err != nil {
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	c.done[root] = struct{}{}
	return nil
}

// Completed lists checkpointed roots in lexical order.
func (c *CheckpointFile) Completed(context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.done))
	for root := range c.done {
		out = append(out, root)
	}
	sort.Strings(out)
	return out, nil
}

// Reset removes the given roots, or all roots when none are given. The file
// is rewritten through a temporary file and renamed into place.
func (c *CheckpointFile) Reset(_ context.Context, roots ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	keep := make(map[string]struct{}, len(c.done))
	if len(roots) > 0 {
		drop := make(map[string]struct{}, len(roots))
		for _, r := range roots {
			drop[strings.TrimSpace(r)] = struct{}{}
		}
		for root := range c.done {
			if _, ok := drop[root]; !ok {
				keep[root] = struct{}{}
			}
		}
	}

	lines := make([]string, 0, len(keep))
	for root := range keep {
		lines = append(lines, root)
	}
	sort.Strings(lines)
	var body string
	if len(lines) > 0 {
		body = strings.Join(lines, "\n") + "\n"
	}
	if err := writeFileAtomic(c.path, []byte(body)); err != nil {
		return fmt.Errorf("rewrite checkpoint: %w", err)
	}
	if c.file != nil {
		_ = c.file.Close()
	}
	if err := c.openAppend(); err != nil {
		return err
	}
	c.done = keep
	return nil
}

// Close closes the checkpoint file.
func (c *CheckpointFile) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil
	if err != nil {
		return fmt.Errorf("close checkpoint file: %w", err)
	}
	return nil
}

// readCheckpoint loads the roots in path and reports whether the final line
// lacks its newline. That fragment is not counted as done.
func readCheckpoint(path string) (map[string]struct{}, bool, error) {
	done := make(map[string]struct{})
	// #nosec G304 -- path comes from operator configuration.
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return done, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("open checkpoint file: %w", err)
	}
	defer func() { _ = f.Close() }()

	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadString('\n')
		if errors.Is(err, io.EOF) {
			return done, line != "", nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("read checkpoint file: %w", err)
		}
		if root := strings.TrimSpace(line); root != "" {
			done[root] = struct{}{}
		}
	}
}
