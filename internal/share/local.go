package share

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalConnector serves share paths from a directory on disk. It backs the
// "local" share mode, the bundled fixture dataset used when the remote
// share is unreachable, and tests.
type LocalConnector struct {
	root string
}

// NewLocalConnector returns a connector rooted at dir.
func NewLocalConnector(dir string) *LocalConnector {
	return &LocalConnector{root: dir}
}

// Connect verifies the root directory exists.
func (c *LocalConnector) Connect(ctx context.Context) error {
	fi, err := os.Stat(c.root)
	if err != nil {
		return fmt.Errorf("share root %s: %w", c.root, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("share root %s is not a directory", c.root)
	}
	return nil
}

func (c *LocalConnector) Disconnect() {}

func (c *LocalConnector) Exists(path string) bool {
	_, err := os.Stat(c.abs(path))
	return err == nil
}

func (c *LocalConnector) List(dir string) ([]string, error) {
	entries, err := os.ReadDir(c.abs(dir))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

func (c *LocalConnector) Size(path string) (int64, error) {
	fi, err := os.Stat(c.abs(path))
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	return fi.Size(), nil
}

func (c *LocalConnector) Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(c.abs(path))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}

func (c *LocalConnector) abs(p string) string {
	return filepath.Join(c.root, filepath.FromSlash(p))
}
