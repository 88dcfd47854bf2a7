// Package share abstracts access to the remote log share behind a small
// connect/list/stat/exists surface so callers never care whether files come
// from SMB, a local directory, or a test double.
package share

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/agrayLee/SAM-Log-Analysis/internal/config"
)

// Connector is one authenticated session against a log share. A connector
// is used for exactly one ingestion run: Connect fresh, Disconnect at the
// end, never pooled. All operations are synchronous and may block for the
// configured per-operation timeout; callers must not invoke them on a
// scheduler tick path.
//
// Paths are share-relative and slash-separated (e.g. "20250811/x.log");
// each implementation maps them to its own separator.
type Connector interface {
	Connect(ctx context.Context) error
	Disconnect()
	Exists(path string) bool
	List(dir string) ([]string, error)
	Size(path string) (int64, error)
	Open(path string) (io.ReadCloser, error)
}

// Factory builds a fresh Connector per run.
type Factory func() Connector

// NewFactory selects the connector backend from configuration.
func NewFactory(cfg config.ShareConfig, log zerolog.Logger) (Factory, error) {
	switch cfg.Mode {
	case "smb":
		if cfg.Host == "" || cfg.Username == "" {
			return nil, fmt.Errorf("smb share requires host and username")
		}
		return func() Connector { return NewSMBConnector(cfg, log) }, nil
	case "local":
		if cfg.LocalRoot == "" {
			return nil, fmt.Errorf("local share requires local_root")
		}
		return func() Connector { return NewLocalConnector(cfg.LocalRoot) }, nil
	default:
		return nil, fmt.Errorf("unknown share mode %q", cfg.Mode)
	}
}
