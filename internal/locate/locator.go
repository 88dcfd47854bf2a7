// Package locate discovers the log files belonging to one date folder: the
// current file plus its rotated slices, in chronological order.
package locate

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/agrayLee/SAM-Log-Analysis/internal/model"
	"github.com/agrayLee/SAM-Log-Analysis/internal/share"
)

// maxSlices bounds the existence probes for rotated files. Rotation never
// produces more in practice.
const maxSlices = 20

var dateToken = regexp.MustCompile(`(\d{8})$`)

// Locator finds log files on a connected share.
type Locator struct {
	log zerolog.Logger
}

// New returns a Locator.
func New(log zerolog.Logger) *Locator {
	return &Locator{log: log.With().Str("component", "locate").Logger()}
}

// Locate enumerates the current file and its rotation slices for one date
// folder. The current file is always first (index 0); slices follow in
// ascending index order. Probing stops at the first missing index because
// rotation never leaves gaps. A missing folder or current file yields an
// empty list: no logs for a date is a normal condition.
//
// Descriptors are rebuilt fresh on every call, never cached across runs.
func (l *Locator) Locate(conn share.Connector, dateFolder, baseName string) []model.FileDescriptor {
	m := dateToken.FindStringSubmatch(strings.TrimRight(dateFolder, `\/`))
	if m == nil {
		l.log.Warn().Str("folder", dateFolder).Msg("no date token in folder path")
		return nil
	}
	current := fmt.Sprintf("%s_%s.log", baseName, m[1])
	currentPath := path.Join(dateFolder, current)
	if !conn.Exists(currentPath) {
		return nil
	}

	files := []model.FileDescriptor{{
		Path:      currentPath,
		Name:      current,
		Kind:      model.FileKindCurrent,
		Index:     0,
		SizeBytes: sizeOf(conn, currentPath),
	}}
	for i := 1; i <= maxSlices; i++ {
		slicePath := fmt.Sprintf("%s.%d", currentPath, i)
		if !conn.Exists(slicePath) {
			break
		}
		files = append(files, model.FileDescriptor{
			Path:      slicePath,
			Name:      fmt.Sprintf("%s.%d", current, i),
			Kind:      model.FileKindSlice,
			Index:     i,
			SizeBytes: sizeOf(conn, slicePath),
		})
	}

	l.log.Info().Str("folder", dateFolder).Int("files", len(files)).Msg("located log files")
	return files
}

func sizeOf(conn share.Connector, p string) int64 {
	size, err := conn.Size(p)
	if err != nil {
		return 0
	}
	return size
}
