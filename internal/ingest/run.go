// Package ingest orchestrates one pass over the remote log share: connect,
// locate each date's files, parse them, and persist what is newer than the
// watermark.
package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/agrayLee/SAM-Log-Analysis/internal/locate"
	"github.com/agrayLee/SAM-Log-Analysis/internal/model"
	"github.com/agrayLee/SAM-Log-Analysis/internal/parse"
	"github.com/agrayLee/SAM-Log-Analysis/internal/share"
)

// Kind selects which dates and files one run covers.
type Kind string

const (
	// KindRealtime processes today's newest files only.
	KindRealtime Kind = "realtime"
	// KindRecent processes today, plus yesterday during the early hours.
	KindRecent Kind = "recent"
	// KindDaily is the deep scan over the last three days.
	KindDaily Kind = "daily"
	// KindManual processes one explicit date, or today.
	KindManual Kind = "manual"
)

// realtimeFileLimit caps how many files a realtime pass reads; only the
// newest slices matter between ticks.
const realtimeFileLimit = 2

// fixtureRecordLimit caps records taken from the bundled fixture dataset in
// degraded mode.
const fixtureRecordLimit = 10

// Store is the persistence gateway consumed by a run.
type Store interface {
	UpsertBatch(ctx context.Context, records []model.CorrelatedRecord) (model.UpsertResult, error)
	Watermark(ctx context.Context) (model.Watermark, error)
	RecordFileProgress(ctx context.Context, p model.FileProgress) error
}

// Archiver optionally keeps a gzip-JSON copy of each persisted batch.
type Archiver interface {
	StoreBatch(ctx context.Context, records []model.CorrelatedRecord) (string, error)
}

// Runner executes ingestion passes. A Runner is shared by all triggers but
// only one Run executes at a time; the scheduler enforces that.
type Runner struct {
	Connect     share.Factory
	Store       Store
	Locator     *locate.Locator
	Correlator  *parse.Correlator
	Archive     Archiver // nil disables archiving
	BaseName    string
	FixtureFile string // degraded-mode dataset; empty disables the fallback
	Log         zerolog.Logger

	now func() time.Time
}

// Run executes one pass. Only a connection failure (with no usable
// fixture fallback) fails the run; per-line and per-file problems are
// absorbed into logs and progress records. The sink, when non-nil, always
// receives a terminal completed or error event.
func (r *Runner) Run(ctx context.Context, kind Kind, date *time.Time, sink EventSink) (*model.Summary, error) {
	sink = orDiscard(sink)
	runID := uuid.New().String()
	log := r.Log.With().Str("run_id", runID).Str("kind", string(kind)).Logger()
	emit(sink, EventStart, "", "ingestion run started", map[string]any{"run_id": runID, "kind": kind})

	watermark, err := r.Store.Watermark(ctx)
	if err != nil {
		// A missing watermark only risks re-upserting old records, which
		// the store absorbs idempotently.
		log.Warn().Err(err).Msg("watermark unavailable, ingesting without cutoff")
	}
	cutoff := watermark.Cutoff()
	emit(sink, EventProgress, "watermark", "watermark loaded", map[string]any{"cutoff": cutoff})

	conn := r.Connect()
	if err := conn.Connect(ctx); err != nil {
		log.Error().Err(err).Msg("share connection failed")
		if r.FixtureFile == "" {
			emit(sink, EventError, "connect", "share connection failed", map[string]any{"error": err.Error()})
			return nil, fmt.Errorf("connect share: %w", err)
		}
		log.Warn().Str("fixture", r.FixtureFile).Msg("falling back to fixture dataset")
		emit(sink, EventWarning, "connect", "share unreachable, using fixture dataset", nil)
		return r.runFixture(ctx, cutoff, sink, log)
	}
	defer conn.Disconnect()
	emit(sink, EventProgress, "connect", "share connected", nil)

	summary := &model.Summary{TimeRange: model.TimeRange{From: cutoff, To: r.clock()}}
	for _, day := range r.datesFor(kind, date) {
		folder := day.Format("20060102")
		if !conn.Exists(folder) {
			log.Debug().Str("date", folder).Msg("date folder absent, skipping")
			emit(sink, EventWarning, "date", "date folder absent", map[string]any{"date": folder})
			continue
		}
		emit(sink, EventProgress, "date", "processing date", map[string]any{"date": folder})

		files := r.Locator.Locate(conn, folder, r.BaseName)
		if kind == KindRealtime && len(files) > realtimeFileLimit {
			files = files[:realtimeFileLimit]
		}
		emit(sink, EventProgress, "files", "log files located", map[string]any{"date": folder, "count": len(files)})

		for _, f := range files {
			r.processFile(ctx, conn, f, cutoff, summary, sink, log)
		}
	}

	summary.TimeRange.To = r.clock()
	emit(sink, EventCompleted, "", "ingestion run completed", map[string]any{"summary": summary})
	log.Info().Int("files", summary.ProcessedFiles).Int("new_records", summary.TotalNewRecords).Msg("run completed")
	return summary, nil
}

// processFile re-parses one file in full and persists the records newer
// than the cutoff. Already-completed files are re-parsed anyway to catch
// late corrections; a full re-parse is cheap next to remote reads, and the
// upsert makes repeats harmless. Failures mark the file failed and the run
// moves on.
func (r *Runner) processFile(ctx context.Context, conn share.Connector, f model.FileDescriptor, cutoff time.Time, summary *model.Summary, sink EventSink, log zerolog.Logger) {
	emit(sink, EventProgress, "file", "processing file", map[string]any{"file": f.Name})

	records, err := r.Correlator.ParseFile(ctx, conn, f.Path, 0)
	if err != nil {
		log.Error().Err(err).Str("file", f.Name).Msg("file parse failed")
		emit(sink, EventWarning, "file", "file parse failed", map[string]any{"file": f.Name, "error": err.Error()})
		r.recordProgress(ctx, f, 0, 0, model.ProcessStatusFailed, log)
		return
	}

	fresh := records[:0:0]
	for _, rec := range records {
		if rec.CallTime.After(cutoff) {
			fresh = append(fresh, rec)
		}
	}

	if len(fresh) > 0 {
		res, err := r.Store.UpsertBatch(ctx, fresh)
		if err != nil {
			log.Error().Err(err).Str("file", f.Name).Msg("batch upsert failed")
			emit(sink, EventWarning, "batch", "batch upsert failed", map[string]any{"file": f.Name, "error": err.Error()})
			r.recordProgress(ctx, f, len(records), 0, model.ProcessStatusFailed, log)
			return
		}
		summary.TotalNewRecords += res.Inserted
		emit(sink, EventProgress, "batch", "records persisted", map[string]any{
			"file": f.Name, "new": len(fresh), "inserted": res.Inserted, "updated": res.Updated,
		})
		r.archiveBatch(ctx, fresh, log)
	} else {
		emit(sink, EventProgress, "batch", "no new records", map[string]any{"file": f.Name, "total": len(records)})
	}

	r.recordProgress(ctx, f, len(records), len(fresh), model.ProcessStatusCompleted, log)
	summary.ProcessedFiles++
}

// runFixture is degraded-mode operation: parse the bundled sample file with
// a small record cap so the pipeline downstream of the connector stays
// exercised while the share is down.
func (r *Runner) runFixture(ctx context.Context, cutoff time.Time, sink EventSink, log zerolog.Logger) (*model.Summary, error) {
	summary := &model.Summary{TimeRange: model.TimeRange{From: cutoff, To: r.clock()}}
	fixture := share.NewLocalConnector(filepath.Dir(r.FixtureFile))

	records, err := r.Correlator.ParseFile(ctx, fixture, filepath.Base(r.FixtureFile), fixtureRecordLimit)
	if err != nil {
		emit(sink, EventError, "fixture", "fixture parse failed", map[string]any{"error": err.Error()})
		return nil, fmt.Errorf("share unreachable and fixture parse failed: %w", err)
	}
	if len(records) > 0 {
		res, err := r.Store.UpsertBatch(ctx, records)
		if err != nil {
			emit(sink, EventError, "fixture", "fixture upsert failed", map[string]any{"error": err.Error()})
			return nil, fmt.Errorf("fixture upsert: %w", err)
		}
		summary.TotalNewRecords = res.Inserted
		summary.ProcessedFiles = 1
		log.Info().Int("records", len(records)).Msg("fixture dataset ingested")
	}
	summary.TimeRange.To = r.clock()
	emit(sink, EventCompleted, "", "fixture ingestion completed", map[string]any{"summary": summary})
	return summary, nil
}

func (r *Runner) archiveBatch(ctx context.Context, records []model.CorrelatedRecord, log zerolog.Logger) {
	if r.Archive == nil {
		return
	}
	key, err := r.Archive.StoreBatch(ctx, records)
	if err != nil {
		log.Warn().Err(err).Msg("batch archive failed")
		return
	}
	log.Debug().Str("key", key).Int("records", len(records)).Msg("batch archived")
}

func (r *Runner) recordProgress(ctx context.Context, f model.FileDescriptor, total, processed int, status model.ProcessStatus, log zerolog.Logger) {
	err := r.Store.RecordFileProgress(ctx, model.FileProgress{
		FileName:         f.Name,
		FilePath:         f.Path,
		SizeBytes:        f.SizeBytes,
		TotalRecords:     total,
		ProcessedRecords: processed,
		Status:           status,
	})
	if err != nil {
		log.Error().Err(err).Str("file", f.Name).Msg("record file progress failed")
	}
}

// datesFor expands a run kind into the dates it covers, oldest first.
func (r *Runner) datesFor(kind Kind, date *time.Time) []time.Time {
	now := r.clock()
	switch kind {
	case KindManual:
		if date != nil {
			return []time.Time{*date}
		}
		return []time.Time{now}
	case KindDaily:
		return []time.Time{now.AddDate(0, 0, -2), now.AddDate(0, 0, -1), now}
	case KindRecent:
		if now.Hour() < 6 {
			return []time.Time{now.AddDate(0, 0, -1), now}
		}
		return []time.Time{now}
	default: // KindRealtime
		return []time.Time{now}
	}
}

func (r *Runner) clock() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now()
}
