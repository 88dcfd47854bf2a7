package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/agrayLee/SAM-Log-Analysis/internal/model"
)

// RecordStore persists correlated records and per-file progress. Upserts are
// idempotent on (plate_number, call_time): re-ingesting the same file never
// grows the table.
type RecordStore struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// New returns a RecordStore using the given pool.
func New(pool *pgxpool.Pool, log zerolog.Logger) *RecordStore {
	return &RecordStore{pool: pool, log: log.With().Str("component", "store").Logger()}
}

// UpsertBatch writes records one by one so a bad record is logged and
// skipped without aborting the rest of the batch.
func (s *RecordStore) UpsertBatch(ctx context.Context, records []model.CorrelatedRecord) (model.UpsertResult, error) {
	var res model.UpsertResult
	if len(records) == 0 {
		return res, nil
	}

	const query = `
		INSERT INTO sam_records (plate_number, call_time, response_time, free_parking, reject_reason, file_source, record_kind)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (plate_number, call_time) DO UPDATE SET
			response_time = EXCLUDED.response_time,
			free_parking  = EXCLUDED.free_parking,
			reject_reason = EXCLUDED.reject_reason,
			file_source   = EXCLUDED.file_source,
			record_kind   = EXCLUDED.record_kind
		RETURNING (xmax = 0) AS inserted`

	for _, r := range records {
		var inserted bool
		err := s.pool.QueryRow(ctx, query,
			r.PlateNumber,
			r.CallTime,
			r.ResponseTime,
			r.FreeParking,
			r.RejectReason,
			r.FileSource,
			r.Kind,
		).Scan(&inserted)
		if err != nil {
			s.log.Error().Err(err).
				Str("plate", r.PlateNumber).
				Time("call_time", r.CallTime).
				Msg("upsert record failed")
			continue
		}
		if inserted {
			res.Inserted++
		} else {
			res.Updated++
		}
	}
	return res, nil
}

// Watermark returns the cutoff state derived from persisted data: the most
// recent completed processing time and the most recent record call time.
// When both are absent the watermark falls back to 24 hours ago so a fresh
// database still ingests yesterday's tail.
func (s *RecordStore) Watermark(ctx context.Context) (model.Watermark, error) {
	var w model.Watermark

	var processedAt *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT MAX(processed_at) FROM processing_log WHERE status = 'completed'`).Scan(&processedAt)
	if err != nil {
		return w, err
	}
	var recordAt *time.Time
	err = s.pool.QueryRow(ctx, `SELECT MAX(call_time) FROM sam_records`).Scan(&recordAt)
	if err != nil {
		return w, err
	}

	if processedAt != nil {
		w.LastProcessingTime = *processedAt
	}
	if recordAt != nil {
		w.LastRecordTime = *recordAt
	}
	if w.LastProcessingTime.IsZero() && w.LastRecordTime.IsZero() {
		w.LastRecordTime = time.Now().Add(-24 * time.Hour)
	}
	return w, nil
}

// RecordFileProgress upserts the progress row for one file, keyed by file
// name. Called after every pass, success or failure.
func (s *RecordStore) RecordFileProgress(ctx context.Context, p model.FileProgress) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO processing_log (file_name, file_path, size_bytes, total_records, processed_records, status, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (file_name) DO UPDATE SET
			file_path         = EXCLUDED.file_path,
			size_bytes        = EXCLUDED.size_bytes,
			total_records     = EXCLUDED.total_records,
			processed_records = EXCLUDED.processed_records,
			status            = EXCLUDED.status,
			processed_at      = now()`,
		p.FileName, p.FilePath, p.SizeBytes, p.TotalRecords, p.ProcessedRecords, p.Status)
	return err
}

// ListFileProgress returns all progress rows, most recent first.
func (s *RecordStore) ListFileProgress(ctx context.Context) ([]model.FileProgress, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT file_name, file_path, size_bytes, total_records, processed_records, status, processed_at
		FROM processing_log
		ORDER BY processed_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []model.FileProgress
	for rows.Next() {
		var p model.FileProgress
		if err := rows.Scan(
			&p.FileName,
			&p.FilePath,
			&p.SizeBytes,
			&p.TotalRecords,
			&p.ProcessedRecords,
			&p.Status,
			&p.ProcessedAt,
		); err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}
