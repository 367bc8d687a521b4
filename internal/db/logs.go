package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// DefaultBatchSize is used by EachRecordBatch when no batch size is given
const DefaultBatchSize = 1000

// ErrNoLogsTable is returned when the database has no logs table
var ErrNoLogsTable = errors.New("db: logs table not found")

// CheckLogsTable confirms the crawler's logs table exists
func (db *DB) CheckLogsTable(ctx context.Context) error {
	var rowid int64
	err := db.QueryRowContext(ctx, `SELECT rowid FROM logs LIMIT 1`).Scan(&rowid)
	switch {
	case err == nil, errors.Is(err, sql.ErrNoRows):
		return nil
	case IsMissingTable(err):
		return ErrNoLogsTable
	default:
		return fmt.Errorf("failed to read logs table: %w", err)
	}
}

// CountProcessed returns the number of records the crawler has finished downloading
func (db *DB) CountProcessed(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM logs WHERE is_processed = 1`

	if err := db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count processed records: %w", err)
	}

	return count, nil
}

// ResolveLimit turns a requested record count into a concrete one.
// Zero or negative means every processed record.
func (db *DB) ResolveLimit(ctx context.Context, requested int) (int, error) {
	if requested > 0 {
		return requested, nil
	}
	return db.CountProcessed(ctx)
}

// FetchRecords reads up to limit processed records in insertion order
func (db *DB) FetchRecords(ctx context.Context, limit int) ([]RawRecord, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}

	query := `
		SELECT id, log_content
		FROM logs
		WHERE is_processed = 1
		ORDER BY rowid
		LIMIT ?
	`

	rows, err := db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	records := make([]RawRecord, 0, limit)
	for rows.Next() {
		var rec RawRecord
		if err := rows.Scan(&rec.ID, &rec.Payload); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}

	return records, nil
}

// EachRecordBatch streams up to limit processed records to fn, batchSize rows
// at a time. Pages are keyed on rowid so only one batch of payloads is held
// in memory. Iteration stops at the first error returned by fn.
func (db *DB) EachRecordBatch(ctx context.Context, limit, batchSize int, fn func([]RawRecord) error) error {
	if limit <= 0 {
		return ErrInvalidLimit
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	query := `
		SELECT rowid, id, log_content
		FROM logs
		WHERE is_processed = 1 AND rowid > ?
		ORDER BY rowid
		LIMIT ?
	`

	var lastRowID int64
	remaining := limit
	for remaining > 0 {
		pageSize := min(batchSize, remaining)

		batch, last, err := db.fetchPage(ctx, query, lastRowID, pageSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		if err := fn(batch); err != nil {
			return err
		}

		lastRowID = last
		remaining -= len(batch)
		if len(batch) < pageSize {
			return nil
		}
	}

	return nil
}

func (db *DB) fetchPage(ctx context.Context, query string, after int64, size int) ([]RawRecord, int64, error) {
	rows, err := db.QueryContext(ctx, query, after, size)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query record page: %w", err)
	}
	defer rows.Close()

	batch := make([]RawRecord, 0, size)
	last := after
	for rows.Next() {
		var rec RawRecord
		if err := rows.Scan(&last, &rec.ID, &rec.Payload); err != nil {
			return nil, 0, fmt.Errorf("failed to scan record: %w", err)
		}
		batch = append(batch, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read record page: %w", err)
	}

	return batch, last, nil
}

// EachProcessedID calls fn with the ID of up to limit processed records,
// without loading payloads
func (db *DB) EachProcessedID(ctx context.Context, limit int, fn func(id string) error) error {
	if limit <= 0 {
		return ErrInvalidLimit
	}

	query := `
		SELECT id
		FROM logs
		WHERE is_processed = 1
		ORDER BY rowid
		LIMIT ?
	`

	rows, err := db.QueryContext(ctx, query, limit)
	if err != nil {
		return fmt.Errorf("failed to query record ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("failed to scan record id: %w", err)
		}
		if err := fn(id); err != nil {
			return err
		}
	}

	return rows.Err()
}

// InsertRecord adds a record to the logs table. The crawler is the normal
// writer; this is used by fixtures and the import path of local tooling.
func (db *DB) InsertRecord(ctx context.Context, rec RawRecord, processed bool) error {
	query := `
		INSERT INTO logs (id, is_processed, log_content)
		VALUES (?, ?, ?)
	`

	_, err := db.ExecContext(ctx, query, rec.ID, processed, rec.Payload)
	return err
}
