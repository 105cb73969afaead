// Package history keeps a record of finished batches in a local sqlite file.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/zangezia/SDIngest/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS batches (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	cancelled INTEGER NOT NULL DEFAULT 0,
	started_at INTEGER NOT NULL,
	finished_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_batches_started ON batches(started_at);

CREATE TABLE IF NOT EXISTS batch_devices (
	batch_id TEXT NOT NULL,
	idx INTEGER NOT NULL,
	device_id TEXT NOT NULL,
	label TEXT,
	camera TEXT,
	cam INTEGER NOT NULL,
	status TEXT NOT NULL,
	total_files INTEGER NOT NULL,
	total_bytes INTEGER NOT NULL,
	files_done INTEGER NOT NULL,
	bytes_done INTEGER NOT NULL,
	failed_files INTEGER NOT NULL,
	started_at INTEGER,
	finished_at INTEGER,
	PRIMARY KEY (batch_id, idx),
	FOREIGN KEY (batch_id) REFERENCES batches(id) ON DELETE CASCADE
);
`

// Store persists batch summaries
type Store struct {
	db *sql.DB
}

// Open opens or creates the history database at path
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create history tables: %w", err)
	}

	log.Debug().Str("path", path).Msg("History database opened")
	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores a batch and its devices, replacing an earlier record of the same batch
func (s *Store) Record(ctx context.Context, b models.BatchStatus) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO batches (id, kind, cancelled, started_at, finished_at) VALUES (?, ?, ?, ?, ?)`,
		b.ID, string(b.Kind), b.Cancelled, toMillis(b.StartedAt), nullMillis(b.FinishedAt),
	); err != nil {
		return fmt.Errorf("failed to save batch %s: %w", b.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM batch_devices WHERE batch_id = ?`, b.ID); err != nil {
		return fmt.Errorf("failed to clear devices of batch %s: %w", b.ID, err)
	}

	for _, d := range b.Devices {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO batch_devices (batch_id, idx, device_id, label, camera, cam, status,
				total_files, total_bytes, files_done, bytes_done, failed_files, started_at, finished_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			b.ID, d.Index, d.Device.ID, d.Device.Label, d.Device.Camera, d.Cam, string(d.Status),
			d.TotalFiles, d.TotalBytes, d.FilesDone, d.BytesDone, d.FailedFiles,
			nullMillis(d.StartedAt), nullMillis(d.FinishedAt),
		); err != nil {
			return fmt.Errorf("failed to save device %s of batch %s: %w", d.Device.ID, b.ID, err)
		}
	}

	return tx.Commit()
}

// List returns up to limit batches, newest first
func (s *Store) List(ctx context.Context, limit int) ([]models.BatchStatus, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, cancelled, started_at, finished_at FROM batches ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query batches: %w", err)
	}

	var batches []models.BatchStatus
	for rows.Next() {
		var (
			b        models.BatchStatus
			kind     string
			started  int64
			finished sql.NullInt64
		)
		if err := rows.Scan(&b.ID, &kind, &b.Cancelled, &started, &finished); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to read batch: %w", err)
		}
		b.Kind = models.BatchKind(kind)
		b.StartedAt = fromMillis(started)
		if finished.Valid {
			b.FinishedAt = fromMillis(finished.Int64)
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range batches {
		devices, err := s.devices(ctx, batches[i].ID)
		if err != nil {
			return nil, err
		}
		batches[i].Devices = devices
		batches[i].Global = models.Fold(devices)
	}

	return batches, nil
}

func (s *Store) devices(ctx context.Context, batchID string) ([]models.DeviceProgress, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT idx, device_id, label, camera, cam, status, total_files, total_bytes,
			files_done, bytes_done, failed_files, started_at, finished_at
		FROM batch_devices WHERE batch_id = ? ORDER BY idx`, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices of batch %s: %w", batchID, err)
	}
	defer rows.Close()

	var devices []models.DeviceProgress
	for rows.Next() {
		var (
			d                 models.DeviceProgress
			label, camera     sql.NullString
			status            string
			started, finished sql.NullInt64
		)
		if err := rows.Scan(&d.Index, &d.Device.ID, &label, &camera, &d.Cam, &status,
			&d.TotalFiles, &d.TotalBytes, &d.FilesDone, &d.BytesDone, &d.FailedFiles,
			&started, &finished); err != nil {
			return nil, fmt.Errorf("failed to read device: %w", err)
		}
		d.Device.Label = label.String
		d.Device.Camera = camera.String
		d.Status = models.Status(status)
		if started.Valid {
			d.StartedAt = fromMillis(started.Int64)
		}
		if finished.Valid {
			d.FinishedAt = fromMillis(finished.Int64)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}

func nullMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}
