// Package sqlite implements core.Store on an embedded SQLite database via gorm.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/vulnmaster/internal/core"
	"gorm.io/driver/sqlite" // Sqlite driver based on CGO
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// createBatchSize bounds the rows per INSERT statement, keeping the bound
// parameter count well under SQLite's limit.
const createBatchSize = 200

// schema creates the two tables. The record->dataset foreign key is deferred
// so an ingestion can insert the dataset row after its records.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS datasets (
		id           TEXT PRIMARY KEY,
		file_name    TEXT NOT NULL,
		created_at   TEXT NOT NULL,
		record_count INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS vulnerability_records (
		id                   TEXT PRIMARY KEY,
		dataset_id           TEXT NOT NULL
			REFERENCES datasets(id) ON DELETE CASCADE DEFERRABLE INITIALLY DEFERRED,
		row_number           INTEGER NOT NULL,
		cve_id               TEXT NOT NULL DEFAULT '',
		product              TEXT NOT NULL DEFAULT '',
		component            TEXT NOT NULL DEFAULT '',
		original_severity    TEXT NOT NULL DEFAULT '',
		original_vector      TEXT NOT NULL DEFAULT '',
		original_score       REAL NOT NULL DEFAULT 0,
		disposition_summary  TEXT NOT NULL DEFAULT '',
		rationale            TEXT NOT NULL DEFAULT '',
		expert_severity      TEXT,
		expert_vector        TEXT,
		expert_score         REAL,
		expert_justification TEXT,
		updated_at           TEXT,
		raw_data             TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_vulnerability_records_dataset
		ON vulnerability_records (dataset_id, row_number)`,
	`CREATE INDEX IF NOT EXISTS idx_vulnerability_records_cve
		ON vulnerability_records (cve_id)`,
	`CREATE INDEX IF NOT EXISTS idx_datasets_created_at
		ON datasets (created_at)`,
}

// Store is a SQLite-backed record store.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the database file at path. Foreign keys,
// WAL journaling and a busy timeout are enabled on every connection.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn(path)), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Warn),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL"
}

// EnsureSchema creates the tables and indexes if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Begin starts an ingestion transaction.
func (s *Store) Begin(ctx context.Context) (core.Tx, error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("begin: %w", tx.Error)
	}
	return &sqliteTx{db: tx}, nil
}

// UpdateExpertAssessment replaces the expert columns of one record.
func (s *Store) UpdateExpertAssessment(ctx context.Context, recordID string, a core.ExpertAssessment) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&recordModel{}).
		Where("id = ?", recordID).
		Updates(map[string]any{
			"expert_severity":      a.Severity,
			"expert_vector":        a.Vector,
			"expert_score":         a.Score,
			"expert_justification": a.Justification,
			"updated_at":           core.FormatTimestamp(a.UpdatedAt),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// ListDatasets returns all datasets, newest first.
func (s *Store) ListDatasets(ctx context.Context) ([]core.Dataset, error) {
	var models []datasetModel
	if err := s.db.WithContext(ctx).Order("created_at DESC, id").Find(&models).Error; err != nil {
		return nil, err
	}

	out := make([]core.Dataset, 0, len(models))
	for _, m := range models {
		d, err := m.toCore()
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// ListRecords returns the records of a dataset in source row order.
func (s *Store) ListRecords(ctx context.Context, datasetID string) ([]core.VulnerabilityRecord, error) {
	var models []recordModel
	err := s.db.WithContext(ctx).
		Where("dataset_id = ?", datasetID).
		Order("row_number").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	out := make([]core.VulnerabilityRecord, 0, len(models))
	for _, m := range models {
		r, err := m.toCore()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// GetRecord returns one record or core.ErrRecordNotFound.
func (s *Store) GetRecord(ctx context.Context, recordID string) (*core.VulnerabilityRecord, error) {
	var m recordModel
	err := s.db.WithContext(ctx).Where("id = ?", recordID).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}

	r, err := m.toCore()
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type sqliteTx struct {
	db   *gorm.DB
	done bool
}

func (t *sqliteTx) InsertDataset(ctx context.Context, d core.Dataset) error {
	m := fromDataset(d)
	return t.db.WithContext(ctx).Create(&m).Error
}

func (t *sqliteTx) InsertRecords(ctx context.Context, records []core.VulnerabilityRecord) error {
	if len(records) == 0 {
		return nil
	}
	models := make([]recordModel, len(records))
	for i, r := range records {
		models[i] = fromRecord(r)
	}
	return t.db.WithContext(ctx).CreateInBatches(models, createBatchSize).Error
}

func (t *sqliteTx) Commit(ctx context.Context) error {
	if t.done {
		return errors.New("transaction already finished")
	}
	t.done = true
	return t.db.Commit().Error
}

func (t *sqliteTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	return t.db.Rollback().Error
}
