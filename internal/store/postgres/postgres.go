// Package postgres implements core.Store on PostgreSQL using pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/JonMunkholm/vulnmaster/internal/config"
	"github.com/JonMunkholm/vulnmaster/internal/core"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

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
		original_score       DOUBLE PRECISION NOT NULL DEFAULT 0,
		disposition_summary  TEXT NOT NULL DEFAULT '',
		rationale            TEXT NOT NULL DEFAULT '',
		expert_severity      TEXT,
		expert_vector        TEXT,
		expert_score         DOUBLE PRECISION,
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

// recordColumns is the COPY column list for ingestion.
var recordColumns = []string{
	"id", "dataset_id", "row_number",
	"cve_id", "product", "component",
	"original_severity", "original_vector", "original_score",
	"disposition_summary", "rationale", "raw_data",
}

const selectRecord = `
	SELECT id, dataset_id, row_number,
	       cve_id, product, component,
	       original_severity, original_vector, original_score,
	       disposition_summary, rationale,
	       expert_severity, expert_vector, expert_score,
	       expert_justification, updated_at,
	       raw_data
	FROM vulnerability_records`

// Store is a PostgreSQL-backed record store.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect creates a pool from cfg and verifies the connection.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return New(pool), nil
}

// EnsureSchema creates the tables and indexes if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Begin starts an ingestion transaction.
func (s *Store) Begin(ctx context.Context) (core.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

// UpdateExpertAssessment replaces the expert columns of one record.
func (s *Store) UpdateExpertAssessment(ctx context.Context, recordID string, a core.ExpertAssessment) (int64, error) {
	var tag pgconn.CommandTag
	tag, err := s.pool.Exec(ctx, `
		UPDATE vulnerability_records
		SET expert_severity = $2,
		    expert_vector = $3,
		    expert_score = $4,
		    expert_justification = $5,
		    updated_at = $6
		WHERE id = $1`,
		recordID, a.Severity, a.Vector, a.Score, a.Justification, core.FormatTimestamp(a.UpdatedAt),
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListDatasets returns all datasets, newest first.
func (s *Store) ListDatasets(ctx context.Context) ([]core.Dataset, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, file_name, created_at, record_count
		FROM datasets
		ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Dataset
	for rows.Next() {
		var (
			d       core.Dataset
			created string
		)
		if err := rows.Scan(&d.ID, &d.FileName, &created, &d.RecordCount); err != nil {
			return nil, err
		}
		if d.CreatedAt, err = core.ParseTimestamp(created); err != nil {
			return nil, fmt.Errorf("dataset %s: created_at: %w", d.ID, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ListRecords returns the records of a dataset in source row order.
func (s *Store) ListRecords(ctx context.Context, datasetID string) ([]core.VulnerabilityRecord, error) {
	rows, err := s.pool.Query(ctx, selectRecord+` WHERE dataset_id = $1 ORDER BY row_number`, datasetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.VulnerabilityRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRecord returns one record or core.ErrRecordNotFound.
func (s *Store) GetRecord(ctx context.Context, recordID string) (*core.VulnerabilityRecord, error) {
	r, err := scanRecord(s.pool.QueryRow(ctx, selectRecord+` WHERE id = $1`, recordID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func scanRecord(row pgx.Row) (core.VulnerabilityRecord, error) {
	var (
		r             core.VulnerabilityRecord
		severity      pgtype.Text
		vector        pgtype.Text
		score         pgtype.Float8
		justification pgtype.Text
		updatedAt     pgtype.Text
	)

	err := row.Scan(
		&r.ID, &r.DatasetID, &r.RowNumber,
		&r.CVEID, &r.Product, &r.Component,
		&r.OriginalSeverity, &r.OriginalVector, &r.OriginalScore,
		&r.DispositionSummary, &r.Rationale,
		&severity, &vector, &score,
		&justification, &updatedAt,
		&r.RawData,
	)
	if err != nil {
		return core.VulnerabilityRecord{}, err
	}

	if !updatedAt.Valid {
		return r, nil
	}

	updated, err := core.ParseTimestamp(updatedAt.String)
	if err != nil {
		return core.VulnerabilityRecord{}, fmt.Errorf("record %s: updated_at: %w", r.ID, err)
	}
	r.Expert = &core.ExpertAssessment{
		Severity:      severity.String,
		Justification: justification.String,
		UpdatedAt:     updated,
	}
	if vector.Valid {
		v := vector.String
		r.Expert.Vector = &v
	}
	if score.Valid {
		sc := score.Float64
		r.Expert.Score = &sc
	}
	return r, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) InsertDataset(ctx context.Context, d core.Dataset) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO datasets (id, file_name, created_at, record_count)
		VALUES ($1, $2, $3, $4)`,
		d.ID, d.FileName, core.FormatTimestamp(d.CreatedAt), d.RecordCount,
	)
	return err
}

// InsertRecords bulk-loads records with COPY.
func (t *pgTx) InsertRecords(ctx context.Context, records []core.VulnerabilityRecord) error {
	if len(records) == 0 {
		return nil
	}

	n, err := t.tx.CopyFrom(ctx,
		pgx.Identifier{"vulnerability_records"},
		recordColumns,
		pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
			r := records[i]
			return []any{
				r.ID, r.DatasetID, r.RowNumber,
				r.CVEID, r.Product, r.Component,
				r.OriginalSeverity, r.OriginalVector, r.OriginalScore,
				r.DispositionSummary, r.Rationale, r.RawData,
			}, nil
		}),
	)
	if err != nil {
		return err
	}
	if int(n) != len(records) {
		return fmt.Errorf("copy inserted %d of %d records", n, len(records))
	}
	return nil
}

func (t *pgTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

// Rollback is a no-op once the transaction has been committed.
func (t *pgTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}
