package core

import (
	"context"
	"errors"
)

// ErrRecordNotFound is returned when a record ID does not exist.
var ErrRecordNotFound = errors.New("record not found")

// Store is the relational record store consumed by the service.
// Implementations live under internal/store.
type Store interface {
	// Begin opens the transaction that scopes a whole-file ingestion.
	Begin(ctx context.Context) (Tx, error)

	// UpdateExpertAssessment replaces the expert sub-record of one record and
	// returns the number of affected rows.
	UpdateExpertAssessment(ctx context.Context, recordID string, a ExpertAssessment) (int64, error)

	// ListDatasets returns all datasets, newest first.
	ListDatasets(ctx context.Context) ([]Dataset, error)

	// ListRecords returns the records of one dataset in source row order.
	ListRecords(ctx context.Context, datasetID string) ([]VulnerabilityRecord, error)

	// GetRecord returns a single record including its raw data.
	// Returns ErrRecordNotFound when no record has the given ID.
	GetRecord(ctx context.Context, recordID string) (*VulnerabilityRecord, error)

	// EnsureSchema creates the datasets and vulnerability_records tables if
	// they do not exist.
	EnsureSchema(ctx context.Context) error

	Close() error
}

// Tx is an open ingestion transaction. Rollback after Commit is a no-op.
type Tx interface {
	InsertDataset(ctx context.Context, d Dataset) error
	InsertRecords(ctx context.Context, records []VulnerabilityRecord) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
