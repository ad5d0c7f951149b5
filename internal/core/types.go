package core

import (
	"fmt"
	"time"
)

// TimestampLayout is the fixed-width UTC layout used for persisted timestamps.
// Fixed width keeps lexical order equal to chronological order.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// FormatTimestamp renders t in UTC using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a value written by FormatTimestamp.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(TimestampLayout, s)
}

// Dataset is the summary row written once per successfully ingested file.
type Dataset struct {
	ID          string    `json:"id"`
	FileName    string    `json:"fileName"`
	CreatedAt   time.Time `json:"createdAt"`
	RecordCount int       `json:"recordCount"`
}

// Finding holds the normalized, queryable fields of one CSV row.
type Finding struct {
	CVEID              string  `json:"cveId"`
	Product            string  `json:"product"`
	Component          string  `json:"component"`
	OriginalSeverity   string  `json:"originalSeverity"`
	OriginalVector     string  `json:"originalVector"`
	OriginalScore      float64 `json:"originalScore"`
	DispositionSummary string  `json:"dispositionSummary"`
	Rationale          string  `json:"rationale"`
}

// ExpertAssessment is the reviewer override attached to a record.
// Vector and Score are optional.
type ExpertAssessment struct {
	Severity      string    `json:"severity"`
	Vector        *string   `json:"vector,omitempty"`
	Score         *float64  `json:"score,omitempty"`
	Justification string    `json:"justification"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// VulnerabilityRecord is one accepted CSV row: the normalized projection plus
// the verbatim serialized row.
type VulnerabilityRecord struct {
	ID        string            `json:"id"`
	DatasetID string            `json:"datasetId"`
	RowNumber int               `json:"rowNumber"`
	Finding                     // normalized fields
	Expert    *ExpertAssessment `json:"expert,omitempty"`
	RawData   string            `json:"-"`
}

// MappedRecord is the Field Mapper output for one decoded row.
type MappedRecord struct {
	Finding
	RawData string
}

// ExpertUpdate is a reviewer submission for a single record.
type ExpertUpdate struct {
	RecordID      string   `json:"id"`
	Severity      string   `json:"severity"`
	Vector        *string  `json:"vector,omitempty"`
	Score         *float64 `json:"score,omitempty"`
	Justification string   `json:"justification"`
}

// IngestPhase indicates the current stage of an ingestion.
type IngestPhase string

const (
	PhaseStarting   IngestPhase = "starting"
	PhaseParsing    IngestPhase = "parsing"
	PhaseCommitting IngestPhase = "committing"
	PhaseDone       IngestPhase = "done"
	PhaseFailed     IngestPhase = "failed"
)

// IngestResult contains the final result of a successful ingestion.
type IngestResult struct {
	DatasetID string        `json:"datasetId"`
	FileName  string        `json:"fileName"`
	CreatedAt time.Time     `json:"createdAt"`
	TotalRows int           `json:"totalRows"`
	Accepted  int           `json:"accepted"`
	Skipped   int           `json:"skipped"`  // jagged rows
	Rejected  int           `json:"rejected"` // business rejections
	Duration  time.Duration `json:"duration"`
}

// Summary returns the human-readable confirmation shown after ingestion.
func (r IngestResult) Summary() string {
	return fmt.Sprintf("Successfully ingested %d valid records from %s", r.Accepted, r.FileName)
}
