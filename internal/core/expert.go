package core

// expert.go validates and persists reviewer overrides, and exposes the
// read-side queries used by the HTTP API and CLI.

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/JonMunkholm/vulnmaster/internal/logging"
)

// MinJustificationLength is the minimum number of characters, after trimming,
// an expert justification must contain.
const MinJustificationLength = 10

var (
	// ErrJustificationTooShort is returned for justifications shorter than
	// MinJustificationLength after trimming.
	ErrJustificationTooShort = errors.New("Justification must be at least 10 characters long.")

	// ErrMissingRecordID is returned when an update names no record.
	ErrMissingRecordID = errors.New("record id is required")

	// ErrInvalidScore is returned for a NaN or infinite expert score.
	ErrInvalidScore = errors.New("score must be a finite number")

	// ErrMalformedRequest is returned by transports for undecodable input.
	ErrMalformedRequest = errors.New("malformed request")
)

// AssessmentSaved is the confirmation returned by SubmitExpertAssessment.
const AssessmentSaved = "Assessment saved successfully"

// ValidationError represents a single invalid field of a submission.
type ValidationError struct {
	Field   string // Field name
	Value   string // The invalid value
	Message string // Human-readable error message
	Err     error  // Sentinel, if any
}

func (e ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e ValidationError) Unwrap() error {
	return e.Err
}

// ValidateExpertUpdate checks a submission before it reaches the store.
func ValidateExpertUpdate(u ExpertUpdate) error {
	if strings.TrimSpace(u.RecordID) == "" {
		return ValidationError{Field: "id", Message: "record id is required", Err: ErrMissingRecordID}
	}

	if utf8.RuneCountInString(strings.TrimSpace(u.Justification)) < MinJustificationLength {
		return ValidationError{
			Field:   "justification",
			Value:   u.Justification,
			Message: ErrJustificationTooShort.Error(),
			Err:     ErrJustificationTooShort,
		}
	}

	if u.Score != nil && (math.IsNaN(*u.Score) || math.IsInf(*u.Score, 0)) {
		return ValidationError{Field: "score", Value: fmt.Sprint(*u.Score), Message: ErrInvalidScore.Error(), Err: ErrInvalidScore}
	}

	return nil
}

// SubmitExpertAssessment validates u and replaces the expert assessment of the
// named record. Nothing is written when validation fails.
func (s *Service) SubmitExpertAssessment(ctx context.Context, u ExpertUpdate) (string, error) {
	log := logging.WithFields(ctx, append([]any{"record_id", u.RecordID}, clientFields(ctx)...)...)

	err := s.submitExpertAssessment(ctx, u)
	recordExpertUpdate(err)
	if err != nil {
		log.Warn("expert assessment rejected", "error", err)
		return "", err
	}

	log.Info("expert assessment saved", "severity", u.Severity)
	return AssessmentSaved, nil
}

func (s *Service) submitExpertAssessment(ctx context.Context, u ExpertUpdate) error {
	if err := ValidateExpertUpdate(u); err != nil {
		return err
	}

	a := ExpertAssessment{
		Severity:      strings.TrimSpace(u.Severity),
		Vector:        u.Vector,
		Score:         u.Score,
		Justification: strings.TrimSpace(u.Justification),
		UpdatedAt:     s.now().UTC(),
	}

	n, err := s.store.UpdateExpertAssessment(ctx, strings.TrimSpace(u.RecordID), a)
	if err != nil {
		return fmt.Errorf("update expert assessment: %w", err)
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// ListDatasets returns all ingested datasets, newest first.
func (s *Service) ListDatasets(ctx context.Context) ([]Dataset, error) {
	ds, err := s.store.ListDatasets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	return ds, nil
}

// ListRecords returns the records of one dataset in source order.
func (s *Service) ListRecords(ctx context.Context, datasetID string) ([]VulnerabilityRecord, error) {
	recs, err := s.store.ListRecords(ctx, datasetID)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return recs, nil
}

// GetRecord returns a single record with its raw row data.
func (s *Service) GetRecord(ctx context.Context, recordID string) (*VulnerabilityRecord, error) {
	rec, err := s.store.GetRecord(ctx, recordID)
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}
