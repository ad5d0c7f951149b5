package core

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantCode    string
		wantMessage string
	}{
		{
			name:        "nil error returns empty",
			err:         nil,
			wantCode:    "",
			wantMessage: "",
		},
		{
			name:        "short justification",
			err:         ValidationError{Field: "justification", Message: "too short", Err: ErrJustificationTooShort},
			wantCode:    "VAL001",
			wantMessage: "Justification must be at least 10 characters long",
		},
		{
			name:        "missing record id",
			err:         ValidationError{Field: "id", Err: ErrMissingRecordID},
			wantCode:    "VAL002",
			wantMessage: "No record was specified",
		},
		{
			name:        "invalid score",
			err:         ValidationError{Field: "score", Err: ErrInvalidScore},
			wantCode:    "VAL003",
			wantMessage: "Score must be a finite number",
		},
		{
			name:        "malformed request",
			err:         fmt.Errorf("%w: unexpected EOF", ErrMalformedRequest),
			wantCode:    "VAL004",
			wantMessage: "The request could not be understood",
		},
		{
			name:        "wrapped file too large",
			err:         &IngestError{Phase: PhaseStarting, FileName: "a.csv", Err: fmt.Errorf("%w: 200 bytes", ErrFileTooLarge)},
			wantCode:    "FILE001",
			wantMessage: "File exceeds maximum size limit",
		},
		{
			name:        "invalid encoding",
			err:         &IngestError{Phase: PhaseParsing, FileName: "a.csv", Line: 3, Err: fmt.Errorf("read row: %w", ErrInvalidEncoding)},
			wantCode:    "FILE003",
			wantMessage: "File contains invalid characters",
		},
		{
			name:        "empty file",
			err:         ErrEmptyFile,
			wantCode:    "FILE005",
			wantMessage: "The file is empty",
		},
		{
			name:        "missing file",
			err:         &IngestError{Phase: PhaseStarting, FileName: "a.csv", Err: fs.ErrNotExist},
			wantCode:    "FILE006",
			wantMessage: "The file could not be found",
		},
		{
			name:        "busy",
			err:         ErrTooManyIngests,
			wantCode:    "ING001",
			wantMessage: "System is busy processing other imports",
		},
		{
			name:        "cancelled",
			err:         fmt.Errorf("ingest: %w", context.Canceled),
			wantCode:    "ING002",
			wantMessage: "Import was cancelled",
		},
		{
			name:        "deadline",
			err:         fmt.Errorf("ingest: %w", context.DeadlineExceeded),
			wantCode:    "ING003",
			wantMessage: "Import timed out",
		},
		{
			name:        "record not found",
			err:         ErrRecordNotFound,
			wantCode:    "REC001",
			wantMessage: "Record not found",
		},
		{
			name:        "duplicate key maps correctly",
			err:         errors.New("ERROR: duplicate key value violates unique constraint (SQLSTATE 23505)"),
			wantCode:    "DB001",
			wantMessage: "A record with this ID already exists",
		},
		{
			name:        "sqlite unique constraint",
			err:         errors.New("UNIQUE constraint failed: datasets.id"),
			wantCode:    "DB001",
			wantMessage: "A record with this ID already exists",
		},
		{
			name:        "foreign key maps correctly",
			err:         errors.New("FOREIGN KEY constraint failed"),
			wantCode:    "DB003",
			wantMessage: "Referenced dataset does not exist",
		},
		{
			name:        "connection refused maps correctly",
			err:         errors.New("dial tcp: connection refused"),
			wantCode:    "DB004",
			wantMessage: "Unable to connect to database",
		},
		{
			name:        "sqlite lock",
			err:         errors.New("database is locked"),
			wantCode:    "DB008",
			wantMessage: "Database is locked by another writer",
		},
		{
			name:        "unbalanced quote",
			err:         errors.New(`parse error on line 4, column 7: extraneous or missing " in quoted-field`),
			wantCode:    "FILE002",
			wantMessage: "File contains a line that could not be parsed",
		},
		{
			name:        "rate limit maps correctly",
			err:         errors.New("rate limit exceeded"),
			wantCode:    "RATE001",
			wantMessage: "Too many requests",
		},
		{
			name:        "unknown error returns default",
			err:         errors.New("some random internal error"),
			wantCode:    "ERR000",
			wantMessage: "An unexpected error occurred",
		},
		{
			name:        "case insensitive matching",
			err:         errors.New("DUPLICATE KEY value violates"),
			wantCode:    "DB001",
			wantMessage: "A record with this ID already exists",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
			if got.Message != tt.wantMessage {
				t.Errorf("MapError() message = %q, want %q", got.Message, tt.wantMessage)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	result := FormatUserError(ErrRecordNotFound)

	expected := "Record not found (Code: REC001). Reload the dataset and try again"
	if result != expected {
		t.Errorf("FormatUserError() = %q, want %q", result, expected)
	}

	if got := FormatUserError(nil); got != "" {
		t.Errorf("FormatUserError(nil) = %q, want empty", got)
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "nil error is not user facing",
			err:  nil,
			want: false,
		},
		{
			name: "known error is user facing",
			err:  errors.New("duplicate key"),
			want: true,
		},
		{
			name: "sentinel is user facing",
			err:  ErrJustificationTooShort,
			want: true,
		},
		{
			name: "unknown error is not user facing",
			err:  errors.New("random internal error xyz"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsUserFacing(tt.err)
			if got != tt.want {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.want)
			}
		})
	}
}
