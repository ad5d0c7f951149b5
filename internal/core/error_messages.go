package core

// # Error Codes Reference
//
// This file defines user-friendly error messages with codes for support reference.
// Error codes are grouped by category:
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate key: A record with this ID already exists
//	DB003 - Foreign key: Referenced dataset does not exist
//	DB004 - Connection refused: Unable to connect to database
//	DB005 - Connection reset: Database connection was interrupted
//	DB006 - Timeout: Operation timed out
//	DB007 - Deadlock: Database was busy with conflicting operations
//	DB008 - Locked: Database file is locked by another writer
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL001 - Justification too short: Fewer than 10 characters after trimming
//	VAL002 - Missing record: No record ID was supplied
//	VAL003 - Invalid score: Score is NaN or infinite
//	VAL004 - Malformed request: The request body could not be decoded
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large: File exceeds maximum size limit
//	FILE002 - Invalid CSV: A line could not be tokenized (quoting)
//	FILE003 - Encoding error: File is not valid UTF-8
//	FILE004 - No file: No file was selected
//	FILE005 - Empty file: The file has no header row
//	FILE006 - Not found: The file does not exist
//
// # Ingestion Errors (ING001-ING099)
//
//	ING001 - System busy: Too many ingestions in progress
//	ING002 - Request cancelled: Ingestion was cancelled
//	ING003 - Request timeout: Ingestion timed out
//
// # Record Errors (REC001-REC099)
//
//	REC001 - Record not found: No record has this ID
//
// # Rate Limiting (RATE001-RATE099)
//
//	RATE001 - Rate limited: Too many requests
//
// # Default Error (ERR000)
//
//	ERR000 - Unknown error: An unexpected error occurred
//
// # Matching
//
// Sentinel errors are matched with errors.Is first. Remaining errors are
// matched case-insensitively with strings.Contains; the first matching
// pattern wins, so more specific patterns come before general ones.

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

var (
	msgJustification = UserMessage{
		Message: "Justification must be at least 10 characters long",
		Action:  "Explain the reasoning behind the override",
		Code:    "VAL001",
	}
	msgMissingRecord = UserMessage{
		Message: "No record was specified",
		Action:  "Select a record before submitting an assessment",
		Code:    "VAL002",
	}
	msgInvalidScore = UserMessage{
		Message: "Score must be a finite number",
		Action:  "Enter a numeric score or leave it empty",
		Code:    "VAL003",
	}
	msgMalformed = UserMessage{
		Message: "The request could not be understood",
		Action:  "Check the request format and try again",
		Code:    "VAL004",
	}
	msgFileTooLarge = UserMessage{
		Message: "File exceeds maximum size limit",
		Action:  "Split the export into smaller files",
		Code:    "FILE001",
	}
	msgInvalidCSV = UserMessage{
		Message: "File contains a line that could not be parsed",
		Action:  "Check for unbalanced quotes and re-export the file",
		Code:    "FILE002",
	}
	msgEncoding = UserMessage{
		Message: "File contains invalid characters",
		Action:  "Save file as UTF-8 encoding",
		Code:    "FILE003",
	}
	msgEmptyFile = UserMessage{
		Message: "The file is empty",
		Action:  "Please choose a CSV export with a header row",
		Code:    "FILE005",
	}
	msgFileNotFound = UserMessage{
		Message: "The file could not be found",
		Action:  "Check the path and try again",
		Code:    "FILE006",
	}
	msgBusy = UserMessage{
		Message: "System is busy processing other imports",
		Action:  "Please wait a moment and try again",
		Code:    "ING001",
	}
	msgCancelled = UserMessage{
		Message: "Import was cancelled",
		Action:  "Please try again",
		Code:    "ING002",
	}
	msgTimeout = UserMessage{
		Message: "Import timed out",
		Action:  "Try a smaller file or try again later",
		Code:    "ING003",
	}
	msgRecordNotFound = UserMessage{
		Message: "Record not found",
		Action:  "Reload the dataset and try again",
		Code:    "REC001",
	}
)

// sentinelMessages maps sentinel errors to user messages, checked in order.
var sentinelMessages = []struct {
	err error
	msg UserMessage
}{
	{ErrJustificationTooShort, msgJustification},
	{ErrMissingRecordID, msgMissingRecord},
	{ErrInvalidScore, msgInvalidScore},
	{ErrMalformedRequest, msgMalformed},
	{ErrFileTooLarge, msgFileTooLarge},
	{ErrInvalidEncoding, msgEncoding},
	{ErrEmptyFile, msgEmptyFile},
	{ErrTooManyIngests, msgBusy},
	{ErrRecordNotFound, msgRecordNotFound},
	{fs.ErrNotExist, msgFileNotFound},
	{context.DeadlineExceeded, msgTimeout},
	{context.Canceled, msgCancelled},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error text (case-insensitive) to user messages.
var errorPatterns = []errorPattern{
	// =========================================================================
	// Database Errors (DB001-DB008)
	// =========================================================================
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A record with this ID already exists",
			Action:  "Please try the import again",
			Code:    "DB001",
		},
	},
	{
		pattern: "unique constraint",
		msg: UserMessage{
			Message: "A record with this ID already exists",
			Action:  "Please try the import again",
			Code:    "DB001",
		},
	},
	{
		pattern: "foreign key",
		msg: UserMessage{
			Message: "Referenced dataset does not exist",
			Action:  "Please try the import again",
			Code:    "DB003",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try a smaller file or try again later",
			Code:    "DB006",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB007",
		},
	},
	{
		pattern: "database is locked",
		msg: UserMessage{
			Message: "Database is locked by another writer",
			Action:  "Please try again",
			Code:    "DB008",
		},
	},

	// =========================================================================
	// File Errors (FILE002, FILE004)
	// =========================================================================
	{
		pattern: "quoted-field",
		msg:     msgInvalidCSV,
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Please select a CSV file to import",
			Code:    "FILE004",
		},
	},

	// =========================================================================
	// Rate Limiting (RATE001)
	// =========================================================================
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// It returns the zero UserMessage for a nil error.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, sm := range sentinelMessages {
		if errors.Is(err, sm.err) {
			return sm.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matches a known pattern rather than the
// generic ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
