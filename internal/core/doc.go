// Package core provides the business logic for vulnerability CSV ingestion.
//
// This package contains all domain logic independent of any transport or
// storage engine. It is used by the HTTP server, the vulnctl CLI, and tests
// without modification. Persistence goes through the [Store] interface,
// implemented under internal/store.
//
// # Pipeline
//
// An ingestion turns one CSV export into one dataset:
//
//  1. The input is wrapped with BOM skipping and UTF-8 validation ([WrapForIngest])
//  2. [RowDecoder] reads the header and yields one [RowOutcome] per record;
//     rows whose field count differs from the header are skipped
//  3. [FieldMapper] projects each row onto the normalized [Finding] fields
//     by header name and serializes the full row as JSON
//  4. Records are inserted in batches inside one store transaction; the
//     [Dataset] summary row is written last and everything commits together
//
// Tokenization errors (unbalanced quotes), invalid UTF-8, an empty file and
// store failures abort the whole file. Nothing is persisted for a failed file.
//
// # Schema Drift
//
// Columns are looked up by name, case- and whitespace-insensitively. Missing
// columns map to empty values. Additional header names per field can be
// supplied as a YAML [ColumnMap]:
//
//	columns:
//	  cve_id: ["CVE", "Vulnerability ID"]
//	  original_score: ["CVSS Score"]
//
// Scores accept a comma as the decimal separator ("7,3" is 7.3). Values that
// do not parse become 0.
//
// # Expert Review
//
// [Service.SubmitExpertAssessment] attaches a reviewer override to a record.
// Justifications shorter than [MinJustificationLength] trimmed characters are
// rejected before the store is touched.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each error category has a unique code for support reference:
//
//   - DB001-DB008: Database errors (duplicates, constraints, connections)
//   - VAL001-VAL004: Validation errors (justification, record id, score, request)
//   - FILE001-FILE006: File errors (size, format, encoding)
//   - ING001-ING003: Ingestion errors (busy, cancelled, timeout)
//   - REC001: Record not found
package core
