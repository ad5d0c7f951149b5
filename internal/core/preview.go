package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// PreviewSummary contains the row counts a real ingestion would produce.
type PreviewSummary struct {
	TotalRows int `json:"totalRows"`
	Accepted  int `json:"accepted"`
	Skipped   int `json:"skipped"`
	Rejected  int `json:"rejected"`
}

// RowPreview represents a single accepted row for preview display.
type RowPreview struct {
	LineNumber int     `json:"lineNumber"`
	Finding    Finding `json:"finding"`
}

// ErrorPreview represents a row that would not be stored.
type ErrorPreview struct {
	LineNumber int    `json:"lineNumber"`
	Reason     string `json:"reason"`
}

// PreviewResponse is the result of a dry-run ingestion.
type PreviewResponse struct {
	FileName         string         `json:"fileName"`
	Header           []string       `json:"header"`
	Unmapped         []string       `json:"unmappedFields"`
	Summary          PreviewSummary `json:"summary"`
	AcceptedSamples  []RowPreview   `json:"acceptedSamples"`
	SkippedSamples   []ErrorPreview `json:"skippedSamples"`
	RejectedSamples  []ErrorPreview `json:"rejectedSamples"`
	ProcessingTimeMs int64          `json:"processingTimeMs"`
}

// Sample limits
const (
	maxAcceptedSamples = 10
	maxErrorSamples    = 20
)

// PreviewReader decodes and maps r exactly as IngestReader would, without
// touching the store. Fatal decode errors are returned as *IngestError.
func (s *Service) PreviewReader(ctx context.Context, fileName string, r io.Reader, size int64) (*PreviewResponse, error) {
	startTime := time.Now()

	fail := func(line int, err error) (*PreviewResponse, error) {
		return nil, &IngestError{Phase: PhaseParsing, FileName: fileName, Line: line, Err: err}
	}

	if s.maxFileSize > 0 {
		if size > s.maxFileSize {
			return nil, &IngestError{
				Phase:    PhaseStarting,
				FileName: fileName,
				Err:      fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrFileTooLarge, size, s.maxFileSize),
			}
		}
		r = &sizeLimitReader{r: r, remaining: s.maxFileSize}
	}

	dec, err := NewRowDecoder(WrapForIngest(r, size), s.delimiter)
	if err != nil {
		return fail(1, err)
	}

	resp := &PreviewResponse{
		FileName:        fileName,
		Header:          dec.Header(),
		Unmapped:        s.mapper.Unmapped(dec.Header()),
		AcceptedSamples: []RowPreview{},
		SkippedSamples:  []ErrorPreview{},
		RejectedSamples: []ErrorPreview{},
	}

	for {
		out, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fail(out.Line, err)
		}

		resp.Summary.TotalRows++
		if resp.Summary.TotalRows%ContextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return fail(out.Line, err)
			}
		}

		if out.Status == RowSkipped {
			resp.Summary.Skipped++
			if len(resp.SkippedSamples) < maxErrorSamples {
				resp.SkippedSamples = append(resp.SkippedSamples, ErrorPreview{
					LineNumber: out.Line,
					Reason:     out.Reason.Error(),
				})
			}
			continue
		}

		mapped, ok, err := s.mapper.Map(out.Row)
		if err != nil {
			return fail(out.Line, err)
		}
		if !ok {
			resp.Summary.Rejected++
			if len(resp.RejectedSamples) < maxErrorSamples {
				resp.RejectedSamples = append(resp.RejectedSamples, ErrorPreview{
					LineNumber: out.Line,
					Reason:     "CVE ID and Product are both empty",
				})
			}
			continue
		}

		resp.Summary.Accepted++
		if len(resp.AcceptedSamples) < maxAcceptedSamples {
			resp.AcceptedSamples = append(resp.AcceptedSamples, RowPreview{
				LineNumber: out.Line,
				Finding:    mapped.Finding,
			})
		}
	}

	resp.ProcessingTimeMs = time.Since(startTime).Milliseconds()
	return resp, nil
}
