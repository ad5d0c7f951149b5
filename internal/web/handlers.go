package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/JonMunkholm/vulnmaster/internal/core"
	"github.com/go-chi/chi/v5"
)

// multipartMemory is the part of a multipart upload held in memory; the rest
// spills to temporary files.
const multipartMemory = 32 << 20

// formOverhead is the allowance for multipart framing on top of the file.
const formOverhead = 1 << 20

// maxJSONBody caps JSON request bodies.
const maxJSONBody = 64 << 10

// ingestPathRequest is the JSON body for ingesting a server-local file.
type ingestPathRequest struct {
	Path string `json:"path"`
}

// ingestResponse is returned after a successful ingestion.
type ingestResponse struct {
	*core.IngestResult
	Message string `json:"message"`
}

// expertRequest is the body of PUT /api/records/{recordID}/expert.
type expertRequest struct {
	Severity      string   `json:"severity"`
	Vector        *string  `json:"vector,omitempty"`
	Score         *float64 `json:"score,omitempty"`
	Justification string   `json:"justification"`
}

// recordResponse is a record with its verbatim source row.
type recordResponse struct {
	core.VulnerabilityRecord
	RawData json.RawMessage `json:"rawData"`
}

// handleIngest stores one CSV export as a new dataset. It accepts either a
// multipart upload in the "file" field or, when enabled, a JSON body naming
// a file on the server.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx := WithRequestMetadata(r.Context(), r)

	var (
		res *core.IngestResult
		err error
	)

	if isJSON(r) {
		var req ingestPathRequest
		if err := decodeJSON(w, r, &req); err != nil {
			respondServiceError(w, r, err)
			return
		}
		if !s.cfg.Security.AllowLocalPaths {
			respondError(w, r, errors.New("local path ingestion is disabled"), http.StatusForbidden)
			return
		}
		if strings.TrimSpace(req.Path) == "" {
			respondServiceError(w, r, core.ValidationError{Field: "path", Message: "path is required", Err: core.ErrMalformedRequest})
			return
		}
		res, err = s.service.Ingest(ctx, req.Path)
	} else {
		file, header, ferr := s.formFile(w, r)
		if ferr != nil {
			respondServiceError(w, r, ferr)
			return
		}
		defer file.Close()
		res, err = s.service.IngestReader(ctx, filepath.Base(header.Filename), file, header.Size)
	}

	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, ingestResponse{IngestResult: res, Message: res.Summary()})
}

// handlePreview runs a dry-run ingestion of an uploaded file.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	file, header, err := s.formFile(w, r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	defer file.Close()

	resp, err := s.service.PreviewReader(r.Context(), filepath.Base(header.Filename), file, header.Size)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, resp)
}

// handleIngestStatus reports ingestion slot usage.
func (s *Server) handleIngestStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.service.Limiter().Status())
}

// handleListDatasets returns all datasets, newest first.
func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	ds, err := s.service.ListDatasets(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if ds == nil {
		ds = []core.Dataset{}
	}
	writeJSON(w, r, http.StatusOK, ds)
}

// handleListRecords returns the records of one dataset in source order.
func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	datasetID := chi.URLParam(r, "datasetID")

	recs, err := s.service.ListRecords(r.Context(), datasetID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if recs == nil {
		recs = []core.VulnerabilityRecord{}
	}
	writeJSON(w, r, http.StatusOK, recs)
}

// handleGetRecord returns one record including its raw source row.
func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.service.GetRecord(r.Context(), chi.URLParam(r, "recordID"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toRecordResponse(rec))
}

// handleExpertAssessment replaces the expert assessment of one record.
func (s *Server) handleExpertAssessment(w http.ResponseWriter, r *http.Request) {
	recordID := chi.URLParam(r, "recordID")
	ctx := WithRequestMetadata(r.Context(), r)

	var req expertRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondServiceError(w, r, err)
		return
	}

	msg, err := s.service.SubmitExpertAssessment(ctx, core.ExpertUpdate{
		RecordID:      recordID,
		Severity:      req.Severity,
		Vector:        req.Vector,
		Score:         req.Score,
		Justification: req.Justification,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	rec, err := s.service.GetRecord(ctx, recordID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"message": msg,
		"record":  toRecordResponse(rec),
	})
}

// handleHealth reports liveness plus ingestion slot usage.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"status": "ok",
		"ingest": s.service.Limiter().Status(),
	})
}

// formFile extracts the "file" part of a multipart request, bounding the
// body to the configured maximum file size.
func (s *Server) formFile(w http.ResponseWriter, r *http.Request) (multipart.File, *multipart.FileHeader, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Ingest.MaxFileSize+formOverhead)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, nil, fmt.Errorf("%w: request body exceeds %d bytes", core.ErrFileTooLarge, maxErr.Limit)
		}
		return nil, nil, core.ValidationError{Field: "file", Message: "invalid multipart form", Err: fmt.Errorf("%w: %v", core.ErrMalformedRequest, err)}
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, nil, core.ValidationError{Field: "file", Message: "no file provided"}
	}
	return file, header, nil
}

// decodeJSON decodes a bounded JSON body, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("empty body")
		}
		return core.ValidationError{Message: "invalid JSON body", Err: fmt.Errorf("%w: %v", core.ErrMalformedRequest, err)}
	}
	return nil
}

func isJSON(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}

func toRecordResponse(rec *core.VulnerabilityRecord) recordResponse {
	raw := json.RawMessage(rec.RawData)
	if !json.Valid(raw) {
		raw = json.RawMessage("{}")
	}
	return recordResponse{VulnerabilityRecord: *rec, RawData: raw}
}
