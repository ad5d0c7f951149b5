package core

// ingest.go runs one whole-file ingestion: decode, map, persist.
//
// All rows of a file are written in a single store transaction. The dataset
// summary row is inserted after the last record so it can carry the final
// accepted count; the store defers the record->dataset foreign key check to
// commit time. Any fatal condition rolls back everything, so a file is either
// fully represented or absent.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/JonMunkholm/vulnmaster/internal/logging"
	"github.com/google/uuid"
)

// ErrFileTooLarge is returned when the input exceeds the configured size limit.
var ErrFileTooLarge = errors.New("file too large")

// ContextCheckInterval is how often (in rows) to check for cancellation.
var ContextCheckInterval = 100

// DefaultBatchSize is the number of records handed to the store at once.
const DefaultBatchSize = 500

// Options configures a Service.
type Options struct {
	Delimiter   rune
	BatchSize   int
	MaxFileSize int64         // 0 disables the limit
	Timeout     time.Duration // 0 disables the per-ingestion timeout
	Columns     ColumnMap     // nil uses DefaultColumnMap
	Limiter     *IngestLimiter
}

// Service is the entry point for ingestion, review and queries.
type Service struct {
	store       Store
	mapper      *FieldMapper
	delimiter   rune
	batchSize   int
	maxFileSize int64
	timeout     time.Duration
	limiter     *IngestLimiter

	now   func() time.Time
	newID func() string
}

// NewService creates a Service backed by store.
func NewService(store Store, opts Options) *Service {
	if opts.Delimiter == 0 {
		opts.Delimiter = DefaultDelimiter
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Limiter == nil {
		opts.Limiter = NewIngestLimiter(DefaultMaxConcurrentIngests, DefaultMaxWaitTime)
	}

	return &Service{
		store:       store,
		mapper:      NewFieldMapper(opts.Columns),
		delimiter:   opts.Delimiter,
		batchSize:   opts.BatchSize,
		maxFileSize: opts.MaxFileSize,
		timeout:     opts.Timeout,
		limiter:     opts.Limiter,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// Limiter returns the service's concurrency limiter.
func (s *Service) Limiter() *IngestLimiter {
	return s.limiter
}

// IngestError describes a failed ingestion. Line is 0 when the failure is not
// tied to a specific row.
type IngestError struct {
	Phase    IngestPhase
	FileName string
	Line     int
	Err      error
}

func (e *IngestError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("ingest %s: %s failed at line %d: %v", e.FileName, e.Phase, e.Line, e.Err)
	}
	return fmt.Sprintf("ingest %s: %s failed: %v", e.FileName, e.Phase, e.Err)
}

func (e *IngestError) Unwrap() error {
	return e.Err
}

// Ingest reads the file at path and stores it as a new dataset.
// The dataset is named after the file's base name.
func (s *Service) Ingest(ctx context.Context, path string) (*IngestResult, error) {
	fileName := filepath.Base(path)

	f, err := os.Open(path)
	if err != nil {
		recordIngestFailure()
		return nil, &IngestError{Phase: PhaseStarting, FileName: fileName, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		recordIngestFailure()
		return nil, &IngestError{Phase: PhaseStarting, FileName: fileName, Err: err}
	}
	if info.IsDir() {
		recordIngestFailure()
		return nil, &IngestError{Phase: PhaseStarting, FileName: fileName, Err: fmt.Errorf("%s is a directory", path)}
	}

	return s.IngestReader(ctx, fileName, f, info.Size())
}

// IngestReader ingests CSV content from r under the given file name.
// size is advisory and may be 0 when unknown; the size limit is enforced on
// the bytes actually read either way.
func (s *Service) IngestReader(ctx context.Context, fileName string, r io.Reader, size int64) (*IngestResult, error) {
	log := logging.WithFields(ctx, "file", fileName)

	if s.maxFileSize > 0 && size > s.maxFileSize {
		recordIngestFailure()
		log.Warn("ingestion rejected", "size", size, "max_size", s.maxFileSize)
		return nil, &IngestError{
			Phase:    PhaseStarting,
			FileName: fileName,
			Err:      fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrFileTooLarge, size, s.maxFileSize),
		}
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		recordIngestFailure()
		log.Warn("ingestion slot unavailable", "error", err)
		return nil, &IngestError{Phase: PhaseStarting, FileName: fileName, Err: err}
	}
	defer s.limiter.Release()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	log.Info("ingestion started", "size", size)

	res, err := s.ingest(ctx, fileName, r, size)
	if err != nil {
		recordIngestFailure()
		log.Error("ingestion failed", "error", err)
		return nil, err
	}

	recordIngestSuccess(res)
	log.Info("ingestion completed",
		"dataset_id", res.DatasetID,
		"rows", res.TotalRows,
		"accepted", res.Accepted,
		"skipped", res.Skipped,
		"rejected", res.Rejected,
		"duration", res.Duration,
	)
	return res, nil
}

func (s *Service) ingest(ctx context.Context, fileName string, r io.Reader, size int64) (*IngestResult, error) {
	log := logging.WithFields(ctx, "file", fileName)
	start := s.now()

	fail := func(phase IngestPhase, line int, err error) (*IngestResult, error) {
		return nil, &IngestError{Phase: phase, FileName: fileName, Line: line, Err: err}
	}

	if s.maxFileSize > 0 {
		r = &sizeLimitReader{r: r, remaining: s.maxFileSize}
	}

	dec, err := NewRowDecoder(WrapForIngest(r, size), s.delimiter)
	if err != nil {
		return fail(PhaseParsing, 1, err)
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return fail(PhaseStarting, 0, fmt.Errorf("begin transaction: %w", err))
	}
	defer func() {
		// No-op after a successful Commit.
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			log.Warn("rollback failed", "error", rbErr)
		}
	}()

	res := &IngestResult{
		DatasetID: s.newID(),
		FileName:  fileName,
		CreatedAt: start.UTC(),
	}

	batch := make([]VulnerabilityRecord, 0, s.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := tx.InsertRecords(ctx, batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for {
		out, err := dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fail(PhaseParsing, out.Line, err)
		}

		res.TotalRows++
		if res.TotalRows%ContextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return fail(PhaseParsing, out.Line, err)
			}
		}

		if out.Status == RowSkipped {
			res.Skipped++
			log.Debug("row skipped", "line", out.Line, "reason", out.Reason)
			continue
		}

		mapped, ok, err := s.mapper.Map(out.Row)
		if err != nil {
			return fail(PhaseParsing, out.Line, err)
		}
		if !ok {
			res.Rejected++
			log.Debug("row rejected", "line", out.Line, "reason", "missing cve id and product")
			continue
		}

		batch = append(batch, VulnerabilityRecord{
			ID:        s.newID(),
			DatasetID: res.DatasetID,
			RowNumber: out.Line,
			Finding:   mapped.Finding,
			RawData:   mapped.RawData,
		})
		res.Accepted++

		if len(batch) >= s.batchSize {
			if err := flush(); err != nil {
				return fail(PhaseCommitting, out.Line, fmt.Errorf("insert records: %w", err))
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return fail(PhaseParsing, 0, err)
	}
	if err := flush(); err != nil {
		return fail(PhaseCommitting, 0, fmt.Errorf("insert records: %w", err))
	}

	err = tx.InsertDataset(ctx, Dataset{
		ID:          res.DatasetID,
		FileName:    fileName,
		CreatedAt:   res.CreatedAt,
		RecordCount: res.Accepted,
	})
	if err != nil {
		return fail(PhaseCommitting, 0, fmt.Errorf("insert dataset: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fail(PhaseCommitting, 0, fmt.Errorf("commit: %w", err))
	}

	res.Duration = s.now().Sub(start)
	return res, nil
}

// sizeLimitReader fails with ErrFileTooLarge once more than remaining bytes
// are available from r.
type sizeLimitReader struct {
	r         io.Reader
	remaining int64
}

func (l *sizeLimitReader) Read(p []byte) (int, error) {
	if l.remaining <= 0 {
		var probe [1]byte
		n, err := l.r.Read(probe[:])
		if n > 0 {
			return 0, ErrFileTooLarge
		}
		return 0, err
	}
	if int64(len(p)) > l.remaining {
		p = p[:l.remaining]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	return n, err
}
