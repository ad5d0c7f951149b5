package core_test

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/vulnmaster/internal/core"
	"github.com/JonMunkholm/vulnmaster/internal/store/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ingestTime = time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

const canonicalHeader = "CVE ID;Product;Component;Original Severity;Original Vector;Original Score;Disposition Summary;Rationale\n"

func newSQLiteStore(t *testing.T) *sqlite.Store {
	t.Helper()

	s, err := sqlite.Open(filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.EnsureSchema(context.Background()))
	return s
}

func newService(t *testing.T, st core.Store, opts core.Options) *core.Service {
	t.Helper()
	svc := core.NewService(st, opts)
	svc.SetDeterministic(ingestTime, "id")
	return svc
}

func writeCSV(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// validRows returns n canonical rows numbered from start.
func validRows(start, n int) string {
	var b strings.Builder
	for i := start; i < start+n; i++ {
		fmt.Fprintf(&b, "CVE-2024-%04d;Gateway;openssl;High;AV:N;7,%d;Affected;Needs patch\n", i, i%10)
	}
	return b.String()
}

// failingStore wraps a Store so that the Nth InsertRecords call fails.
type failingStore struct {
	core.Store
	failOn int
	calls  int
}

func (f *failingStore) Begin(ctx context.Context) (core.Tx, error) {
	tx, err := f.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &failingTx{Tx: tx, store: f}, nil
}

type failingTx struct {
	core.Tx
	store *failingStore
}

func (t *failingTx) InsertRecords(ctx context.Context, recs []core.VulnerabilityRecord) error {
	t.store.calls++
	if t.store.calls == t.store.failOn {
		return errors.New("disk I/O error")
	}
	return t.Tx.InsertRecords(ctx, recs)
}

func assertNothingPersisted(t *testing.T, st core.Store, datasetID string) {
	t.Helper()
	ctx := context.Background()

	ds, err := st.ListDatasets(ctx)
	require.NoError(t, err)
	assert.Empty(t, ds, "no dataset row may survive a failed ingestion")

	recs, err := st.ListRecords(ctx, datasetID)
	require.NoError(t, err)
	assert.Empty(t, recs, "no record row may survive a failed ingestion")
}

func TestIngest_RowCountInvariant(t *testing.T) {
	st := newSQLiteStore(t)
	svc := newService(t, st, core.Options{BatchSize: 3})
	ctx := context.Background()

	content := canonicalHeader +
		validRows(1, 5) +
		"CVE-2024-9000;Gateway\n" + // jagged
		";;libxml2;Low;AV:L;2,0;Not affected;Unused\n" + // rejected
		validRows(6, 5) +
		"a;b;c;d;e;f;g;h;i\n" // jagged
	path := writeCSV(t, "export.csv", content)

	res, err := svc.Ingest(ctx, path)
	require.NoError(t, err)

	assert.Equal(t, "id-0", res.DatasetID)
	assert.Equal(t, "export.csv", res.FileName)
	assert.Equal(t, ingestTime, res.CreatedAt)
	assert.Equal(t, 13, res.TotalRows)
	assert.Equal(t, 10, res.Accepted)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, 1, res.Rejected)
	assert.Equal(t, "Successfully ingested 10 valid records from export.csv", res.Summary())

	recs, err := st.ListRecords(ctx, res.DatasetID)
	require.NoError(t, err)
	require.Len(t, recs, res.Accepted)
	assert.LessOrEqual(t, len(recs), res.TotalRows)

	ds, err := st.ListDatasets(ctx)
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, res.Accepted, ds[0].RecordCount)
	assert.Equal(t, "export.csv", ds[0].FileName)
	assert.True(t, ds[0].CreatedAt.Equal(ingestTime))

	first := recs[0]
	assert.Equal(t, 2, first.RowNumber)
	assert.Equal(t, "CVE-2024-0001", first.CVEID)
	assert.InDelta(t, 7.1, first.OriginalScore, 1e-9)
	assert.Nil(t, first.Expert)
}

func TestIngest_JaggedRowsAreSkipped(t *testing.T) {
	st := newSQLiteStore(t)
	svc := newService(t, st, core.Options{})

	content := canonicalHeader + validRows(1, 4) + "short;row\n" + validRows(5, 6) + "x;y;z\n"
	res, err := svc.Ingest(context.Background(), writeCSV(t, "jagged.csv", content))
	require.NoError(t, err)

	assert.Equal(t, 10, res.Accepted)
	assert.Equal(t, 2, res.Skipped)
}

func TestIngest_ReingestCreatesNewDataset(t *testing.T) {
	st := newSQLiteStore(t)
	svc := newService(t, st, core.Options{})
	ctx := context.Background()
	path := writeCSV(t, "same.csv", canonicalHeader+validRows(1, 7))

	first, err := svc.Ingest(ctx, path)
	require.NoError(t, err)
	second, err := svc.Ingest(ctx, path)
	require.NoError(t, err)

	assert.NotEqual(t, first.DatasetID, second.DatasetID)
	assert.Equal(t, first.Accepted, second.Accepted)

	ds, err := st.ListDatasets(ctx)
	require.NoError(t, err)
	assert.Len(t, ds, 2)

	for _, id := range []string{first.DatasetID, second.DatasetID} {
		recs, err := st.ListRecords(ctx, id)
		require.NoError(t, err)
		assert.Len(t, recs, 7)
	}
}

func TestIngest_AllOrNothingOnStoreFailure(t *testing.T) {
	st := &failingStore{Store: newSQLiteStore(t), failOn: 3}
	svc := newService(t, st, core.Options{BatchSize: 2})

	_, err := svc.Ingest(context.Background(), writeCSV(t, "fail.csv", canonicalHeader+validRows(1, 10)))
	require.Error(t, err)

	var ie *core.IngestError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, core.PhaseCommitting, ie.Phase)
	assert.Contains(t, err.Error(), "disk I/O error")

	assertNothingPersisted(t, st, "id-0")
}

func TestIngest_FatalParseErrorRollsBack(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantErr  error
		wantLine int
	}{
		{
			name:     "unterminated quote",
			content:  canonicalHeader + validRows(1, 3) + "CVE-2024-0100;\"Broken;c;d;e;1;g;h\n" + validRows(4, 3),
			wantErr:  csv.ErrQuote,
			wantLine: 5,
		},
		{
			name:    "invalid encoding",
			content: canonicalHeader + validRows(1, 3) + "CVE-2024-0100;\xff\xfe;c;d;e;1;g;h\n",
			wantErr: core.ErrInvalidEncoding,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newSQLiteStore(t)
			// One record per batch so rows reach the store before the failure.
			svc := newService(t, st, core.Options{BatchSize: 1})

			_, err := svc.Ingest(context.Background(), writeCSV(t, "bad.csv", tt.content))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)

			var ie *core.IngestError
			require.ErrorAs(t, err, &ie)
			assert.Equal(t, core.PhaseParsing, ie.Phase)
			if tt.wantLine != 0 {
				assert.Equal(t, tt.wantLine, ie.Line)
			}

			assertNothingPersisted(t, st, "id-0")
		})
	}
}

func TestIngest_FileTooLarge(t *testing.T) {
	st := newSQLiteStore(t)
	svc := newService(t, st, core.Options{MaxFileSize: 200})
	content := canonicalHeader + validRows(1, 20)

	t.Run("known size", func(t *testing.T) {
		_, err := svc.IngestReader(context.Background(), "big.csv", strings.NewReader(content), int64(len(content)))
		assert.ErrorIs(t, err, core.ErrFileTooLarge)
	})

	t.Run("unknown size", func(t *testing.T) {
		_, err := svc.IngestReader(context.Background(), "big.csv", strings.NewReader(content), 0)
		assert.ErrorIs(t, err, core.ErrFileTooLarge)
	})

	assertNothingPersisted(t, st, "id-0")
}

func TestIngest_LiteralQuoteInUnquotedCell(t *testing.T) {
	st := newSQLiteStore(t)
	svc := newService(t, st, core.Options{BatchSize: 2})
	ctx := context.Background()

	rationale := `Vendor states the "legacy" module is unused`
	content := canonicalHeader + validRows(1, 3) +
		"CVE-2024-0100;Gateway;openssl;High;AV:N;5,0;Affected;" + rationale + "\n" +
		validRows(4, 3)

	res, err := svc.Ingest(ctx, writeCSV(t, "quotes.csv", content))
	require.NoError(t, err)
	assert.Equal(t, 7, res.Accepted)
	assert.Zero(t, res.Skipped)

	recs, err := st.ListRecords(ctx, res.DatasetID)
	require.NoError(t, err)
	require.Len(t, recs, 7)
	assert.Equal(t, "CVE-2024-0100", recs[3].CVEID)
	assert.Equal(t, rationale, recs[3].Rationale)

	full, err := st.GetRecord(ctx, recs[3].ID)
	require.NoError(t, err)
	raw, err := core.ParseRawData(full.RawData)
	require.NoError(t, err)
	assert.Equal(t, rationale, raw["Rationale"])
}

func TestIngest_VerbatimRawData(t *testing.T) {
	st := newSQLiteStore(t)
	svc := newService(t, st, core.Options{})
	ctx := context.Background()

	header := []string{"Product", "CVE ID", "Vendor Ticket", "Original Score", "Notes"}
	content := strings.Join(header, ";") + "\n" +
		"Router; CVE-2024-0001 ;TCK-1;7,3;\"semi;colon\"\n" +
		"Switch;CVE-2024-0002;TCK-2;;  padded  \n"

	res, err := svc.Ingest(ctx, writeCSV(t, "raw.csv", content))
	require.NoError(t, err)
	require.Equal(t, 2, res.Accepted)

	recs, err := st.ListRecords(ctx, res.DatasetID)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	want := [][]string{
		{"Router", " CVE-2024-0001 ", "TCK-1", "7,3", "semi;colon"},
		{"Switch", "CVE-2024-0002", "TCK-2", "", "  padded  "},
	}
	for i, r := range recs {
		full, err := st.GetRecord(ctx, r.ID)
		require.NoError(t, err)

		raw, err := core.ParseRawData(full.RawData)
		require.NoError(t, err)
		for j, h := range header {
			v, ok := raw[h]
			require.True(t, ok, "column %q missing from raw data", h)
			assert.Equal(t, want[i][j], v, "column %q", h)
		}
	}

	assert.Equal(t, "CVE-2024-0001", recs[0].CVEID)
	assert.InDelta(t, 7.3, recs[0].OriginalScore, 1e-9)
	assert.Zero(t, recs[1].OriginalScore)
}

func TestIngest_HeaderAliases(t *testing.T) {
	aliases := writeCSV(t, "columns.yaml", "columns:\n  cve_id: [\"Vulnerability\"]\n  original_score: [\"CVSS\"]\n")
	cm, err := core.LoadColumnMap(aliases)
	require.NoError(t, err)

	st := newSQLiteStore(t)
	svc := newService(t, st, core.Options{Columns: cm, Delimiter: ','})
	ctx := context.Background()

	content := "CVSS,Vulnerability,product\n9.1,CVE-2024-7777,Camera\n"
	res, err := svc.Ingest(ctx, writeCSV(t, "drift.csv", content))
	require.NoError(t, err)
	require.Equal(t, 1, res.Accepted)

	recs, err := st.ListRecords(ctx, res.DatasetID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "CVE-2024-7777", recs[0].CVEID)
	assert.Equal(t, "Camera", recs[0].Product)
	assert.InDelta(t, 9.1, recs[0].OriginalScore, 1e-9)
}

func TestIngest_StartErrors(t *testing.T) {
	st := newSQLiteStore(t)
	svc := newService(t, st, core.Options{})
	ctx := context.Background()

	t.Run("missing file", func(t *testing.T) {
		_, err := svc.Ingest(ctx, filepath.Join(t.TempDir(), "absent.csv"))
		assert.ErrorIs(t, err, os.ErrNotExist)
		assert.Equal(t, "FILE006", core.MapError(err).Code)
	})

	t.Run("directory", func(t *testing.T) {
		_, err := svc.Ingest(ctx, t.TempDir())
		var ie *core.IngestError
		require.ErrorAs(t, err, &ie)
		assert.Equal(t, core.PhaseStarting, ie.Phase)
	})

	t.Run("empty file", func(t *testing.T) {
		_, err := svc.Ingest(ctx, writeCSV(t, "empty.csv", ""))
		assert.ErrorIs(t, err, core.ErrEmptyFile)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := svc.Ingest(cctx, writeCSV(t, "c.csv", canonicalHeader+validRows(1, 3)))
		assert.ErrorIs(t, err, context.Canceled)
	})

	assertNothingPersisted(t, st, "id-0")
}

func TestIngest_HeaderOnlyFile(t *testing.T) {
	st := newSQLiteStore(t)
	svc := newService(t, st, core.Options{})

	res, err := svc.Ingest(context.Background(), writeCSV(t, "header.csv", canonicalHeader))
	require.NoError(t, err)
	assert.Zero(t, res.Accepted)

	ds, err := st.ListDatasets(context.Background())
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Zero(t, ds[0].RecordCount)
}

func TestExpertAssessment_Persisted(t *testing.T) {
	st := newSQLiteStore(t)
	svc := newService(t, st, core.Options{})
	ctx := context.Background()

	res, err := svc.Ingest(ctx, writeCSV(t, "r.csv", canonicalHeader+validRows(1, 1)))
	require.NoError(t, err)
	recs, err := st.ListRecords(ctx, res.DatasetID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	id := recs[0].ID

	_, err = svc.SubmitExpertAssessment(ctx, core.ExpertUpdate{RecordID: id, Severity: "Low", Justification: "123456789"})
	require.ErrorIs(t, err, core.ErrJustificationTooShort)

	got, err := st.GetRecord(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got.Expert)

	msg, err := svc.SubmitExpertAssessment(ctx, core.ExpertUpdate{RecordID: id, Severity: "Low", Justification: "1234567890"})
	require.NoError(t, err)
	assert.Equal(t, core.AssessmentSaved, msg)

	got, err = st.GetRecord(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got.Expert)
	assert.Equal(t, "Low", got.Expert.Severity)
	assert.True(t, got.Expert.UpdatedAt.Equal(ingestTime))
}

func TestPreviewReader(t *testing.T) {
	st := newSQLiteStore(t)
	svc := newService(t, st, core.Options{})

	content := "CVE ID;Product;Extra\nCVE-1;P;x\n;;y\nonly-one\n"
	resp, err := svc.PreviewReader(context.Background(), "p.csv", strings.NewReader(content), int64(len(content)))
	require.NoError(t, err)

	assert.Equal(t, core.PreviewSummary{TotalRows: 3, Accepted: 1, Skipped: 1, Rejected: 1}, resp.Summary)
	require.Len(t, resp.AcceptedSamples, 1)
	assert.Equal(t, "CVE-1", resp.AcceptedSamples[0].Finding.CVEID)
	assert.Equal(t, 4, resp.SkippedSamples[0].LineNumber)
	assert.Equal(t, 3, resp.RejectedSamples[0].LineNumber)
	assert.Contains(t, resp.Unmapped, "original_score")
	assert.NotContains(t, resp.Unmapped, "cve_id")

	ds, err := st.ListDatasets(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ds, "preview must not write")
}
