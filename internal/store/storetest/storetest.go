// Package storetest holds the behavioural test suite shared by every
// core.Store implementation.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/JonMunkholm/vulnmaster/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store with its schema in place.
type Factory func(t *testing.T) core.Store

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("EnsureSchemaIdempotent", func(t *testing.T) { testEnsureSchemaIdempotent(t, newStore(t)) })
	t.Run("CommitMakesDatasetVisible", func(t *testing.T) { testCommit(t, newStore(t)) })
	t.Run("RollbackDiscardsEverything", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("RollbackAfterCommitIsNoop", func(t *testing.T) { testRollbackAfterCommit(t, newStore(t)) })
	t.Run("RecordsWithoutDatasetFailAtCommit", func(t *testing.T) { testDeferredForeignKey(t, newStore(t)) })
	t.Run("ListDatasetsNewestFirst", func(t *testing.T) { testListDatasetsOrder(t, newStore(t)) })
	t.Run("UpdateExpertAssessment", func(t *testing.T) { testUpdateExpert(t, newStore(t)) })
	t.Run("UpdateUnknownRecord", func(t *testing.T) { testUpdateUnknown(t, newStore(t)) })
	t.Run("GetUnknownRecord", func(t *testing.T) { testGetUnknown(t, newStore(t)) })
}

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Records builds n records for datasetID with predictable contents.
func Records(datasetID string, n int) []core.VulnerabilityRecord {
	out := make([]core.VulnerabilityRecord, n)
	for i := range out {
		out[i] = core.VulnerabilityRecord{
			ID:        fmt.Sprintf("%s-rec-%03d", datasetID, i),
			DatasetID: datasetID,
			RowNumber: i + 2,
			Finding: core.Finding{
				CVEID:            fmt.Sprintf("CVE-2024-%04d", i),
				Product:          "Gateway",
				Component:        "openssl",
				OriginalSeverity: "High",
				OriginalVector:   "AV:N/AC:L",
				OriginalScore:    7.5,
				Rationale:        "upstream advisory",
			},
			RawData: fmt.Sprintf(`{"CVE ID":"CVE-2024-%04d","Product":"Gateway"}`, i),
		}
	}
	return out
}

// Seed commits one dataset with n records.
func Seed(t *testing.T, s core.Store, datasetID string, created time.Time, n int) []core.VulnerabilityRecord {
	t.Helper()
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	recs := Records(datasetID, n)
	require.NoError(t, tx.InsertRecords(ctx, recs))
	require.NoError(t, tx.InsertDataset(ctx, core.Dataset{
		ID:          datasetID,
		FileName:    datasetID + ".csv",
		CreatedAt:   created,
		RecordCount: n,
	}))
	require.NoError(t, tx.Commit(ctx))
	return recs
}

func testEnsureSchemaIdempotent(t *testing.T, s core.Store) {
	ctx := context.Background()
	require.NoError(t, s.EnsureSchema(ctx))
	require.NoError(t, s.EnsureSchema(ctx))
}

func testCommit(t *testing.T, s core.Store) {
	ctx := context.Background()
	want := Seed(t, s, "ds1", baseTime, 3)

	datasets, err := s.ListDatasets(ctx)
	require.NoError(t, err)
	require.Len(t, datasets, 1)
	assert.Equal(t, "ds1", datasets[0].ID)
	assert.Equal(t, "ds1.csv", datasets[0].FileName)
	assert.Equal(t, 3, datasets[0].RecordCount)
	assert.True(t, baseTime.Equal(datasets[0].CreatedAt))

	got, err := s.ListRecords(ctx, "ds1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i := range got {
		assert.Equal(t, want[i].ID, got[i].ID)
		assert.Equal(t, want[i].RowNumber, got[i].RowNumber)
		assert.Equal(t, want[i].Finding, got[i].Finding)
		assert.Equal(t, want[i].RawData, got[i].RawData)
		assert.Nil(t, got[i].Expert)
	}

	rec, err := s.GetRecord(ctx, want[1].ID)
	require.NoError(t, err)
	assert.Equal(t, want[1].RawData, rec.RawData)
}

func testRollback(t *testing.T, s core.Store) {
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.InsertRecords(ctx, Records("ds1", 2)))
	require.NoError(t, tx.InsertDataset(ctx, core.Dataset{ID: "ds1", FileName: "a.csv", CreatedAt: baseTime, RecordCount: 2}))
	require.NoError(t, tx.Rollback(ctx))

	datasets, err := s.ListDatasets(ctx)
	require.NoError(t, err)
	assert.Empty(t, datasets)

	recs, err := s.ListRecords(ctx, "ds1")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func testRollbackAfterCommit(t *testing.T, s core.Store) {
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.InsertDataset(ctx, core.Dataset{ID: "ds1", FileName: "a.csv", CreatedAt: baseTime}))
	require.NoError(t, tx.Commit(ctx))
	assert.NoError(t, tx.Rollback(ctx))

	datasets, err := s.ListDatasets(ctx)
	require.NoError(t, err)
	assert.Len(t, datasets, 1)
}

func testDeferredForeignKey(t *testing.T, s core.Store) {
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	// Accepted until commit: the check is deferred.
	require.NoError(t, tx.InsertRecords(ctx, Records("missing", 1)))
	assert.Error(t, tx.Commit(ctx))

	recs, err := s.ListRecords(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func testListDatasetsOrder(t *testing.T, s core.Store) {
	ctx := context.Background()
	Seed(t, s, "old", baseTime, 1)
	Seed(t, s, "new", baseTime.Add(time.Hour), 1)
	Seed(t, s, "mid", baseTime.Add(time.Minute), 1)

	datasets, err := s.ListDatasets(ctx)
	require.NoError(t, err)
	require.Len(t, datasets, 3)
	assert.Equal(t, []string{"new", "mid", "old"}, []string{datasets[0].ID, datasets[1].ID, datasets[2].ID})
}

func testUpdateExpert(t *testing.T, s core.Store) {
	ctx := context.Background()
	recs := Seed(t, s, "ds1", baseTime, 2)

	vector := "AV:L/AC:H"
	score := 3.1
	updated := baseTime.Add(48 * time.Hour)

	n, err := s.UpdateExpertAssessment(ctx, recs[0].ID, core.ExpertAssessment{
		Severity:      "Low",
		Vector:        &vector,
		Score:         &score,
		Justification: "not reachable from the network",
		UpdatedAt:     updated,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := s.GetRecord(ctx, recs[0].ID)
	require.NoError(t, err)
	require.NotNil(t, got.Expert)
	assert.Equal(t, "Low", got.Expert.Severity)
	require.NotNil(t, got.Expert.Vector)
	assert.Equal(t, vector, *got.Expert.Vector)
	require.NotNil(t, got.Expert.Score)
	assert.InDelta(t, score, *got.Expert.Score, 1e-9)
	assert.Equal(t, "not reachable from the network", got.Expert.Justification)
	assert.True(t, updated.Equal(got.Expert.UpdatedAt))

	// Replacing clears optional fields that are no longer supplied.
	n, err = s.UpdateExpertAssessment(ctx, recs[0].ID, core.ExpertAssessment{
		Severity:      "Medium",
		Justification: "re-evaluated after patch",
		UpdatedAt:     updated.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err = s.GetRecord(ctx, recs[0].ID)
	require.NoError(t, err)
	require.NotNil(t, got.Expert)
	assert.Equal(t, "Medium", got.Expert.Severity)
	assert.Nil(t, got.Expert.Vector)
	assert.Nil(t, got.Expert.Score)

	// The sibling record is untouched.
	other, err := s.GetRecord(ctx, recs[1].ID)
	require.NoError(t, err)
	assert.Nil(t, other.Expert)
}

func testUpdateUnknown(t *testing.T, s core.Store) {
	n, err := s.UpdateExpertAssessment(context.Background(), "nope", core.ExpertAssessment{
		Severity:      "Low",
		Justification: "does not matter here",
		UpdatedAt:     baseTime,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func testGetUnknown(t *testing.T, s core.Store) {
	_, err := s.GetRecord(context.Background(), "nope")
	assert.ErrorIs(t, err, core.ErrRecordNotFound)
}
