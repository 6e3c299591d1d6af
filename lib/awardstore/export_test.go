package awardstore

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func readCSV(t testing.TB, path string) [][]string {
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}

func TestExportCSV(t *testing.T) {
	store, cleanup := setup(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	older := sampleAward("C-0001")
	older.ProposalAwardDate = "2024-06-30"
	newer := sampleAward("C-0002")
	newer.ProposalAwardDate = "2025-02-01"

	_, err := store.UpsertAwards(ctx, []Award{older, newer})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "awards.csv")
	err = store.ExportCSV(ctx, path, 0)
	require.NoError(t, err)

	records := readCSV(t, path)
	require.Len(t, records, 3)

	diff := cmp.Diff(exportColumns, records[0])
	require.Empty(t, diff)
	require.NotContains(t, records[0], "raw_data")
	require.NotContains(t, records[0], "id")

	// newest award first
	header := records[0]
	contractCol := -1
	for i, col := range header {
		if col == "contract" {
			contractCol = i
		}
	}
	require.NotEqual(t, -1, contractCol)
	require.Equal(t, "C-0002", records[1][contractCol])
	require.Equal(t, "C-0001", records[2][contractCol])
}

func TestExportCSVLimit(t *testing.T) {
	store, cleanup := setup(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	_, err := store.UpsertAwards(ctx, []Award{
		sampleAward("C-0001"), sampleAward("C-0002"), sampleAward("C-0003"),
	})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "awards.csv")
	err = store.ExportCSV(ctx, path, 2)
	require.NoError(t, err)

	records := readCSV(t, path)
	require.Len(t, records, 3)
}

func TestWriteSummary(t *testing.T) {
	store, cleanup := setup(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	_, err := store.UpsertAwards(ctx, []Award{sampleAward("C-0001")})
	require.NoError(t, err)

	dir := t.TempDir()
	summaryPath := filepath.Join(dir, "export_summary.json")

	summary, err := store.WriteSummary(ctx, summaryPath, "data/awards.csv")
	require.NoError(t, err)
	require.EqualValues(t, 1, summary.TotalRecords)
	require.Equal(t, "2025-01-15", summary.LatestAwardDate)
	require.Equal(t, "data/awards.csv", summary.CsvPath)

	encoded, err := os.ReadFile(summaryPath)
	require.NoError(t, err)

	var decoded ExportSummary
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	require.Equal(t, summary, decoded)
}
