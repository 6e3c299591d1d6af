package harvester

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"sbirharvest/lib/scrapers/sbir"

	"github.com/stretchr/testify/require"
)

func recentDate() string {
	return time.Now().AddDate(0, 0, -1).Format("2006-01-02")
}

func TestCheckForUpdatesGate(t *testing.T) {
	fetcher := &fakeFetcher{}
	service, store, cleanup := setupService(t, fetcher, Options{})
	defer cleanup()

	ctx := context.Background()
	lastCheck := time.Now().AddDate(0, 0, -2).Format(time.RFC3339)
	require.NoError(t, store.SetMetadata(ctx, "last_update_check", lastCheck))

	result, err := service.CheckForUpdates(ctx, false)
	require.NoError(t, err)
	require.False(t, result.Checked)
	require.Empty(t, fetcher.calls)

	// a gated no-op must not refresh the gate
	requireMetadata(t, store, "last_update_check", lastCheck)
}

func TestCheckForUpdatesDueAfterInterval(t *testing.T) {
	fetcher := &fakeFetcher{}
	service, store, cleanup := setupService(t, fetcher, Options{})
	defer cleanup()

	ctx := context.Background()
	lastCheck := time.Now().AddDate(0, 0, -8).Format(time.RFC3339)
	require.NoError(t, store.SetMetadata(ctx, "last_update_check", lastCheck))

	result, err := service.CheckForUpdates(ctx, false)
	require.NoError(t, err)
	require.True(t, result.Checked)
	require.EqualValues(t, 0, result.NewRecords)

	value, ok, err := store.GetMetadata(ctx, "last_update_check")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEqual(t, lastCheck, value)
	requireMetadata(t, store, "last_update_new_records", "0")
}

func TestCheckForUpdatesForceOverridesGate(t *testing.T) {
	fetcher := &fakeFetcher{}
	service, store, cleanup := setupService(t, fetcher, Options{})
	defer cleanup()

	ctx := context.Background()
	lastCheck := time.Now().Format(time.RFC3339)
	require.NoError(t, store.SetMetadata(ctx, "last_update_check", lastCheck))

	result, err := service.CheckForUpdates(ctx, true)
	require.NoError(t, err)
	require.True(t, result.Checked)
}

func TestCheckForUpdatesInsertsOnlyUnknown(t *testing.T) {
	date := recentDate()
	fetcher := &fakeFetcher{pages: map[int]sbir.Page{
		0: {Docs: []json.RawMessage{
			rawAward("C-0002", date),
			rawAward("C-0003", date),
		}, NumFound: -1},
	}}
	service, store, cleanup := setupService(t, fetcher, Options{})
	defer cleanup()

	ctx := context.Background()
	seed := sbir.FilterValid(ctx, []json.RawMessage{
		rawAward("C-0001", date),
		rawAward("C-0002", date),
	})
	_, err := store.UpsertAwards(ctx, seed)
	require.NoError(t, err)

	result, err := service.CheckForUpdates(ctx, true)
	require.NoError(t, err)
	require.True(t, result.Checked)
	require.EqualValues(t, 1, result.NewRecords)

	count, err := store.RecordCount(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, count)
	requireMetadata(t, store, "last_update_new_records", "1")
}

func TestCheckForUpdatesStopsAtOlderAwards(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[int]sbir.Page{
		0: {Docs: []json.RawMessage{
			rawAward("C-0001", "2020-01-01"),
			rawAward("C-0002", "2020-01-02"),
		}, NumFound: -1},
		2: {Docs: []json.RawMessage{
			rawAward("C-0003", "2019-01-01"),
		}, NumFound: -1},
	}}
	service, store, cleanup := setupService(t, fetcher, Options{})
	defer cleanup()

	result, err := service.CheckForUpdates(context.Background(), true)
	require.NoError(t, err)
	require.True(t, result.Checked)
	require.EqualValues(t, 0, result.NewRecords)
	require.Equal(t, 2, result.Scanned)
	require.Equal(t, []int{0}, fetcher.calls)

	count, err := store.RecordCount(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 0, count)
}

func TestCheckForUpdatesStopsAtScanLimit(t *testing.T) {
	date := recentDate()
	fetcher := &fakeFetcher{pages: map[int]sbir.Page{
		0: {Docs: []json.RawMessage{
			rawAward("C-0001", date),
			rawAward("C-0002", date),
		}, NumFound: -1},
		2: {Docs: []json.RawMessage{
			rawAward("C-0003", date),
			rawAward("C-0004", date),
		}, NumFound: -1},
		// still in-window awards past the cap, the walk must not reach them
		4: {Docs: []json.RawMessage{
			rawAward("C-0005", date),
			rawAward("C-0006", date),
		}, NumFound: -1},
	}}
	service, store, cleanup := setupService(t, fetcher, Options{UpdateScanLimit: 4})
	defer cleanup()

	result, err := service.CheckForUpdates(context.Background(), true)
	require.NoError(t, err)
	require.True(t, result.Checked)
	require.Equal(t, 4, result.Scanned)
	require.EqualValues(t, 4, result.NewRecords)
	require.Equal(t, []int{0, 2}, fetcher.calls)

	count, err := store.RecordCount(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 4, count)
}
