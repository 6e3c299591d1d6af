package sbir

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"sbirharvest/lib/telemetry"

	"github.com/stretchr/testify/require"
)

func testClient(t testing.TB, handler http.HandlerFunc) (*Client, *httptest.Server, func()) {
	cleanup := telemetry.SetupForTesting("test:lib/scrapers/sbir")
	server := httptest.NewServer(handler)

	client := NewClient(ClientOptions{
		BaseUrl:      server.URL,
		MaxAttempts:  3,
		RetryDelay:   time.Millisecond,
		RequestDelay: time.Millisecond,
	})
	return client, server, func() {
		server.Close()
		cleanup()
	}
}

func TestFetchPageBareArray(t *testing.T) {
	var gotStart, gotRows string
	client, _, cleanup := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotStart = r.URL.Query().Get("start")
		gotRows = r.URL.Query().Get("rows")
		w.Write([]byte(`[{"contract":"C-0001"},{"contract":"C-0002"}]`))
	})
	defer cleanup()

	page, err := client.FetchPage(context.Background(), 2000, 1000)
	require.NoError(t, err)
	require.Len(t, page.Docs, 2)
	require.EqualValues(t, -1, page.NumFound)
	require.Equal(t, "2000", gotStart)
	require.Equal(t, "1000", gotRows)
}

func TestFetchPageWrappedObject(t *testing.T) {
	client, _, cleanup := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"numFound": 213456, "docs": [{"contract":"C-0001"}]}`))
	})
	defer cleanup()

	page, err := client.FetchPage(context.Background(), 0, 1000)
	require.NoError(t, err)
	require.Len(t, page.Docs, 1)
	require.EqualValues(t, 213456, page.NumFound)
}

func TestFetchPageRetriesServerErrors(t *testing.T) {
	attempts := 0
	client, _, cleanup := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`[]`))
	})
	defer cleanup()

	page, err := client.FetchPage(context.Background(), 0, 1000)
	require.NoError(t, err)
	require.Empty(t, page.Docs)
	require.Equal(t, 3, attempts)
}

func TestFetchPageGivesUpAfterMaxAttempts(t *testing.T) {
	attempts := 0
	client, _, cleanup := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	defer cleanup()

	_, err := client.FetchPage(context.Background(), 0, 1000)
	require.Error(t, err)
	require.Equal(t, 3, attempts)
	require.Contains(t, err.Error(), "after 3 attempts")
}

func TestFetchPageMalformedBodyFailsImmediately(t *testing.T) {
	attempts := 0
	client, _, cleanup := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.Write([]byte(`<html>maintenance</html>`))
	})
	defer cleanup()

	_, err := client.FetchPage(context.Background(), 0, 1000)
	require.ErrorIs(t, err, ErrMalformedResponse)
	require.Equal(t, 1, attempts)
}

func TestFetchPageHonorsCancellation(t *testing.T) {
	client, _, cleanup := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.FetchPage(ctx, 0, 1000)
	require.Error(t, err)
}

func TestDecodePageEmptyBody(t *testing.T) {
	_, err := decodePage([]byte("  \n"))
	require.ErrorIs(t, err, ErrMalformedResponse)
}
