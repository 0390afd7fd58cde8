package fetch

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cochaviz/uli/internal/logging"
)

func TestIdentifier(t *testing.T) {
	mac, err := net.ParseMAC("00:1A:2B:3C:4D:5E")
	require.NoError(t, err)
	assert.Equal(t, "00_1a_2b_3c_4d_5e", Identifier(mac))
}

func TestAttempts(t *testing.T) {
	assert.Equal(t, []Attempt{
		{Name: "00_1a_2b_3c_4d_5e.yaml", Optional: true},
		{Name: "00_00_00_00_00_01.yaml"},
	}, Attempts("00_1a_2b_3c_4d_5e"))
}

func TestBaseURL(t *testing.T) {
	assert.Equal(t, "http://10.0.0.1/U.L.I./", BaseURL("10.0.0.1", "U.L.I."))
}

func TestHTTPFetcher(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/U.L.I./00_00_00_00_00_01.yaml":
			w.Write([]byte("global: {hostname: node01}\n"))
		case "/U.L.I./broken.yaml":
			w.WriteHeader(http.StatusForbidden)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	fetcher := NewHTTPFetcher(server.URL+"/U.L.I./", logging.Discard())
	fetcher.Client.RetryMax = 0
	ctx := context.Background()

	data, err := fetcher.Fetch(ctx, "00_00_00_00_00_01.yaml")
	require.NoError(t, err)
	assert.Equal(t, "global: {hostname: node01}\n", string(data))

	_, err = fetcher.Fetch(ctx, "00_1a_2b_3c_4d_5e.yaml")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = fetcher.Fetch(ctx, "broken.yaml")
	var fetchErr *ConfigFetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestHTTPFetcherTransportError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	fetcher := NewHTTPFetcher(url, logging.Discard())
	fetcher.Client.RetryMax = 0

	_, err := fetcher.Fetch(context.Background(), "00_00_00_00_00_01.yaml")
	var fetchErr *ConfigFetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestFileFetcher(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "00_00_00_00_00_01.yaml"), []byte("fs: {}\n"), 0o644))

	data, err := (&FileFetcher{Path: dir}).Fetch(context.Background(), "00_00_00_00_00_01.yaml")
	require.NoError(t, err)
	assert.Equal(t, "fs: {}\n", string(data))

	_, err = (&FileFetcher{Path: dir}).Fetch(context.Background(), "other.yaml")
	assert.ErrorIs(t, err, ErrNotFound)

	single := filepath.Join(dir, "00_00_00_00_00_01.yaml")
	data, err = (&FileFetcher{Path: single}).Fetch(context.Background(), "ignored.yaml")
	require.NoError(t, err)
	assert.Equal(t, "fs: {}\n", string(data))
}
