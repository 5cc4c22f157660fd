package geoip

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func archive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0644, Size: int64(len(content)), Typeflag: tar.TypeReg}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestDownload(t *testing.T) {
	body := archive(t, map[string]string{
		"GeoLite2-City_20260101/COPYRIGHT.txt":      "c",
		"GeoLite2-City_20260101/GeoLite2-City.mmdb": "mmdb-bytes",
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "acct" || pass != "key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write(body)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "geo", DatabaseName)
	d := NewDownloader("acct", "key", path)
	d.URL = srv.URL

	assert.False(t, d.GetStatus().Exists)
	require.NoError(t, d.Download(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "mmdb-bytes", string(data))

	status := d.GetStatus()
	assert.True(t, status.Exists)
	assert.True(t, status.Configured)
	assert.Equal(t, int64(len("mmdb-bytes")), status.FileSize)

	bad := NewDownloader("acct", "wrong", path)
	bad.URL = srv.URL
	assert.ErrorContains(t, bad.Download(context.Background()), "401")
}

func TestDownloadRequiresCredentials(t *testing.T) {
	d := NewDownloader("", "", filepath.Join(t.TempDir(), DatabaseName))
	assert.ErrorIs(t, d.Download(context.Background()), ErrNotConfigured)
	assert.False(t, d.GetStatus().Configured)
}

func TestDownloadRejectsArchiveWithoutDatabase(t *testing.T) {
	body := archive(t, map[string]string{"README": "nothing here"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := NewDownloader("a", "b", filepath.Join(dir, DatabaseName))
	d.URL = srv.URL
	assert.ErrorContains(t, d.Download(context.Background()), "no .mmdb")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
