package filecache_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/apptemplate/clientkit/internal/filecache"
	"github.com/apptemplate/clientkit/internal/testhelpers"
	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

func TestDownload_ReportedContentType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4"))
	}))
	t.Cleanup(server.Close)

	dir := t.TempDir()
	saved, err := filecache.Download(context.Background(), resty.New(), server.URL+"/report", dir, "report.pdf")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "report.pdf"), saved.Path)
	assert.Equal(t, "application/pdf", saved.MimeType)

	content, err := os.ReadFile(saved.Path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(content))
}

func TestDownload_DetectsMissingContentType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// a nil value stops net/http from sniffing a type of its own
		w.Header()["Content-Type"] = nil
		_, _ = w.Write(pngHeader)
	}))
	t.Cleanup(server.Close)

	saved, err := filecache.Download(context.Background(), resty.New(), server.URL+"/pixel", t.TempDir(), "pixel")
	require.NoError(t, err)
	assert.Equal(t, "image/png", saved.MimeType)
}

func TestDownload_CreatesDirectory(t *testing.T) {
	files := testhelpers.SetupMockFileServer(t, 8)
	dir := filepath.Join(t.TempDir(), "nested", "downloads")

	saved, err := filecache.Download(context.Background(), resty.New(), files.FileURL("a.txt"), dir, "a.txt")
	require.NoError(t, err)
	assert.FileExists(t, saved.Path)
}

func TestDownload_FailureLeavesNothing(t *testing.T) {
	files := testhelpers.SetupMockFileServer(t, 8)
	files.Fail("gone.txt")
	dir := t.TempDir()

	_, err := filecache.Download(context.Background(), resty.New(), files.FileURL("gone.txt"), dir, "gone.txt")
	assert.ErrorContains(t, err, "unexpected status 503")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDownload_InvalidFileName(t *testing.T) {
	for _, name := range []string{"", ".", "..", "../escape.txt", "sub/file.txt"} {
		t.Run(name, func(t *testing.T) {
			_, err := filecache.Download(context.Background(), resty.New(), "https://example.com/x", t.TempDir(), name)
			assert.ErrorIs(t, err, filecache.ErrInvalidFileName)
		})
	}
}

func TestDetectMimeType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blob")
	require.NoError(t, os.WriteFile(path, pngHeader, 0o644))
	assert.Equal(t, "image/png", filecache.DetectMimeType(path))

	assert.Equal(t, "application/octet-stream", filecache.DetectMimeType(filepath.Join(t.TempDir(), "missing")))
}
