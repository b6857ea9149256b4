package filecache_test

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/apptemplate/clientkit/internal/filecache"
	"github.com/apptemplate/clientkit/internal/testhelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCache(t *testing.T, cfg filecache.Config) *filecache.Cache {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	c, err := filecache.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func TestGet_MissThenHit(t *testing.T) {
	ctx := context.Background()
	files := testhelpers.SetupMockFileServer(t, 128)
	c := newCache(t, filecache.Config{})

	remote := files.FileURL("intro.mp4")

	first, err := c.Get(ctx, remote, filecache.PolicySize)
	require.NoError(t, err)
	assert.Equal(t, remote, first, "a miss returns the remote URL")

	var local string
	require.Eventually(t, func() bool {
		local, err = c.Get(ctx, remote, filecache.PolicySize)
		return err == nil && local != remote
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, filepath.Join(c.Dir(), "intro.mp4"), local)

	content, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Len(t, content, 128)
	assert.Equal(t, 1, files.Served("intro.mp4"))
}

func TestGet_BoundsConcurrentDownloads(t *testing.T) {
	ctx := context.Background()
	files := testhelpers.SetupMockFileServer(t, 64)
	c := newCache(t, filecache.Config{Workers: 3})

	files.Hold()

	for i := range 10 {
		remote := files.FileURL("clip-" + strconv.Itoa(i) + ".mp4")
		got, err := c.Get(ctx, remote, filecache.PolicySize)
		require.NoError(t, err)
		assert.Equal(t, remote, got)
	}

	require.Eventually(t, func() bool { return files.InFlight() == 3 }, 5*time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return files.InFlight() > 3 }, 100*time.Millisecond, 5*time.Millisecond)

	files.Release()
	require.NoError(t, c.Close(ctx))

	assert.Equal(t, 3, files.Peak())
	for i := range 10 {
		name := "clip-" + strconv.Itoa(i) + ".mp4"
		assert.FileExists(t, filepath.Join(c.Dir(), name))
		assert.Equal(t, 1, files.Served(name))
	}
}

func TestGet_RepeatedMissQueuesOnce(t *testing.T) {
	ctx := context.Background()
	files := testhelpers.SetupMockFileServer(t, 16)
	c := newCache(t, filecache.Config{Workers: 1})

	files.Hold()
	for range 5 {
		_, err := c.Get(ctx, files.FileURL("poster.jpg"), "")
		require.NoError(t, err)
	}
	files.Release()

	require.NoError(t, c.Close(ctx))
	assert.Equal(t, 1, files.Served("poster.jpg"))
}

func TestGet_FailedDownloadIsSwallowed(t *testing.T) {
	ctx := context.Background()
	files := testhelpers.SetupMockFileServer(t, 16)
	files.Fail("missing.mp4")
	c := newCache(t, filecache.Config{})

	remote := files.FileURL("missing.mp4")
	got, err := c.Get(ctx, remote, filecache.PolicyCount)
	require.NoError(t, err)
	assert.Equal(t, remote, got)

	require.NoError(t, c.Close(ctx))

	entries, err := os.ReadDir(c.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries, "neither the file nor a partial download is left behind")
}

func TestGet_EvictsBeforeDownloading(t *testing.T) {
	ctx := context.Background()
	files := testhelpers.SetupMockFileServer(t, 16)
	dir := t.TempDir()

	base := time.Now().Add(-time.Hour)
	for i, name := range []string{"old.mp4", "older.mp4", "oldest.mp4"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("cached"), 0o644))
		mtime := base.Add(-time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(path, mtime, mtime))
	}

	c := newCache(t, filecache.Config{Dir: dir, MaxFiles: 2})

	_, err := c.Get(ctx, files.FileURL("new.mp4"), filecache.PolicyCount)
	require.NoError(t, err)
	require.NoError(t, c.Close(ctx))

	assert.NoFileExists(t, filepath.Join(dir, "oldest.mp4"))
	assert.FileExists(t, filepath.Join(dir, "older.mp4"))
	assert.FileExists(t, filepath.Join(dir, "old.mp4"))
	assert.FileExists(t, filepath.Join(dir, "new.mp4"))
}

func TestGet_HitSkipsDownload(t *testing.T) {
	ctx := context.Background()
	files := testhelpers.SetupMockFileServer(t, 16)
	c := newCache(t, filecache.Config{})

	local := filepath.Join(c.Dir(), "cached.png")
	require.NoError(t, os.WriteFile(local, []byte("png"), 0o644))

	got, err := c.Get(ctx, files.FileURL("cached.png"), filecache.PolicySize)
	require.NoError(t, err)
	assert.Equal(t, local, got)

	require.NoError(t, c.Close(ctx))
	assert.Equal(t, 0, files.Served("cached.png"))
}

func TestGet_RecreatesMissingDirectory(t *testing.T) {
	ctx := context.Background()
	files := testhelpers.SetupMockFileServer(t, 16)
	c := newCache(t, filecache.Config{})

	require.NoError(t, os.RemoveAll(c.Dir()))

	_, err := c.Get(ctx, files.FileURL("a.mp3"), filecache.PolicySize)
	require.NoError(t, err)
	assert.DirExists(t, c.Dir())
}

func TestGet_AfterClose(t *testing.T) {
	c := newCache(t, filecache.Config{})
	require.NoError(t, c.Close(context.Background()))

	_, err := c.Get(context.Background(), "https://cdn.example.com/a.mp4", filecache.PolicySize)
	assert.ErrorIs(t, err, filecache.ErrClosed)
}

func TestLocalName(t *testing.T) {
	tests := []struct {
		url      string
		expected string
	}{
		{url: "https://cdn.example.com/media/clip.mp4", expected: "clip.mp4"},
		{url: "https://cdn.example.com/media/clip.mp4?signature=abc", expected: "clip.mp4"},
		{url: "https://cdn.example.com/a%20b.png", expected: "a b.png"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			name, err := filecache.LocalName(tt.url)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, name)
		})
	}
}

func TestLocalName_Uncacheable(t *testing.T) {
	for _, u := range []string{
		"https://cdn.example.com",
		"https://cdn.example.com/",
		"https://cdn.example.com/media/",
		"https://cdn.example.com/.fetch-123",
		"://bad",
	} {
		t.Run(u, func(t *testing.T) {
			_, err := filecache.LocalName(u)
			assert.ErrorIs(t, err, filecache.ErrUncacheable)
		})
	}
}

func TestParsePolicy(t *testing.T) {
	p, err := filecache.ParsePolicy("count")
	require.NoError(t, err)
	assert.Equal(t, filecache.PolicyCount, p)

	_, err = filecache.ParsePolicy("lru")
	assert.ErrorContains(t, err, `unknown eviction policy "lru"`)
}

func TestNew_RequiresDir(t *testing.T) {
	_, err := filecache.New(filecache.Config{})
	assert.ErrorContains(t, err, "cache directory is required")
}
