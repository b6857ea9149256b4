package filecache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-resty/resty/v2"
)

// tempPrefix marks downloads in progress. Such files are never reported as
// cached and are ignored by eviction.
const tempPrefix = ".fetch-"

// fetch downloads rawURL to dest through a temporary file in the same
// directory, so dest either holds the complete body or does not exist. It
// returns the size and the Content-Type reported by the server.
func fetch(ctx context.Context, client *resty.Client, rawURL, dest string) (int64, string, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dest), tempPrefix+"*")
	if err != nil {
		return 0, "", fmt.Errorf("creating download file: %w", err)
	}
	tmpName := tmp.Name()
	_ = tmp.Close()

	resp, err := client.R().
		SetContext(ctx).
		SetOutput(tmpName).
		Get(rawURL)
	if err != nil {
		_ = os.Remove(tmpName)
		return 0, "", fmt.Errorf("downloading %s: %w", rawURL, err)
	}

	if !resp.IsSuccess() {
		_ = os.Remove(tmpName)
		return 0, "", fmt.Errorf("downloading %s: unexpected status %d", rawURL, resp.StatusCode())
	}

	info, err := os.Stat(tmpName)
	if err != nil {
		_ = os.Remove(tmpName)
		return 0, "", fmt.Errorf("inspecting download: %w", err)
	}

	if err := os.Rename(tmpName, dest); err != nil {
		_ = os.Remove(tmpName)
		return 0, "", fmt.Errorf("moving download into place: %w", err)
	}

	return info.Size(), resp.Header().Get("Content-Type"), nil
}
