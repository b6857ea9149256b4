package filecache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

const defaultMimeType = "application/octet-stream"

var ErrInvalidFileName = errors.New("invalid file name")

// Saved describes a completed download.
type Saved struct {
	Path     string `json:"path"`
	MimeType string `json:"mimeType"`
}

// Download saves rawURL as dir/name, replacing any existing file. The MIME
// type is the one the server reported, otherwise detected from the content.
func Download(ctx context.Context, client *resty.Client, rawURL, dir, name string) (Saved, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return Saved{}, fmt.Errorf("%w: %q", ErrInvalidFileName, name)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Saved{}, fmt.Errorf("creating download directory: %w", err)
	}

	dest := filepath.Join(dir, name)

	_, contentType, err := fetch(ctx, client, rawURL, dest)
	if err != nil {
		return Saved{}, err
	}

	if contentType == "" {
		contentType = DetectMimeType(dest)
		log.Ctx(ctx).Warn().
			Str("url", rawURL).
			Str("mimeType", contentType).
			Msg("no content type reported for download, detected from content")
	}

	return Saved{Path: dest, MimeType: contentType}, nil
}

// DetectMimeType sniffs the content of the file at path.
func DetectMimeType(path string) string {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return defaultMimeType
	}
	return mt.String()
}
