package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tonimelisma/driveindex/internal/capability"
	"github.com/tonimelisma/driveindex/internal/gdrive"
)

// Download is an open object stream. The caller must close Response.Body.
type Download struct {
	Name     string
	MimeType string
	Size     int64
	Response *http.Response
}

// Open verifies a download link for a request from clientIP and opens the
// linked object, forwarding rangeHeader. The object is read through the
// first root whose credential can see it. Link failures of every kind
// return ErrInvalidLink.
func (x *Index) Open(ctx context.Context, link capability.Link, clientIP, rangeHeader string) (*Download, error) {
	claims, ok := x.links.Verify(link, clientIP)
	if !ok {
		return nil, ErrInvalidLink
	}

	var lastErr error

	for i, d := range x.drives {
		f, err := d.store.GetMetadata(ctx, claims.FileID)
		if err != nil {
			x.logger.Debug("metadata lookup failed", slog.Int("root", i), slog.String("error", err.Error()))
			lastErr = err

			continue
		}

		if f == nil {
			continue
		}

		return x.open(ctx, d, f, rangeHeader)
	}

	if lastErr != nil {
		return nil, classify(lastErr)
	}

	return nil, ErrNotFound
}

// OpenPath opens the file at the escaped path under root n, for
// path-mode downloads.
func (x *Index) OpenPath(ctx context.Context, n int, path, rangeHeader string) (*Download, error) {
	d, err := x.drive(n)
	if err != nil {
		return nil, err
	}

	f, err := d.res.ResolveSingleFile(ctx, path)
	if err != nil {
		return nil, classify(err)
	}

	if f == nil {
		return nil, ErrNotFound
	}

	return x.open(ctx, d, f, rangeHeader)
}

func (x *Index) open(ctx context.Context, d boundDrive, f *gdrive.File, rangeHeader string) (*Download, error) {
	if f.IsFolder() {
		return nil, ErrNotFound
	}

	resp, err := d.store.Download(ctx, f.ID, rangeHeader)
	if err != nil {
		if errors.Is(err, gdrive.ErrNotFound) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("downloading: %w", classify(err))
	}

	return &Download{
		Name:     f.Name,
		MimeType: f.MimeType,
		Size:     f.Size,
		Response: resp,
	}, nil
}
