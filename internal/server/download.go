package server

import (
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/tonimelisma/driveindex/internal/capability"
	"github.com/tonimelisma/driveindex/internal/index"
	"github.com/tonimelisma/driveindex/internal/metrics"
)

// Headers copied from the Drive media response.
var passthroughHeaders = []string{
	"Content-Type",
	"Content-Range",
	"Accept-Ranges",
	"ETag",
	"Last-Modified",
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	link := capability.LinkFromQuery(r.URL.Query())
	if link.File == "" || link.Expiry == "" || link.MAC == "" {
		// Indistinguishable from a link that fails verification.
		s.writeError(w, r, index.ErrInvalidLink)
		return
	}

	dl, err := s.idx.Open(r.Context(), link, s.clientIP(r), r.Header.Get("Range"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.stream(w, r, dl)
}

// stream copies an open download to w with attachment headers.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, dl *index.Download) {
	resp := dl.Response
	defer resp.Body.Close()

	h := w.Header()
	for _, k := range passthroughHeaders {
		if v := resp.Header.Get(k); v != "" {
			h.Set(k, v)
		}
	}

	if h.Get("Content-Type") == "" && dl.MimeType != "" {
		h.Set("Content-Type", dl.MimeType)
	}

	switch {
	case resp.ContentLength >= 0:
		h.Set("Content-Length", strconv.FormatInt(resp.ContentLength, 10))
	case dl.Size > 0 && resp.StatusCode == http.StatusOK:
		h.Set("Content-Length", strconv.FormatInt(dl.Size, 10))
	}

	h.Set("Content-Disposition", contentDisposition(dl.Name, r.URL.Query().Get("inline") == "true"))

	if s.opts.EnableCORSFileDown {
		h.Set("Access-Control-Allow-Origin", "*")
	}

	w.WriteHeader(resp.StatusCode)

	n, err := io.Copy(w, resp.Body)
	metrics.RecordDownloadBytes(n)

	if err != nil {
		s.logger.Warn("download transfer interrupted",
			slog.Int64("bytes", n),
			slog.String("error", err.Error()),
		)
	}
}

func contentDisposition(name string, inline bool) string {
	if inline {
		return "inline"
	}

	if v := mime.FormatMediaType("attachment", map[string]string{"filename": name}); v != "" {
		return v
	}

	return "attachment"
}
