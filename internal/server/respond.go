package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/tonimelisma/driveindex/internal/gdrive"
	"github.com/tonimelisma/driveindex/internal/index"
)

// maxBodyBytes bounds JSON and form request bodies.
const maxBodyBytes = 64 << 10

type errorResponse struct {
	Error string `json:"error"`
}

type okResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// listingResponse is the wire form of one listing page.
type listingResponse struct {
	NextPageToken *string     `json:"nextPageToken"`
	CurPageIndex  int         `json:"curPageIndex"`
	Data          listingData `json:"data"`
}

type listingData struct {
	Files []index.Entry `json:"files"`
}

// pageRequest is the JSON body shared by listing, search and fallback.
type pageRequest struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Q         string `json:"q"`
	PageToken string `json:"page_token"`
	PageIndex int    `json:"page_index"`
}

func newListingResponse(l *index.Listing) listingResponse {
	resp := listingResponse{
		CurPageIndex: l.PageIndex,
		Data:         listingData{Files: l.Files},
	}

	if l.NextPageToken != "" {
		tok := l.NextPageToken
		resp.NextPageToken = &tok
	}

	if resp.Data.Files == nil {
		resp.Data.Files = []index.Entry{}
	}

	return resp
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("writing response failed", slog.String("error", err.Error()))
	}
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	s.writeJSON(w, code, errorResponse{Error: message})
}

// writeError maps an index or remote store error to a generic response.
// Upstream bodies and raw ids are never echoed.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var gerr *gdrive.Error

	switch {
	case errors.Is(err, index.ErrNotFound), errors.Is(err, index.ErrUnknownRoot):
		s.sendError(w, http.StatusNotFound, "not found")
	case errors.Is(err, index.ErrInvalidID):
		s.sendError(w, http.StatusBadRequest, "invalid id")
	case errors.Is(err, index.ErrInvalidLink):
		s.sendError(w, http.StatusUnauthorized, "invalid or expired download link")
	case errors.Is(err, index.ErrDriveInit):
		s.logger.Error("drive request failed",
			slog.String("route", routeLabel(r)),
			slog.String("error", err.Error()),
		)
		s.sendError(w, http.StatusBadGateway, index.ErrDriveInit.Error())
	case errors.As(err, &gerr) && gerr.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		s.sendError(w, http.StatusRequestedRangeNotSatisfiable, "requested range not satisfiable")
	default:
		s.logger.Error("request failed",
			slog.String("route", routeLabel(r)),
			slog.String("error", err.Error()),
		)
		s.sendError(w, http.StatusBadGateway, "upstream request failed")
	}
}

// decodeBody reads an optional JSON body into v. An empty body leaves v
// unchanged.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}

	return err
}
