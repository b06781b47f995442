package server

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tonimelisma/driveindex/internal/index"
)

type rootResponse struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Type  string `json:"type"`
	Route string `json:"route"`
}

func (s *Server) handleRoots(w http.ResponseWriter, _ *http.Request) {
	roots := s.idx.Roots()
	out := make([]rootResponse, 0, len(roots))

	for _, ri := range roots {
		out = append(out, rootResponse{
			Index: ri.Index,
			Name:  ri.Name,
			Type:  ri.Type.String(),
			Route: "/" + strconv.Itoa(ri.Index) + ":/",
		})
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"roots": out})
}

// handlePath serves /{n}:/{path}. POST and folder paths return a listing
// page; a file path returns its record, or its content when path downloads
// are enabled.
func (s *Server) handlePath(w http.ResponseWriter, r *http.Request, n int, path string) {
	ip := s.clientIP(r)

	switch r.Method {
	case http.MethodPost:
		var req pageRequest
		if err := decodeBody(r, &req); err != nil {
			s.sendError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		s.writeListing(w, r, func() (*index.Listing, error) {
			return s.idx.List(r.Context(), n, path, req.PageToken, req.PageIndex, ip)
		})
	case http.MethodGet, http.MethodHead:
		q := r.URL.Query()

		if strings.HasSuffix(path, "/") {
			pageIndex, _ := strconv.Atoi(q.Get("page_index"))
			s.writeListing(w, r, func() (*index.Listing, error) {
				return s.idx.List(r.Context(), n, path, q.Get("page_token"), pageIndex, ip)
			})

			return
		}

		if q.Get("a") != "" || !s.opts.PathDownloads {
			e, err := s.idx.Stat(r.Context(), n, path, ip)
			if err != nil {
				s.writeError(w, r, err)
				return
			}

			s.writeJSON(w, http.StatusOK, e)

			return
		}

		dl, err := s.idx.OpenPath(r.Context(), n, path, r.Header.Get("Range"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		s.stream(w, r, dl)
	default:
		w.Header().Set("Allow", "GET, HEAD, POST")
		s.sendError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) writeListing(w http.ResponseWriter, r *http.Request, list func() (*index.Listing, error)) {
	l, err := list()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, newListingResponse(l))
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request, n int) {
	var req pageRequest

	if r.Method == http.MethodPost {
		if err := decodeBody(r, &req); err != nil {
			s.sendError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	} else {
		q := r.URL.Query()
		req.Q = q.Get("q")
		req.PageToken = q.Get("page_token")
		req.PageIndex, _ = strconv.Atoi(q.Get("page_index"))
	}

	if strings.TrimSpace(req.Q) == "" {
		s.writeJSON(w, http.StatusOK, newListingResponse(&index.Listing{}))
		return
	}

	s.writeListing(w, r, func() (*index.Listing, error) {
		return s.idx.Search(r.Context(), n, req.Q, req.PageToken, req.PageIndex, s.clientIP(r))
	})
}

func (s *Server) handleIDToPath(w http.ResponseWriter, r *http.Request, n int) {
	var req pageRequest
	if err := decodeBody(r, &req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := s.idx.IDToPath(r.Context(), n, req.ID)

	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, map[string]string{"path": p})
	case errors.Is(err, index.ErrNotFound):
		s.sendError(w, http.StatusNotFound, "Path not found")
	default:
		s.writeError(w, r, err)
	}
}

// handleFallback serves items that have no reachable path: a folder
// listing when type is "folder", otherwise the single item.
func (s *Server) handleFallback(w http.ResponseWriter, r *http.Request, n int) {
	var req pageRequest
	if err := decodeBody(r, &req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.serveByID(w, r, n, req)
}

func (s *Server) serveByID(w http.ResponseWriter, r *http.Request, n int, req pageRequest) {
	ip := s.clientIP(r)

	if req.Type == "folder" {
		s.writeListing(w, r, func() (*index.Listing, error) {
			return s.idx.ListByID(r.Context(), n, req.ID, req.PageToken, req.PageIndex, ip)
		})

		return
	}

	e, err := s.idx.Item(r.Context(), n, req.ID, ip)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, e)
}

// handleFindPath redirects a raw id to its path route, or to the fallback
// route when the id has no reachable path.
func (s *Server) handleFindPath(w http.ResponseWriter, r *http.Request, n int) {
	q := r.URL.Query()

	id := q.Get("id")
	if id == "" {
		s.sendError(w, http.StatusBadRequest, "missing id")
		return
	}

	route, err := s.idx.FindPath(r.Context(), n, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if q.Get("view") == "true" && !strings.HasPrefix(route, index.FallbackPath) {
		route += "?a=view"
	}

	http.Redirect(w, r, route, http.StatusFound)
}

// handleRootFindPath forwards /findpath to the first root.
func (s *Server) handleRootFindPath(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	v := url.Values{
		"id":   {q.Get("id")},
		"view": {strconv.FormatBool(q.Get("view") == "true")},
	}

	http.Redirect(w, r, "/0:findpath?"+v.Encode(), http.StatusFound)
}

// handleRootFallback serves /fallback?id=... through the first root.
func (s *Server) handleRootFallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	req := pageRequest{ID: q.Get("id"), Type: q.Get("type"), PageToken: q.Get("page_token")}
	req.PageIndex, _ = strconv.Atoi(q.Get("page_index"))

	if req.ID == "" {
		s.sendError(w, http.StatusBadRequest, "missing id")
		return
	}

	s.serveByID(w, r, 0, req)
}
