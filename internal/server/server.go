// Package server is the HTTP boundary of driveindex. It serves JSON
// listings, the download endpoint, and login/logout over an index.Index.
// No HTML is rendered.
package server

import (
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tonimelisma/driveindex/internal/capability"
	"github.com/tonimelisma/driveindex/internal/index"
	"github.com/tonimelisma/driveindex/internal/metrics"
	"github.com/tonimelisma/driveindex/internal/userstore"
)

// Route paths outside the per-root routes.
const (
	pathLogin    = "/login"
	pathSignup   = "/signup"
	pathLogout   = "/logout"
	pathMetrics  = "/metrics"
	pathFindPath = "/findpath"
	homeRoute    = "/0:/"
)

var (
	// /{n}:{command}[/...]
	commandRoute = regexp.MustCompile(`^/(\d+):(\w+)(/.*)?$`)
	// /{n}:/{path}
	pathRoute = regexp.MustCompile(`^/(\d+):/(.*)$`)
)

// Options tunes a Server.
type Options struct {
	ClientIPHeader           string // header carrying the client IP, e.g. CF-Connecting-IP
	PathDownloads            bool   // GET on a file path streams the file
	EnableLogin              bool
	EnableSignup             bool
	DisableAnonymousDownload bool
	EnableCORSFileDown       bool
	SessionTTL               time.Duration

	// Both need a users store implementing userstore.LoginTracker.
	SingleSession   bool // only the latest login of a user stays valid
	IPChangedAction bool // a session is valid only from its login address
}

// Server serves one index. It is immutable once built; use Reloadable to
// swap generations under a running listener.
type Server struct {
	idx      *index.Index
	sessions *capability.SessionCodec
	users    userstore.Store
	opts     Options
	logger   *slog.Logger

	handler http.Handler
}

// New creates a Server. sessions and users may be nil when login is
// disabled.
func New(
	idx *index.Index, sessions *capability.SessionCodec, users userstore.Store,
	opts Options, logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		idx:      idx,
		sessions: sessions,
		users:    users,
		opts:     opts,
		logger:   logger,
	}

	s.handler = metrics.Middleware(routeLabel, s.requireAuth(http.HandlerFunc(s.route)))

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Path

	switch p {
	case "/":
		s.handleRoots(w, r)
		return
	case pathMetrics:
		metrics.Handler().ServeHTTP(w, r)
		return
	case pathLogin:
		s.handleLogin(w, r)
		return
	case pathSignup:
		s.handleSignup(w, r)
		return
	case pathLogout:
		s.handleLogout(w, r)
		return
	case capability.DownloadPath:
		s.handleDownload(w, r)
		return
	case pathFindPath:
		s.handleRootFindPath(w, r)
		return
	case index.FallbackPath:
		s.handleRootFallback(w, r)
		return
	}

	if m := commandRoute.FindStringSubmatch(p); m != nil {
		if s.handleCommand(w, r, m[1], m[2]) {
			return
		}
	}

	// Match against the escaped path so names containing "%2F" survive.
	if m := pathRoute.FindStringSubmatch(r.URL.EscapedPath()); m != nil {
		n, ok := s.rootNumber(m[1])
		if !ok {
			http.Redirect(w, r, homeRoute, http.StatusFound)
			return
		}

		s.handlePath(w, r, n, "/"+m[2])

		return
	}

	http.Redirect(w, r, homeRoute, http.StatusFound)
}

// handleCommand dispatches /{n}:{command}. It reports false when command is
// not one this server knows, so the path route can try the request.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request, rawN, command string) bool {
	var h func(http.ResponseWriter, *http.Request, int)

	switch command {
	case "search":
		h = s.handleSearch
	case "id2path":
		h = s.handleIDToPath
	case "fallback":
		h = s.handleFallback
	case "findpath":
		h = s.handleFindPath
	default:
		return false
	}

	n, ok := s.rootNumber(rawN)
	if !ok {
		http.Redirect(w, r, homeRoute, http.StatusFound)
		return true
	}

	h(w, r, n)

	return true
}

func (s *Server) rootNumber(raw string) (int, bool) {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 || n >= len(s.idx.Roots()) {
		return 0, false
	}

	return n, true
}

// clientIP returns the requester address from the configured header, or
// from the connection when the header is absent.
func (s *Server) clientIP(r *http.Request) string {
	if s.opts.ClientIPHeader != "" {
		if v := r.Header.Get(s.opts.ClientIPHeader); v != "" {
			first, _, _ := strings.Cut(v, ",")
			return strings.TrimSpace(first)
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}

// routeLabel maps a request to a fixed metrics label.
func routeLabel(r *http.Request) string {
	switch p := r.URL.Path; p {
	case "/":
		return "roots"
	case pathMetrics, pathLogin, pathSignup, pathLogout, pathFindPath, index.FallbackPath:
		return strings.TrimPrefix(p, "/")
	case capability.DownloadPath:
		return "download"
	default:
		if m := commandRoute.FindStringSubmatch(p); m != nil {
			switch m[2] {
			case "search", "id2path", "fallback", "findpath":
				return m[2]
			}
		}

		if pathRoute.MatchString(p) {
			return "path"
		}

		return "other"
	}
}
