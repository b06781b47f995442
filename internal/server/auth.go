package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/tonimelisma/driveindex/internal/capability"
	"github.com/tonimelisma/driveindex/internal/userstore"
)

// SessionCookie is the name of the browser session cookie.
const SessionCookie = "session"

// requiresAuth reports whether path needs a session when login is enabled.
func (s *Server) requiresAuth(path string) bool {
	if !s.opts.EnableLogin {
		return false
	}

	switch path {
	case pathLogin, pathSignup, pathLogout:
		return false
	case capability.DownloadPath:
		return s.opts.DisableAnonymousDownload
	}

	return true
}

// requireAuth rejects requests without a valid session. A session is valid
// when its token decodes, has not expired, and its credentials still match
// the user store.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.requiresAuth(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if !s.authenticated(r) {
			s.sendError(w, http.StatusUnauthorized, "login required")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) authenticated(r *http.Request) bool {
	if s.sessions == nil || s.users == nil {
		return false
	}

	c, err := r.Cookie(SessionCookie)
	if err != nil || c.Value == "" {
		return false
	}

	sess, ok := s.sessions.Verify(c.Value)
	if !ok {
		return false
	}

	valid, err := s.users.Verify(r.Context(), sess.Username, sess.Password)
	if err != nil {
		s.logger.Error("verifying session credentials", slog.String("error", err.Error()))
		return false
	}

	return valid && s.loginCurrent(r, sess.Username, c.Value)
}

func (s *Server) tracksLogins() bool {
	return s.opts.SingleSession || s.opts.IPChangedAction
}

// loginCurrent applies single_session and ip_changed_action against the
// user's recorded login. A missing record rejects the session, as does a
// store that cannot track logins.
func (s *Server) loginCurrent(r *http.Request, username, token string) bool {
	if !s.tracksLogins() {
		return true
	}

	tracker, ok := s.users.(userstore.LoginTracker)
	if !ok {
		return false
	}

	last, ok, err := tracker.LastLogin(r.Context(), username)
	if err != nil {
		s.logger.Error("reading recorded login", slog.String("error", err.Error()))
		return false
	}

	if !ok {
		return false
	}

	if s.opts.SingleSession && last.SessionDigest != userstore.SessionDigest(token) {
		s.logger.Debug("session superseded by a newer login", slog.String("username", username))
		return false
	}

	if s.opts.IPChangedAction && last.ClientIP != s.clientIP(r) {
		s.logger.Info("session used from a new address",
			slog.String("username", username),
			slog.String("client_ip", s.clientIP(r)),
		)

		return false
	}

	return true
}

// recordLogin stores the login that minted token, when tracking is on.
func (s *Server) recordLogin(r *http.Request, username, token string) error {
	if !s.tracksLogins() {
		return nil
	}

	tracker, ok := s.users.(userstore.LoginTracker)
	if !ok {
		return errors.New("user store cannot track logins")
	}

	return tracker.RecordLogin(r.Context(), username, userstore.Login{
		SessionDigest: userstore.SessionDigest(token),
		ClientIP:      s.clientIP(r),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		s.sendError(w, http.StatusMethodNotAllowed, "method not allowed")

		return
	}

	if !s.opts.EnableLogin || s.sessions == nil || s.users == nil {
		s.writeJSON(w, http.StatusNotFound, okResponse{Error: "Login disabled"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	username, password := r.PostFormValue("username"), r.PostFormValue("password")

	valid, err := s.users.Verify(r.Context(), username, password)
	if err != nil {
		s.logger.Error("verifying credentials", slog.String("error", err.Error()))
		s.writeJSON(w, http.StatusInternalServerError, okResponse{Error: "Login failed"})

		return
	}

	if !valid {
		s.logger.Info("login rejected", slog.String("client_ip", s.clientIP(r)))
		s.writeJSON(w, http.StatusUnauthorized, okResponse{Error: "Invalid credentials"})

		return
	}

	token, err := s.sessions.Mint(username, password, s.opts.SessionTTL)
	if err != nil {
		s.logger.Error("minting session", slog.String("error", err.Error()))
		s.writeJSON(w, http.StatusInternalServerError, okResponse{Error: "Login failed"})

		return
	}

	if err := s.recordLogin(r, username, token); err != nil {
		s.logger.Error("recording login", slog.String("error", err.Error()))
		s.writeJSON(w, http.StatusInternalServerError, okResponse{Error: "Login failed"})

		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.opts.SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})

	s.logger.Info("login accepted", slog.String("username", username))
	s.writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if !s.opts.EnableSignup || s.users == nil {
		s.writeJSON(w, http.StatusForbidden, okResponse{Error: "Signup disabled"})
		return
	}

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		s.sendError(w, http.StatusMethodNotAllowed, "method not allowed")

		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	username, password := r.PostFormValue("username"), r.PostFormValue("password")

	err := s.users.Create(r.Context(), username, password)

	switch {
	case err == nil:
		s.logger.Info("user signed up", slog.String("username", username))
		s.writeJSON(w, http.StatusOK, okResponse{OK: true})
	case errors.Is(err, userstore.ErrTooShort):
		s.writeJSON(w, http.StatusBadRequest, okResponse{Error: "Username and password must be at least 8 characters"})
	case errors.Is(err, userstore.ErrUserExists):
		s.writeJSON(w, http.StatusConflict, okResponse{Error: "User already exists"})
	case errors.Is(err, userstore.ErrSignupUnsupported):
		s.writeJSON(w, http.StatusForbidden, okResponse{Error: "Signup disabled"})
	default:
		s.logger.Error("creating user", slog.String("error", err.Error()))
		s.writeJSON(w, http.StatusInternalServerError, okResponse{Error: "Signup failed"})
	}
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, "/?error=Logged%20Out", http.StatusFound)
}
