// Package userstore holds the credentials that login sessions are checked
// against. Session tokens carry the username and password, so every request
// re-verifies them here; removing a user or changing a password ends that
// user's sessions.
package userstore

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"sort"
	"time"
)

// MinCredentialLength is the minimum username and password length accepted
// by signup.
const MinCredentialLength = 8

// Sentinel errors. Use errors.Is to check.
var (
	ErrSignupUnsupported = errors.New("userstore: signup requires the sqlite credential store")
	ErrUserExists        = errors.New("userstore: user already exists")
	ErrTooShort          = errors.New("userstore: username and password must be at least 8 characters")
)

// Store verifies and creates users.
type Store interface {
	Verify(ctx context.Context, username, password string) (bool, error)
	Exists(ctx context.Context, username string) (bool, error)
	Create(ctx context.Context, username, password string) error
}

// Login is the state recorded at a user's most recent login.
type Login struct {
	// SessionDigest identifies the session token without storing it.
	SessionDigest string
	ClientIP      string
	At            time.Time
}

// LoginTracker remembers each user's most recent login, for stores that can
// keep per-user state.
type LoginTracker interface {
	RecordLogin(ctx context.Context, username string, login Login) error
	// LastLogin reports ok=false when username has no recorded login.
	LastLogin(ctx context.Context, username string) (login Login, ok bool, err error)
}

// SessionDigest returns the digest recorded for a session token.
func SessionDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// User is one static credential.
type User struct {
	Username string
	Password string
}

// Static is a read-only Store backed by a fixed user list from
// configuration.
type Static struct {
	users map[string]string
}

// NewStatic creates a Static store. Later duplicates win.
func NewStatic(users []User) *Static {
	m := make(map[string]string, len(users))
	for _, u := range users {
		m[u.Username] = u.Password
	}

	return &Static{users: m}
}

// Verify compares password in constant time. Unknown users are compared
// against an empty string so the timing does not reveal whether the user
// exists.
func (s *Static) Verify(_ context.Context, username, password string) (bool, error) {
	want, ok := s.users[username]

	match := subtle.ConstantTimeCompare([]byte(want), []byte(password)) == 1

	return ok && username != "" && match, nil
}

// Exists reports whether username is configured.
func (s *Static) Exists(_ context.Context, username string) (bool, error) {
	_, ok := s.users[username]
	return ok, nil
}

// Create always fails: the static list is edited in the config file.
func (s *Static) Create(context.Context, string, string) error {
	return ErrSignupUnsupported
}

// Usernames returns the configured usernames in sorted order.
func (s *Static) Usernames() []string {
	names := make([]string, 0, len(s.users))
	for u := range s.users {
		names = append(names, u)
	}

	sort.Strings(names)

	return names
}

func checkSignup(username, password string) error {
	if len(username) < MinCredentialLength || len(password) < MinCredentialLength {
		return ErrTooShort
	}

	return nil
}
