package userstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	"golang.org/x/crypto/bcrypt"

	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQL statements for user operations.
const (
	sqlGetHash    = `SELECT password_hash FROM users WHERE username = ?`
	sqlUserExists = `SELECT 1 FROM users WHERE username = ?`
	sqlInsertUser = `INSERT INTO users (username, password_hash, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(username) DO NOTHING`
	sqlUpsertLogin = `INSERT INTO logins (username, session_digest, client_ip, logged_in_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET
			session_digest = excluded.session_digest,
			client_ip = excluded.client_ip,
			logged_in_at = excluded.logged_in_at`
	sqlGetLogin = `SELECT session_digest, client_ip, logged_in_at FROM logins WHERE username = ?`
)

var (
	_ Store        = (*SQLite)(nil)
	_ LoginTracker = (*SQLite)(nil)
)

// SQLite is a Store backed by a SQLite database of bcrypt hashes.
type SQLite struct {
	db      *sql.DB
	cost    int
	logger  *slog.Logger
	nowFunc func() time.Time

	dummyOnce sync.Once
	dummy     []byte
}

// OpenSQLite opens (creating if needed) the database at dbPath and applies
// pending migrations.
func OpenSQLite(ctx context.Context, dbPath string, logger *slog.Logger) (*SQLite, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("userstore: opening database %s: %w", dbPath, err)
	}

	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("user store opened", slog.String("db_path", dbPath))

	return &SQLite{
		db:      db,
		cost:    bcrypt.DefaultCost,
		logger:  logger,
		nowFunc: time.Now,
	}, nil
}

// runMigrations applies all pending schema migrations to the database.
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	// Strip the "migrations/" prefix so goose sees files at the root of the FS.
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("userstore: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("userstore: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("userstore: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Verify checks password against the stored hash. Unknown users still pay
// for one bcrypt comparison.
func (s *SQLite) Verify(ctx context.Context, username, password string) (bool, error) {
	var hash []byte

	err := s.db.QueryRowContext(ctx, sqlGetHash, username).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash(), []byte(password))
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("userstore: looking up user: %w", err)
	}

	err = bcrypt.CompareHashAndPassword(hash, []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("userstore: comparing hash: %w", err)
	}

	return true, nil
}

func (s *SQLite) dummyHash() []byte {
	s.dummyOnce.Do(func() {
		s.dummy, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), s.cost)
	})

	return s.dummy
}

// Exists reports whether username has an account.
func (s *SQLite) Exists(ctx context.Context, username string) (bool, error) {
	var one int

	err := s.db.QueryRowContext(ctx, sqlUserExists, username).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("userstore: looking up user: %w", err)
	}

	return true, nil
}

// Create adds a user. Both username and password must be at least
// MinCredentialLength bytes; an existing username returns ErrUserExists.
func (s *SQLite) Create(ctx context.Context, username, password string) error {
	if err := checkSignup(username, password); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return fmt.Errorf("userstore: hashing password: %w", err)
	}

	res, err := s.db.ExecContext(ctx, sqlInsertUser, username, hash, s.nowFunc().Unix())
	if err != nil {
		return fmt.Errorf("userstore: inserting user: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("userstore: inserting user: %w", err)
	}

	if n == 0 {
		return ErrUserExists
	}

	s.logger.Info("user created", slog.String("username", username))

	return nil
}

// RecordLogin replaces the recorded login of username.
func (s *SQLite) RecordLogin(ctx context.Context, username string, login Login) error {
	at := login.At
	if at.IsZero() {
		at = s.nowFunc()
	}

	if _, err := s.db.ExecContext(ctx, sqlUpsertLogin,
		username, login.SessionDigest, login.ClientIP, at.Unix()); err != nil {
		return fmt.Errorf("userstore: recording login: %w", err)
	}

	return nil
}

// LastLogin returns the recorded login of username.
func (s *SQLite) LastLogin(ctx context.Context, username string) (Login, bool, error) {
	var (
		login Login
		at    int64
	)

	err := s.db.QueryRowContext(ctx, sqlGetLogin, username).Scan(&login.SessionDigest, &login.ClientIP, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return Login{}, false, nil
	}

	if err != nil {
		return Login{}, false, fmt.Errorf("userstore: reading login: %w", err)
	}

	login.At = time.Unix(at, 0)

	return login, true, nil
}
