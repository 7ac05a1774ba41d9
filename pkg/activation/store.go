// Package activation issues and revokes activation codes kept in the
// wechat_users table of the user database.
package activation

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sipeed/godcmd/pkg/logger"
)

const (
	CodeLength = 16

	// maxAttempts bounds regeneration after a uniqueness collision.
	maxAttempts = 5

	alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	UsageMessage = "invalid command, provide valid days and an optional count, e.g. 30 10"
	Label        = "activation code: "
)

var (
	ErrCodeNotFound = errors.New("code not found or invalid")
	ErrMissingCode  = errors.New("invalid command, provide the code to delete")
	ErrUsage        = errors.New(UsageMessage)
	ErrCollision    = errors.New("could not generate a unique activation code")
)

const schema = `
CREATE TABLE IF NOT EXISTS wechat_users (
    UserID TEXT,
    ActivationCode TEXT UNIQUE,
    Invitation code TEXT,
    ValidDays INTEGER,
    ExpiryDate DATETIME,
    LastUsedTime DATETIME
)`

// Code is one row of wechat_users.
type Code struct {
	Code         string
	UserID       string
	Invitation   string
	ValidDays    int
	ExpiryDate   string
	LastUsedTime string
}

// Store is a SQLite-backed activation code store. The table is created on
// the first generation.
type Store struct {
	db   *sql.DB
	rand io.Reader
}

// Open opens (or creates) the SQLite database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	return &Store{db: db, rand: rand.Reader}, nil
}

// SetRandSource replaces the entropy source used for codes.
func (s *Store) SetRandSource(r io.Reader) {
	s.rand = r
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create wechat_users: %w", err)
	}
	return nil
}

func (s *Store) tableExists(ctx context.Context) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'wechat_users'`).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ParseGenerateArgs parses "<valid days> [count]". Both must be positive
// integers; count defaults to 1.
func ParseGenerateArgs(args []string) (validDays, count int, err error) {
	if len(args) < 1 || len(args) > 2 {
		return 0, 0, ErrUsage
	}
	validDays, err = strconv.Atoi(args[0])
	if err != nil || validDays <= 0 {
		return 0, 0, ErrUsage
	}
	count = 1
	if len(args) == 2 {
		count, err = strconv.Atoi(args[1])
		if err != nil || count <= 0 {
			return 0, 0, ErrUsage
		}
	}
	return validDays, count, nil
}

// Generate inserts count new codes valid for validDays, each in its own
// transaction. A code that collides with an existing one is regenerated up
// to maxAttempts times; after that the batch stops with ErrCollision and
// the codes committed so far are returned with it.
func (s *Store) Generate(ctx context.Context, validDays, count int) ([]string, error) {
	if validDays <= 0 || count <= 0 {
		return nil, ErrUsage
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}

	codes := make([]string, 0, count)
	for range count {
		code, err := s.insertUnique(ctx, validDays)
		if err != nil {
			return codes, err
		}
		codes = append(codes, code)
	}

	logger.InfoCF("activation", "Activation codes generated", map[string]any{
		"count":      len(codes),
		"valid_days": validDays,
	})
	return codes, nil
}

func (s *Store) insertUnique(ctx context.Context, validDays int) (string, error) {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		err = s.insertOne(ctx, code, validDays)
		if err == nil {
			return code, nil
		}
		if !isUniqueViolation(err) {
			return "", err
		}
		logger.WarnCF("activation", "Activation code collision, regenerating", map[string]any{
			"attempt": attempt,
		})
	}
	return "", ErrCollision
}

func (s *Store) insertOne(ctx context.Context, code string, validDays int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO wechat_users (ActivationCode, ValidDays) VALUES (?, ?)`, code, validDays); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// newCode draws CodeLength characters from alphabet, rejecting bytes that
// would bias the distribution.
func (s *Store) newCode() (string, error) {
	const bound = 256 - 256%len(alphabet)
	out := make([]byte, 0, CodeLength)
	var b [1]byte
	for len(out) < CodeLength {
		if _, err := io.ReadFull(s.rand, b[:]); err != nil {
			return "", err
		}
		if int(b[0]) >= bound {
			continue
		}
		out = append(out, alphabet[int(b[0])%len(alphabet)])
	}
	return string(out), nil
}

// Delete removes exactly one code. Unknown codes, and a table that was
// never created, yield ErrCodeNotFound.
func (s *Store) Delete(ctx context.Context, code string) error {
	exists, err := s.tableExists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return ErrCodeNotFound
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var found string
	err = tx.QueryRowContext(ctx,
		`SELECT ActivationCode FROM wechat_users WHERE ActivationCode = ?`, code).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrCodeNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup code: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM wechat_users WHERE ActivationCode = ?`, code); err != nil {
		return fmt.Errorf("delete code: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	logger.InfoCF("activation", "Activation code deleted", nil)
	return nil
}

// List returns every row ordered by insertion.
func (s *Store) List(ctx context.Context) ([]Code, error) {
	exists, err := s.tableExists(ctx)
	if err != nil || !exists {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT ActivationCode, UserID, Invitation, ValidDays, ExpiryDate, LastUsedTime
		FROM wechat_users ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("list codes: %w", err)
	}
	defer rows.Close()

	var out []Code
	for rows.Next() {
		var (
			c                      Code
			code, user, invitation sql.NullString
			validDays              sql.NullInt64
			expiry, lastUsed       sql.NullString
		)
		if err := rows.Scan(&code, &user, &invitation, &validDays, &expiry, &lastUsed); err != nil {
			return nil, fmt.Errorf("scan code: %w", err)
		}
		c.Code = code.String
		c.UserID = user.String
		c.Invitation = invitation.String
		c.ValidDays = int(validDays.Int64)
		c.ExpiryDate = expiry.String
		c.LastUsedTime = lastUsed.String
		out = append(out, c)
	}
	return out, rows.Err()
}

// FormatCodes renders generated codes one per line with the code label.
func FormatCodes(codes []string) string {
	lines := make([]string, len(codes))
	for i, c := range codes {
		lines[i] = Label + c
	}
	return strings.Join(lines, "\n")
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT, sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
