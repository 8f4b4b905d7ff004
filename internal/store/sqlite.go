package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/codecollab/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS projects (
		project_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		users_json TEXT NOT NULL DEFAULT '[]',
		file_tree_json TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_projects_name ON projects(name);

	CREATE TABLE IF NOT EXISTS revoked_tokens (
		token_hash TEXT PRIMARY KEY,
		expires_at INTEGER NOT NULL,
		revoked_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_revoked_expires ON revoked_tokens(expires_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// FindProject retrieves a project by id.
func (s *SQLiteStore) FindProject(ctx context.Context, projectID string) (*domain.Project, error) {
	query := `
		SELECT project_id, name, users_json, file_tree_json, created_at, updated_at
		FROM projects WHERE project_id = ?`

	var (
		p                  domain.Project
		usersJSON, treeRaw string
		createdAt, updated int64
	)
	err := s.db.QueryRowContext(ctx, query, projectID).Scan(
		&p.ID, &p.Name, &usersJSON, &treeRaw, &createdAt, &updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan project row: %w", err)
	}

	if err := json.Unmarshal([]byte(usersJSON), &p.Users); err != nil {
		return nil, fmt.Errorf("decode project users: %w", err)
	}
	if err := json.Unmarshal([]byte(treeRaw), &p.FileTree); err != nil {
		return nil, fmt.Errorf("decode project file tree: %w", err)
	}
	if p.FileTree == nil {
		p.FileTree = map[string]string{}
	}
	p.CreatedAt = time.Unix(createdAt, 0)
	p.UpdatedAt = time.Unix(updated, 0)

	return &p, nil
}

// UpsertProject creates or replaces a project record.
func (s *SQLiteStore) UpsertProject(ctx context.Context, project *domain.Project) error {
	query := `
	INSERT INTO projects (project_id, name, users_json, file_tree_json, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(project_id) DO UPDATE SET
		name = excluded.name,
		users_json = excluded.users_json,
		file_tree_json = excluded.file_tree_json,
		updated_at = excluded.updated_at`

	users := project.Users
	if users == nil {
		users = []string{}
	}
	usersJSON, err := json.Marshal(users)
	if err != nil {
		return fmt.Errorf("encode project users: %w", err)
	}
	tree := project.FileTree
	if tree == nil {
		tree = map[string]string{}
	}
	treeJSON, err := json.Marshal(tree)
	if err != nil {
		return fmt.Errorf("encode project file tree: %w", err)
	}

	now := time.Now()
	createdAt := project.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	return withRetry(ctx, "upsert_project", func() error {
		_, err := s.db.ExecContext(ctx, query,
			project.ID, project.Name, string(usersJSON), string(treeJSON),
			createdAt.Unix(), now.Unix(),
		)
		if err != nil {
			return fmt.Errorf("upsert project: %w", err)
		}
		return nil
	})
}

// SaveFileTree persists the whole file tree of a project.
func (s *SQLiteStore) SaveFileTree(ctx context.Context, projectID string, tree map[string]string) error {
	if tree == nil {
		tree = map[string]string{}
	}
	treeJSON, err := json.Marshal(tree)
	if err != nil {
		return fmt.Errorf("encode file tree: %w", err)
	}

	query := `UPDATE projects SET file_tree_json = ?, updated_at = ? WHERE project_id = ?`
	var rows int64
	err = withRetry(ctx, "save_file_tree", func() error {
		result, err := s.db.ExecContext(ctx, query, string(treeJSON), time.Now().Unix(), projectID)
		if err != nil {
			return fmt.Errorf("update file tree: %w", err)
		}
		rows, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if rows == 0 {
		slog.Warn("SaveFileTree affected 0 rows", "project_id", projectID)
		return fmt.Errorf("project %s: %w", projectID, ErrNotFound)
	}
	return nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// IsRevoked reports whether a token has been blacklisted and not yet expired.
func (s *SQLiteStore) IsRevoked(ctx context.Context, token string) (bool, error) {
	query := `SELECT 1 FROM revoked_tokens WHERE token_hash = ? AND expires_at > ?`
	var one int
	err := s.db.QueryRowContext(ctx, query, hashToken(token), time.Now().Unix()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query revoked token: %w", err)
	}
	return true, nil
}

// RevokeToken blacklists a token until expiresAt. Only a hash of the token is stored.
func (s *SQLiteStore) RevokeToken(ctx context.Context, token string, expiresAt time.Time) error {
	query := `
	INSERT INTO revoked_tokens (token_hash, expires_at, revoked_at)
	VALUES (?, ?, ?)
	ON CONFLICT(token_hash) DO UPDATE SET expires_at = MAX(revoked_tokens.expires_at, excluded.expires_at)`

	return withRetry(ctx, "revoke_token", func() error {
		if _, err := s.db.ExecContext(ctx, query, hashToken(token), expiresAt.Unix(), time.Now().Unix()); err != nil {
			return fmt.Errorf("revoke token: %w", err)
		}
		return nil
	})
}

// CleanupRevocations removes blacklist entries whose tokens have expired.
func (s *SQLiteStore) CleanupRevocations(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM revoked_tokens WHERE expires_at <= ?`, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("cleanup revoked tokens: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
