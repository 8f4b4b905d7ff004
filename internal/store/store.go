// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/codecollab/internal/domain"
)

// ErrNotFound is returned when writing to a project that does not exist.
var ErrNotFound = errors.New("not found")

// Repository defines the persistence operations the gateway consumes.
type Repository interface {
	// FindProject retrieves a project by id. It returns nil, nil when the
	// project does not exist.
	FindProject(ctx context.Context, projectID string) (*domain.Project, error)

	// UpsertProject creates or replaces a project record.
	UpsertProject(ctx context.Context, project *domain.Project) error

	// SaveFileTree persists the whole file tree of a project.
	SaveFileTree(ctx context.Context, projectID string, tree map[string]string) error

	// IsRevoked reports whether a token has been blacklisted.
	IsRevoked(ctx context.Context, token string) (bool, error)

	// RevokeToken blacklists a token until expiresAt.
	RevokeToken(ctx context.Context, token string, expiresAt time.Time) error

	// CleanupRevocations removes blacklist entries whose tokens have expired.
	CleanupRevocations(ctx context.Context) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
