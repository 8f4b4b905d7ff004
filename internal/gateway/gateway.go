// Package gateway admits WebSocket connections into project rooms and pumps
// their frames through the router.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/ashureev/codecollab/internal/domain"
)

var (
	// ErrInvalidProject is returned when the project id is malformed.
	ErrInvalidProject = errors.New("invalid project id")
	// ErrProjectNotFound is returned when no project has the given id.
	ErrProjectNotFound = errors.New("project not found")
)

// Project ids are 24 lowercase or uppercase hex digits.
var projectIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{24}$`)

// ValidProjectID reports whether id is well formed.
func ValidProjectID(id string) bool {
	return projectIDPattern.MatchString(id)
}

// Projects looks projects up by id. A missing project is (nil, nil).
type Projects interface {
	FindProject(ctx context.Context, projectID string) (*domain.Project, error)
}

// TokenVerifier turns a bearer token into an identity.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (domain.Identity, error)
}

// Handshake is the connection metadata presented before admission.
type Handshake struct {
	ProjectID string `json:"projectId"`
	Token     string `json:"token"`
}

// Gateway decides whether a connection may join a project room.
type Gateway struct {
	projects Projects
	verifier TokenVerifier
}

// New creates a gateway.
func New(projects Projects, verifier TokenVerifier) *Gateway {
	return &Gateway{projects: projects, verifier: verifier}
}

// Admit validates the project id, loads the project and verifies the token,
// in that order. It has no side effects on rooms.
func (g *Gateway) Admit(ctx context.Context, hs Handshake) (*domain.Project, domain.Identity, error) {
	if !ValidProjectID(hs.ProjectID) {
		return nil, domain.Identity{}, ErrInvalidProject
	}

	project, err := g.projects.FindProject(ctx, hs.ProjectID)
	if err != nil {
		return nil, domain.Identity{}, fmt.Errorf("lookup project %s: %w", hs.ProjectID, err)
	}
	if project == nil {
		return nil, domain.Identity{}, ErrProjectNotFound
	}

	id, err := g.verifier.Verify(ctx, hs.Token)
	if err != nil {
		return nil, domain.Identity{}, err
	}
	return project, id, nil
}
