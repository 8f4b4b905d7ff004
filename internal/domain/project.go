// Package domain contains core domain types for the collaboration gateway.
package domain

import (
	"time"
)

// Project is a shared coding project as stored by the project service.
type Project struct {
	ID        string            `json:"_id"`
	Name      string            `json:"name"`
	Users     []string          `json:"users"`
	FileTree  map[string]string `json:"fileTree"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// RoomID returns the broadcast scope for the project.
func (p *Project) RoomID() string {
	return p.ID
}

// HasMember reports whether userID is listed as a collaborator.
func (p *Project) HasMember(userID string) bool {
	for _, u := range p.Users {
		if u == userID {
			return true
		}
	}
	return false
}

// Identity is the verified claim carried by a bearer token.
type Identity struct {
	Email   string `json:"email"`
	Subject string `json:"sub,omitempty"`
}
