package user

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrConflict          = errors.New("user: username already taken")
	ErrInvalidRole       = errors.New("user: invalid role")
	ErrInvalidAuthSource = errors.New("user: invalid auth source")
	ErrInvalidUsername   = errors.New("user: invalid username")
	ErrInvalidEmail      = errors.New("user: invalid email")
)

// Role is a user's permission level.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleReader Role = "reader"
)

// IsValid checks if the role is one of the predefined roles
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleEditor, RoleReader:
		return true
	default:
		return false
	}
}

// CanEdit checks if this role may modify content
func (r Role) CanEdit() bool {
	switch r {
	case RoleAdmin, RoleEditor:
		return true
	default:
		return false
	}
}

// AuthSource is the external provider a user signs in with.
type AuthSource string

const (
	AuthSourceGitHub    AuthSource = "github"
	AuthSourceGoogle    AuthSource = "google"
	AuthSourceMicrosoft AuthSource = "microsoft"
)

// IsValid reports whether a names a supported provider.
func (a AuthSource) IsValid() bool {
	switch a {
	case AuthSourceGitHub, AuthSourceGoogle, AuthSourceMicrosoft:
		return true
	default:
		return false
	}
}

// SessionRef mirrors one live session on the owning user. The session
// store is authoritative; this list may briefly hold entries it no longer has.
type SessionRef struct {
	ID        string    `json:"id"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// User is a directory entry.
type User struct {
	ID         string       `json:"id"`
	Username   string       `json:"username"`
	Email      string       `json:"email"`
	Role       Role         `json:"role"`
	AuthSource AuthSource   `json:"authSource"`
	ExternalID string       `json:"externalId,omitempty"` // empty until first provider login
	IsActive   bool         `json:"isActive"`
	CreatedAt  time.Time    `json:"createdAt"`
	UpdatedAt  time.Time    `json:"updatedAt"`
	Sessions   []SessionRef `json:"sessions,omitempty"`
}

// IsLinked reports whether the user has completed a provider login.
func (u *User) IsLinked() bool {
	return u.ExternalID != ""
}

// Public returns a copy without the session mirror, for API responses.
func (u *User) Public() User {
	out := *u
	out.Sessions = nil
	return out
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
