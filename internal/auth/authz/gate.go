// Package authz answers role questions about the user behind a request.
// Every check takes a possibly-nil user; nil means no session.
package authz

import (
	"errors"
	"net/http"

	"identity-service/internal/user"
)

var (
	ErrAuthRequired       = errors.New("authz: authentication required")
	ErrAccountDeactivated = errors.New("authz: account deactivated")
	ErrInsufficientRole   = errors.New("authz: insufficient role")
)

// HasRole reports whether u is an active user with exactly role.
func HasRole(u *user.User, role user.Role) bool {
	return CanRead(u) && u.Role == role
}

// HasAnyRole reports whether u is an active user holding one of roles.
func HasAnyRole(u *user.User, roles ...user.Role) bool {
	if !CanRead(u) {
		return false
	}
	for _, r := range roles {
		if u.Role == r {
			return true
		}
	}
	return false
}

// IsAdmin holds for an active admin.
func IsAdmin(u *user.User) bool {
	return HasRole(u, user.RoleAdmin)
}

// CanEdit holds for an active admin or editor.
func CanEdit(u *user.User) bool {
	return CanRead(u) && u.Role.CanEdit()
}

// CanRead holds for any active user with a known role.
func CanRead(u *user.User) bool {
	return u != nil && u.IsActive && u.Role.IsValid()
}

// RequireAuth fails unless u is an active user.
func RequireAuth(u *user.User) error {
	if u == nil {
		return ErrAuthRequired
	}
	if !u.IsActive {
		return ErrAccountDeactivated
	}
	return nil
}

// RequireAnyRole fails with ErrInsufficientRole when u is authenticated
// but holds none of roles.
func RequireAnyRole(u *user.User, roles ...user.Role) error {
	if err := RequireAuth(u); err != nil {
		return err
	}
	if !HasAnyRole(u, roles...) {
		return ErrInsufficientRole
	}
	return nil
}

func RequireAdmin(u *user.User) error {
	return RequireAnyRole(u, user.RoleAdmin)
}

func RequireEditor(u *user.User) error {
	return RequireAnyRole(u, user.RoleAdmin, user.RoleEditor)
}

// StatusCode maps a gate error to its HTTP status.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrAuthRequired), errors.Is(err, ErrAccountDeactivated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrInsufficientRole):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
