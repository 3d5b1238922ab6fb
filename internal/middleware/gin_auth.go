package middleware

import (
	"net/http"

	"identity-service/internal/auth/authz"
	"identity-service/internal/session"
	"identity-service/internal/user"

	"github.com/gin-gonic/gin"
)

// Gin context keys set by GinAuthenticate.
const (
	ContextUserKey    = "user"
	ContextSessionKey = "session"
)

// GinAuthenticate adapts the net/http Authenticate middleware to Gin and
// mirrors the user and session into the gin context.
func GinAuthenticate(auth *AuthMiddleware) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Bridge handler to allow net/http middleware execution
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c.Request = r
			if u := UserFromContext(r.Context()); u != nil {
				c.Set(ContextUserKey, u)
				c.Set(ContextSessionKey, SessionFromContext(r.Context()))
			}
			c.Next()
		})

		auth.Authenticate(next).ServeHTTP(c.Writer, c.Request)
	}
}

// CurrentUser returns the user set by GinAuthenticate, or nil.
func CurrentUser(c *gin.Context) *user.User {
	v, ok := c.Get(ContextUserKey)
	if !ok {
		return nil
	}
	u, _ := v.(*user.User)
	return u
}

// CurrentSession returns the session set by GinAuthenticate, or nil.
func CurrentSession(c *gin.Context) *session.Session {
	v, ok := c.Get(ContextSessionKey)
	if !ok {
		return nil
	}
	s, _ := v.(*session.Session)
	return s
}

// GinRequire aborts with 401/403 unless check accepts the current user.
// It must run after GinAuthenticate.
func GinRequire(check func(*user.User) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := check(CurrentUser(c)); err != nil {
			c.AbortWithStatusJSON(authz.StatusCode(err), gin.H{
				"error": errorMessage(err),
			})
			return
		}
		c.Next()
	}
}

func GinRequireAuth() gin.HandlerFunc {
	return GinRequire(authz.RequireAuth)
}

func GinRequireAdmin() gin.HandlerFunc {
	return GinRequire(authz.RequireAdmin)
}

func GinRequireEditor() gin.HandlerFunc {
	return GinRequire(authz.RequireEditor)
}

func errorMessage(err error) string {
	switch err {
	case authz.ErrAuthRequired:
		return "Authentication required"
	case authz.ErrAccountDeactivated:
		return "Account is deactivated"
	case authz.ErrInsufficientRole:
		return "Insufficient permissions"
	default:
		return "Forbidden"
	}
}
