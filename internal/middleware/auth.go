package middleware

import (
	"context"
	"net/http"

	"identity-service/internal/auth/authz"
	"identity-service/internal/logger"
	"identity-service/internal/metrics"
	"identity-service/internal/session"
	"identity-service/internal/user"
)

// unexported, collision-proof context keys
type userContextKeyType struct{}
type sessionContextKeyType struct{}

var (
	userKey    = userContextKeyType{}
	sessionKey = sessionContextKeyType{}
)

// UserFromContext returns the authenticated user, or nil.
func UserFromContext(ctx context.Context) *user.User {
	u, _ := ctx.Value(userKey).(*user.User)
	return u
}

// SessionFromContext returns the validated session, or nil.
func SessionFromContext(ctx context.Context) *session.Session {
	s, _ := ctx.Value(sessionKey).(*session.Session)
	return s
}

// UserIDFromContext extracts the authenticated user ID from context.
func UserIDFromContext(ctx context.Context) (string, bool) {
	u := UserFromContext(ctx)
	if u == nil {
		return "", false
	}
	return u.ID, true
}

// WithUser attaches an authenticated user and session to ctx.
func WithUser(ctx context.Context, u *user.User, s *session.Session) context.Context {
	ctx = context.WithValue(ctx, userKey, u)
	return context.WithValue(ctx, sessionKey, s)
}

// Validator resolves a bearer token to a live session.
type Validator interface {
	ValidateToken(ctx context.Context, token string) (*session.Result, error)
}

type AuthMiddleware struct {
	Sessions Validator
	Cookie   session.CookieOptions
	Metrics  metrics.Recorder
}

func NewAuthMiddleware(sessions Validator, cookie session.CookieOptions, rec metrics.Recorder) *AuthMiddleware {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &AuthMiddleware{Sessions: sessions, Cookie: cookie, Metrics: rec}
}

// Authenticate resolves the session cookie and attaches the user to the
// request context. Requests without a valid session pass through
// anonymously; a storage failure is treated the same way.
func (a *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := session.TokenFromRequest(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		res, err := a.Sessions.ValidateToken(r.Context(), token)
		if err != nil {
			logger.Error("session validation failed", map[string]any{
				"path":  r.URL.Path,
				"error": err.Error(),
			})
			a.Metrics.RecordValidation(metrics.ResultError)
			session.ClearCookie(w, a.Cookie)
			next.ServeHTTP(w, r)
			return
		}
		if res == nil {
			a.Metrics.RecordValidation(metrics.ResultInvalid)
			session.ClearCookie(w, a.Cookie)
			next.ServeHTTP(w, r)
			return
		}

		a.Metrics.RecordValidation(metrics.ResultValid)
		if res.Rotated {
			a.Metrics.RecordRotation()
		}

		// keep the client-side expiry in step with the session
		session.SetCookie(w, token, res.Session.ExpiresAt, a.Cookie)

		h := w.Header()
		h.Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
		h.Set("Pragma", "no-cache")
		h.Set("Expires", "0")

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), res.User, res.Session)))
	})
}

// RequireAuth rejects requests without an active user.
func (a *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return a.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := authz.RequireAuth(UserFromContext(r.Context())); err != nil {
			http.Error(w, "unauthorized", authz.StatusCode(err))
			return
		}
		next.ServeHTTP(w, r)
	}))
}
