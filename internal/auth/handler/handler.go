package handler

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"identity-service/internal/auth/linker"
	"identity-service/internal/auth/provider"
	"identity-service/internal/logger"
	"identity-service/internal/metrics"
	"identity-service/internal/middleware"
	"identity-service/internal/session"
	"identity-service/internal/user"

	"github.com/gin-gonic/gin"
)

// UsernameHeader carries the account name the login is started for.
const UsernameHeader = "X-Login-Username"

// Users is the part of user.Directory the handlers call.
type Users interface {
	LookupByUsername(ctx context.Context, username string) (*user.User, error)
	CreatePreRegisteredUser(ctx context.Context, username, email string, role user.Role, source user.AuthSource) (*user.User, error)
	UpdateRole(ctx context.Context, id string, role user.Role) (*user.User, error)
	SetActive(ctx context.Context, id string, active bool) (*user.User, error)
	DeleteUser(ctx context.Context, id string) (bool, error)
	ListAll(ctx context.Context) ([]*user.User, error)
}

// Sessions is the part of session.Store the handlers call.
type Sessions interface {
	CreateSession(ctx context.Context, token, userID string) (*session.Session, error)
	InvalidateSession(ctx context.Context, id string) error
	InvalidateAllForUser(ctx context.Context, userID string) (int, error)
}

// Resolver decides the outcome of a provider callback.
type Resolver interface {
	Resolve(ctx context.Context, p provider.OAuthProvider, cb linker.Callback) (linker.Outcome, error)
}

type Options struct {
	AllowRegistration bool
	Cookie            session.CookieOptions
	Metrics           metrics.Recorder
}

type Handler struct {
	providers         *provider.Registry
	users             Users
	sessions          Sessions
	resolver          Resolver
	allowRegistration bool
	cookie            session.CookieOptions
	metrics           metrics.Recorder
}

func NewHandler(
	registry *provider.Registry,
	users Users,
	sessions Sessions,
	resolver Resolver,
	opts Options,
) *Handler {
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	return &Handler{
		providers:         registry,
		users:             users,
		sessions:          sessions,
		resolver:          resolver,
		allowRegistration: opts.AllowRegistration,
		cookie:            opts.Cookie,
		metrics:           opts.Metrics,
	}
}

// RegisterRoutes mounts the login flow. The router must already run
// middleware.GinAuthenticate so logout can see the session.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/login/:provider", h.login)
	r.GET("/login/:provider/callback", h.callback)
	r.POST("/logout", h.Logout)
	r.GET("/api/me", middleware.GinRequireAuth(), h.me)
}

func (h *Handler) login(c *gin.Context) {
	providerName := c.Param("provider")

	p, err := h.providers.Get(providerName)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown oauth provider"})
		return
	}

	username := c.GetHeader(UsernameHeader)
	if username == "" {
		username = c.Query("username")
	}
	if username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Username is required"})
		return
	}

	existing, err := h.users.LookupByUsername(c.Request.Context(), username)
	if err != nil {
		logger.Error("login start lookup failed", map[string]any{
			"provider": providerName,
			"error":    err.Error(),
		})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start login"})
		return
	}
	if existing == nil && !h.allowRegistration {
		logger.Warn("login start for unknown user", map[string]any{
			"provider": providerName,
			"username": username,
		})
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found. Please contact the site administrator."})
		return
	}

	state, err := h.generateState(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start login"})
		return
	}
	h.setPendingUsername(c, username)

	logger.Info("login started", map[string]any{
		"provider": providerName,
		"username": username,
	})

	c.JSON(http.StatusOK, gin.H{"redirectUrl": p.AuthCodeURL(state)})
}

func (h *Handler) callback(c *gin.Context) {
	providerName := c.Param("provider")

	p, err := h.providers.Get(providerName)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown oauth provider"})
		return
	}

	cb := linker.Callback{
		StoredState:     readCookie(c, stateCookieName),
		PendingUsername: readCookie(c, pendingUsernameCookieName),
		Code:            c.Query("code"),
		State:           c.Query("state"),
	}

	// state is single use
	h.clearLoginCookie(c, stateCookieName)

	// the user declined or the provider failed before issuing a code
	if errParam := c.Query("error"); errParam != "" {
		logger.Warn("oauth callback returned error", map[string]any{
			"provider": providerName,
			"error":    errParam,
			"desc":     c.Query("error_description"),
		})
		h.clearLoginCookie(c, pendingUsernameCookieName)
		redirectToLogin(c, linker.ReasonRestartLogin.Message())
		return
	}

	out, err := h.resolver.Resolve(c.Request.Context(), p, cb)
	if err != nil {
		logger.Error("oauth callback failed", map[string]any{
			"provider": providerName,
			"error":    err.Error(),
		})
		h.clearLoginCookie(c, pendingUsernameCookieName)
		c.String(http.StatusInternalServerError, "Failed to complete login.")
		return
	}

	h.metrics.RecordLinkOutcome(string(out.Kind), string(out.Reason))

	if out.ClearPendingUsername {
		h.clearLoginCookie(c, pendingUsernameCookieName)
	}

	if !out.Authenticated() {
		if out.Status != 0 {
			c.String(out.Status, out.Reason.Message())
			return
		}
		redirectToLogin(c, out.Reason.Message())
		return
	}

	if err := h.issueSession(c, out.User); err != nil {
		logger.Error("failed to issue session", map[string]any{
			"userId": out.User.ID,
			"error":  err.Error(),
		})
		c.String(http.StatusInternalServerError, "Failed to create session.")
		return
	}

	logger.Info("login succeeded", map[string]any{
		"provider": providerName,
		"userId":   out.User.ID,
		"outcome":  out.Kind,
		"ip":       c.ClientIP(),
	})

	c.Redirect(http.StatusFound, "/")
}

func (h *Handler) issueSession(c *gin.Context, u *user.User) error {
	token, err := session.GenerateToken()
	if err != nil {
		return err
	}

	sess, err := h.sessions.CreateSession(c.Request.Context(), token, u.ID)
	if err != nil {
		return err
	}

	session.SetCookie(c.Writer, token, sess.ExpiresAt, h.cookie)
	h.metrics.RecordSessionIssued()
	return nil
}

func redirectToLogin(c *gin.Context, message string) {
	c.Redirect(http.StatusFound, "/login?error="+url.QueryEscape(message))
}

// Logout invalidates the current session. It answers 401 when there is none.
func (h *Handler) Logout(c *gin.Context) {
	sess := middleware.CurrentSession(c)
	if sess == nil {
		c.Status(http.StatusUnauthorized)
		return
	}

	if err := h.sessions.InvalidateSession(c.Request.Context(), sess.ID); err != nil {
		logger.Error("logout failed", map[string]any{
			"sessionId": sess.ID,
			"error":     err.Error(),
		})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to log out"})
		return
	}

	session.ClearCookie(c.Writer, h.cookie)

	logger.Info("logout", map[string]any{
		"userId":    sess.UserID,
		"sessionId": sess.ID,
		"ip":        c.ClientIP(),
	})

	c.Status(http.StatusOK)
}

func (h *Handler) me(c *gin.Context) {
	u := middleware.CurrentUser(c)
	c.JSON(http.StatusOK, u.Public())
}

// errorStatus maps directory errors to admin API statuses.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, user.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, user.ErrInvalidRole),
		errors.Is(err, user.ErrInvalidAuthSource),
		errors.Is(err, user.ErrInvalidUsername),
		errors.Is(err, user.ErrInvalidEmail):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
