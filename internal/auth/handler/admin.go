package handler

import (
	"net/http"
	"strings"

	"identity-service/internal/logger"
	"identity-service/internal/middleware"
	"identity-service/internal/user"

	"github.com/gin-gonic/gin"
)

type createUserRequest struct {
	Username   string `json:"username"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	AuthSource string `json:"authSource"`
}

func (r createUserRequest) registration() user.Registration {
	return user.Registration{
		Username:   strings.TrimSpace(r.Username),
		Email:      strings.TrimSpace(r.Email),
		Role:       user.Role(r.Role),
		AuthSource: user.AuthSource(r.AuthSource),
	}
}

type updateRoleRequest struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

type toggleActiveRequest struct {
	UserID   string `json:"userId"`
	IsActive *bool  `json:"isActive"`
}

type userIDRequest struct {
	UserID string `json:"userId"`
}

// RegisterAdminRoutes mounts the user management API behind RequireAdmin.
func (h *Handler) RegisterAdminRoutes(r gin.IRouter) {
	admin := r.Group("/api/admin/users", middleware.GinRequireAdmin())

	admin.GET("", h.listUsers)
	admin.POST("", h.createUser)
	admin.POST("/update-role", h.updateRole)
	admin.POST("/toggle-active", h.toggleActive)
	admin.POST("/delete", h.deleteUser)
	admin.POST("/logout-all", h.logoutAll)
}

func adminError(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}

func (h *Handler) listUsers(c *gin.Context) {
	users, err := h.users.ListAll(c.Request.Context())
	if err != nil {
		logger.Error("admin list users failed", map[string]any{"error": err.Error()})
		adminError(c, http.StatusInternalServerError, "Failed to list users")
		return
	}

	out := make([]user.User, 0, len(users))
	for _, u := range users {
		out = append(out, u.Public())
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) createUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		adminError(c, http.StatusBadRequest, "invalid request")
		return
	}
	reg := req.registration()
	if err := reg.Validate(); err != nil {
		adminError(c, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.users.CreatePreRegisteredUser(c.Request.Context(), reg.Username, reg.Email, reg.Role, reg.AuthSource)
	if err != nil {
		logger.Warn("admin create user failed", map[string]any{
			"username": req.Username,
			"error":    err.Error(),
		})
		adminError(c, errorStatus(err), err.Error())
		return
	}

	logger.Info("admin created user", map[string]any{
		"adminId": middleware.CurrentUser(c).ID,
		"userId":  created.ID,
	})
	c.JSON(http.StatusCreated, created.Public())
}

func (h *Handler) updateRole(c *gin.Context) {
	var req updateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" || req.Role == "" {
		adminError(c, http.StatusBadRequest, "Missing required fields: userId, role")
		return
	}

	role := user.Role(req.Role)
	if !role.IsValid() {
		adminError(c, http.StatusBadRequest, "Invalid role. Must be: admin, editor, or reader")
		return
	}

	updated, err := h.users.UpdateRole(c.Request.Context(), req.UserID, role)
	if err != nil {
		adminError(c, errorStatus(err), "Failed to update role")
		return
	}
	if updated == nil {
		adminError(c, http.StatusNotFound, "User not found")
		return
	}
	c.JSON(http.StatusOK, updated.Public())
}

func (h *Handler) toggleActive(c *gin.Context) {
	var req toggleActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" || req.IsActive == nil {
		adminError(c, http.StatusBadRequest, "Missing required fields: userId, isActive (boolean)")
		return
	}

	updated, err := h.users.SetActive(c.Request.Context(), req.UserID, *req.IsActive)
	if err != nil {
		adminError(c, errorStatus(err), "Failed to update user status")
		return
	}
	if updated == nil {
		adminError(c, http.StatusNotFound, "User not found")
		return
	}
	c.JSON(http.StatusOK, updated.Public())
}

func (h *Handler) deleteUser(c *gin.Context) {
	var req userIDRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
		adminError(c, http.StatusBadRequest, "Missing required field: userId")
		return
	}
	if req.UserID == middleware.CurrentUser(c).ID {
		adminError(c, http.StatusBadRequest, "Cannot delete your own account")
		return
	}

	ok, err := h.users.DeleteUser(c.Request.Context(), req.UserID)
	if err != nil {
		adminError(c, http.StatusInternalServerError, "Failed to delete user")
		return
	}
	if !ok {
		adminError(c, http.StatusNotFound, "User not found")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "User deleted successfully"})
}

// logoutAll revokes every session of a user.
func (h *Handler) logoutAll(c *gin.Context) {
	var req userIDRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
		adminError(c, http.StatusBadRequest, "Missing required field: userId")
		return
	}

	removed, err := h.sessions.InvalidateAllForUser(c.Request.Context(), req.UserID)
	if err != nil {
		adminError(c, http.StatusInternalServerError, "Failed to log out user")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "removed": removed})
}
