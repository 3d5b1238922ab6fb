package handler

import (
	"net/http"
	"strings"
	"time"

	"identity-service/internal/utils"

	"github.com/gin-gonic/gin"
)

const (
	stateCookieName           = "oauth_state"
	pendingUsernameCookieName = "oauth_username"
	loginCookieTTL            = 10 * time.Minute
)

func (h *Handler) setLoginCookie(c *gin.Context, name, value string) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(loginCookieTTL.Seconds()),
	})
}

func (h *Handler) clearLoginCookie(c *gin.Context, name string) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// generateState issues the CSRF state and stores it in a short-lived cookie.
func (h *Handler) generateState(c *gin.Context) (string, error) {
	state, err := utils.RandomString(32)
	if err != nil {
		return "", err
	}
	h.setLoginCookie(c, stateCookieName, state)
	return state, nil
}

// setPendingUsername remembers who the login was started for. The callback
// compares it with the account the provider signed in.
func (h *Handler) setPendingUsername(c *gin.Context, username string) {
	h.setLoginCookie(c, pendingUsernameCookieName, strings.ToLower(username))
}

func readCookie(c *gin.Context, name string) string {
	cookie, err := c.Request.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}
