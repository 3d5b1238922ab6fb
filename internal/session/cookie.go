package session

import (
	"net/http"
	"time"
)

// CookieName carries the raw bearer token. Only its hash is ever stored.
const CookieName = "session"

// CookieOptions controls the attributes of the session cookie.
// HttpOnly is always set; there is no way to expose the token to scripts.
type CookieOptions struct {
	Path     string
	Domain   string
	Secure   bool // true in production
	SameSite http.SameSite
}

func (o CookieOptions) cookie(value string) *http.Cookie {
	c := &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     o.Path,
		Domain:   o.Domain,
		HttpOnly: true,
		Secure:   o.Secure,
		SameSite: o.SameSite,
	}
	if c.Path == "" {
		c.Path = "/"
	}
	if c.SameSite == 0 {
		c.SameSite = http.SameSiteLaxMode
	}
	return c
}

// SetCookie hands the token to the client. The cookie expires together
// with the session, so a rotated session also pushes the cookie forward.
func SetCookie(w http.ResponseWriter, token string, expiresAt time.Time, opts CookieOptions) {
	c := opts.cookie(token)
	c.Expires = expiresAt
	http.SetCookie(w, c)
}

// ClearCookie tells the client to drop the session cookie.
func ClearCookie(w http.ResponseWriter, opts CookieOptions) {
	c := opts.cookie("")
	c.MaxAge = -1
	http.SetCookie(w, c)
}

// TokenFromRequest returns the session cookie value, or "" if absent.
func TokenFromRequest(r *http.Request) string {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return ""
	}
	return c.Value
}
