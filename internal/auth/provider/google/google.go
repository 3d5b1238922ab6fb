package google

import (
	"context"
	"errors"

	"identity-service/internal/auth/provider/openid"

	"github.com/coreos/go-oidc/v3/oidc"
)

const (
	providerName = "google"
	issuer       = "https://accounts.google.com"
)

// New initializes the Google OIDC provider. Google has no login handle, so
// the verified email doubles as the username.
func New(
	ctx context.Context,
	clientID string,
	clientSecret string,
	redirectURL string,
) (*openid.Provider, error) {

	if clientID == "" || clientSecret == "" || redirectURL == "" {
		return nil, errors.New("google oauth config missing required fields")
	}

	return openid.New(ctx, openid.Config{
		Name:         providerName,
		Issuer:       issuer,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes: []string{
			oidc.ScopeOpenID,
			"profile",
			"email",
		},
		Username: func(c openid.Claims) string {
			return c.Email
		},
	})
}
