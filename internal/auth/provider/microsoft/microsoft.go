package microsoft

import (
	"context"
	"errors"
	"fmt"

	"identity-service/internal/auth/provider/openid"

	"github.com/coreos/go-oidc/v3/oidc"
)

const providerName = "microsoft"

// IssuerURL returns the v2.0 issuer for a tenant id or one of the
// multi-tenant aliases.
func IssuerURL(tenant string) string {
	if tenant == "" {
		tenant = "common"
	}
	return fmt.Sprintf("https://login.microsoftonline.com/%s/v2.0", tenant)
}

// multiTenant reports whether tenant is an alias whose tokens carry the
// signing user's own tenant as issuer.
func multiTenant(tenant string) bool {
	switch tenant {
	case "", "common", "organizations", "consumers":
		return true
	}
	return false
}

// New initializes the Microsoft identity platform provider. The username is
// the account's preferred_username (its UPN), falling back to email.
func New(
	ctx context.Context,
	tenant string,
	clientID string,
	clientSecret string,
	redirectURL string,
) (*openid.Provider, error) {

	if clientID == "" || clientSecret == "" || redirectURL == "" {
		return nil, errors.New("microsoft oauth config missing required fields")
	}

	return openid.New(ctx, openid.Config{
		Name:            providerName,
		Issuer:          IssuerURL(tenant),
		ClientID:        clientID,
		ClientSecret:    clientSecret,
		RedirectURL:     redirectURL,
		SkipIssuerCheck: multiTenant(tenant),
		Scopes: []string{
			oidc.ScopeOpenID,
			"profile",
			"email",
		},
		Username: func(c openid.Claims) string {
			if c.PreferredUsername != "" {
				return c.PreferredUsername
			}
			return c.Email
		},
	})
}
