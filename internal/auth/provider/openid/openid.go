// Package openid is the shared OpenID Connect flow behind the google and
// microsoft providers: discovery, code exchange and id_token verification.
package openid

import (
	"context"
	"errors"
	"fmt"

	"identity-service/internal/auth"
	"identity-service/internal/auth/provider"
	"identity-service/internal/logger"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// Claims are the id_token claims providers map into an Identity.
type Claims struct {
	Subject           string `json:"sub"`
	Email             string `json:"email"`
	EmailVerified     bool   `json:"email_verified"`
	PreferredUsername string `json:"preferred_username"`
	// Microsoft marks a domain-owner-verified email with xms_edov.
	EmailDomainOwnerVerified bool `json:"xms_edov"`
}

// Config describes one OIDC relying party.
type Config struct {
	Name         string
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	// SkipIssuerCheck is for multi-tenant issuers whose discovery document
	// names a per-tenant issuer.
	SkipIssuerCheck bool
	// Username picks the login name out of the verified claims.
	Username func(Claims) string
}

// Provider implements provider.OAuthProvider over OIDC.
type Provider struct {
	name        string
	oauthConfig *oauth2.Config
	verifier    *oidc.IDTokenVerifier
	username    func(Claims) string
}

// New initializes a provider using discovery against cfg.Issuer.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Name == "" || cfg.Issuer == "" || cfg.ClientID == "" || cfg.RedirectURL == "" {
		return nil, errors.New("oidc config missing required fields")
	}

	discoveryCtx := ctx
	if cfg.SkipIssuerCheck {
		discoveryCtx = oidc.InsecureIssuerURLContext(ctx, cfg.Issuer)
	}

	oidcProvider, err := oidc.NewProvider(discoveryCtx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to init %s oidc provider: %w", cfg.Name, err)
	}

	verifier := oidcProvider.Verifier(&oidc.Config{
		ClientID:        cfg.ClientID,
		SkipIssuerCheck: cfg.SkipIssuerCheck,
	})

	return NewWithVerifier(cfg, oidcProvider.Endpoint(), verifier), nil
}

// NewWithVerifier builds a provider from an explicit endpoint and verifier,
// skipping discovery.
func NewWithVerifier(cfg Config, endpoint oauth2.Endpoint, verifier *oidc.IDTokenVerifier) *Provider {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}
	username := cfg.Username
	if username == nil {
		username = func(c Claims) string { return c.Email }
	}

	return &Provider{
		name: cfg.Name,
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       scopes,
		},
		verifier: verifier,
		username: username,
	}
}

// Name returns the provider identifier used by the registry.
func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) AuthCodeURL(state string) string {
	return p.oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

func (p *Provider) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := p.oauthConfig.Exchange(ctx, code)
	if err != nil {
		logger.Error("oidc token exchange failed", map[string]any{
			"provider": p.name,
			"error":    err.Error(),
		})
		return nil, fmt.Errorf("%s token exchange failed: %w", p.name, err)
	}
	return tok, nil
}

func (p *Provider) claims(ctx context.Context, tok *oauth2.Token) (*Claims, error) {
	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, fmt.Errorf("%w: %s did not return id_token", provider.ErrUpstream, p.name)
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		logger.Error("oidc id_token verification failed", map[string]any{
			"provider": p.name,
			"error":    err.Error(),
		})
		return nil, fmt.Errorf("%w: %s id_token verification failed: %v", provider.ErrUpstream, p.name, err)
	}

	var c Claims
	if err := idToken.Claims(&c); err != nil {
		return nil, fmt.Errorf("%w: %s id_token claims parse failed: %v", provider.ErrUpstream, p.name, err)
	}
	if c.Subject == "" {
		return nil, fmt.Errorf("%w: %s id_token missing subject", provider.ErrUpstream, p.name)
	}

	logger.Info("oidc verified", map[string]any{
		"provider":       p.name,
		"issuer":         idToken.Issuer,
		"email_present":  c.Email != "",
		"email_verified": c.EmailVerified || c.EmailDomainOwnerVerified,
		"expiry_unix":    idToken.Expiry.Unix(),
	})
	return &c, nil
}

func (p *Provider) FetchIdentity(ctx context.Context, tok *oauth2.Token) (*auth.Identity, error) {
	c, err := p.claims(ctx, tok)
	if err != nil {
		return nil, err
	}
	return &auth.Identity{
		Provider:       p.name,
		ProviderUserID: c.Subject,
		Username:       p.username(*c),
		Email:          c.Email,
		EmailVerified:  c.EmailVerified || c.EmailDomainOwnerVerified,
	}, nil
}

// FetchPrimaryEmail returns the id_token email when it is asserted verified.
func (p *Provider) FetchPrimaryEmail(ctx context.Context, tok *oauth2.Token) (string, error) {
	c, err := p.claims(ctx, tok)
	if err != nil {
		return "", err
	}
	if c.Email == "" || !(c.EmailVerified || c.EmailDomainOwnerVerified) {
		return "", nil
	}
	return c.Email, nil
}
