package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"identity-service/internal/auth"
	"identity-service/internal/auth/provider"
	"identity-service/internal/logger"

	"golang.org/x/oauth2"
	oauthgithub "golang.org/x/oauth2/github"
)

const (
	providerName  = "github"
	defaultAPIURL = "https://api.github.com"
	userAgent     = "identity-service"
)

// Config holds the OAuth app credentials. Endpoint and APIURL default to
// github.com and are overridden for GitHub Enterprise or tests.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	APIURL       string
	Endpoint     oauth2.Endpoint
	Timeout      time.Duration
}

// Provider implements the OAuth web flow against GitHub plus the REST
// calls needed to read the account and its emails.
type Provider struct {
	oauthConfig *oauth2.Config
	apiURL      string
	timeout     time.Duration
}

func New(cfg Config) (*Provider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RedirectURL == "" {
		return nil, errors.New("github oauth config missing required fields")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL
	}
	if cfg.Endpoint.AuthURL == "" {
		cfg.Endpoint = oauthgithub.Endpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &Provider{
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     cfg.Endpoint,
			Scopes:       []string{"user:email"},
		},
		apiURL:  strings.TrimRight(cfg.APIURL, "/"),
		timeout: cfg.Timeout,
	}, nil
}

// Name returns the provider identifier used by the registry.
func (p *Provider) Name() string {
	return providerName
}

func (p *Provider) AuthCodeURL(state string) string {
	return p.oauthConfig.AuthCodeURL(state)
}

func (p *Provider) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := p.oauthConfig.Exchange(ctx, code)
	if err != nil {
		logger.Error("github token exchange failed", map[string]any{
			"error": err.Error(),
		})
		return nil, fmt.Errorf("github token exchange failed: %w", err)
	}
	return tok, nil
}

type githubUser struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Email string `json:"email"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// FetchIdentity reads GET /user. The profile email is public-profile data
// and never counted as verified.
func (p *Provider) FetchIdentity(ctx context.Context, tok *oauth2.Token) (*auth.Identity, error) {
	var u githubUser
	if err := p.get(ctx, tok, "/user", &u); err != nil {
		return nil, err
	}
	if u.ID == 0 || u.Login == "" {
		return nil, fmt.Errorf("%w: github user response missing id or login", provider.ErrUpstream)
	}

	logger.Info("github user fetched", map[string]any{
		"githubUserId": u.ID,
		"login":        u.Login,
	})

	return &auth.Identity{
		Provider:       providerName,
		ProviderUserID: strconv.FormatInt(u.ID, 10),
		Username:       u.Login,
		Email:          u.Email,
	}, nil
}

// FetchPrimaryEmail reads GET /user/emails and returns the address flagged
// both primary and verified.
func (p *Provider) FetchPrimaryEmail(ctx context.Context, tok *oauth2.Token) (string, error) {
	var emails []githubEmail
	if err := p.get(ctx, tok, "/user/emails", &emails); err != nil {
		return "", err
	}

	logger.Info("github email list fetched", map[string]any{
		"count": len(emails),
	})

	for _, e := range emails {
		if e.Primary && e.Verified && e.Email != "" {
			return e.Email, nil
		}
	}
	return "", nil
}

func (p *Provider) get(ctx context.Context, tok *oauth2.Token, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.oauthConfig.Client(ctx, tok).Do(req)
	if err != nil {
		return fmt.Errorf("%w: GET %s: %v", provider.ErrUpstream, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		logger.Error("github api error", map[string]any{
			"path":   path,
			"status": resp.StatusCode,
			"body":   string(body),
		})
		return fmt.Errorf("%w: GET %s: status %d", provider.ErrUpstream, path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", provider.ErrUpstream, path, err)
	}
	return nil
}
