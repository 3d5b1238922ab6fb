package provider

import (
	"context"
	"errors"

	"identity-service/internal/auth"

	"golang.org/x/oauth2"
)

var (
	ErrUnknownProvider = errors.New("provider: unknown oauth provider")
	// ErrUpstream wraps failures talking to the provider's API.
	ErrUpstream = errors.New("provider: upstream request failed")
)

// OAuthProvider defines the contract every external auth provider
// must implement. Implementations return identity facts only and
// must not perform user creation, linking, or session management.
type OAuthProvider interface {
	// Name returns the provider identifier; it doubles as the user's
	// auth source (e.g. "github", "google").
	Name() string

	// AuthCodeURL returns the OAuth authorization URL for state.
	AuthCodeURL(state string) string

	// ExchangeCode exchanges the authorization code for provider credentials.
	ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error)

	// FetchIdentity returns the normalized identity behind tok.
	FetchIdentity(ctx context.Context, tok *oauth2.Token) (*auth.Identity, error)

	// FetchPrimaryEmail returns the primary email only if the provider
	// vouches that it is verified, "" otherwise.
	FetchPrimaryEmail(ctx context.Context, tok *oauth2.Token) (string, error)
}
