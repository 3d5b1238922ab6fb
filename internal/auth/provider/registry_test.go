package provider

import (
	"context"
	"testing"

	"identity-service/internal/auth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type stubProvider struct{ name string }

func (s stubProvider) Name() string              { return s.name }
func (s stubProvider) AuthCodeURL(string) string { return "" }
func (s stubProvider) ExchangeCode(context.Context, string) (*oauth2.Token, error) {
	return nil, nil
}
func (s stubProvider) FetchIdentity(context.Context, *oauth2.Token) (*auth.Identity, error) {
	return nil, nil
}
func (s stubProvider) FetchPrimaryEmail(context.Context, *oauth2.Token) (string, error) {
	return "", nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(stubProvider{"github"}, nil, stubProvider{"google"})

	p, err := r.Get("github")
	require.NoError(t, err)
	assert.Equal(t, "github", p.Name())

	_, err = r.Get("keycloak")
	assert.ErrorIs(t, err, ErrUnknownProvider)

	assert.Equal(t, []string{"github", "google"}, r.Names())
	assert.Equal(t, 2, r.Len())
}
