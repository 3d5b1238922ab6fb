package auth

// Identity represents a normalized external authentication identity
// returned by an OAuth provider. It contains facts only, no decisions.
type Identity struct {
	Provider       string // e.g. "github", "google"
	ProviderUserID string // provider-scoped unique user identifier
	Username       string // login name as the provider reports it
	Email          string // email on the profile, may be unverified
	EmailVerified  bool   // whether provider asserts email ownership
}
