// Package linker turns a provider callback into an authentication outcome.
//
// Resolve is an ordered list of guard clauses; the first one that matches
// decides the outcome. It touches the user directory only to look users up,
// to link a pre-registered user, or to create a new one. Issuing the session
// and writing cookies are left to the caller.
package linker

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"identity-service/internal/auth/provider"
	"identity-service/internal/logger"
	"identity-service/internal/user"

	"golang.org/x/oauth2"
)

// Callback carries what the login start stored in cookies and what the
// provider sent back.
type Callback struct {
	StoredState     string
	PendingUsername string
	Code            string
	State           string
}

// Directory is the part of user.Directory the linker needs.
type Directory interface {
	LookupByExternalID(ctx context.Context, source user.AuthSource, externalID string) (*user.User, error)
	LookupByUsername(ctx context.Context, username string) (*user.User, error)
	LinkExternalIdentity(ctx context.Context, id string, source user.AuthSource, externalID, email string) (*user.User, error)
	CreateUser(ctx context.Context, source user.AuthSource, externalID, email, username string, role user.Role) (*user.User, error)
}

// Options configures a Linker.
type Options struct {
	AllowRegistration bool
	// DefaultRole is given to self-registered users. Defaults to reader.
	DefaultRole user.Role
}

// Linker resolves provider callbacks against the user directory.
type Linker struct {
	users             Directory
	allowRegistration bool
	defaultRole       user.Role
}

// New returns a Linker. Registration is off unless opts enables it.
func New(users Directory, opts Options) *Linker {
	if opts.DefaultRole == "" {
		opts.DefaultRole = user.RoleReader
	}
	return &Linker{
		users:             users,
		allowRegistration: opts.AllowRegistration,
		defaultRole:       opts.DefaultRole,
	}
}

// Resolve runs the callback decision table. Business-rule failures come
// back as a Rejected outcome; the error is reserved for storage failures.
func (l *Linker) Resolve(ctx context.Context, p provider.OAuthProvider, cb Callback) (Outcome, error) {
	name := p.Name()

	if cb.StoredState == "" || cb.Code == "" || cb.State == "" || cb.PendingUsername == "" {
		return l.done(name, "", reject(ReasonRestartLogin)), nil
	}
	if subtle.ConstantTimeCompare([]byte(cb.StoredState), []byte(cb.State)) != 1 {
		return l.done(name, "", reject(ReasonRestartLogin)), nil
	}

	tok, err := p.ExchangeCode(ctx, cb.Code)
	if err != nil {
		return l.done(name, "", fail(ReasonExchangeFailed, http.StatusBadRequest)), nil
	}

	identity, err := p.FetchIdentity(ctx, tok)
	if err != nil {
		return l.done(name, "", fail(ReasonUpstreamFailure, http.StatusInternalServerError)), nil
	}

	if strings.ToLower(identity.Username) != strings.ToLower(cb.PendingUsername) {
		logger.Warn("provider username mismatch", map[string]any{
			"provider": name,
			"expected": cb.PendingUsername,
			"received": identity.Username,
		})
		return l.done(name, identity.Username, reject(ReasonUsernameMismatch)), nil
	}

	source := user.AuthSource(name)
	if !source.IsValid() {
		return Outcome{}, fmt.Errorf("linker: provider %q is not an auth source: %w", name, user.ErrInvalidAuthSource)
	}

	existing, err := l.users.LookupByExternalID(ctx, source, identity.ProviderUserID)
	if err != nil {
		return Outcome{}, err
	}
	if existing != nil {
		if !existing.IsActive {
			return l.done(name, identity.Username, reject(ReasonDeactivated)), nil
		}
		return l.done(name, identity.Username, success(Resumed, existing)), nil
	}

	preRegistered, err := l.users.LookupByUsername(ctx, identity.Username)
	if err != nil {
		return Outcome{}, err
	}
	if preRegistered != nil {
		return l.link(ctx, p, tok, source, identity.ProviderUserID, preRegistered)
	}

	if !l.allowRegistration {
		return l.done(name, identity.Username, reject(ReasonRegistrationDisabled)), nil
	}

	email, err := p.FetchPrimaryEmail(ctx, tok)
	if err != nil {
		return l.done(name, identity.Username, fail(ReasonUpstreamFailure, http.StatusInternalServerError)), nil
	}
	if email == "" {
		return l.done(name, identity.Username, fail(ReasonVerifyEmail, http.StatusBadRequest)), nil
	}

	logger.Info("creating user from provider login", map[string]any{
		"provider": name,
		"username": identity.Username,
		"email":    maskEmail(email),
	})

	created, err := l.users.CreateUser(ctx, source, identity.ProviderUserID, email, identity.Username, l.defaultRole)
	if errors.Is(err, user.ErrConflict) {
		return l.done(name, identity.Username, reject(ReasonUsernameTaken)), nil
	}
	if err != nil {
		return Outcome{}, err
	}
	return l.done(name, identity.Username, success(Created, created)), nil
}

// link completes a pre-registered user's first login.
func (l *Linker) link(
	ctx context.Context,
	p provider.OAuthProvider,
	tok *oauth2.Token,
	source user.AuthSource,
	externalID string,
	u *user.User,
) (Outcome, error) {

	name := p.Name()

	if u.IsLinked() {
		return l.relink(ctx, name, source, externalID, u)
	}
	if !u.IsActive {
		return l.done(name, u.Username, reject(ReasonDeactivated)), nil
	}
	if u.AuthSource != source {
		logger.Warn("auth source mismatch", map[string]any{
			"provider": name,
			"expected": u.AuthSource,
			"username": u.Username,
		})
		return l.done(name, u.Username, reject(ReasonWrongAuthSource)), nil
	}

	email, err := p.FetchPrimaryEmail(ctx, tok)
	if err != nil {
		return l.done(name, u.Username, fail(ReasonUpstreamFailure, http.StatusInternalServerError)), nil
	}
	if email == "" {
		return l.done(name, u.Username, fail(ReasonVerifyEmail, http.StatusBadRequest)), nil
	}
	if !strings.EqualFold(email, u.Email) {
		logger.Warn("email mismatch", map[string]any{
			"provider": name,
			"expected": maskEmail(u.Email),
			"received": maskEmail(email),
		})
		return l.done(name, u.Username, reject(ReasonEmailMismatch)), nil
	}

	linked, err := l.users.LinkExternalIdentity(ctx, u.ID, source, externalID, email)
	if errors.Is(err, user.ErrInvalidAuthSource) {
		return l.done(name, u.Username, reject(ReasonWrongAuthSource)), nil
	}
	if err != nil {
		return Outcome{}, err
	}
	if linked == nil {
		// deleted between lookup and link
		return l.done(name, u.Username, reject(ReasonRestartLogin)), nil
	}
	return l.done(name, u.Username, success(Linked, linked)), nil
}

// relink handles a username that is already linked. The same provider
// account means an earlier link lost its external index, which is written
// again; any other account means the username is taken.
func (l *Linker) relink(
	ctx context.Context,
	name string,
	source user.AuthSource,
	externalID string,
	u *user.User,
) (Outcome, error) {

	if u.AuthSource != source || u.ExternalID != externalID {
		return l.done(name, u.Username, reject(ReasonUsernameTaken)), nil
	}
	if !u.IsActive {
		return l.done(name, u.Username, reject(ReasonDeactivated)), nil
	}

	repaired, err := l.users.LinkExternalIdentity(ctx, u.ID, source, externalID, u.Email)
	if err != nil {
		return Outcome{}, err
	}
	if repaired == nil {
		return l.done(name, u.Username, reject(ReasonRestartLogin)), nil
	}
	logger.Warn("external index restored", map[string]any{
		"provider": name,
		"userId":   u.ID,
	})
	return l.done(name, u.Username, success(Resumed, repaired)), nil
}

func (l *Linker) done(providerName, username string, o Outcome) Outcome {
	fields := map[string]any{
		"provider": providerName,
		"outcome":  o.Kind,
	}
	if username != "" {
		fields["username"] = username
	}
	if o.User != nil {
		fields["userId"] = o.User.ID
	}
	if o.Kind == Rejected {
		fields["reason"] = o.Reason
		fields["status"] = o.Status
		logger.Warn("login callback rejected", fields)
		return o
	}
	logger.Info("login callback resolved", fields)
	return o
}

// maskEmail keeps the first three characters.
func maskEmail(email string) string {
	if len(email) <= 3 {
		return "***"
	}
	return email[:3] + "***"
}
