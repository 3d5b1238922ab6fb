package linker

import "identity-service/internal/user"

// Kind tags the terminal state of a provider callback.
type Kind string

const (
	Created  Kind = "created"
	Linked   Kind = "linked"
	Resumed  Kind = "resumed"
	Rejected Kind = "rejected"
)

// Reason explains a rejection.
type Reason string

const (
	ReasonRestartLogin         Reason = "restart_login"
	ReasonExchangeFailed       Reason = "exchange_failed"
	ReasonUpstreamFailure      Reason = "upstream_failure"
	ReasonUsernameMismatch     Reason = "username_mismatch"
	ReasonDeactivated          Reason = "deactivated"
	ReasonWrongAuthSource      Reason = "wrong_auth_source"
	ReasonEmailMismatch        Reason = "email_mismatch"
	ReasonUsernameTaken        Reason = "username_taken"
	ReasonRegistrationDisabled Reason = "registration_disabled"
	ReasonVerifyEmail          Reason = "verify_email"
)

var messages = map[Reason]string{
	ReasonRestartLogin:         "Please restart the login process.",
	ReasonExchangeFailed:       "Please restart the process.",
	ReasonUpstreamFailure:      "Failed to fetch account details from the provider.",
	ReasonUsernameMismatch:     "Username does not match the signed-in account. Please use the correct account.",
	ReasonDeactivated:          "Your account has been deactivated. Please contact the site administrator.",
	ReasonWrongAuthSource:      "Please use the correct authentication method for your account.",
	ReasonEmailMismatch:        "Email does not match the registered email. Please contact the site administrator.",
	ReasonUsernameTaken:        "This username is already linked to another account. Please contact the site administrator.",
	ReasonRegistrationDisabled: "User registration is disabled. Please contact the site administrator.",
	ReasonVerifyEmail:          "Please verify your email address with the provider.",
}

// Message is the human-readable text shown on the login surface.
func (r Reason) Message() string {
	if m, ok := messages[r]; ok {
		return m
	}
	return string(r)
}

// Outcome is the result of Resolve. Status is non-zero only for rejections
// that answer with an error status instead of redirecting to the login page.
type Outcome struct {
	Kind                 Kind
	User                 *user.User
	Reason               Reason
	Status               int
	ClearPendingUsername bool
}

// Authenticated reports whether the caller should issue a session.
func (o Outcome) Authenticated() bool {
	return o.Kind != Rejected && o.User != nil
}

func success(kind Kind, u *user.User) Outcome {
	return Outcome{Kind: kind, User: u, ClearPendingUsername: true}
}

// reject is a redirect-to-login rejection. Every rejection drops the pending
// username so a stale value cannot be replayed.
func reject(reason Reason) Outcome {
	return fail(reason, 0)
}

// fail is a rejection answered with an error status.
func fail(reason Reason, status int) Outcome {
	return Outcome{Kind: Rejected, Reason: reason, Status: status, ClearPendingUsername: true}
}
