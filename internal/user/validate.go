package user

import (
	"fmt"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

const maxUsernameLen = 100

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._@+-]*$`)

var (
	usernameRules = []validation.Rule{
		validation.Required,
		validation.Length(1, maxUsernameLen),
		validation.Match(usernamePattern).Error("may contain letters, digits and . _ @ + -"),
	}
	emailRules = []validation.Rule{
		validation.Required,
		is.EmailFormat,
	}
)

// ValidateUsername checks the characters allowed in a username.
func ValidateUsername(username string) error {
	if err := validation.Validate(username, usernameRules...); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidUsername, err)
	}
	return nil
}

// ValidateEmail does a shape check only; no MX lookup.
func ValidateEmail(email string) error {
	if err := validation.Validate(email, emailRules...); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEmail, err)
	}
	return nil
}

// Registration is the input for pre-registering a user, shared by the
// admin API and the bootstrap command.
type Registration struct {
	Username   string
	Email      string
	Role       Role
	AuthSource AuthSource
}

// Validate reports every invalid field at once.
func (r Registration) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, usernameRules...),
		validation.Field(&r.Email, emailRules...),
		validation.Field(&r.Role, validation.Required, validation.In(RoleAdmin, RoleEditor, RoleReader)),
		validation.Field(&r.AuthSource, validation.Required, validation.In(AuthSourceGitHub, AuthSourceGoogle, AuthSourceMicrosoft)),
	)
}
