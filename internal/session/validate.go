package session

import (
	"regexp"

	"github.com/careerforge/careerforge-cloud/internal/fault"
)

const (
	minPasswordLen = 8
	maxPasswordLen = 128
	minNameLen     = 2
	maxNameLen     = 100
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// validateSignUp checks sign-up input locally so bad input never reaches the
// provider. Password strength is checked here because the password is being
// created.
func validateSignUp(email, password, displayName string) error {
	if !emailPattern.MatchString(email) {
		return fault.New(fault.KindValidation, "invalid email address")
	}
	if len(password) < minPasswordLen || len(password) > maxPasswordLen {
		return fault.Newf(fault.KindValidation, "password must be %d-%d characters", minPasswordLen, maxPasswordLen)
	}
	if displayName != "" && (len(displayName) < minNameLen || len(displayName) > maxNameLen) {
		return fault.Newf(fault.KindValidation, "display name must be %d-%d characters", minNameLen, maxNameLen)
	}
	return nil
}

// validateSignIn checks sign-in input. The password is only checked for
// presence: it is being verified by the provider, not created.
func validateSignIn(email, password string) error {
	if !emailPattern.MatchString(email) {
		return fault.New(fault.KindValidation, "invalid email address")
	}
	if password == "" {
		return fault.New(fault.KindValidation, "password is required")
	}
	return nil
}
