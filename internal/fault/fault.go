// Package fault defines the structured error taxonomy shared by the session,
// quota, and identity packages. Errors are classified exactly once, at the
// provider/store boundary, into a Kind; callers branch on the kind rather
// than on provider-specific wording.
package fault

import (
	"errors"
	"fmt"
)

// Kind identifies a class of failure with a defined caller contract.
type Kind string

const (
	// KindValidation is bad local input; never sent to the provider or store.
	KindValidation Kind = "VALIDATION"
	// KindRateLimited means the local attempt throttle tripped.
	KindRateLimited Kind = "RATE_LIMITED"
	// KindInvalidCredentials is a provider rejection of email/password.
	KindInvalidCredentials Kind = "INVALID_CREDENTIALS"
	// KindNetwork is a transient transport failure; callers may retry.
	KindNetwork Kind = "NETWORK"
	// KindSessionExpired means the token is no longer valid and a refresh or
	// re-authentication is required.
	KindSessionExpired Kind = "SESSION_EXPIRED"
	// KindRefreshInProgress short-circuits a refresh call that collapsed into
	// an already in-flight one.
	KindRefreshInProgress Kind = "REFRESH_IN_PROGRESS"
	// KindVersionConflict is an optimistic-concurrency loss; reload and let
	// the user retry, never retry the write silently.
	KindVersionConflict Kind = "VERSION_CONFLICT"
	// KindQuotaExceeded is a routine, user-facing plan-limit rejection.
	KindQuotaExceeded Kind = "QUOTA_EXCEEDED"
	// KindUnknown is the catch-all; always logged with the original cause.
	KindUnknown Kind = "UNKNOWN"
)

// Error carries a classified kind plus optional quota context. Used/Limit are
// only meaningful when Kind is KindQuotaExceeded.
type Error struct {
	Kind    Kind
	Message string
	Feature string
	Used    int
	Limit   int
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error without discarding it.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// QuotaExceeded builds the user-facing quota rejection with the values the UI
// needs for its used/limit display.
func QuotaExceeded(feature string, used, limit int) *Error {
	return &Error{
		Kind:    KindQuotaExceeded,
		Message: fmt.Sprintf("limit reached for %s (%d/%d)", feature, used, limit),
		Feature: feature,
		Used:    used,
		Limit:   limit,
	}
}

// KindOf extracts the classified kind from err, or KindUnknown if err was
// never classified. A nil error has no kind and returns the empty string.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the caller may safely retry the failed operation.
// Only transient transport failures qualify; everything else either needs
// user input or a reload first.
func Retryable(err error) bool {
	return KindOf(err) == KindNetwork
}

// userMessages maps kinds to short, non-technical copy for display. Version
// conflicts deliberately hide the concurrency mechanism.
var userMessages = map[Kind]string{
	KindValidation:         "Please check your input and try again.",
	KindRateLimited:        "Too many attempts. Please wait a few minutes and try again.",
	KindInvalidCredentials: "Incorrect email or password.",
	KindNetwork:            "Connection problem. Please check your network and try again.",
	KindSessionExpired:     "Your session has expired. Please sign in again.",
	KindRefreshInProgress:  "Still working, one moment.",
	KindVersionConflict:    "Something changed while you were working. Please try again.",
	KindQuotaExceeded:      "You have reached your plan limit for this feature. Upgrade to continue.",
	KindUnknown:            "Something went wrong. Please try again.",
}

// UserMessage returns display copy for the error's kind.
func UserMessage(err error) string {
	if msg, ok := userMessages[KindOf(err)]; ok {
		return msg
	}
	return userMessages[KindUnknown]
}
