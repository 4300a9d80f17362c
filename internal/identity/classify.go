package identity

import (
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/careerforge/careerforge-cloud/internal/fault"
)

// classify maps one provider error response onto the fault taxonomy. This is
// the single place raw provider wording is inspected; everything downstream
// branches on fault.Kind only.
func classify(status int, body []byte) error {
	code := gjson.GetBytes(body, "error_code").String()
	if code == "" {
		code = gjson.GetBytes(body, "error").String()
	}
	msg := gjson.GetBytes(body, "msg").String()
	if msg == "" {
		msg = gjson.GetBytes(body, "error_description").String()
	}
	if msg == "" {
		msg = http.StatusText(status)
	}

	switch code {
	case "invalid_credentials", "invalid_grant", "email_not_confirmed":
		return fault.New(fault.KindInvalidCredentials, msg)
	case "refresh_token_not_found", "refresh_token_already_used", "session_not_found", "session_expired":
		return fault.New(fault.KindSessionExpired, msg)
	case "validation_failed", "email_address_invalid", "weak_password", "signup_disabled":
		return fault.New(fault.KindValidation, msg)
	case "over_request_rate_limit", "over_email_send_rate_limit":
		return fault.New(fault.KindRateLimited, msg)
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fault.New(fault.KindSessionExpired, msg)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return fault.New(fault.KindValidation, msg)
	case status == http.StatusTooManyRequests:
		return fault.New(fault.KindRateLimited, msg)
	case status >= 500:
		return fault.Newf(fault.KindNetwork, "provider error (%d): %s", status, msg)
	default:
		return fault.Newf(fault.KindUnknown, "unexpected provider response (%d): %s", status, msg)
	}
}
