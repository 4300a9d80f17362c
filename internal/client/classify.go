package client

import (
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/careerforge/careerforge-cloud/internal/fault"
)

// classify maps one API error response back onto the fault taxonomy. The
// server stamps every error body with a machine-readable code; quota
// denials additionally carry the feature and its usage against the limit,
// which are restored here so callers see the same fault.Error shape the
// server raised.
func classify(status int, body []byte) error {
	code := gjson.GetBytes(body, "code").String()
	msg := gjson.GetBytes(body, "error").String()
	if msg == "" {
		msg = http.StatusText(status)
	}

	switch code {
	case "QUOTA_EXCEEDED":
		feature := gjson.GetBytes(body, "feature").String()
		used := int(gjson.GetBytes(body, "used").Int())
		limit := int(gjson.GetBytes(body, "limit").Int())
		return fault.QuotaExceeded(feature, used, limit)
	case "VERSION_CONFLICT":
		return fault.New(fault.KindVersionConflict, msg)
	case "RATE_LIMITED":
		return fault.New(fault.KindRateLimited, msg)
	case "SESSION_EXPIRED", "UNAUTHORIZED":
		return fault.New(fault.KindSessionExpired, msg)
	case "BAD_REQUEST":
		return fault.New(fault.KindValidation, msg)
	case "UPSTREAM_UNAVAILABLE":
		return fault.New(fault.KindNetwork, msg)
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fault.New(fault.KindSessionExpired, msg)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return fault.New(fault.KindValidation, msg)
	case status == http.StatusTooManyRequests:
		return fault.New(fault.KindRateLimited, msg)
	case status >= 500:
		return fault.Newf(fault.KindNetwork, "server error (%d): %s", status, msg)
	default:
		return fault.Newf(fault.KindUnknown, "unexpected API response (%d): %s", status, msg)
	}
}
