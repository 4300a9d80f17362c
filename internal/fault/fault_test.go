package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil error", nil, Kind("")},
		{"classified", New(KindRateLimited, "throttled"), KindRateLimited},
		{"wrapped classified", fmt.Errorf("sign in: %w", New(KindInvalidCredentials, "nope")), KindInvalidCredentials},
		{"unclassified", errors.New("boom"), KindUnknown},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := KindOf(tc.err); got != tc.want {
				t.Errorf("KindOf() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestQuotaExceededCarriesValues(t *testing.T) {
	err := QuotaExceeded("job_searches_used", 3, 3)

	var fe *Error
	if !errors.As(err, &fe) {
		t.Fatal("expected *Error")
	}
	if fe.Feature != "job_searches_used" || fe.Used != 3 || fe.Limit != 3 {
		t.Errorf("unexpected quota context: %+v", fe)
	}
	if !IsKind(err, KindQuotaExceeded) {
		t.Error("expected KindQuotaExceeded")
	}
}

func TestUnwrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindNetwork, "refresh failed", cause)

	if !errors.Is(err, cause) {
		t.Error("expected cause to survive wrapping")
	}
	if !Retryable(err) {
		t.Error("network errors should be retryable")
	}
	if Retryable(New(KindQuotaExceeded, "over")) {
		t.Error("quota errors should not be retryable")
	}
}

func TestUserMessageAlwaysNonEmpty(t *testing.T) {
	kinds := []Kind{
		KindValidation, KindRateLimited, KindInvalidCredentials, KindNetwork,
		KindSessionExpired, KindRefreshInProgress, KindVersionConflict,
		KindQuotaExceeded, KindUnknown,
	}
	for _, k := range kinds {
		if UserMessage(New(k, "x")) == "" {
			t.Errorf("no user message for kind %s", k)
		}
	}
	if UserMessage(errors.New("raw")) == "" {
		t.Error("unclassified errors need a fallback message")
	}
}
