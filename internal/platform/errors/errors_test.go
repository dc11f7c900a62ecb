package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatusMapsKnownCodes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		code Code
		want int
	}{
		{name: "video id empty", code: CodeSessionVideoIDEmpty, want: http.StatusBadRequest},
		{name: "event time invalid", code: CodeEventTimeInvalid, want: http.StatusBadRequest},
		{name: "rule unknown", code: CodeRuleUnknown, want: http.StatusBadRequest},
		{name: "session ended", code: CodeSessionEnded, want: http.StatusConflict},
		{name: "device busy", code: CodeCaptureDeviceBusy, want: http.StatusConflict},
		{name: "intervention on control", code: CodeInterventionOnControl, want: http.StatusConflict},
		{name: "outcome without intervention", code: CodeOutcomeWithoutIntervention, want: http.StatusConflict},
		{name: "grant expired", code: CodeStreamGrantExpired, want: http.StatusUnauthorized},
		{name: "not found", code: CodeNotFound, want: http.StatusNotFound},
		{name: "rate limited", code: CodeRateLimited, want: http.StatusTooManyRequests},
		{name: "unknown", code: CodeUnknown, want: http.StatusInternalServerError},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.code.HTTPStatus(); got != tc.want {
				t.Fatalf("HTTPStatus() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestHTTPStatusUnwrapsDomainErrors(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("record event: %w", New(CodeSessionEnded, "session is ended"))
	if got := HTTPStatus(wrapped); got != http.StatusConflict {
		t.Fatalf("HTTPStatus(wrapped) = %d, want %d", got, http.StatusConflict)
	}
}

func TestHTTPStatusDefaultsToInternalError(t *testing.T) {
	t.Parallel()

	if got := HTTPStatus(errors.New("boom")); got != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", got, http.StatusInternalServerError)
	}
	if got := HTTPStatus(nil); got != http.StatusOK {
		t.Fatalf("HTTPStatus(nil) = %d, want %d", got, http.StatusOK)
	}
}

func TestCodeOfExtractsDomainCode(t *testing.T) {
	t.Parallel()

	err := Wrap(CodeCaptureDeviceBusy, "device is leased", errors.New("lease held"))
	if got := CodeOf(err); got != CodeCaptureDeviceBusy {
		t.Fatalf("CodeOf(err) = %q, want %q", got, CodeCaptureDeviceBusy)
	}
	if got := CodeOf(errors.New("boom")); got != CodeUnknown {
		t.Fatalf("CodeOf(plain) = %q, want %q", got, CodeUnknown)
	}
	if got := CodeOf(nil); got != CodeUnknown {
		t.Fatalf("CodeOf(nil) = %q, want %q", got, CodeUnknown)
	}
}

func TestIsMatchesByCode(t *testing.T) {
	t.Parallel()

	err := WithMetadata(CodeCaptureDeviceBusy, "device is leased", map[string]string{"device_id": "cam-1"})
	if !errors.Is(err, New(CodeCaptureDeviceBusy, "")) {
		t.Fatal("expected errors.Is to match by code")
	}
	if errors.Is(err, New(CodeNotFound, "")) {
		t.Fatal("expected errors.Is to reject different code")
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("disk full")
	err := Wrap(CodeUnknown, "append event", cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to find the cause")
	}
}
