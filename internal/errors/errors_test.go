package errors

import (
	"fmt"
	"net/http"
	"strings"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestAppErrorString(t *testing.T) {
	err := New(CodePermissionDenied, "microphone access denied").WithMetadata("kind", "microphone")
	got := err.Error()
	if !strings.HasPrefix(got, "[PERMISSION_DENIED] microphone access denied") {
		t.Errorf("Error() = %q, want PERMISSION_DENIED prefix", got)
	}
	if !strings.Contains(got, "kind:microphone") {
		t.Errorf("Error() = %q, want metadata", got)
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := fmt.Errorf("device busy")
	err := Wrap(cause, CodeHardwareStartFailure, "start engine")
	if err.Unwrap() != cause {
		t.Errorf("Unwrap() = %v, want %v", err.Unwrap(), cause)
	}
	if !strings.Contains(err.Error(), "caused by: device busy") {
		t.Errorf("Error() = %q, want cause", err.Error())
	}
}

func TestGRPCCodeMapping(t *testing.T) {
	tests := []struct {
		code Code
		want codes.Code
	}{
		{CodePermissionDenied, codes.PermissionDenied},
		{CodeHardwareStartFailure, codes.Unavailable},
		{CodeRecognitionSession, codes.Aborted},
		{CodeInvalidArgument, codes.InvalidArgument},
		{CodeTimeout, codes.DeadlineExceeded},
		{Code(99), codes.Unknown},
	}
	for _, tt := range tests {
		if got := New(tt.code, "x").GRPCCode(); got != tt.want {
			t.Errorf("%v.GRPCCode() = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeInvalidArgument, http.StatusBadRequest},
		{CodeNotFound, http.StatusNotFound},
		{CodePermissionDenied, http.StatusForbidden},
		{CodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := New(tt.code, "x").HTTPStatus(); got != tt.want {
			t.Errorf("%v.HTTPStatus() = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestGRPCRoundTrip(t *testing.T) {
	orig := New(CodeRecognitionSession, "session ended").WithMetadata("session_id", "abc")
	back := FromGRPCError(orig.GRPCStatus().Err())

	if back.Code != CodeRecognitionSession {
		t.Errorf("Code = %v, want %v", back.Code, CodeRecognitionSession)
	}
	if back.Message != "session ended" {
		t.Errorf("Message = %q, want %q", back.Message, "session ended")
	}
	if back.Metadata["session_id"] != "abc" {
		t.Errorf("Metadata[session_id] = %q, want %q", back.Metadata["session_id"], "abc")
	}
}

func TestFromGRPCErrorFallback(t *testing.T) {
	back := FromGRPCError(status.Error(codes.NotFound, "no such node"))
	if back.Code != CodeNotFound {
		t.Errorf("Code = %v, want %v", back.Code, CodeNotFound)
	}

	plain := FromGRPCError(fmt.Errorf("plain"))
	if plain.Code != CodeUnknown {
		t.Errorf("Code = %v, want %v", plain.Code, CodeUnknown)
	}
}

func TestIsCodeWrapped(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(CodeNotFound, "band 12"))
	if !IsCode(err, CodeNotFound) {
		t.Error("IsCode should find wrapped AppError")
	}
	if IsCode(err, CodeInternal) {
		t.Error("IsCode matched wrong code")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{New(CodeUnavailable, "x"), true},
		{New(CodeHardwareStartFailure, "x"), true},
		{New(CodePermissionDenied, "x"), false},
		{fmt.Errorf("plain"), false},
	}
	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestParseCode(t *testing.T) {
	for c, name := range codeNames {
		if got := ParseCode(name); got != c {
			t.Errorf("ParseCode(%q) = %v, want %v", name, got, c)
		}
	}
	if got := ParseCode("NOPE"); got != CodeUnknown {
		t.Errorf("ParseCode(NOPE) = %v, want UNKNOWN", got)
	}
}
