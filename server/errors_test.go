package server

import (
	"errors"
	"fmt"
	"testing"
)

func TestRejectionClassification(t *testing.T) {
	rejection := reject(ErrorCodeInvalidGrant, "invalid authorization code")
	wrapped := fmt.Errorf("exchange: %w", rejection)
	infra := errors.New("connection refused")

	tests := []struct {
		name     string
		err      error
		want     bool
		wantCode string
	}{
		{name: "rejection", err: rejection, want: true, wantCode: ErrorCodeInvalidGrant},
		{name: "wrapped rejection", err: wrapped, want: true, wantCode: ErrorCodeInvalidGrant},
		{name: "infrastructure", err: infra, want: false, wantCode: ErrorCodeServerError},
		{name: "integrity", err: fmt.Errorf("%w: gone", ErrIntegrity), want: false, wantCode: ErrorCodeServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRejection(tt.err); got != tt.want {
				t.Errorf("IsRejection() = %v, want %v", got, tt.want)
			}
			if got := AsProtocolError(tt.err).Code; got != tt.wantCode {
				t.Errorf("AsProtocolError().Code = %q, want %q", got, tt.wantCode)
			}
		})
	}
}

func TestProtocolError_Error(t *testing.T) {
	if got := (&ProtocolError{Code: "invalid_client"}).Error(); got != "invalid_client" {
		t.Errorf("Error() = %q", got)
	}
	if got := (&ProtocolError{Code: "invalid_client", Description: "bad"}).Error(); got != "invalid_client: bad" {
		t.Errorf("Error() = %q", got)
	}
}
