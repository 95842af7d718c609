package apperrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"configuration wrapped", fmt.Errorf("resolve fx: %w", ErrConfiguration), "pricing temporarily unavailable"},
		{"invalid rate", ErrInvalidExchangeRate, "exchange rate unavailable for the requested currency"},
		{"validation keeps detail", fmt.Errorf("%w: surface_m2 must be positive", ErrValidation), "validation error: surface_m2 must be positive"},
		{"unknown", errors.New("boom"), "unexpected pricing error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UserMessage(tt.err); got != tt.want {
				t.Errorf("UserMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}
