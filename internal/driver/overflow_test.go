package driver

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsOverflow(t *testing.T) {
	cases := []struct {
		message string
		want    bool
	}{
		{"API error: Prompt is too long", true},
		{"prompt is too long: 213000 tokens > 200000 maximum", true},
		{"maximum context length exceeded", true},
		{"error code context_length_exceeded", true},
		{"Input is too long for requested model", true},
		{"the conversation is too long, please start a new one", true},
		{"request exceeds the maximum input size", true},
		{"rate limit exceeded", false},
		{"connection refused", false},
		{"engine process exited: exit status 1", false},
	}
	for _, tc := range cases {
		if got := IsOverflow(errors.New(tc.message)); got != tc.want {
			t.Errorf("IsOverflow(%q) = %v, want %v", tc.message, got, tc.want)
		}
	}
}

func TestIsOverflowNil(t *testing.T) {
	if IsOverflow(nil) {
		t.Error("nil error must not classify as overflow")
	}
}

func TestIsOverflowWrapped(t *testing.T) {
	err := fmt.Errorf("engine run: %w", errors.New("Prompt is too long"))
	if !IsOverflow(err) {
		t.Error("wrapped overflow message should still classify")
	}
}
