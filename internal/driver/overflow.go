// internal/driver/overflow.go
package driver

import "strings"

// Engines do not expose a typed error for context exhaustion; the only
// signal is the message text. Classification is by substring match, with
// unknown errors treated as fatal (the opposite bias would retry
// hopeless runs forever).
var overflowPatterns = []string{
	"prompt is too long",
	"context length",
	"context_length_exceeded",
	"input is too long",
	"conversation is too long",
	"exceeds the maximum input",
}

// IsOverflow reports whether an engine run failure is a context-length
// overflow, which gets bounded retry instead of propagating as fatal.
func IsOverflow(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range overflowPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
