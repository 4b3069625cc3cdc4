package hookrt

import (
	"fmt"
	"strings"
)

// Substrings rejected outright before parsing. Advisory only: this is a
// pre-check run at hook-creation time, not a security boundary.
var deniedPatterns = []string{
	"import ",
	"__import__",
	"eval(",
	"exec(",
	"system(",
	"subprocess",
	"spawn(",
}

// ValidateCode performs a static pre-check of hook code: it rejects code
// containing a fixed denylist of dangerous substrings and then parses the
// program, surfacing syntax errors without executing anything.
func ValidateCode(code string) (bool, string) {
	for _, pattern := range deniedPatterns {
		if strings.Contains(code, pattern) {
			return false, fmt.Sprintf("dangerous pattern detected: %s", strings.TrimSpace(pattern))
		}
	}
	if _, err := parseProgram(code); err != nil {
		return false, fmt.Sprintf("syntax error: %v", err)
	}
	return true, ""
}
