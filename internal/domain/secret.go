package domain

import (
	"fmt"
	"strings"
)

// NormalizeSecretRef validates a credential reference such as
// "openai/api_key" and returns its canonical lowercase form. A reference is
// one or more segments of [a-z0-9._-] joined by "/".
func NormalizeSecretRef(ref string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(ref))
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidSecretRef)
	}

	for _, segment := range strings.Split(trimmed, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidSecretRef, ref)
		}
		for _, r := range segment {
			switch {
			case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-', r == '.':
			default:
				return "", fmt.Errorf("%w: %q contains %q", ErrInvalidSecretRef, ref, r)
			}
		}
	}
	return trimmed, nil
}
