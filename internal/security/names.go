// Package security validates identifiers that arrive over the network before
// they reach storage or logs.
package security

import (
	"fmt"
	"strings"
)

// MaxNameLength bounds room names and device identifiers.
const MaxNameLength = 128

func nameRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '.' || r == '_' || r == '-':
		return true
	}
	return false
}

// ValidateRoomName reports whether s is usable as a relay room name: ASCII
// letters, digits, dot, underscore or dash, not starting with a dot.
func ValidateRoomName(s string) error {
	if s == "" {
		return fmt.Errorf("room name is empty")
	}
	if len(s) > MaxNameLength {
		return fmt.Errorf("room name too long: %d bytes (max %d)", len(s), MaxNameLength)
	}
	if s[0] == '.' {
		return fmt.Errorf("room name %q must not start with a dot", s)
	}
	for _, r := range s {
		if !nameRune(r) {
			return fmt.Errorf("room name %q contains invalid character %q", s, r)
		}
	}
	return nil
}

// SanitizeIdentifier makes a safe identifier from an arbitrary string. Any
// character outside the room-name set becomes an underscore, repeated
// underscores collapse, and the result is trimmed to MaxNameLength. Empty
// input maps to "unknown".
func SanitizeIdentifier(s string) string {
	if s == "" {
		return "unknown"
	}
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= MaxNameLength {
			break
		}
		if nameRune(r) {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
