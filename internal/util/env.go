package util

import "strings"

// ParseBool accepts true/1/yes/on and false/0/no/off, case-insensitively.
// ok is false for anything else.
func ParseBool(val string) (value bool, ok bool) {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "true", "1", "yes", "on":
		return true, true
	case "false", "0", "no", "off":
		return false, true
	}
	return false, false
}
