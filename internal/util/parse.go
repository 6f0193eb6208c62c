package util

import (
	"strconv"
)

// ParseNonNegativeInt parses an optional non-negative integer query value
func ParseNonNegativeInt(s string, defaultValue int) (int, bool) {
	if s == "" {
		return defaultValue, true
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}
