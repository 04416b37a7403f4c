package metadata

import (
	"regexp"
	"strings"
)

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Normalize lowercases a title, collapses every non-alphanumeric run to a
// single space, and trims. Idempotent: Normalize(Normalize(t)) == Normalize(t).
func Normalize(title string) string {
	t := strings.ToLower(title)
	t = nonAlnum.ReplaceAllString(t, " ")
	return strings.TrimSpace(t)
}

// CacheKey builds the metadata cache key for a (title, year) lookup:
// normalized title, "_", and the year or "unknown".
func CacheKey(title string, year *string) string {
	y := "unknown"
	if year != nil && *year != "" {
		y = *year
	}
	return Normalize(title) + "_" + y
}
