package store

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	maxUsernameLength = 20
	maxSlugLength     = 60
)

var (
	invalidUsernameChars = regexp.MustCompile(`[^a-z0-9_.-]+`)
	invalidSlugChars     = regexp.MustCompile(`[^a-z0-9]+`)
	repeatedSeparators   = regexp.MustCompile(`[_.-]{2,}`)
)

// fold strips diacritics: "Zoë Ångström" -> "Zoe Angstrom".
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// SuggestUsername derives a username from an email address or display name.
// The result is lowercase ASCII, at most 20 characters and never empty.
func SuggestUsername(seed string) string {
	s := strings.TrimSpace(seed)
	if at := strings.IndexByte(s, '@'); at > 0 {
		s = s[:at]
	}
	s = strings.ToLower(fold(s))
	s = invalidUsernameChars.ReplaceAllString(s, "_")
	s = repeatedSeparators.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_.-")
	if len(s) > maxUsernameLength {
		s = strings.TrimRight(s[:maxUsernameLength], "_.-")
	}
	if s == "" {
		return "user"
	}
	if len(s) < 3 {
		s = s + strings.Repeat("1", 3-len(s))
	}
	return s
}

// Slugify renders a name as a lowercase, hyphen-separated slug.
func Slugify(name string) string {
	s := strings.ToLower(fold(strings.TrimSpace(name)))
	s = invalidSlugChars.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > maxSlugLength {
		s = strings.TrimRight(s[:maxSlugLength], "-")
	}
	if s == "" {
		s = "category"
	}
	return s
}

// withSuffix appends n to base while keeping the total within max bytes.
func withSuffix(base string, n int, max int) string {
	suffix := strconv.Itoa(n)
	if len(base)+len(suffix) > max {
		base = base[:max-len(suffix)]
	}
	return base + suffix
}
