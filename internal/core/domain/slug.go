package domain

import "strings"

// =============================================================================
// Slug Canonicalization
// =============================================================================

const (
	// DefaultSlug is used when a name canonicalizes to nothing.
	DefaultSlug = "bot"

	// MaxSlugLength bounds the slug so the derived container name, image tag
	// and network name stay within Docker's limits.
	MaxSlugLength = 63

	slugEdgeChars = ".-_"
)

// Canonicalize converts a free-form instance name to its slug.
//
// The transformation rules are:
//   - Surrounding whitespace is trimmed
//   - Spaces are converted to hyphens
//   - Uppercase letters (A-Z) are converted to lowercase
//   - Lowercase letters, digits, '.', '_' and '-' are kept
//   - All other characters are removed
//   - Leading and trailing '.', '_' and '-' are stripped
//   - The result is cut to MaxSlugLength
//   - An empty result becomes DefaultSlug
//
// Canonicalize is total and idempotent: Canonicalize(Canonicalize(s)) == Canonicalize(s).
// A slug never contains '/' and is never "." or "..", so it is always safe as
// a single path element.
//
// Example:
//
//	Canonicalize(" My Shop! ")  // returns "my-shop"
//	Canonicalize("Shop_2.0")    // returns "shop_2.0"
//	Canonicalize("!!!")         // returns "bot"
func Canonicalize(raw string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + 32) // convert to lowercase
		case r == ' ':
			b.WriteByte('-')
		}
		// All other characters are dropped
	}

	slug := strings.Trim(b.String(), slugEdgeChars)
	if len(slug) > MaxSlugLength {
		slug = strings.Trim(slug[:MaxSlugLength], slugEdgeChars)
	}
	if slug == "" {
		return DefaultSlug
	}
	return slug
}

// IsCanonical reports whether s is already a slug.
func IsCanonical(s string) bool {
	return s != "" && Canonicalize(s) == s
}
