package domain

import "strings"

// NormalizeCouponCode upper-cases and trims a code so lookups are
// case-insensitive regardless of how the client typed it.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
