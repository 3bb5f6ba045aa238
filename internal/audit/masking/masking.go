package masking

import "strings"

const maskToken = "****"

// MaskSecret hides all but the last four characters. Short values are fully masked.
func MaskSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	switch {
	case trimmed == "":
		return ""
	case len(trimmed) <= 8:
		return maskToken
	default:
		return maskToken + trimmed[len(trimmed)-4:]
	}
}
