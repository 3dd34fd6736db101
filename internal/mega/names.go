package mega

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// CleanName makes a remote node name safe to use as a local file name:
// NFC normalization, then characters reserved on common filesystems and
// control characters are replaced with '_'.
func CleanName(name string) string {
	name = norm.NFC.String(name)

	cleaned := strings.Map(func(r rune) rune {
		switch {
		case strings.ContainsRune(`\/:*?"<>|`, r):
			return '_'
		case unicode.IsControl(r):
			return '_'
		default:
			return r
		}
	}, name)

	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" || cleaned == "." || cleaned == ".." {
		return "_"
	}

	return cleaned
}
