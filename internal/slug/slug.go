// Package slug turns display names into uppercase alphanumeric code stems.
package slug

import (
	"strings"
	"unicode"
)

var replacements = map[rune]rune{
	'Á': 'A', 'É': 'E', 'Í': 'I', 'Ó': 'O', 'Ú': 'U', 'Ü': 'U', 'Ñ': 'N',
	'á': 'A', 'é': 'E', 'í': 'I', 'ó': 'O', 'ú': 'U', 'ü': 'U', 'ñ': 'N',
}

// Make returns an uppercase alphanumeric slug of name, truncated to maxLen.
// Non-alphanumeric runes are dropped, accented vowels are folded first.
func Make(name string, maxLen int) string {
	var b strings.Builder

	for _, r := range name {
		if rep, ok := replacements[r]; ok {
			r = rep
		}

		r = unicode.ToUpper(r)
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}

		if b.Len() >= maxLen {
			break
		}
	}

	return b.String()
}
