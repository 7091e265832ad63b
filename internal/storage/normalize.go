package storage

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// NormalizeTitle canonicalizes an article title for storage and lookup.
// Surrounding whitespace is trimmed, inner runs of whitespace and spaces
// become a single underscore, the first rune is upper-cased and the result
// is composed to NFC.
func NormalizeTitle(title string) string {
	fields := strings.FieldsFunc(title, func(r rune) bool {
		return unicode.IsSpace(r) || r == '_'
	})
	if len(fields) == 0 {
		return ""
	}
	s := norm.NFC.String(strings.Join(fields, "_"))
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || unicode.IsUpper(r) {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// DisplayTitle turns a stored title back into a human readable one.
func DisplayTitle(title string) string {
	return strings.ReplaceAll(title, "_", " ")
}
