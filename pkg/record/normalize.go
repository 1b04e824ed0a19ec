package record

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxNameBytes is the longest label or name the device stores.
const MaxNameBytes = 16

// letters that carry no combining mark and therefore survive NFD
var foldReplacer = strings.NewReplacer(
	"ß", "ss",
	"æ", "ae", "Æ", "AE",
	"ø", "o", "Ø", "O",
	"œ", "oe", "Œ", "OE",
	"ł", "l", "Ł", "L",
	"đ", "d", "Đ", "D",
	"þ", "th", "Þ", "Th",
)

// Normalize strips diacritics, leaving the base character.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return foldReplacer.Replace(out)
}

// Truncate cuts s to at most n bytes. The cut does not respect rune
// boundaries.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Clean is Normalize followed by Truncate to MaxNameBytes.
func Clean(s string) string {
	return Truncate(Normalize(s), MaxNameBytes)
}
