package resolver

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var disallowedUsernameChars = regexp.MustCompile(`[^a-zA-Z_0-9]`)

// letters that do not decompose into ASCII
var ligatures = strings.NewReplacer(
	"ß", "ss", "æ", "ae", "Æ", "AE", "œ", "oe", "Œ", "OE",
	"ø", "o", "Ø", "O", "đ", "d", "Đ", "D", "ł", "l", "Ł", "L",
	"þ", "th", "Þ", "TH", "ð", "d", "Ð", "D",
)

// NormalizeUsername transliterates to ASCII, drops everything outside
// [A-Za-z0-9_] and lowercases.
func NormalizeUsername(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	ascii, _, err := transform.String(t, ligatures.Replace(s))
	if err != nil {
		ascii = s
	}
	return strings.ToLower(disallowedUsernameChars.ReplaceAllString(ascii, ""))
}
