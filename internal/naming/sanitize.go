// Package naming turns a per-row filename template into safe, unique output
// names.
package naming

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maxNameRunes = 200

// letters that do not decompose into base + combining mark
var transliterations = strings.NewReplacer(
	"ø", "o", "Ø", "O",
	"æ", "ae", "Æ", "AE",
	"œ", "oe", "Œ", "OE",
	"ß", "ss", "ẞ", "SS",
	"ł", "l", "Ł", "L",
	"đ", "d", "Đ", "D",
	"þ", "th", "Þ", "TH",
	"ð", "d", "Ð", "D",
)

var reservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// Sanitize makes s safe as a file name on common filesystems. It is
// idempotent: Sanitize(Sanitize(s)) == Sanitize(s).
func Sanitize(s string) string {
	// marks first: letters like Ǿ only reach the replacer once decomposed
	s = stripMarks(s)
	s = transliterations.Replace(s)

	var b strings.Builder
	for _, r := range s {
		switch {
		case r == utf8.RuneError:
		case strings.ContainsRune(`<>:"/\|?*`, r):
		case unicode.IsControl(r):
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	s = strings.Join(strings.Fields(b.String()), " ")
	s = strings.Trim(s, " .")

	if isReserved(s) {
		s = "_" + s
	}
	if utf8.RuneCountInString(s) > maxNameRunes {
		s = string([]rune(s)[:maxNameRunes])
		s = strings.Trim(s, " .")
	}
	return s
}

func stripMarks(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func isReserved(s string) bool {
	stem := s
	if i := strings.IndexByte(stem, '.'); i >= 0 {
		stem = stem[:i]
	}
	return reservedNames[strings.ToUpper(strings.TrimSpace(stem))]
}
