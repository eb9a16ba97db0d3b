// Package placeholder implements the {{name}} tag syntax shared by slide
// markup and filename templates. A name ending in "_img" binds an image.
package placeholder

import (
	"fmt"
	"regexp"
	"strings"
)

const ImageSuffix = "_img"

var tagPattern = regexp.MustCompile(`\{\{([^{}]*)\}\}`)

// Tag is one occurrence of a placeholder in a string.
type Tag struct {
	Literal    string // exact text, braces included
	Name       string // trimmed name
	Start, End int    // byte offsets of Literal
}

func IsImage(name string) bool {
	return strings.HasSuffix(name, ImageSuffix)
}

// Find returns every well-formed tag in s, in order.
func Find(s string) []Tag {
	idx := tagPattern.FindAllStringSubmatchIndex(s, -1)
	out := make([]Tag, 0, len(idx))
	for _, m := range idx {
		out = append(out, Tag{
			Literal: s[m[0]:m[1]],
			Name:    strings.TrimSpace(s[m[2]:m[3]]),
			Start:   m[0],
			End:     m[1],
		})
	}
	return out
}

// Validate reports malformed markup: an empty tag name, or an opening "{{"
// that never closes.
func Validate(s string) error {
	for _, t := range Find(s) {
		if t.Name == "" {
			return fmt.Errorf("empty tag %q", t.Literal)
		}
	}
	rest := tagPattern.ReplaceAllString(s, "")
	if i := strings.Index(rest, "{{"); i >= 0 {
		return fmt.Errorf("unclosed tag near %q", excerpt(rest, i))
	}
	return nil
}

// Render replaces every tag whose name lookup resolves. When lookup reports
// false the tag is kept verbatim.
func Render(s string, lookup func(name string) (string, bool)) string {
	return tagPattern.ReplaceAllStringFunc(s, func(lit string) string {
		name := strings.TrimSpace(lit[2 : len(lit)-2])
		if v, ok := lookup(name); ok {
			return v
		}
		return lit
	})
}

func excerpt(s string, i int) string {
	end := i + 24
	if end > len(s) {
		end = len(s)
	}
	return s[i:end]
}
