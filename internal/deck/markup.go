package deck

import (
	"bytes"
	"encoding/xml"
	"html"
	"regexp"
	"strings"

	"deckgen/internal/placeholder"
)

var (
	paragraphPattern = regexp.MustCompile(`(?s)<a:p(?:\s[^>]*[^/>])?>.*?</a:p>`)
	textNodePattern  = regexp.MustCompile(`<a:t(?:\s[^>]*[^/>])?>([^<]*)</a:t>`)
)

func escapeText(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

func unescapeText(s string) string {
	if !strings.Contains(s, "&") {
		return s
	}
	return html.UnescapeString(s)
}

// paragraph is one <a:p> with its text runs decoded.
type paragraph struct {
	markup string
	nodes  [][]int // submatch indexes of each <a:t> inside markup
	texts  []string
}

func parseParagraph(markup string) *paragraph {
	p := &paragraph{markup: markup, nodes: textNodePattern.FindAllStringSubmatchIndex(markup, -1)}
	for _, n := range p.nodes {
		p.texts = append(p.texts, unescapeText(markup[n[2]:n[3]]))
	}
	return p
}

func (p *paragraph) text() string {
	return strings.Join(p.texts, "")
}

// mergeSplitTags moves every tag that spans several runs into the run where it
// starts, so each tag becomes a contiguous literal inside one <a:t>.
func (p *paragraph) mergeSplitTags() {
	if len(p.texts) < 2 {
		return
	}
	joined := p.text()
	if !strings.Contains(joined, "{{") {
		return
	}

	// owner[b] is the run that holds byte b of the joined text
	owner := make([]int, len(joined))
	pos := 0
	for i, t := range p.texts {
		for j := 0; j < len(t); j++ {
			owner[pos+j] = i
		}
		pos += len(t)
	}
	split := false
	for _, tag := range placeholder.Find(joined) {
		first := owner[tag.Start]
		if owner[tag.End-1] == first {
			continue
		}
		split = true
		for b := tag.Start; b < tag.End; b++ {
			owner[b] = first
		}
	}
	if !split {
		return
	}

	merged := make([]strings.Builder, len(p.texts))
	for b := 0; b < len(joined); b++ {
		merged[owner[b]].WriteByte(joined[b])
	}
	next := make([]string, len(p.texts))
	for i := range merged {
		next[i] = merged[i].String()
	}
	p.setTexts(next)
}

// setTexts rewrites the runs whose text changed and leaves the rest byte-identical.
func (p *paragraph) setTexts(next []string) {
	var b strings.Builder
	last := 0
	for i, n := range p.nodes {
		b.WriteString(p.markup[last:n[2]])
		if next[i] == p.texts[i] {
			b.WriteString(p.markup[n[2]:n[3]])
		} else {
			b.WriteString(escapeText(next[i]))
		}
		last = n[3]
	}
	b.WriteString(p.markup[last:])
	*p = *parseParagraph(b.String())
}

// eachParagraph rewrites every paragraph of a part through fn.
func eachParagraph(markup string, fn func(p *paragraph) error) (string, error) {
	var firstErr error
	out := paragraphPattern.ReplaceAllStringFunc(markup, func(m string) string {
		if firstErr != nil {
			return m
		}
		p := parseParagraph(m)
		if err := fn(p); err != nil {
			firstErr = err
			return m
		}
		return p.markup
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}
