// Package deck renders presentation templates: a text pass over slide markup
// followed by direct container surgery that injects images.
package deck

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

const contentTypesPart = "[Content_Types].xml"

// zipEpoch is stamped on every written entry so identical input gives identical bytes.
var zipEpoch = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

var slidePartPattern = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)
var notesPartPattern = regexp.MustCompile(`^ppt/notesSlides/notesSlide(\d+)\.xml$`)

// Package is an in-memory OOXML container: ordered parts keyed by zip name.
type Package struct {
	names []string
	parts map[string][]byte
	orig  []byte
	dirty bool
}

func Open(data []byte) (*Package, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &TemplateError{Err: fmt.Errorf("not a zip container: %w", err)}
	}
	p := &Package{parts: make(map[string][]byte, len(zr.File)), orig: data}
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, &TemplateError{Part: f.Name, Err: err}
		}
		body, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return nil, &TemplateError{Part: f.Name, Err: err}
		}
		if _, dup := p.parts[f.Name]; !dup {
			p.names = append(p.names, f.Name)
		}
		p.parts[f.Name] = body
	}
	if _, ok := p.parts[contentTypesPart]; !ok {
		return nil, &TemplateError{Part: contentTypesPart, Err: fmt.Errorf("missing content type registry")}
	}
	return p, nil
}

func (p *Package) Part(name string) ([]byte, bool) {
	b, ok := p.parts[name]
	return b, ok
}

func (p *Package) Has(name string) bool {
	_, ok := p.parts[name]
	return ok
}

// SetPart replaces or appends a part and marks the package modified.
func (p *Package) SetPart(name string, data []byte) {
	if _, ok := p.parts[name]; !ok {
		p.names = append(p.names, name)
	}
	p.parts[name] = data
	p.dirty = true
}

// SlideParts lists slide parts in slide-number order.
func (p *Package) SlideParts() []string {
	return p.numbered(slidePartPattern)
}

// TextParts lists every part that takes text substitution: slides, then notes.
func (p *Package) TextParts() []string {
	return append(p.SlideParts(), p.numbered(notesPartPattern)...)
}

func (p *Package) numbered(re *regexp.Regexp) []string {
	type entry struct {
		name string
		n    int
	}
	var found []entry
	for _, name := range p.names {
		if m := re.FindStringSubmatch(name); m != nil {
			n, _ := strconv.Atoi(m[1])
			found = append(found, entry{name, n})
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].n < found[j].n })
	out := make([]string, 0, len(found))
	for _, e := range found {
		out = append(out, e.name)
	}
	return out
}

// Bytes serialises the container. An unmodified package returns its original bytes.
func (p *Package) Bytes() ([]byte, error) {
	if !p.dirty {
		return p.orig, nil
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	order := make([]string, 0, len(p.names))
	order = append(order, contentTypesPart)
	for _, n := range p.names {
		if n != contentTypesPart {
			order = append(order, n)
		}
	}
	for _, name := range order {
		hdr := &zip.FileHeader{Name: name, Method: zip.Deflate, Modified: zipEpoch}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return nil, fmt.Errorf("write %s: %w", name, err)
		}
		if _, err := w.Write(p.parts[name]); err != nil {
			return nil, fmt.Errorf("write %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// relsPartFor maps "ppt/slides/slide1.xml" to "ppt/slides/_rels/slide1.xml.rels".
func relsPartFor(part string) string {
	dir, file := "", part
	if i := strings.LastIndex(part, "/"); i >= 0 {
		dir, file = part[:i+1], part[i+1:]
	}
	return dir + "_rels/" + file + ".rels"
}
