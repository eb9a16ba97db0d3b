package deck

import "deckgen/internal/placeholder"

// TextValues builds the substitution map for one row: every column except the
// image-bound ones.
func TextValues(row map[string]string) map[string]string {
	out := make(map[string]string, len(row))
	for k, v := range row {
		if placeholder.IsImage(k) {
			continue
		}
		out[k] = v
	}
	return out
}

// RenderText runs the text pass over a template. Text tags resolve from values
// and fall back to "" when the column is absent. Image tags are left verbatim
// for the injector. Malformed markup yields a *TemplateError.
func RenderText(template []byte, values map[string]string) ([]byte, error) {
	pkg, err := Open(template)
	if err != nil {
		return nil, err
	}
	lookup := func(name string) (string, bool) {
		if placeholder.IsImage(name) {
			return "", false
		}
		return values[name], true
	}

	for _, part := range pkg.TextParts() {
		body, _ := pkg.Part(part)
		out, err := eachParagraph(string(body), func(p *paragraph) error {
			p.mergeSplitTags()
			if err := placeholder.Validate(p.text()); err != nil {
				return err
			}
			next := make([]string, len(p.texts))
			dirty := false
			for i, t := range p.texts {
				next[i] = placeholder.Render(t, lookup)
				if next[i] != t {
					dirty = true
				}
			}
			if dirty {
				p.setTexts(next)
			}
			return nil
		})
		if err != nil {
			return nil, &TemplateError{Part: part, Err: err}
		}
		if out != string(body) {
			pkg.SetPart(part, []byte(out))
		}
	}
	return pkg.Bytes()
}
