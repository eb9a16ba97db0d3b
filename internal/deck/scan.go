package deck

import "deckgen/internal/placeholder"

// Occurrence is an image placeholder found in a slide, discovered once per job
// and reused for every row.
type Occurrence struct {
	Part    string // e.g. ppt/slides/slide2.xml
	Literal string // exact tag text, e.g. {{logo_img}}
	Name    string // variable name, e.g. logo_img
}

// ScanImagePlaceholders lists the image tags of every slide, deduplicated per
// slide. It reads the template markup directly; the text pass plays no part.
func ScanImagePlaceholders(pkg *Package) ([]Occurrence, error) {
	var out []Occurrence
	for _, part := range pkg.SlideParts() {
		body, _ := pkg.Part(part)
		seen := map[string]bool{}
		_, err := eachParagraph(string(body), func(p *paragraph) error {
			p.mergeSplitTags()
			for _, tag := range placeholder.Find(p.text()) {
				if !placeholder.IsImage(tag.Name) || seen[tag.Literal] {
					continue
				}
				seen[tag.Literal] = true
				out = append(out, Occurrence{Part: part, Literal: tag.Literal, Name: tag.Name})
			}
			return nil
		})
		if err != nil {
			return nil, &TemplateError{Part: part, Err: err}
		}
	}
	return out, nil
}

// Variables partitions every tag in the template into text and image names.
func Variables(pkg *Package) (text, images []string) {
	seen := map[string]bool{}
	for _, part := range pkg.TextParts() {
		body, _ := pkg.Part(part)
		_, _ = eachParagraph(string(body), func(p *paragraph) error {
			p.mergeSplitTags()
			for _, tag := range placeholder.Find(p.text()) {
				if tag.Name == "" || seen[tag.Name] {
					continue
				}
				seen[tag.Name] = true
				if placeholder.IsImage(tag.Name) {
					images = append(images, tag.Name)
				} else {
					text = append(text, tag.Name)
				}
			}
			return nil
		})
	}
	return text, images
}
