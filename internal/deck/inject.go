package deck

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const (
	relTypeImage  = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/image"
	relsNamespace = "http://schemas.openxmlformats.org/package/2006/relationships"
	relNamespace  = "http://schemas.openxmlformats.org/officeDocument/2006/relationships"
)

var (
	relIDPattern      = regexp.MustCompile(`\bId="([^"]*)"`)
	relsSelfClosing   = regexp.MustCompile(`<Relationships([^>]*)/>`)
	typesOpenPattern  = regexp.MustCompile(`<Types(?:\s[^>]*)?>`)
	shapeIDPattern    = regexp.MustCompile(`<p:cNvPr\s[^>]*?\bid="(\d+)"`)
	slideRootPattern  = regexp.MustCompile(`<p:sld(?:\s[^>]*)?>`)
	defaultExtPattern = regexp.MustCompile(`<Default\s[^>]*Extension="([^"]*)"`)
)

// Image is what a resolver hands back for one placeholder. Skip asks the
// injector to clear the placeholder without drawing anything.
type Image struct {
	Data []byte
	Skip bool
}

// ResolveFunc maps an image variable and the row's value for it to image bytes.
// An error is fatal to the row.
type ResolveFunc func(ctx context.Context, variable, value string) (Image, error)

// Placement is the fixed rectangle every injected picture gets, in EMU.
type Placement struct {
	OffsetX, OffsetY int64
	Width, Height    int64
}

var DefaultPlacement = Placement{OffsetX: 914400, OffsetY: 914400, Width: 1828800, Height: 1828800}

// InjectImages embeds one picture per scanned occurrence still present in the
// rendered document. A document that needed no injection is returned as-is.
func InjectImages(ctx context.Context, doc []byte, row map[string]string, occs []Occurrence, resolve ResolveFunc, place Placement) ([]byte, error) {
	if len(occs) == 0 {
		return doc, nil
	}
	pkg, err := Open(doc)
	if err != nil {
		return nil, err
	}

	for _, occ := range occs {
		body, ok := pkg.Part(occ.Part)
		if !ok {
			continue
		}
		markup := string(body)
		literal := escapeText(occ.Literal)
		if !strings.Contains(markup, literal) {
			continue
		}

		img, err := resolve(ctx, occ.Name, strings.TrimSpace(row[occ.Name]))
		if err != nil {
			return nil, err
		}
		if img.Skip || len(img.Data) == 0 {
			pkg.SetPart(occ.Part, []byte(strings.ReplaceAll(markup, literal, "")))
			continue
		}

		mt := mimetype.Detect(img.Data)
		if !strings.HasPrefix(mt.String(), "image/") {
			return nil, fmt.Errorf("%s: unsupported image type %s", occ.Name, mt.String())
		}
		ext := strings.TrimPrefix(mt.Extension(), ".")

		media := pkg.freshMediaName(ext)
		pkg.SetPart(media, img.Data)

		relID, err := pkg.addImageRelationship(relsPartFor(occ.Part), "../media/"+media[len("ppt/media/"):])
		if err != nil {
			return nil, &TemplateError{Part: occ.Part, Err: err}
		}
		if err := pkg.ensureContentType(ext, mt.String()); err != nil {
			return nil, err
		}

		markup, err = placePictures(markup, literal, relID, occ.Name, place)
		if err != nil {
			return nil, &TemplateError{Part: occ.Part, Err: err}
		}
		pkg.SetPart(occ.Part, []byte(markup))
	}
	return pkg.Bytes()
}

func (p *Package) freshMediaName(ext string) string {
	for n := 1; ; n++ {
		name := fmt.Sprintf("ppt/media/image%d.%s", n, ext)
		if !p.Has(name) {
			return name
		}
	}
}

// addImageRelationship appends an image relationship to a rels part, creating
// the part if needed, and returns an Id unused within that part.
func (p *Package) addImageRelationship(relsPart, target string) (string, error) {
	body, ok := p.Part(relsPart)
	if !ok {
		body = []byte(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n" +
			`<Relationships xmlns="` + relsNamespace + `"></Relationships>`)
	}
	markup := string(body)

	used := map[string]bool{}
	highest := 0
	for _, m := range relIDPattern.FindAllStringSubmatch(markup, -1) {
		used[m[1]] = true
		if strings.HasPrefix(m[1], "rId") {
			if n, err := strconv.Atoi(m[1][3:]); err == nil && n > highest {
				highest = n
			}
		}
	}
	id := ""
	for n := highest + 1; ; n++ {
		id = "rId" + strconv.Itoa(n)
		if !used[id] {
			break
		}
	}

	rel := fmt.Sprintf(`<Relationship Id="%s" Type="%s" Target="%s"/>`, id, relTypeImage, escapeText(target))
	switch {
	case strings.Contains(markup, "</Relationships>"):
		i := strings.LastIndex(markup, "</Relationships>")
		markup = markup[:i] + rel + markup[i:]
	case relsSelfClosing.MatchString(markup):
		loc := relsSelfClosing.FindStringSubmatchIndex(markup)
		attrs := markup[loc[2]:loc[3]]
		markup = markup[:loc[0]] + "<Relationships" + attrs + ">" + rel + "</Relationships>" + markup[loc[1]:]
	default:
		return "", fmt.Errorf("%s has no Relationships root", relsPart)
	}
	p.SetPart(relsPart, []byte(markup))
	return id, nil
}

// ensureContentType declares a Default entry for ext exactly once.
func (p *Package) ensureContentType(ext, contentType string) error {
	body, _ := p.Part(contentTypesPart)
	markup := string(body)
	for _, m := range defaultExtPattern.FindAllStringSubmatch(markup, -1) {
		if strings.EqualFold(m[1], ext) {
			return nil
		}
	}
	loc := typesOpenPattern.FindStringIndex(markup)
	if loc == nil {
		return &TemplateError{Part: contentTypesPart, Err: fmt.Errorf("no Types root")}
	}
	decl := fmt.Sprintf(`<Default Extension="%s" ContentType="%s"/>`, escapeText(ext), escapeText(contentType))
	markup = markup[:loc[1]] + decl + markup[loc[1]:]
	p.SetPart(contentTypesPart, []byte(markup))
	return nil
}

// placePictures clears every copy of literal from the slide and adds a picture
// next to the shape that held it. Pictures are siblings of shapes in the shape
// tree; a literal outside any <p:sp> gets its picture at the end of the tree.
func placePictures(markup, literal, relID, name string, place Placement) (string, error) {
	markup = ensureRelNamespace(markup)
	for {
		idx := strings.Index(markup, literal)
		if idx < 0 {
			return markup, nil
		}
		markup = markup[:idx] + markup[idx+len(literal):]

		insertAt := -1
		before := markup[:idx]
		open := max(strings.LastIndex(before, "<p:sp>"), strings.LastIndex(before, "<p:sp "))
		if open >= 0 && open > strings.LastIndex(before, "</p:sp>") {
			if end := strings.Index(markup[idx:], "</p:sp>"); end >= 0 {
				insertAt = idx + end + len("</p:sp>")
			}
		}
		if insertAt < 0 {
			insertAt = strings.LastIndex(markup, "</p:spTree>")
		}
		if insertAt < 0 {
			return "", fmt.Errorf("slide has no shape tree")
		}

		pic := pictureXML(nextShapeID(markup), name, relID, place)
		markup = markup[:insertAt] + pic + markup[insertAt:]
	}
}

func nextShapeID(markup string) int {
	highest := 0
	for _, m := range shapeIDPattern.FindAllStringSubmatch(markup, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil && n > highest {
			highest = n
		}
	}
	return highest + 1
}

func ensureRelNamespace(markup string) string {
	loc := slideRootPattern.FindStringIndex(markup)
	if loc == nil || strings.Contains(markup[loc[0]:loc[1]], "xmlns:r=") {
		return markup
	}
	insert := loc[1] - 1
	return markup[:insert] + ` xmlns:r="` + relNamespace + `"` + markup[insert:]
}

func pictureXML(id int, name, relID string, place Placement) string {
	return fmt.Sprintf(`<p:pic><p:nvPicPr><p:cNvPr id="%d" name="%s"/><p:cNvPicPr><a:picLocks noChangeAspect="1"/></p:cNvPicPr><p:nvPr/></p:nvPicPr>`+
		`<p:blipFill><a:blip r:embed="%s"/><a:stretch><a:fillRect/></a:stretch></p:blipFill>`+
		`<p:spPr><a:xfrm><a:off x="%d" y="%d"/><a:ext cx="%d" cy="%d"/></a:xfrm><a:prstGeom prst="rect"><a:avLst/></a:prstGeom></p:spPr></p:pic>`,
		id, escapeText(fmt.Sprintf("Picture %d %s", id, name)), relID,
		place.OffsetX, place.OffsetY, place.Width, place.Height)
}
