// Package pmc parses PMC full-text JATS XML into the section sequence the
// chunking pipeline consumes.
package pmc

import (
	"bytes"
	"encoding/xml"
	"io"
	"strings"
)

// Section labels for the pseudo-sections synthesized during extraction.
const (
	SectionTitleAbstract = "TITLE_ABSTRACT"
	SectionBodyFallback  = "BODY"
	SectionUntitled      = "SECTION"
)

// Section type tags carried on each extracted section.
const (
	TypeTitleAbstract = "TITLE_ABSTRACT"
	TypeBodySection   = "BODY_SEC"
	TypeBodyFallback  = "BODY_FALLBACK"
)

// Section is one extracted text block of an article.
type Section struct {
	Title string
	Type  string
	Text  string
}

// Metadata holds the bibliographic fields extracted from the article header.
// All fields are optional in the source XML.
type Metadata struct {
	Journal *string
	DOI     *string
	Year    *string
	Month   *string
}

// Article is one parsed full-text document.
type Article struct {
	Sections []Section
	Metadata Metadata
}

// Parse decodes a JATS XML document and extracts its sections and metadata.
func Parse(data []byte) (*Article, error) {
	root := &element{}
	dec := xml.NewDecoder(bytes.NewReader(data))
	// PMC XML frequently declares non-UTF8 charsets; pass bytes through.
	dec.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) {
		return input, nil
	}
	if err := dec.Decode(root); err != nil {
		return nil, err
	}

	return &Article{
		Sections: extractSections(root),
		Metadata: extractMetadata(root),
	}, nil
}

// extractSections returns the article's sections in document order:
// a TITLE_ABSTRACT pseudo-section first when title or abstract is non-empty,
// then one section per top-level body <sec>, or the whole body as a single
// fallback section when the body has no <sec> children. Sections with no
// non-whitespace content are omitted.
func extractSections(root *element) []Section {
	var sections []Section

	title := text(root.find("article-title"))
	var abstractParts []string
	for _, a := range root.findAll("abstract") {
		if t := text(a); t != "" {
			abstractParts = append(abstractParts, t)
		}
	}

	var taParts []string
	if title != "" {
		taParts = append(taParts, "TITLE: "+title)
	}
	if len(abstractParts) > 0 {
		taParts = append(taParts, "ABSTRACT: "+strings.Join(abstractParts, "\n\n"))
	}
	if len(taParts) > 0 {
		sections = append(sections, Section{
			Title: SectionTitleAbstract,
			Type:  TypeTitleAbstract,
			Text:  strings.TrimSpace(strings.Join(taParts, "\n\n")),
		})
	}

	body := root.find("body")
	if body == nil {
		return sections
	}

	topSecs := body.childAll("sec")
	if len(topSecs) == 0 {
		if t := paragraphText(body); t != "" {
			sections = append(sections, Section{
				Title: SectionBodyFallback,
				Type:  TypeBodyFallback,
				Text:  t,
			})
		}
		return sections
	}

	for _, sec := range topSecs {
		secTitle := text(sec.child("title"))
		if secTitle == "" {
			secTitle = SectionUntitled
		}
		if t := paragraphText(sec); t != "" {
			sections = append(sections, Section{
				Title: secTitle,
				Type:  TypeBodySection,
				Text:  t,
			})
		}
	}
	return sections
}

// extractMetadata pulls journal title, DOI and publication date. The epub
// pub-date is preferred over the first pub-date found.
func extractMetadata(root *element) Metadata {
	md := Metadata{}

	if j := text(root.find("journal-title")); j != "" {
		md.Journal = &j
	}
	for _, id := range root.findAll("article-id") {
		if id.attr("pub-id-type") == "doi" {
			if d := text(id); d != "" {
				md.DOI = &d
			}
			break
		}
	}

	var pubDate *element
	for _, pd := range root.findAll("pub-date") {
		if pd.attr("pub-type") == "epub" {
			pubDate = pd
			break
		}
		if pubDate == nil {
			pubDate = pd
		}
	}
	if pubDate != nil {
		if y := text(pubDate.child("year")); y != "" {
			md.Year = &y
		}
		if m := text(pubDate.child("month")); m != "" {
			md.Month = &m
		}
	}
	return md
}

// paragraphText joins the text of every descendant <p>, one paragraph per
// line, skipping empty paragraphs.
func paragraphText(el *element) string {
	var paras []string
	for _, p := range el.findAll("p") {
		if t := text(p); t != "" {
			paras = append(paras, t)
		}
	}
	return strings.TrimSpace(strings.Join(paras, "\n"))
}

// element is a minimal ordered DOM node. Child elements and character data
// are kept interleaved so text extraction preserves document order.
type element struct {
	name     xml.Name
	attrs    []xml.Attr
	children []any // *element or string
}

func (e *element) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	e.name = start.Name
	e.attrs = start.Attr
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child := &element{}
			if err := child.UnmarshalXML(d, t); err != nil {
				return err
			}
			e.children = append(e.children, child)
		case xml.CharData:
			e.children = append(e.children, string(t))
		case xml.EndElement:
			return nil
		}
	}
}

func (e *element) attr(name string) string {
	for _, a := range e.attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// find returns the first descendant with the given local name, depth-first
// in document order.
func (e *element) find(name string) *element {
	for _, c := range e.children {
		el, ok := c.(*element)
		if !ok {
			continue
		}
		if el.name.Local == name {
			return el
		}
		if found := el.find(name); found != nil {
			return found
		}
	}
	return nil
}

// findAll returns every descendant with the given local name in document order.
func (e *element) findAll(name string) []*element {
	var out []*element
	for _, c := range e.children {
		el, ok := c.(*element)
		if !ok {
			continue
		}
		if el.name.Local == name {
			out = append(out, el)
		}
		out = append(out, el.findAll(name)...)
	}
	return out
}

// child returns the first direct child element with the given local name.
func (e *element) child(name string) *element {
	for _, c := range e.children {
		if el, ok := c.(*element); ok && el.name.Local == name {
			return el
		}
	}
	return nil
}

// childAll returns the direct child elements with the given local name.
func (e *element) childAll(name string) []*element {
	var out []*element
	for _, c := range e.children {
		if el, ok := c.(*element); ok && el.name.Local == name {
			out = append(out, el)
		}
	}
	return out
}

// text concatenates all descendant character data in document order and
// trims surrounding whitespace.
func text(e *element) string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	e.writeText(&b)
	return strings.TrimSpace(b.String())
}

func (e *element) writeText(b *strings.Builder) {
	for _, c := range e.children {
		switch t := c.(type) {
		case string:
			b.WriteString(t)
		case *element:
			t.writeText(b)
		}
	}
}
