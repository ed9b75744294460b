// Package dom holds goquery helpers shared by the attribute extractors.
package dom

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/jaytaylor/html2text"
)

// LowSignal lists tags removed before any text heuristic runs.
var LowSignal = []string{"script", "style", "noscript", "svg", "iframe", "template", "link", "meta"}

// Parse builds a document from raw HTML.
func Parse(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// Strip returns a copy of doc without low-signal tags. The input is left untouched.
func Strip(doc *goquery.Document) *goquery.Document {
	html, err := doc.Html()
	if err != nil {
		return doc
	}
	clone, err := Parse(html)
	if err != nil {
		return doc
	}
	clone.Find(strings.Join(LowSignal, ",")).Remove()
	return clone
}

// OwnText joins the element's direct text children, whitespace collapsed.
func OwnText(sel *goquery.Selection) string {
	var b strings.Builder
	sel.Contents().Each(func(_ int, child *goquery.Selection) {
		if goquery.NodeName(child) == "#text" {
			b.WriteString(child.Text())
			b.WriteByte(' ')
		}
	})
	return Collapse(b.String())
}

// Text joins every descendant text node with spaces so that block boundaries
// ("St<br>Springfield") do not glue words together.
func Text(sel *goquery.Selection) string {
	var b strings.Builder
	var walk func(s *goquery.Selection)
	walk = func(s *goquery.Selection) {
		s.Contents().Each(func(_ int, child *goquery.Selection) {
			if goquery.NodeName(child) == "#text" {
				b.WriteString(child.Text())
				b.WriteByte(' ')
				return
			}
			walk(child)
		})
	}
	walk(sel)
	return Collapse(b.String())
}

// Collapse trims s and folds whitespace runs (including nbsp) into single spaces.
func Collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Attrs returns the lower-cased class and id attributes joined by a space.
func Attrs(sel *goquery.Selection) string {
	class, _ := sel.Attr("class")
	id, _ := sel.Attr("id")
	return strings.ToLower(class + " " + id)
}

// OuterHTML renders the element including its tag, or "" on error.
func OuterHTML(sel *goquery.Selection) string {
	html, err := goquery.OuterHtml(sel)
	if err != nil {
		return ""
	}
	return html
}

// PageText renders the document as plain text, links omitted.
func PageText(doc *goquery.Document) string {
	stripped := Strip(doc)
	html, err := stripped.Html()
	if err != nil {
		return Text(stripped.Selection)
	}
	text, err := html2text.FromString(html, html2text.Options{OmitLinks: true})
	if err != nil {
		return Text(stripped.Selection)
	}
	return text
}

// Elements returns every element under body together with the document title.
func Elements(doc *goquery.Document) *goquery.Selection {
	return doc.Find("title, body *")
}
