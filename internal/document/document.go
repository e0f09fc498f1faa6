// Package document turns raw HTML into a read-only tree that extraction rules
// can query by tag, class and attribute. Parsing never fails: malformed markup
// produces whatever tree the HTML5 algorithm recovers, and queries against
// missing structure come back empty.
package document

import (
	"bytes"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// Document is a parsed page.
type Document struct {
	Node
}

// Node is a single element, or the empty node when a query matched nothing.
type Node struct {
	sel *goquery.Selection
}

// Parse builds a Document from markup.
func Parse(raw string) *Document {
	return FromReader(strings.NewReader(raw))
}

// ParseBytes builds a Document from markup bytes.
func ParseBytes(raw []byte) *Document {
	return FromReader(bytes.NewReader(raw))
}

// FromReader builds a Document from r. A read error leaves the document empty.
func FromReader(r io.Reader) *Document {
	root, err := html.Parse(r)
	if err != nil {
		root = &html.Node{Type: html.DocumentNode}
	}
	return &Document{Node: Node{sel: goquery.NewDocumentFromNode(root).Selection}}
}

// Exists reports whether the node refers to an element.
func (n Node) Exists() bool {
	return n.sel != nil && n.sel.Length() > 0
}

// First returns the first descendant matching selector.
func (n Node) First(selector string) Node {
	m, ok := compile(selector)
	if !ok || !n.Exists() {
		return Node{}
	}
	return Node{sel: n.sel.FindMatcher(m).First()}
}

// All returns every descendant matching selector in document order.
func (n Node) All(selector string) []Node {
	m, ok := compile(selector)
	if !ok || !n.Exists() {
		return nil
	}
	found := n.sel.FindMatcher(m)
	out := make([]Node, 0, found.Length())
	found.Each(func(_ int, s *goquery.Selection) {
		out = append(out, Node{sel: s})
	})
	return out
}

// NextSibling returns the closest following sibling element matching selector.
func (n Node) NextSibling(selector string) Node {
	m, ok := compile(selector)
	if !ok || !n.Exists() {
		return Node{}
	}
	return Node{sel: n.sel.First().NextAllMatcher(m).First()}
}

// Text returns the element text with runs of whitespace collapsed to one space.
func (n Node) Text() string {
	if !n.Exists() {
		return ""
	}
	return strings.Join(strings.Fields(n.sel.First().Text()), " ")
}

// Attr returns the value of an attribute and whether it was present.
func (n Node) Attr(name string) (string, bool) {
	if !n.Exists() {
		return "", false
	}
	return n.sel.First().Attr(name)
}

// compile parses a CSS selector; an invalid selector matches nothing.
func compile(selector string) (goquery.Matcher, bool) {
	if strings.TrimSpace(selector) == "" {
		return nil, false
	}
	m, err := cascadia.Compile(selector)
	if err != nil {
		return nil, false
	}
	return m, true
}
