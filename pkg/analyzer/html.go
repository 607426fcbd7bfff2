package analyzer

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// pageMeta is the readable extract of one HTML document.
type pageMeta struct {
	Title       string
	Description string
	Text        string
}

// skippedElements are removed wholesale: their text is never content.
var skippedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"svg":      true,
	"noscript": true,
	"template": true,
}

// extractHTML parses the document and pulls title, description and readable
// text. The tokenizer handles entity decoding indirectly: x/net/html already
// decodes numeric and named entities in text nodes.
func extractHTML(body []byte) pageMeta {
	var meta pageMeta

	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		// Broken markup still often parses partially; on a hard error fall
		// back to treating the bytes as text.
		meta.Text = string(body)
		return meta
	}

	var text strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.CommentNode:
			return
		case html.ElementNode:
			name := strings.ToLower(n.Data)
			if skippedElements[name] {
				return
			}
			if name == "title" && meta.Title == "" {
				meta.Title = nodeText(n)
			}
			if name == "meta" {
				handleMeta(n, &meta)
			}
		case html.TextNode:
			trimmed := strings.TrimSpace(n.Data)
			if trimmed != "" {
				text.WriteString(trimmed)
				text.WriteByte(' ')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	meta.Text = text.String()
	return meta
}

// handleMeta picks up description, og:title and twitter:description.
func handleMeta(n *html.Node, meta *pageMeta) {
	var name, property, content string
	for _, attr := range n.Attr {
		switch strings.ToLower(attr.Key) {
		case "name":
			name = strings.ToLower(attr.Val)
		case "property":
			property = strings.ToLower(attr.Val)
		case "content":
			content = attr.Val
		}
	}
	if content == "" {
		return
	}
	switch {
	case name == "description" && meta.Description == "":
		meta.Description = content
	case name == "twitter:description" && meta.Description == "":
		meta.Description = content
	case property == "og:title" && meta.Title == "":
		meta.Title = content
	}
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return strings.TrimSpace(b.String())
}
