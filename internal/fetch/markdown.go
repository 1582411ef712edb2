package fetch

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// Elements whose subtrees carry no readable content.
var skippedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"iframe":   true,
	"svg":      true,
	"nav":      true,
	"header":   true,
	"footer":   true,
	"aside":    true,
}

// Block-level elements and the markdown that brackets their content.
var blockMarkers = map[string]struct{ open, close string }{
	"h1":         {"\n\n# ", "\n\n"},
	"h2":         {"\n\n## ", "\n\n"},
	"h3":         {"\n\n### ", "\n\n"},
	"h4":         {"\n\n#### ", "\n\n"},
	"h5":         {"\n\n##### ", "\n\n"},
	"h6":         {"\n\n###### ", "\n\n"},
	"p":          {"\n\n", ""},
	"div":        {"\n\n", ""},
	"li":         {"\n- ", ""},
	"blockquote": {"\n\n> ", "\n\n"},
	"pre":        {"\n\n```\n", "\n```\n\n"},
}

// Inline elements and their surrounding marker.
var inlineMarkers = map[string]string{
	"strong": "**",
	"b":      "**",
	"em":     "*",
	"i":      "*",
	"code":   "`",
}

const maxRenderDepth = 50

// markdownRenderer flattens an HTML document into readable markdown.
// Links are optional; search snippets already carry enough context that
// some callers prefer plain text.
type markdownRenderer struct {
	links bool
	out   strings.Builder
}

// renderMarkdown converts an HTML document to markdown.
func renderMarkdown(htmlContent string, includeLinks bool) (string, error) {
	root, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return "", err
	}

	r := &markdownRenderer{links: includeLinks}
	r.walk(root, 0)
	return normalizeWhitespace(r.out.String()), nil
}

func (r *markdownRenderer) walk(n *html.Node, depth int) {
	if depth > maxRenderDepth {
		return
	}

	if n.Type == html.TextNode {
		if text := strings.TrimSpace(n.Data); text != "" {
			r.out.WriteString(text)
			r.out.WriteByte(' ')
		}
		return
	}
	if n.Type != html.ElementNode {
		r.children(n, depth)
		return
	}

	if skippedElements[n.Data] {
		return
	}

	switch n.Data {
	case "title":
		r.out.WriteString("# ")
		r.children(n, depth)
		r.out.WriteString("\n\n")
	case "br":
		r.out.WriteByte('\n')
	case "img":
		if alt := attr(n, "alt"); alt != "" {
			fmt.Fprintf(&r.out, "[Image: %s] ", alt)
		}
	case "a":
		r.anchor(n, depth)
	default:
		if m, ok := blockMarkers[n.Data]; ok {
			r.out.WriteString(m.open)
			r.children(n, depth)
			r.out.WriteString(m.close)
			return
		}
		if m, ok := inlineMarkers[n.Data]; ok {
			if inner := r.render(n, depth); inner != "" {
				r.out.WriteString(m + inner + m + " ")
			}
			return
		}
		r.children(n, depth)
	}
}

func (r *markdownRenderer) children(n *html.Node, depth int) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		r.walk(c, depth+1)
	}
}

// render flattens a node's children in isolation, so inline markers and
// link brackets close tightly around the text.
func (r *markdownRenderer) render(n *html.Node, depth int) string {
	sub := &markdownRenderer{links: r.links}
	sub.children(n, depth)
	return strings.TrimSpace(sub.out.String())
}

func (r *markdownRenderer) anchor(n *html.Node, depth int) {
	href := attr(n, "href")
	if !r.links || href == "" || strings.HasPrefix(href, "#") {
		r.children(n, depth)
		return
	}

	label := r.render(n, depth)
	if label == "" {
		return
	}
	fmt.Fprintf(&r.out, "[%s](%s) ", label, href)
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// normalizeWhitespace trims every line, collapses runs of spaces, and
// caps blank-line runs at one.
func normalizeWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))

	blanks := 0
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			blanks++
			if blanks > 1 || len(out) == 0 {
				continue
			}
		} else {
			blanks = 0
		}
		out = append(out, line)
	}

	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}
