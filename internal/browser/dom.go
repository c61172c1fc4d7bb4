package browser

import (
	"strings"

	"golang.org/x/net/html"
)

// skipTags are subtrees that carry no layout information worth showing
// to the reasoning service.
var skipTags = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"svg":      true,
	"link":     true,
	"meta":     true,
	"iframe":   true,
}

// keepAttrs are the attributes that matter for writing selectors.
var keepAttrs = map[string]bool{
	"id":          true,
	"class":       true,
	"href":        true,
	"role":        true,
	"placeholder": true,
	"aria-label":  true,
}

// CleanDOM reduces a raw HTML document to a compact structural sketch:
// scripts, styles and presentation noise removed, only selector-relevant
// attributes kept, text collapsed, output truncated to maxLen runes.
func CleanDOM(rawHTML string, maxLen int) string {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return truncateRunes(rawHTML, maxLen)
	}
	var b strings.Builder
	renderNode(&b, doc, 0)
	return truncateRunes(strings.TrimSpace(b.String()), maxLen)
}

func renderNode(b *strings.Builder, n *html.Node, depth int) {
	switch n.Type {
	case html.TextNode:
		text := strings.Join(strings.Fields(n.Data), " ")
		if text != "" {
			b.WriteString(text)
			b.WriteByte(' ')
		}
		return
	case html.ElementNode:
		if skipTags[n.Data] {
			return
		}
		b.WriteByte('<')
		b.WriteString(n.Data)
		for _, a := range n.Attr {
			if !keepAttrs[a.Key] || a.Val == "" {
				continue
			}
			b.WriteByte(' ')
			b.WriteString(a.Key)
			b.WriteString(`="`)
			b.WriteString(truncateRunes(a.Val, 80))
			b.WriteString(`"`)
		}
		b.WriteByte('>')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		renderNode(b, c, depth+1)
	}
	if n.Type == html.ElementNode {
		b.WriteString("</")
		b.WriteString(n.Data)
		b.WriteByte('>')
	}
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…[truncated]"
}
