// internal/selector/html.go
package selector

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/xkilldash9x/flowreplay/internal/browser"
)

// FromHTML describes an element node parsed with x/net/html. Visibility is
// approximated from the hidden attribute, type=hidden and inline display:none.
func FromHTML(n *html.Node) browser.ElementInfo {
	if n == nil || n.Type != html.ElementNode {
		return browser.ElementInfo{}
	}

	info := browser.ElementInfo{
		Tag:     strings.ToLower(n.Data),
		Attrs:   make(map[string]string, len(n.Attr)),
		Visible: true,
	}
	for _, a := range n.Attr {
		key := strings.ToLower(a.Key)
		switch key {
		case "id":
			info.ID = a.Val
		case "class":
			info.Classes = strings.Fields(a.Val)
		case "type":
			info.InputType = strings.ToLower(a.Val)
		}
		info.Attrs[key] = a.Val
		if key == "hidden" || (key == "style" && strings.Contains(strings.ReplaceAll(a.Val, " ", ""), "display:none")) {
			info.Visible = false
		}
	}
	if info.InputType == "hidden" {
		info.Visible = false
	}
	info.Text = normalizeText(textContent(n))

	for cur := n; cur != nil && cur.Type == html.ElementNode && len(info.Ancestors) < MaxPathDepth; cur = cur.Parent {
		info.Ancestors = append(info.Ancestors, browser.NodeStep{
			Tag:     strings.ToLower(cur.Data),
			Classes: classesOf(cur),
			Index:   typeIndex(cur),
		})
	}
	return info
}

func classesOf(n *html.Node) []string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, "class") {
			return strings.Fields(a.Val)
		}
	}
	return nil
}

// typeIndex is the 1-based :nth-of-type position of n among its siblings.
func typeIndex(n *html.Node) int {
	idx := 1
	for s := n.PrevSibling; s != nil; s = s.PrevSibling {
		if s.Type == html.ElementNode && s.Data == n.Data {
			idx++
		}
	}
	return idx
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
			b.WriteByte(' ')
			return
		}
		if c.Type == html.ElementNode && (c.Data == "script" || c.Data == "style") {
			return
		}
		for child := c.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return b.String()
}

// Find returns the first element in the tree rooted at n for which match is true.
func Find(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n == nil {
		return nil
	}
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := Find(c, match); found != nil {
			return found
		}
	}
	return nil
}
