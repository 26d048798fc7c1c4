// Package scrape is the static, single-pass counterpart to mouse mode: load a
// page once, walk its DOM, return everything with text.
package scrape

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/adityalohuni/pickscrape/internal/export"
	"github.com/adityalohuni/pickscrape/internal/protocol"
)

const defaultMaxElements = 2000

type Item struct {
	Text       string            `json:"text"`
	ID         string            `json:"id,omitempty"`
	ClassName  string            `json:"className,omitempty"`
	Selector   string            `json:"selector"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type Result struct {
	URL       string                     `json:"url,omitempty"`
	Title     string                     `json:"title,omitempty"`
	JSONByTag map[string][]Item          `json:"jsonByTag"`
	JSONForUI []protocol.SelectedElement `json:"jsonForUI"`
	CSV       string                     `json:"csv"`
}

type ExtractOptions struct {
	MaxElements int
	Exporter    export.Exporter
}

var skipped = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"head":     true,
	"template": true,
	"svg":      true,
}

// Extract walks htmlText once. An element is kept when it has text of its
// own, or is an image or link; links and images fall back to their URL.
func Extract(htmlText string, opts ExtractOptions) (Result, error) {
	max := opts.MaxElements
	if max <= 0 {
		max = defaultMaxElements
	}
	doc, err := html.Parse(strings.NewReader(htmlText))
	if err != nil {
		return Result{}, err
	}

	res := Result{
		JSONByTag: make(map[string][]Item),
		JSONForUI: []protocol.SelectedElement{},
	}
	var walk func(n *html.Node, path []string)
	walk = func(n *html.Node, path []string) {
		if len(res.JSONForUI) >= max {
			return
		}
		if n.Type == html.ElementNode {
			tag := strings.ToLower(n.Data)
			if tag == "head" {
				res.Title = findTitle(n)
				return
			}
			if skipped[tag] {
				return
			}
			path = append(path, tag)
			if el, ok := elementFromNode(tag, n); ok {
				res.JSONForUI = append(res.JSONForUI, el)
				res.JSONByTag[tag] = append(res.JSONByTag[tag], Item{
					Text:       el.Text,
					ID:         el.ID,
					ClassName:  el.ClassName,
					Selector:   selectorFromNode(tag, n, path),
					Attributes: el.Attributes,
				})
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, path)
		}
	}
	walk(doc, nil)

	res.CSV = opts.Exporter.Export(res.JSONForUI)
	return res, nil
}

func elementFromNode(tag string, n *html.Node) (protocol.SelectedElement, bool) {
	var text string
	switch tag {
	case "img":
		text = attr(n, "src")
	case "a":
		text = nodeText(n)
		if text == "" {
			text = attr(n, "href")
		}
	default:
		if !hasOwnText(n) {
			return protocol.SelectedElement{}, false
		}
		text = nodeText(n)
	}
	if text == "" {
		return protocol.SelectedElement{}, false
	}
	attrs := make(map[string]string, len(n.Attr))
	for _, a := range n.Attr {
		attrs[a.Key] = a.Val
	}
	return protocol.SelectedElement{
		Tag:        tag,
		Text:       text,
		ID:         attr(n, "id"),
		ClassName:  attr(n, "class"),
		Attributes: attrs,
	}, true
}

func findTitle(head *html.Node) string {
	for c := head.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && strings.EqualFold(c.Data, "title") {
			return nodeText(c)
		}
	}
	return ""
}

func hasOwnText(n *html.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode && strings.TrimSpace(c.Data) != "" {
			return true
		}
	}
	return false
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && skipped[strings.ToLower(node.Data)] {
			return
		}
		if node.Type == html.TextNode {
			text := strings.TrimSpace(node.Data)
			if text != "" {
				b.WriteString(text)
				b.WriteByte(' ')
			}
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(b.String())
}

func selectorFromNode(tag string, n *html.Node, path []string) string {
	if id := attr(n, "id"); id != "" {
		return "#" + id
	}
	for _, key := range []string{"data-testid", "data-test", "data-qa", "name", "aria-label"} {
		if v := attr(n, key); v != "" {
			return tag + "[" + key + "=\"" + v + "\"]"
		}
	}
	if parts := strings.Fields(attr(n, "class")); len(parts) > 0 {
		return tag + "." + parts[0]
	}
	if idx := nthChildIndex(n); idx > 0 && len(path) > 1 {
		return strings.Join(path[:len(path)-1], " > ") + " > " + tag + ":nth-child(" + strconv.Itoa(idx) + ")"
	}
	return strings.Join(path, " > ")
}

func nthChildIndex(n *html.Node) int {
	if n == nil || n.Parent == nil {
		return 0
	}
	idx := 0
	for c := n.Parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		idx++
		if c == n {
			return idx
		}
	}
	return 0
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}
