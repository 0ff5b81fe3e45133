package textextract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// BlankImage replaces blocked images.
const BlankImage = "data:image/gif;base64,R0lGODlhAQABAIAAAAAAAP///yH5BAEAAAAALAAAAAABAAEAAAIBRAA7"

var nonText = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
}

// ExtractHTML returns the visible text, title and image sources of an
// HTML page.
func ExtractHTML(body []byte) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse HTML: %w", err)
	}

	title := collapse(doc.Find("title").First().Text())

	var images []string
	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok && strings.TrimSpace(src) != "" {
			images = append(images, strings.TrimSpace(src))
		}
	})

	text := visibleText(doc.Nodes)

	return &Document{Kind: "html", Title: title, Text: text, Images: images, Pages: 1}, nil
}

// CensorHTML rewrites every visible text node and user-facing attribute
// (title, alt, placeholder) through censor, and swaps the src of every img
// listed in blockedImages for a blank image. Markup structure is kept.
func CensorHTML(body []byte, censor func(string) string, blockedImages []string) ([]byte, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse HTML: %w", err)
	}

	if len(blockedImages) > 0 {
		blocked := make(map[string]bool, len(blockedImages))
		for _, src := range blockedImages {
			blocked[strings.TrimSpace(src)] = true
		}
		doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
			if blocked[strings.TrimSpace(s.AttrOr("src", ""))] {
				s.SetAttr("src", BlankImage)
				s.RemoveAttr("srcset")
				s.SetAttr("data-safebrowse", "blocked")
			}
		})
	}

	censorNodes(doc.Nodes, censor)

	var buf bytes.Buffer
	for _, n := range doc.Nodes {
		if err := html.Render(&buf, n); err != nil {
			return nil, fmt.Errorf("render HTML: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// inline elements continue the surrounding run of text. Every other
// element starts and ends a run, as a browser would break the line.
var inline = map[atom.Atom]bool{
	atom.A:      true,
	atom.Abbr:   true,
	atom.B:      true,
	atom.Bdi:    true,
	atom.Bdo:    true,
	atom.Cite:   true,
	atom.Code:   true,
	atom.Data:   true,
	atom.Del:    true,
	atom.Dfn:    true,
	atom.Em:     true,
	atom.Font:   true,
	atom.I:      true,
	atom.Ins:    true,
	atom.Kbd:    true,
	atom.Label:  true,
	atom.Mark:   true,
	atom.Q:      true,
	atom.S:      true,
	atom.Samp:   true,
	atom.Small:  true,
	atom.Span:   true,
	atom.Strike: true,
	atom.Strong: true,
	atom.Sub:    true,
	atom.Sup:    true,
	atom.Time:   true,
	atom.Tt:     true,
	atom.U:      true,
	atom.Var:    true,
	atom.Wbr:    true,
}

// runWalker visits the text of a tree as runs: text nodes that render
// contiguously with no break between them.
type runWalker struct {
	run     []*html.Node
	onRun   func(run []*html.Node)
	onAttrs func(n *html.Node)
}

func (w *runWalker) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		w.run = append(w.run, n)
		return
	case html.ElementNode:
		if nonText[n.DataAtom] {
			return
		}
		block := !inline[n.DataAtom]
		if block {
			w.flush()
		}
		w.onAttrs(n)
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			w.walk(c)
		}
		if block {
			w.flush()
		}
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
}

func (w *runWalker) flush() {
	if len(w.run) > 0 {
		w.onRun(w.run)
		w.run = nil
	}
}

func runText(run []*html.Node) string {
	var b strings.Builder
	for _, n := range run {
		b.WriteString(n.Data)
	}
	return b.String()
}

func censorNodes(nodes []*html.Node, censor func(string) string) {
	w := &runWalker{
		onRun: func(run []*html.Node) { censorRun(run, censor) },
		onAttrs: func(n *html.Node) {
			for i, a := range n.Attr {
				switch a.Key {
				case "title", "alt", "placeholder", "aria-label":
					n.Attr[i].Val = censor(a.Val)
				}
			}
		},
	}
	for _, n := range nodes {
		w.walk(n)
	}
	w.flush()
}

// censorRun censors the joined text of run so matches spanning inline
// elements are caught, then splits the result back over the nodes. A censor
// that changes the rune count falls back to censoring node by node.
func censorRun(run []*html.Node, censor func(string) string) {
	joined := runText(run)
	out := censor(joined)
	if out == joined {
		return
	}
	masked := []rune(out)
	if len(masked) != len([]rune(joined)) {
		for _, n := range run {
			n.Data = censor(n.Data)
		}
		return
	}
	i := 0
	for _, n := range run {
		k := len([]rune(n.Data))
		n.Data = string(masked[i : i+k])
		i += k
	}
}

// visibleText collects text runs and alt/title attributes, skipping
// script-like elements. Runs and attributes are separated by spaces.
func visibleText(nodes []*html.Node) string {
	var parts []string
	w := &runWalker{
		onRun: func(run []*html.Node) { parts = append(parts, runText(run)) },
		onAttrs: func(n *html.Node) {
			for _, a := range n.Attr {
				if a.Key == "alt" || a.Key == "title" {
					parts = append(parts, a.Val)
				}
			}
		},
	}
	for _, n := range nodes {
		w.walk(n)
	}
	w.flush()
	return collapse(strings.Join(parts, " "))
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
