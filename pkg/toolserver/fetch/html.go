package fetch

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Svg:      true,
	atom.Iframe:   true,
	atom.Head:     true,
}

var blocks = map[atom.Atom]bool{
	atom.Address: true, atom.Article: true, atom.Aside: true, atom.Blockquote: true,
	atom.Br: true, atom.Dd: true, atom.Div: true, atom.Dl: true, atom.Dt: true,
	atom.Fieldset: true, atom.Figcaption: true, atom.Figure: true, atom.Footer: true,
	atom.Form: true, atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true,
	atom.H5: true, atom.H6: true, atom.Header: true, atom.Hr: true, atom.Li: true,
	atom.Main: true, atom.Nav: true, atom.Ol: true, atom.P: true, atom.Pre: true,
	atom.Section: true, atom.Table: true, atom.Tr: true, atom.Ul: true,
}

// HTMLToText extracts readable text from an HTML document. Scripts, styles
// and the document head other than its title are dropped; block elements
// become line breaks, headings are marked with "#" and list items with "-".
func HTMLToText(doc string) (string, error) {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return "", err
	}

	w := &textWriter{}
	if title := findTitle(root); title != "" {
		w.text("# " + title)
		w.newline()
	}
	w.walk(root)
	return w.String(), nil
}

func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Title {
		var b strings.Builder
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				b.WriteString(c.Data)
			}
		}
		return strings.Join(strings.Fields(b.String()), " ")
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}

type textWriter struct {
	lines []string
	cur   strings.Builder
}

func (w *textWriter) text(s string) {
	if s == "" {
		return
	}
	if w.cur.Len() > 0 {
		w.cur.WriteByte(' ')
	}
	w.cur.WriteString(s)
}

func (w *textWriter) newline() {
	line := strings.TrimSpace(w.cur.String())
	w.cur.Reset()
	if line == "" {
		// Keep at most one blank line between blocks.
		if n := len(w.lines); n > 0 && w.lines[n-1] != "" {
			w.lines = append(w.lines, "")
		}
		return
	}
	w.lines = append(w.lines, line)
}

func (w *textWriter) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		w.text(strings.Join(strings.Fields(n.Data), " "))
		return
	case html.ElementNode:
		if skipped[n.DataAtom] {
			return
		}
	}

	block := n.Type == html.ElementNode && blocks[n.DataAtom]
	if block {
		w.newline()
		switch n.DataAtom {
		case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
			w.text(strings.Repeat("#", int(n.Data[1]-'0')))
		case atom.Li:
			w.text("-")
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}

	if block {
		w.newline()
	}
}

func (w *textWriter) String() string {
	w.newline()
	for len(w.lines) > 0 && w.lines[len(w.lines)-1] == "" {
		w.lines = w.lines[:len(w.lines)-1]
	}
	for len(w.lines) > 0 && w.lines[0] == "" {
		w.lines = w.lines[1:]
	}
	return strings.Join(w.lines, "\n")
}
