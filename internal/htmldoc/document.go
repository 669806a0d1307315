// Package htmldoc exposes the form fields of a parsed HTML document as a
// snapshot.Document. Fields are read from element attributes and inline
// styles, and committed back into the same attributes so the document can be
// rendered out again.
package htmldoc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/vincentbai/formshot-agent/internal/form"
)

type Document struct {
	root  *html.Node
	nodes []*html.Node
}

func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("htmldoc: parse: %w", err)
	}
	return &Document{root: root, nodes: collect(root)}, nil
}

func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// collect walks the tree in pre-order, which is document order.
func collect(root *html.Node) []*html.Node {
	var nodes []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Input, atom.Select, atom.Textarea:
				nodes = append(nodes, n)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return nodes
}

func (d *Document) Fields(_ context.Context) ([]*form.Field, error) {
	fields := make([]*form.Field, len(d.nodes))
	for i, n := range d.nodes {
		fields[i] = readField(i, n)
	}
	return fields, nil
}

func (d *Document) Commit(_ context.Context, fields []*form.Field) error {
	for _, f := range fields {
		if f.Index < 0 || f.Index >= len(d.nodes) {
			return fmt.Errorf("htmldoc: field index %d out of range", f.Index)
		}
		writeField(d.nodes[f.Index], f)
	}
	return nil
}

func (d *Document) Render(w io.Writer) error {
	return html.Render(w, d.root)
}

func (d *Document) String() string {
	var buf bytes.Buffer
	_ = d.Render(&buf)
	return buf.String()
}

func readField(index int, n *html.Node) *form.Field {
	display, opacity := inlineStyle(attr(n, "style"))
	f := &form.Field{
		Index:      index,
		Tag:        n.Data,
		ID:         attr(n, "id"),
		Name:       attr(n, "name"),
		HiddenAttr: hasAttr(n, "hidden"),
		Display:    display,
		Opacity:    opacity,
	}

	switch n.DataAtom {
	case atom.Select:
		f.Multiple = hasAttr(n, "multiple")
		f.Type = "select-one"
		if f.Multiple {
			f.Type = "select-multiple"
		}
		f.Options = readOptions(n, f.Multiple)
	case atom.Textarea:
		f.Type = "textarea"
		f.Value = textContent(n)
	default:
		f.Type = strings.ToLower(attr(n, "type"))
		if f.Type == "" {
			f.Type = "text"
		}
		f.Value = attr(n, "value")
		f.Checked = hasAttr(n, "checked")
		if (f.Type == "checkbox" || f.Type == "radio") && !hasAttr(n, "value") {
			f.Value = "on"
		}
	}
	return f
}

func writeField(n *html.Node, f *form.Field) {
	switch n.DataAtom {
	case atom.Select:
		for i, o := range optionNodes(n) {
			if i < len(f.Options) {
				setBoolAttr(o, "selected", f.Options[i].Selected)
			}
		}
	case atom.Textarea:
		for c := n.FirstChild; c != nil; {
			next := c.NextSibling
			n.RemoveChild(c)
			c = next
		}
		if f.Value != "" {
			n.AppendChild(&html.Node{Type: html.TextNode, Data: f.Value})
		}
	default:
		switch f.Kind() {
		case form.KindCheckbox, form.KindRadio:
			setBoolAttr(n, "checked", f.Checked)
		default:
			setAttr(n, "value", f.Value)
		}
	}
}

// readOptions returns the options of a select. A single-choice select with no
// selected option shows its first option as selected, as browsers do.
func readOptions(n *html.Node, multiple bool) []form.Option {
	var opts []form.Option
	for _, o := range optionNodes(n) {
		v, ok := attrOK(o, "value")
		if !ok {
			v = strings.TrimSpace(textContent(o))
		}
		opts = append(opts, form.Option{Value: v, Selected: hasAttr(o, "selected")})
	}
	if multiple || len(opts) == 0 {
		return opts
	}
	last := -1
	for i := range opts {
		if opts[i].Selected {
			last = i
		}
		opts[i].Selected = false
	}
	if last < 0 {
		last = 0
	}
	opts[last].Selected = true
	return opts
}

func optionNodes(sel *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			switch c.DataAtom {
			case atom.Option:
				out = append(out, c)
			case atom.Optgroup:
				walk(c)
			}
		}
	}
	walk(sel)
	return out
}
