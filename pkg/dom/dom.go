// Package dom models the comments widget as a small tree of addressable
// elements. Markup is inserted or appended, elements are shown or hidden, and
// one activation handler may be bound per element. Only text content can be
// replaced.
package dom

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"strings"
	"sync"
)

// Element ids of the comments widget.
const (
	RootID     = "gh-comments"
	TitleID    = "gh-comments-title"
	CountID    = "gh-comments-count"
	ListID     = "gh-comments-list"
	LoadMoreID = "gh-load-comments"
)

var (
	// ErrNoElement is returned for ids the tree does not contain.
	ErrNoElement = errors.New("no such element")

	// ErrNotBound is returned when activating an element without a handler.
	ErrNotBound = errors.New("no handler bound")
)

// Handler runs when a bound element is activated.
type Handler interface {
	Activate(ctx context.Context) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context) error

// Activate calls f(ctx).
func (f HandlerFunc) Activate(ctx context.Context) error {
	return f(ctx)
}

// Linker is implemented by handlers that can also be followed as a plain
// link; the document renders Href on the bound element.
type Linker interface {
	Href() string
}

// Tree is the set of mutations a page-load cycle performs.
type Tree interface {
	// InsertAfter places markup immediately after the element.
	InsertAfter(id string, markup template.HTML) error
	// Append adds markup as the element's last child.
	Append(id string, markup template.HTML) error
	// AppendText adds escaped text as the element's last child.
	AppendText(id string, text string) error
	// SetText replaces the element's content with escaped text.
	SetText(id string, text string) error
	// SetVisible shows or hides the element.
	SetVisible(id string, visible bool) error
	// Bind sets the element's activation handler, replacing any previous one.
	Bind(id string, h Handler) error
}

type element struct {
	id       string
	tag      string
	class    string
	label    string
	visible  bool
	children []template.HTML
	after    []template.HTML
	handler  Handler
}

// Document is an in-memory Tree holding the comments widget.
type Document struct {
	mu       sync.Mutex
	order    []*element
	elements map[string]*element
}

// NewDocument creates the widget skeleton: a title with a count badge, the
// comments list and a hidden load-more control.
func NewDocument(title string) *Document {
	d := &Document{elements: make(map[string]*element)}
	d.add(&element{id: TitleID, tag: "h2", class: "gh-comments-title", label: title, visible: true})
	d.add(&element{id: CountID, tag: "span", class: "gh-comments-count", visible: true})
	d.add(&element{id: ListID, tag: "div", class: "gh-comments-list", visible: true})
	d.add(&element{id: LoadMoreID, tag: "a", class: "gh-load-comments", label: "Load more comments"})
	return d
}

func (d *Document) add(e *element) {
	d.order = append(d.order, e)
	d.elements[e.id] = e
}

func (d *Document) lookup(id string) (*element, error) {
	e, ok := d.elements[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoElement, id)
	}
	return e, nil
}

// InsertAfter implements Tree. Like insertAdjacentHTML("afterend"), the
// newest insertion ends up closest to the element.
func (d *Document) InsertAfter(id string, markup template.HTML) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, err := d.lookup(id)
	if err != nil {
		return err
	}
	e.after = append([]template.HTML{markup}, e.after...)
	return nil
}

// Append implements Tree.
func (d *Document) Append(id string, markup template.HTML) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, err := d.lookup(id)
	if err != nil {
		return err
	}
	e.children = append(e.children, markup)
	return nil
}

// AppendText implements Tree.
func (d *Document) AppendText(id string, text string) error {
	return d.Append(id, template.HTML(template.HTMLEscapeString(text)))
}

// SetText implements Tree.
func (d *Document) SetText(id string, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, err := d.lookup(id)
	if err != nil {
		return err
	}
	e.children = []template.HTML{template.HTML(template.HTMLEscapeString(text))}
	return nil
}

// SetVisible implements Tree.
func (d *Document) SetVisible(id string, visible bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, err := d.lookup(id)
	if err != nil {
		return err
	}
	e.visible = visible
	return nil
}

// Bind implements Tree. A nil handler clears the binding.
func (d *Document) Bind(id string, h Handler) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, err := d.lookup(id)
	if err != nil {
		return err
	}
	e.handler = h
	return nil
}

// Activate runs the handler bound to id, as a click on the element would.
// The lock is released first so the handler can mutate the document.
func (d *Document) Activate(ctx context.Context, id string) error {
	d.mu.Lock()
	e, err := d.lookup(id)
	var h Handler
	if err == nil {
		h = e.handler
	}
	d.mu.Unlock()

	if err != nil {
		return err
	}
	if h == nil {
		return fmt.Errorf("%w: %q", ErrNotBound, id)
	}
	return h.Activate(ctx)
}

// Children returns a copy of the element's appended markup.
func (d *Document) Children(id string) []template.HTML {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, err := d.lookup(id)
	if err != nil {
		return nil
	}
	return append([]template.HTML(nil), e.children...)
}

// Siblings returns a copy of the markup inserted after the element.
func (d *Document) Siblings(id string) []template.HTML {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, err := d.lookup(id)
	if err != nil {
		return nil
	}
	return append([]template.HTML(nil), e.after...)
}

// Visible reports whether the element is shown.
func (d *Document) Visible(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, err := d.lookup(id)
	return err == nil && e.visible
}

// Handler returns the handler bound to id, or nil.
func (d *Document) Handler(id string) Handler {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, err := d.lookup(id)
	if err != nil {
		return nil
	}
	return e.handler
}

// Render writes the whole widget as HTML.
func (d *Document) Render(w io.Writer) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, `<section id="%s" class="gh-comments">`, RootID)
	b.WriteString("\n")

	title := d.elements[TitleID]
	count := d.elements[CountID]

	// The count badge lives inside the title heading.
	openTag(&b, title)
	b.WriteString(template.HTMLEscapeString(title.label))
	writeChildren(&b, title)
	b.WriteString(" ")
	writeElement(&b, count)
	fmt.Fprintf(&b, "</%s>", title.tag)
	writeAfter(&b, title)
	b.WriteString("\n")

	for _, e := range d.order {
		if e == title || e == count {
			continue
		}
		writeElement(&b, e)
		b.WriteString("\n")
	}
	b.WriteString("</section>\n")

	_, err := io.WriteString(w, b.String())
	return err
}

// HTML returns the rendered widget.
func (d *Document) HTML() string {
	var b strings.Builder
	_ = d.Render(&b)
	return b.String()
}

func openTag(b *strings.Builder, e *element) {
	fmt.Fprintf(b, `<%s id="%s"`, e.tag, e.id)
	if e.class != "" {
		fmt.Fprintf(b, ` class="%s"`, template.HTMLEscapeString(e.class))
	}
	if l, ok := e.handler.(Linker); ok && l.Href() != "" {
		fmt.Fprintf(b, ` href="%s"`, template.HTMLEscapeString(l.Href()))
	}
	if !e.visible {
		b.WriteString(` style="visibility: hidden"`)
	}
	b.WriteString(">")
}

func writeChildren(b *strings.Builder, e *element) {
	for _, c := range e.children {
		b.WriteString(string(c))
	}
}

func writeAfter(b *strings.Builder, e *element) {
	for _, a := range e.after {
		b.WriteString(string(a))
	}
}

func writeElement(b *strings.Builder, e *element) {
	openTag(b, e)
	b.WriteString(template.HTMLEscapeString(e.label))
	writeChildren(b, e)
	fmt.Fprintf(b, "</%s>", e.tag)
	writeAfter(b, e)
}
