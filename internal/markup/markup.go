// Package markup is a pull-style tree reader and writer over a structured
// text syntax. A document is a balanced sequence of open, content and close
// events; readers and writers both enforce the nesting as they go.
//
// Two encodings exist: a compact one, and a pretty one which indents child
// elements with tabs and trims one layer of that indentation from content on
// the way back in.
package markup

import (
	"errors"
	"fmt"
	"io"
)

var (
	// ErrUnbalanced is returned when a close does not match the innermost open
	// element, when nothing is open, or when a document ends with open elements.
	ErrUnbalanced = errors.New("unbalanced markup")

	// ErrMisplacedAttributes is returned when attributes are written anywhere
	// but directly after an open, or read when no element was just opened.
	ErrMisplacedAttributes = errors.New("attributes must directly follow an open")

	// ErrUnexpected is returned by a reader when the next event is not the
	// one the caller asked for.
	ErrUnexpected = errors.New("unexpected markup")

	// ErrMissingAttribute is returned by Attrs.Require.
	ErrMissingAttribute = errors.New("missing attribute")

	// ErrMalformed wraps syntax errors from the underlying text format.
	ErrMalformed = errors.New("malformed markup")

	// ErrInvalidName is returned for element or attribute names the text
	// format cannot carry.
	ErrInvalidName = errors.New("invalid markup name")

	// ErrInvalidText is returned for attribute values or content holding
	// invalid UTF-8 or characters the text format cannot carry.
	ErrInvalidText = errors.New("invalid markup text")
)

// Attr is a single name/value attribute.
type Attr struct {
	Name  string
	Value string
}

// Attrs is an ordered attribute list. Order is preserved on write and read.
type Attrs []Attr

// Get returns the value for name.
func (a Attrs) Get(name string) (string, bool) {
	for _, attr := range a {
		if attr.Name == name {
			return attr.Value, true
		}
	}
	return "", false
}

// Require returns the value for name or an ErrMissingAttribute error.
func (a Attrs) Require(name string) (string, error) {
	v, ok := a.Get(name)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrMissingAttribute, name)
	}
	return v, nil
}

// Tree is the stack-disciplined half shared by readers and writers.
type Tree interface {
	Open(name string) error
	Close(name string) error
}

// Reader pulls a markup tree.
type Reader interface {
	Tree
	// Peek reports the name of the next element if the next event opens one.
	// ok is false when the next event closes the current scope or the
	// document has ended.
	Peek() (name string, ok bool, err error)
	// Attributes of the element most recently opened.
	Attributes() (Attrs, error)
	// Content returns the text before the next tag, or "" if there is none.
	Content() (string, error)
}

// Writer emits a markup tree.
type Writer interface {
	Tree
	Attributes(attrs ...Attr) error
	Content(text string) error
	// Flush fails with ErrUnbalanced if any element is still open.
	Flush() error
}

// OpenClose opens name on t, runs fn, then closes name.
func OpenClose(t Tree, name string, fn func() error) error {
	if err := t.Open(name); err != nil {
		return err
	}
	if err := fn(); err != nil {
		return err
	}
	return t.Close(name)
}

// Format pairs a reader constructor with the matching writer constructor.
type Format struct {
	Name      string
	NewReader func(io.Reader) Reader
	NewWriter func(io.Writer) Writer
}

var (
	// Compact writes no whitespace between elements.
	Compact = Format{
		Name:      "xml",
		NewReader: func(r io.Reader) Reader { return NewXMLReader(r) },
		NewWriter: func(w io.Writer) Writer { return NewXMLWriter(w) },
	}

	// Pretty indents child elements with one tab per level.
	Pretty = Format{
		Name:      "pretty-xml",
		NewReader: func(r io.Reader) Reader { return NewPrettyXMLReader(r) },
		NewWriter: func(w io.Writer) Writer { return NewPrettyXMLWriter(w) },
	}
)
