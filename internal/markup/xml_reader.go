package markup

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

type eventKind int

const (
	evOpen eventKind = iota
	evClose
	evText
	evEnd
)

func (k eventKind) String() string {
	switch k {
	case evOpen:
		return "open"
	case evClose:
		return "close"
	case evText:
		return "text"
	default:
		return "end of document"
	}
}

type event struct {
	kind  eventKind
	name  string
	attrs Attrs
	text  string
}

func (e event) describe() string {
	if e.kind == evOpen || e.kind == evClose {
		return fmt.Sprintf("%s %q", e.kind, e.name)
	}
	return e.kind.String()
}

// XMLReader reads markup from XML. Adjacent text runs are merged into one
// content value; comments and processing instructions are ignored.
type XMLReader struct {
	dec    *xml.Decoder
	pretty bool
	err    error

	// pending holds lookahead. If it is non-empty its last event is never
	// text, so a text event is always followed by the tag that ended it.
	pending []event
	attrs   Attrs
	opened  bool
}

// NewXMLReader returns a reader that returns content verbatim.
func NewXMLReader(r io.Reader) *XMLReader {
	return &XMLReader{dec: xml.NewDecoder(r)}
}

// NewPrettyXMLReader returns a reader that undoes the indentation a pretty
// writer puts around multi-line content.
func NewPrettyXMLReader(r io.Reader) *XMLReader {
	return &XMLReader{dec: xml.NewDecoder(r), pretty: true}
}

func (x *XMLReader) fill() error {
	if x.err != nil {
		return x.err
	}
	for len(x.pending) == 0 || x.pending[len(x.pending)-1].kind == evText {
		tok, err := x.dec.Token()
		if errors.Is(err, io.EOF) {
			x.pending = append(x.pending, event{kind: evEnd})
			return nil
		}
		if err != nil {
			x.err = fmt.Errorf("%w: %w", ErrMalformed, err)
			return x.err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			attrs := make(Attrs, 0, len(t.Attr))
			for _, a := range t.Attr {
				attrs = append(attrs, Attr{
					Name:  qualified(a.Name),
					Value: a.Value,
				})
			}
			x.pending = append(x.pending, event{kind: evOpen, name: qualified(t.Name), attrs: attrs})
		case xml.EndElement:
			x.pending = append(x.pending, event{kind: evClose, name: qualified(t.Name)})
		case xml.CharData:
			if n := len(x.pending); n > 0 && x.pending[n-1].kind == evText {
				x.pending[n-1].text += string(t)
			} else {
				x.pending = append(x.pending, event{kind: evText, text: string(t)})
			}
		}
	}
	return nil
}

func qualified(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}

// next pops the next tag event, skipping at most one text run.
func (x *XMLReader) next() (event, error) {
	if err := x.fill(); err != nil {
		return event{}, err
	}
	e := x.pending[0]
	x.pending = x.pending[1:]
	if e.kind == evText {
		e = x.pending[0]
		x.pending = x.pending[1:]
	}
	return e, nil
}

// Peek reports the next element name when the next tag is an open.
func (x *XMLReader) Peek() (string, bool, error) {
	if err := x.fill(); err != nil {
		return "", false, err
	}
	e := x.pending[0]
	if e.kind == evText {
		e = x.pending[1]
	}
	if e.kind != evOpen {
		return "", false, nil
	}
	return e.name, true, nil
}

// Open consumes the open tag for name.
func (x *XMLReader) Open(name string) error {
	e, err := x.next()
	if err != nil {
		return err
	}
	if e.kind != evOpen || e.name != name {
		return fmt.Errorf("%w: expected to open %q but found %s", ErrUnexpected, name, e.describe())
	}
	x.attrs = e.attrs
	x.opened = true
	return nil
}

// Close consumes the close tag for name.
func (x *XMLReader) Close(name string) error {
	e, err := x.next()
	if err != nil {
		return err
	}
	if e.kind != evClose || e.name != name {
		return fmt.Errorf("%w: expected to close %q but found %s", ErrUnexpected, name, e.describe())
	}
	x.attrs = nil
	x.opened = false
	return nil
}

// Attributes returns a copy of the attributes of the element just opened.
func (x *XMLReader) Attributes() (Attrs, error) {
	if !x.opened {
		return nil, fmt.Errorf("%w: nothing was just opened", ErrMisplacedAttributes)
	}
	out := make(Attrs, len(x.attrs))
	copy(out, x.attrs)
	return out, nil
}

// Content returns the text up to the next tag.
func (x *XMLReader) Content() (string, error) {
	if err := x.fill(); err != nil {
		return "", err
	}
	if x.pending[0].kind != evText {
		return "", nil
	}
	text := x.pending[0].text
	x.pending = x.pending[1:]
	if x.pretty {
		text = trimIndent(text)
	}
	return text, nil
}

// trimIndent removes the line break and indentation a pretty writer puts on
// either side of content, but only when both of those ends are pure
// whitespace. Anything else is returned untouched.
func trimIndent(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	first := strings.IndexByte(text, '\n')
	last := strings.LastIndexByte(text, '\n')
	if first < 0 || first == last {
		return text
	}
	if strings.TrimSpace(text[:first]) != "" || strings.TrimSpace(text[last:]) != "" {
		return text
	}
	return text[first+1 : last]
}
