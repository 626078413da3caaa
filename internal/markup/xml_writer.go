package markup

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"
)

// NewlineSentinel is how a line break inside an attribute value is written.
// XML parsers normalize literal line breaks in attributes to spaces; a
// character reference survives, and decodes back to the line break.
const NewlineSentinel = "&#10;"

// XMLWriter writes markup as XML. Empty elements are self-closed.
type XMLWriter struct {
	w      *bufio.Writer
	pretty bool
	err    error

	stack    []string
	children []bool // per open element, whether a child element was written
	// startOpen means "<name attrs" has been written and '>' is still pending.
	startOpen bool
	// attrsOK is true only between an Open and the next child or content.
	attrsOK bool
}

// NewXMLWriter returns a compact writer.
func NewXMLWriter(w io.Writer) *XMLWriter {
	return &XMLWriter{w: bufio.NewWriter(w)}
}

// NewPrettyXMLWriter returns a writer that puts each child element on its own
// line, indented with one tab per open ancestor.
func NewPrettyXMLWriter(w io.Writer) *XMLWriter {
	return &XMLWriter{w: bufio.NewWriter(w), pretty: true}
}

func (x *XMLWriter) write(s string) {
	if x.err != nil {
		return
	}
	_, x.err = x.w.WriteString(s)
}

func (x *XMLWriter) finishStart() {
	if x.startOpen {
		x.write(">")
		x.startOpen = false
	}
}

// Open starts a child element of the current one.
func (x *XMLWriter) Open(name string) error {
	if x.err != nil {
		return x.err
	}
	if !validName(name) {
		return fmt.Errorf("%w: element %q", ErrInvalidName, name)
	}
	x.finishStart()
	if x.pretty && len(x.stack) > 0 {
		x.children[len(x.children)-1] = true
		x.write("\n" + strings.Repeat("\t", len(x.stack)))
	}
	x.write("<" + name)
	x.stack = append(x.stack, name)
	x.children = append(x.children, false)
	x.startOpen = true
	x.attrsOK = true
	return x.err
}

// Attributes writes attributes onto the element just opened.
func (x *XMLWriter) Attributes(attrs ...Attr) error {
	if x.err != nil {
		return x.err
	}
	if !x.attrsOK {
		return fmt.Errorf("%w: nothing was just opened", ErrMisplacedAttributes)
	}
	for _, a := range attrs {
		if !validName(a.Name) {
			return fmt.Errorf("%w: attribute %q", ErrInvalidName, a.Name)
		}
		if err := checkText(a.Value); err != nil {
			return fmt.Errorf("attribute %q: %w", a.Name, err)
		}
	}
	for _, a := range attrs {
		x.write(" " + a.Name + `="` + escapeAttr(a.Value) + `"`)
	}
	return x.err
}

// Content writes text inside the current element.
func (x *XMLWriter) Content(text string) error {
	if x.err != nil {
		return x.err
	}
	if len(x.stack) == 0 {
		return fmt.Errorf("%w: content outside of any element", ErrUnbalanced)
	}
	if err := checkText(text); err != nil {
		return fmt.Errorf("content: %w", err)
	}
	x.finishStart()
	x.attrsOK = false
	if x.pretty && strings.Contains(text, "\n") {
		x.write("\n")
	}
	x.write(escapeText(text))
	return x.err
}

// Close ends the innermost open element, which must be called name.
func (x *XMLWriter) Close(name string) error {
	if x.err != nil {
		return x.err
	}
	if len(x.stack) == 0 {
		return fmt.Errorf("%w: cannot close %q, nothing is open", ErrUnbalanced, name)
	}
	top := len(x.stack) - 1
	if x.stack[top] != name {
		return fmt.Errorf("%w: expected to close %q but was %q", ErrUnbalanced, x.stack[top], name)
	}
	hadChildren := x.children[top]
	x.stack = x.stack[:top]
	x.children = x.children[:top]
	x.attrsOK = false

	if x.startOpen {
		x.startOpen = false
		x.write("/>")
		return x.err
	}
	if x.pretty && hadChildren {
		x.write("\n" + strings.Repeat("\t", len(x.stack)))
	}
	x.write("</" + name + ">")
	return x.err
}

// Flush writes out buffered output.
func (x *XMLWriter) Flush() error {
	if x.err != nil {
		return x.err
	}
	if len(x.stack) > 0 {
		return fmt.Errorf("%w: %q was never closed", ErrUnbalanced, x.stack[len(x.stack)-1])
	}
	return x.w.Flush()
}

var (
	attrEscaper = strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"\t", "&#x9;",
		"\r", "&#xD;",
		"\n", NewlineSentinel,
	)
	textEscaper = strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"\r", "&#xD;",
	)
)

func escapeAttr(v string) string {
	return attrEscaper.Replace(v)
}

func escapeText(v string) string {
	return textEscaper.Replace(v)
}

// checkText rejects what an XML 1.0 document cannot hold: invalid UTF-8 and
// runes outside the Char production.
func checkText(v string) error {
	if !utf8.ValidString(v) {
		return fmt.Errorf("%w: %q is not valid UTF-8", ErrInvalidText, v)
	}
	for i, r := range v {
		if !xmlChar(r) {
			return fmt.Errorf("%w: illegal character %U at offset %d", ErrInvalidText, r, i)
		}
	}
	return nil
}

func xmlChar(r rune) bool {
	switch {
	case r == '\t', r == '\n', r == '\r':
		return true
	case r >= 0x20 && r <= 0xD7FF:
		return true
	case r >= 0xE000 && r <= 0xFFFD:
		return true
	default:
		return r >= 0x10000 && r <= 0x10FFFF
	}
}

func validName(name string) bool {
	if name == "" {
		return false
	}
	first, _ := utf8.DecodeRuneInString(name)
	if !(unicode.IsLetter(first) || first == '_' || first == ':') {
		return false
	}
	for _, r := range name {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
		case r == '_', r == ':', r == '-', r == '.':
		default:
			return false
		}
	}
	return true
}
