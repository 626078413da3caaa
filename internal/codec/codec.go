// Package codec binds Go values to markup trees. A Mapping reads a value out
// of a markup.Reader and writes it into a markup.Writer; the helpers here turn
// any Mapping into a text converter over a markup.Format.
package codec

import (
	"bytes"
	"strings"

	"github.com/zjrosen/plugboard/internal/markup"
)

// Mapping reads and writes values of type T.
type Mapping[T any] interface {
	Read(r markup.Reader) (T, error)
	Write(v T, w markup.Writer) error
}

// InPlace is implemented by values that describe their own markup form.
// ReadMarkup overwrites the receiver.
type InPlace interface {
	ReadMarkup(r markup.Reader) error
	WriteMarkup(w markup.Writer) error
}

type funcs[T any] struct {
	read  func(markup.Reader) (T, error)
	write func(T, markup.Writer) error
}

func (f funcs[T]) Read(r markup.Reader) (T, error)  { return f.read(r) }
func (f funcs[T]) Write(v T, w markup.Writer) error { return f.write(v, w) }

// Funcs builds a Mapping from a pair of free functions.
func Funcs[T any](read func(markup.Reader) (T, error), write func(T, markup.Writer) error) Mapping[T] {
	return funcs[T]{read: read, write: write}
}

// FromInPlace builds a Mapping for a type that reads and writes itself.
// newT must return a fresh value for every Read.
func FromInPlace[T InPlace](newT func() T) Mapping[T] {
	return funcs[T]{
		read: func(r markup.Reader) (T, error) {
			v := newT()
			if err := v.ReadMarkup(r); err != nil {
				var zero T
				return zero, err
			}
			return v, nil
		},
		write: func(v T, w markup.Writer) error { return v.WriteMarkup(w) },
	}
}

// ReadRepeated reads children with m for as long as the next event opens an
// element, passing each to add.
func ReadRepeated[T any](r markup.Reader, m Mapping[T], add func(T) error) error {
	for {
		_, ok, err := r.Peek()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		v, err := m.Read(r)
		if err != nil {
			return err
		}
		if err := add(v); err != nil {
			return err
		}
	}
}

// ToString writes v with m in format f.
func ToString[T any](f markup.Format, m Mapping[T], v T) (string, error) {
	var buf bytes.Buffer
	w := f.NewWriter(&buf)
	if err := m.Write(v, w); err != nil {
		return "", err
	}
	if err := w.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// FromString reads a T from text in format f.
func FromString[T any](f markup.Format, m Mapping[T], text string) (T, error) {
	return m.Read(f.NewReader(strings.NewReader(text)))
}

// Copy deep-copies v by writing it compactly and reading it back.
func Copy[T any](m Mapping[T], v T) (T, error) {
	text, err := ToString(markup.Compact, m, v)
	if err != nil {
		var zero T
		return zero, err
	}
	return FromString(markup.Compact, m, text)
}

// Converter converts between T and text. For every x it holds that
// Convert(Parse(Convert(x))) == Convert(x).
type Converter[T any] struct {
	Format  markup.Format
	Mapping Mapping[T]
}

// NewConverter pairs m with f.
func NewConverter[T any](f markup.Format, m Mapping[T]) Converter[T] {
	return Converter[T]{Format: f, Mapping: m}
}

// Convert renders v as text.
func (c Converter[T]) Convert(v T) (string, error) {
	return ToString(c.Format, c.Mapping, v)
}

// Parse reads a value back from text.
func (c Converter[T]) Parse(text string) (T, error) {
	return FromString(c.Format, c.Mapping, text)
}
