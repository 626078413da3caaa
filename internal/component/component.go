// Package component defines the descriptor recorded for every plug: which
// type implements which socket, and the metadata the socket extracted from
// it. Descriptors are stored as pretty-printed XML:
//
//	<component name="NAME">
//		<implementation class="IMPL"/>
//		<service>
//			<provide interface="SOCKET"/>
//		</service>
//		<property name="K" type="String" value="V"/>
//	</component>
package component

import (
	"fmt"

	"github.com/zjrosen/plugboard/internal/codec"
	"github.com/zjrosen/plugboard/internal/markup"
	"github.com/zjrosen/plugboard/internal/plugerr"
)

// Descriptor is the serialized record of one plug.
type Descriptor struct {
	Name           string
	Implementation string
	Socket         string
	Properties     Properties
}

const (
	elComponent      = "component"
	elImplementation = "implementation"
	elService        = "service"
	elProvide        = "provide"
	elProperty       = "property"

	attrName      = "name"
	attrClass     = "class"
	attrInterface = "interface"
	attrType      = "type"
	attrValue     = "value"

	typeString = "String"
)

// Mapping reads and writes descriptors.
func Mapping() codec.Mapping[Descriptor] {
	return codec.Funcs(readDescriptor, writeDescriptor)
}

// Converter is the pretty XML converter used for descriptor files.
var Converter = codec.NewConverter(markup.Pretty, Mapping())

// Format renders d as descriptor text.
func Format(d Descriptor) (string, error) {
	return Converter.Convert(d)
}

// Parse reads descriptor text. Any failure is a structural error carrying
// the raw text.
func Parse(text string) (Descriptor, error) {
	d, err := Converter.Parse(text)
	if err != nil {
		return Descriptor{}, plugerr.NewStructural(text, err)
	}
	return d, nil
}

func readDescriptor(r markup.Reader) (Descriptor, error) {
	var (
		d                    Descriptor
		haveImpl, haveSocket bool
	)
	err := markup.OpenClose(r, elComponent, func() error {
		attrs, err := r.Attributes()
		if err != nil {
			return err
		}
		if d.Name, err = attrs.Require(attrName); err != nil {
			return err
		}
		for {
			child, ok, err := r.Peek()
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			switch child {
			case elImplementation:
				if haveImpl {
					return fmt.Errorf("duplicate <%s>", elImplementation)
				}
				haveImpl = true
				d.Implementation, err = readLeaf(r, elImplementation, attrClass)
			case elService:
				if haveSocket {
					return fmt.Errorf("duplicate <%s>", elService)
				}
				haveSocket = true
				err = markup.OpenClose(r, elService, func() error {
					var perr error
					d.Socket, perr = readLeaf(r, elProvide, attrInterface)
					return perr
				})
			case elProperty:
				err = markup.OpenClose(r, elProperty, func() error {
					return readProperty(r, &d)
				})
			default:
				return fmt.Errorf("unexpected element <%s> in <%s>", child, elComponent)
			}
			if err != nil {
				return err
			}
		}
		switch {
		case !haveImpl:
			return fmt.Errorf("missing <%s>", elImplementation)
		case !haveSocket:
			return fmt.Errorf("missing <%s>", elService)
		}
		return nil
	})
	return d, err
}

func readProperty(r markup.Reader, d *Descriptor) error {
	attrs, err := r.Attributes()
	if err != nil {
		return err
	}
	key, err := attrs.Require(attrName)
	if err != nil {
		return err
	}
	value, err := attrs.Require(attrValue)
	if err != nil {
		return err
	}
	if typ, ok := attrs.Get(attrType); ok && typ != typeString {
		return fmt.Errorf("property %q has type %q, only %q is supported", key, typ, typeString)
	}
	if _, dup := d.Properties.Get(key); dup {
		return fmt.Errorf("duplicate property %q", key)
	}
	d.Properties = append(d.Properties, Property{Key: key, Value: value})
	return nil
}

// readLeaf reads <el attr="..."/> and returns the attribute value.
func readLeaf(r markup.Reader, el, attr string) (string, error) {
	var value string
	err := markup.OpenClose(r, el, func() error {
		attrs, err := r.Attributes()
		if err != nil {
			return err
		}
		value, err = attrs.Require(attr)
		return err
	})
	return value, err
}

func writeDescriptor(d Descriptor, w markup.Writer) error {
	return markup.OpenClose(w, elComponent, func() error {
		if err := w.Attributes(markup.Attr{Name: attrName, Value: d.Name}); err != nil {
			return err
		}
		if err := markup.OpenClose(w, elImplementation, func() error {
			return w.Attributes(markup.Attr{Name: attrClass, Value: d.Implementation})
		}); err != nil {
			return err
		}
		if err := markup.OpenClose(w, elService, func() error {
			return markup.OpenClose(w, elProvide, func() error {
				return w.Attributes(markup.Attr{Name: attrInterface, Value: d.Socket})
			})
		}); err != nil {
			return err
		}
		for _, p := range d.Properties {
			if err := markup.OpenClose(w, elProperty, func() error {
				return w.Attributes(
					markup.Attr{Name: attrName, Value: p.Key},
					markup.Attr{Name: attrType, Value: typeString},
					markup.Attr{Name: attrValue, Value: p.Value},
				)
			}); err != nil {
				return err
			}
		}
		return nil
	})
}
