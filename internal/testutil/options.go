package testutil

import "github.com/zjrosen/plugboard/internal/component"

// PlugOption configures a descriptor added with WithPlug.
type PlugOption func(*component.Descriptor)

// Prop appends a property.
func Prop(key, value string) PlugOption {
	return func(d *component.Descriptor) { d.Properties = d.Properties.With(key, value) }
}

// Name overrides the component name, which defaults to the implementation.
func Name(name string) PlugOption {
	return func(d *component.Descriptor) { d.Name = name }
}
