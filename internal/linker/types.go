package linker

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/zjrosen/plugboard/internal/component"
)

// Plug is a registered implementation type.
type Plug struct {
	ID       string
	Type     reflect.Type
	Requires []string
	Native   string
	factory  func() any
}

// Abstract reports whether the plug type cannot be a concrete instance.
func (p *Plug) Abstract() bool {
	return p.Type.Kind() == reflect.Interface
}

// Implements reports whether the plug type satisfies s.
func (p *Plug) Implements(s *Socket) bool {
	return p.Type.Implements(s.Type)
}

// ErrNilInstance is returned when a factory produces a nil value.
var ErrNilInstance = errors.New("factory returned nil")

// New runs the factory. A panic is returned as an error; if the panic value
// is an error it stays reachable through errors.As.
func (p *Plug) New() (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, panicError(r)
		}
	}()
	v = p.factory()
	if v == nil {
		return nil, ErrNilInstance
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && rv.IsNil() {
		return nil, ErrNilInstance
	}
	return v, nil
}

// Socket is a registered capability interface.
type Socket struct {
	ID    string
	Type  reflect.Type
	owner func(any) (component.Properties, error)
}

// HasOwner reports whether a metadata function was registered.
func (s *Socket) HasOwner() bool {
	return s.owner != nil
}

// ErrNoOwner is returned by Metadata for sockets registered without one.
var ErrNoOwner = errors.New("socket has no metadata owner")

// Metadata applies the socket's metadata function to instance. Panics are
// returned as errors.
func (s *Socket) Metadata(instance any) (props component.Properties, err error) {
	if s.owner == nil {
		return nil, ErrNoOwner
	}
	defer func() {
		if r := recover(); r != nil {
			props, err = nil, panicError(r)
		}
	}()
	return s.owner(instance)
}

// Accepts reports whether v implements the socket.
func (s *Socket) Accepts(v any) bool {
	return v != nil && reflect.TypeOf(v).Implements(s.Type)
}

func panicError(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", r)
}
