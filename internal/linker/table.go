// Package linker is the compile-time registration table for plugs and
// sockets. Packages register their types from init; the generator then
// resolves them through an isolated Context that can only see an explicit
// allow-list of import paths, and the runtime registry instantiates them by
// id.
//
// A type id is the type's import path and name, e.g.
// "github.com/acme/shapes.Circle".
package linker

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"
	"weak"

	"github.com/zjrosen/plugboard/internal/component"
)

var (
	// ErrNotRegistered means no plug or socket with the id was compiled in.
	ErrNotRegistered = errors.New("not registered")
	// ErrNotVisible means the id lies outside a Context's allow-list.
	ErrNotVisible = errors.New("not visible")
	// ErrNativeLinked means another live Context still holds the native
	// library a plug needs.
	ErrNativeLinked = errors.New("native library already linked")
	// ErrClosed is returned by a Context after Close.
	ErrClosed = errors.New("linkage context closed")
)

// LinkError reports an id that could not be linked.
type LinkError struct {
	ID string
	// From is the id whose loading needed ID, if any.
	From string
	// Native is the library involved when Err is ErrNativeLinked.
	Native string
	Err    error
}

func (e *LinkError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "cannot link %s", e.ID)
	if e.From != "" {
		fmt.Fprintf(&b, " (needed by %s)", e.From)
	}
	if e.Native != "" {
		fmt.Fprintf(&b, " [native %s]", e.Native)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *LinkError) Unwrap() error { return e.Err }

// Missing reports whether the error means a dependency was absent, as
// opposed to a native library clash.
func (e *LinkError) Missing() bool {
	return errors.Is(e.Err, ErrNotRegistered) || errors.Is(e.Err, ErrNotVisible)
}

// TypeID returns the id of t. Pointer types are identified by their element.
func TypeID(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.PkgPath() == "" || t.Name() == "" {
		return t.String()
	}
	return t.PkgPath() + "." + t.Name()
}

// IDOf returns the id of T.
func IDOf[T any]() string {
	return TypeID(reflect.TypeFor[T]())
}

// PackageOf returns the import path part of an id.
func PackageOf(id string) string {
	if i := strings.LastIndexByte(id, '.'); i > 0 && !strings.Contains(id[i:], "/") {
		return id[:i]
	}
	return ""
}

// Table maps ids to registered plugs and sockets.
type Table struct {
	mu      sync.RWMutex
	plugs   map[string]*Plug
	sockets map[string]*Socket
	// native tracks which Context holds each native library. A weak pointer
	// lets a closed, unreachable Context give its claim up once collected.
	native map[string]weak.Pointer[Context]
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{
		plugs:   make(map[string]*Plug),
		sockets: make(map[string]*Socket),
		native:  make(map[string]weak.Pointer[Context]),
	}
}

// Default is the table populated by package init functions through Plug and
// Socket.
var Default = NewTable()

// PlugOption configures a plug registration.
type PlugOption func(*Plug)

// Requires declares ids (plugs or sockets) that must be linkable for the
// plug to load.
func Requires(ids ...string) PlugOption {
	return func(p *Plug) { p.Requires = append(p.Requires, ids...) }
}

// Native marks the plug as binding the named native library. Only one
// Context at a time may hold a given library.
func Native(lib string) PlugOption {
	return func(p *Plug) { p.Native = lib }
}

// RegisterPlug registers factory as the only way to build P.
// It panics if P is already registered, as two factories for one type is a
// programming error that must surface at init.
func RegisterPlug[P any](t *Table, factory func() P, opts ...PlugOption) *Plug {
	if factory == nil {
		panic("linker: nil plug factory")
	}
	typ := reflect.TypeFor[P]()
	p := &Plug{
		ID:      TypeID(typ),
		Type:    typ,
		factory: func() any { return factory() },
	}
	for _, opt := range opts {
		opt(p)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, dup := t.plugs[p.ID]; dup {
		panic(fmt.Sprintf("linker: plug %s registered twice", p.ID))
	}
	t.plugs[p.ID] = p
	return p
}

// RegisterSocket registers S as a socket whose plugs are described by owner.
// owner may be nil, in which case generation for S fails with a
// configuration error. S must be an interface type.
func RegisterSocket[S any](t *Table, owner func(S) (component.Properties, error)) *Socket {
	typ := reflect.TypeFor[S]()
	if typ.Kind() != reflect.Interface {
		panic(fmt.Sprintf("linker: socket %s is not an interface", typ))
	}
	s := &Socket{ID: TypeID(typ), Type: typ}
	if owner != nil {
		s.owner = func(v any) (component.Properties, error) {
			inst, ok := v.(S)
			if !ok {
				return nil, fmt.Errorf("%T does not implement %s", v, s.ID)
			}
			return owner(inst)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, dup := t.sockets[s.ID]; dup {
		panic(fmt.Sprintf("linker: socket %s registered twice", s.ID))
	}
	t.sockets[s.ID] = s
	return s
}

// DefaultPlug registers P in Default. Call it from init.
func DefaultPlug[P any](factory func() P, opts ...PlugOption) *Plug {
	return RegisterPlug(Default, factory, opts...)
}

// DefaultSocket registers S in Default. Call it from init.
func DefaultSocket[S any](owner func(S) (component.Properties, error)) *Socket {
	return RegisterSocket(Default, owner)
}

// Plug returns the plug registered under id.
func (t *Table) Plug(id string) (*Plug, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.plugs[id]
	return p, ok
}

// Socket returns the socket registered under id.
func (t *Table) Socket(id string) (*Socket, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sockets[id]
	return s, ok
}

// Plugs returns every registered plug, sorted by id.
func (t *Table) Plugs() []*Plug {
	t.mu.RLock()
	out := make([]*Plug, 0, len(t.plugs))
	for _, p := range t.plugs {
		out = append(out, p)
	}
	t.mu.RUnlock()
	slices.SortFunc(out, func(a, b *Plug) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Sockets returns every registered socket, sorted by id.
func (t *Table) Sockets() []*Socket {
	t.mu.RLock()
	out := make([]*Socket, 0, len(t.sockets))
	for _, s := range t.sockets {
		out = append(out, s)
	}
	t.mu.RUnlock()
	slices.SortFunc(out, func(a, b *Socket) int { return strings.Compare(a.ID, b.ID) })
	return out
}

func (t *Table) registered(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, plug := t.plugs[id]
	_, socket := t.sockets[id]
	return plug || socket
}

// Instantiate builds the plug registered under id, after checking that
// everything it requires is compiled in. It is the run-time path and sees
// the whole table.
func (t *Table) Instantiate(id string) (any, error) {
	p, ok := t.Plug(id)
	if !ok {
		return nil, &LinkError{ID: id, Err: ErrNotRegistered}
	}
	for _, dep := range p.Requires {
		if !t.registered(dep) {
			return nil, &LinkError{ID: dep, From: id, Err: ErrNotRegistered}
		}
	}
	return p.New()
}

func (t *Table) claimNative(lib string, c *Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if wp, ok := t.native[lib]; ok {
		if owner := wp.Value(); owner != nil && owner != c {
			return ErrNativeLinked
		}
	}
	t.native[lib] = weak.Make(c)
	return nil
}
