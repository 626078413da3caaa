// Package handle wraps a resolved plug instance for scoped use. A Handle is
// owned by one caller and released exactly once.
package handle

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync/atomic"

	"github.com/zjrosen/plugboard/internal/component"
)

// ErrClosed is returned when a closed handle is used or closed again.
var ErrClosed = errors.New("handle is closed")

type state struct {
	closed  atomic.Bool
	release func() error
}

// Handle holds an instance together with its descriptor properties.
type Handle[T any] struct {
	instance T
	props    component.Properties
	st       *state
}

// New wraps instance. release runs on the first Close; it may be nil.
func New[T any](instance T, props component.Properties, release func() error) *Handle[T] {
	return &Handle[T]{instance: instance, props: props, st: &state{release: release}}
}

// Get returns the instance, or ErrClosed after Close.
func (h *Handle[T]) Get() (T, error) {
	if h.st.closed.Load() {
		var zero T
		return zero, ErrClosed
	}
	return h.instance, nil
}

// MustGet is Get for callers that own the handle's whole lifetime.
func (h *Handle[T]) MustGet() T {
	v, err := h.Get()
	if err != nil {
		panic(err)
	}
	return v
}

// Properties returns the descriptor properties the handle was resolved with.
func (h *Handle[T]) Properties() component.Properties {
	return h.props
}

// ID is the "id" property, or "".
func (h *Handle[T]) ID() string {
	id, _ := h.props.Get("id")
	return id
}

// Closed reports whether Close has been called.
func (h *Handle[T]) Closed() bool {
	return h.st.closed.Load()
}

// Close releases the handle. Only the first call releases; later calls
// return ErrClosed.
func (h *Handle[T]) Close() error {
	if !h.st.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	if h.st.release != nil {
		return h.st.release()
	}
	return nil
}

// Use calls fn with the instance and closes h afterwards, also when fn
// fails or panics.
func Use[T any](h *Handle[T], fn func(T) error) (err error) {
	v, err := h.Get()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := h.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("closing handle: %w", cerr))
		}
	}()
	return fn(v)
}

// CloseWhenDone closes h once ctx is done. The returned stop function
// detaches h from ctx, reporting whether it did so before the close ran.
func CloseWhenDone[T any](ctx context.Context, h *Handle[T]) (stop func() bool, err error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("binding handle to a finished scope: %w", err)
	}
	if h.Closed() {
		return nil, ErrClosed
	}
	return context.AfterFunc(ctx, func() { _ = h.Close() }), nil
}

// Cast narrows an untyped handle. The result shares h's lifetime: closing
// either closes both.
func Cast[S any](h *Handle[any]) (*Handle[S], error) {
	s, ok := h.instance.(S)
	if !ok {
		return nil, fmt.Errorf("instance %T is not a %v", h.instance, reflect.TypeFor[S]())
	}
	return &Handle[S]{instance: s, props: h.props, st: h.st}, nil
}
