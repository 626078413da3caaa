package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/zjrosen/plugboard/internal/component"
	"github.com/zjrosen/plugboard/internal/handle"
)

// Reference points at a service held by a Framework. Get acquires the
// service and Release gives it back.
type Reference interface {
	Get() (any, error)
	Properties() component.Properties
	Release() error
}

// Framework is an external component framework that manages its own
// services.
type Framework interface {
	Active() bool
	References(ctx context.Context, socket string) ([]Reference, error)
}

// Live delegates resolution to a Framework. Closing a handle releases its
// reference.
type Live struct {
	fw Framework
}

// NewLive wraps fw.
func NewLive(fw Framework) *Live {
	return &Live{fw: fw}
}

// Active reports whether the framework is running.
func (l *Live) Active() bool {
	return l != nil && l.fw != nil && l.fw.Active()
}

// Lookup acquires every service the framework offers for socket. If one
// cannot be acquired, those acquired so far are released.
func (l *Live) Lookup(ctx context.Context, socket string) ([]*handle.Handle[any], error) {
	refs, err := l.fw.References(ctx, socket)
	if err != nil {
		return nil, fmt.Errorf("framework references for %s: %w", socket, err)
	}
	out := make([]*handle.Handle[any], 0, len(refs))
	for _, ref := range refs {
		inst, err := ref.Get()
		if err != nil {
			errs := []error{fmt.Errorf("framework service for %s: %w", socket, err)}
			for _, h := range out {
				errs = append(errs, h.Close())
			}
			return nil, errors.Join(errs...)
		}
		out = append(out, handle.New(inst, ref.Properties(), ref.Release))
	}
	return out, nil
}
