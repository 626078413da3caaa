// Package registry resolves sockets to live plug instances at run time.
//
// Three strategies implement the same lookup. An installed Harness answers
// first, then a Live component framework if one is active, and otherwise the
// Standalone strategy, which reads the descriptor index of every artifact.
package registry

import (
	"context"
	"errors"

	"github.com/zjrosen/plugboard/internal/handle"
)

var (
	// ErrNotFound is returned by ForID when no handle carries the id.
	ErrNotFound = errors.New("no component with that id")
	// ErrAmbiguous is returned by ForID when several handles carry the id.
	ErrAmbiguous = errors.New("more than one component with that id")
	// ErrUnsupported is returned for operations the current strategy lacks.
	ErrUnsupported = errors.New("not supported by the active strategy")
)

// Strategy resolves a socket id to handles over its plugs.
type Strategy interface {
	Lookup(ctx context.Context, socket string) ([]*handle.Handle[any], error)
}

// Names of the strategies, as logged and traced.
const (
	StrategyHarness    = "harness"
	StrategyLive       = "live"
	StrategyStandalone = "standalone"
)
