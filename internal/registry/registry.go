package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/plugboard/internal/component"
	"github.com/zjrosen/plugboard/internal/handle"
	"github.com/zjrosen/plugboard/internal/linker"
	"github.com/zjrosen/plugboard/internal/log"
	"github.com/zjrosen/plugboard/internal/tracing"
)

// Registry picks a strategy for every lookup: an installed Harness, else an
// active Live framework, else Standalone. The Standalone strategy is built
// on first use and kept for the Registry's lifetime.
type Registry struct {
	table     *linker.Table
	artifacts []Artifact
	live      *Live
	tracer    trace.Tracer

	harness atomic.Pointer[Harness]

	mu         sync.Mutex
	standalone atomic.Pointer[Standalone]
	builds     atomic.Int32
}

// Option configures a Registry.
type Option func(*Registry)

// WithTable instantiates plugs from t instead of linker.Default.
func WithTable(t *linker.Table) Option {
	return func(r *Registry) { r.table = t }
}

// WithArtifacts sets the artifacts the Standalone strategy scans.
func WithArtifacts(artifacts ...Artifact) Option {
	return func(r *Registry) { r.artifacts = append(r.artifacts, artifacts...) }
}

// WithFramework enables the Live strategy while fw is active.
func WithFramework(fw Framework) Option {
	return func(r *Registry) { r.live = NewLive(fw) }
}

// WithTracer records lookup and scan spans on tr.
func WithTracer(tr trace.Tracer) Option {
	return func(r *Registry) { r.tracer = tr }
}

// New returns a Registry.
func New(opts ...Option) *Registry {
	r := &Registry{table: linker.Default, tracer: tracing.Noop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Install makes h answer every lookup until the returned restore function
// puts the previous harness (usually none) back.
func (r *Registry) Install(h *Harness) (restore func()) {
	prev := r.harness.Swap(h)
	return func() { r.harness.Store(prev) }
}

// Strategy returns the strategy the next lookup would use and its name.
func (r *Registry) Strategy(ctx context.Context) (Strategy, string) {
	if h := r.harness.Load(); h != nil {
		return h, StrategyHarness
	}
	if r.live.Active() {
		return r.live, StrategyLive
	}
	return r.Standalone(ctx), StrategyStandalone
}

// Standalone returns the Standalone strategy, scanning the artifacts on the
// first call. Concurrent first callers wait for a single scan.
func (r *Registry) Standalone(ctx context.Context) *Standalone {
	if s := r.standalone.Load(); s != nil {
		return s
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s := r.standalone.Load(); s != nil {
		return s
	}
	r.builds.Add(1)
	s := NewStandalone(ctx, r.table, r.tracer, r.artifacts...)
	r.standalone.Store(s)
	return s
}

// Lookup resolves socket through the current strategy.
func (r *Registry) Lookup(ctx context.Context, socket string) ([]*handle.Handle[any], error) {
	strategy, name := r.Strategy(ctx)
	ctx, span := r.tracer.Start(ctx, tracing.SpanLookup, trace.WithAttributes(
		attribute.String(tracing.AttrSocketID, socket),
		attribute.String(tracing.AttrStrategy, name),
	))
	defer span.End()

	hs, err := strategy.Lookup(ctx, socket)
	if err != nil {
		tracing.Fail(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int(tracing.AttrCount, len(hs)))
	log.Debug(log.CatRegistry, "lookup", "socket", socket, "strategy", name, "handles", len(hs))
	return hs, nil
}

// Lookup resolves socket S and narrows the handles to S. If any instance
// is not an S, every handle is closed and an error returned.
func Lookup[S any](ctx context.Context, r *Registry) ([]*handle.Handle[S], error) {
	socket := linker.IDOf[S]()
	hs, err := r.Lookup(ctx, socket)
	if err != nil {
		return nil, err
	}
	out := make([]*handle.Handle[S], 0, len(hs))
	for _, h := range hs {
		typed, err := handle.Cast[S](h)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("socket %s: %w", socket, err), closeAll(hs))
		}
		out = append(out, typed)
	}
	return out, nil
}

// ForID resolves S and returns the one handle whose "id" property is id.
// The other handles are closed.
func ForID[S any](ctx context.Context, r *Registry, id string) (*handle.Handle[S], error) {
	hs, err := Lookup[S](ctx, r)
	if err != nil {
		return nil, err
	}
	var match *handle.Handle[S]
	var rest []*handle.Handle[S]
	ambiguous := false
	for _, h := range hs {
		switch {
		case h.ID() != id:
			rest = append(rest, h)
		case match == nil:
			match = h
		default:
			ambiguous = true
			rest = append(rest, h)
		}
	}
	if ambiguous {
		rest = append(rest, match)
		return nil, errors.Join(fmt.Errorf("%s id %q: %w", linker.IDOf[S](), id, ErrAmbiguous), closeAll(rest))
	}
	if err := closeAll(rest); err != nil {
		log.ErrorErr(log.CatRegistry, "releasing unused handles", err)
	}
	if match == nil {
		return nil, fmt.Errorf("%s id %q: %w", linker.IDOf[S](), id, ErrNotFound)
	}
	return match, nil
}

// ByID indexes handles by their "id" property. Handles without one are
// left out; on duplicates the first wins.
func ByID[S any](hs []*handle.Handle[S]) map[string]*handle.Handle[S] {
	m := make(map[string]*handle.Handle[S], len(hs))
	for _, h := range hs {
		if id := h.ID(); id != "" {
			if _, dup := m[id]; !dup {
				m[id] = h
			}
		}
	}
	return m
}

// IDs returns the sorted, distinct "id" properties of hs.
func IDs[S any](hs []*handle.Handle[S]) []string {
	var ids []string
	for _, h := range hs {
		if id := h.ID(); id != "" {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

// Filter keeps the handles whose properties satisfy keep and closes the
// rest.
func Filter[S any](hs []*handle.Handle[S], keep func(component.Properties) bool) []*handle.Handle[S] {
	var out []*handle.Handle[S]
	for _, h := range hs {
		if keep(h.Properties()) {
			out = append(out, h)
			continue
		}
		if err := h.Close(); err != nil {
			log.ErrorErr(log.CatRegistry, "releasing filtered handle", err)
		}
	}
	return out
}

// Descriptors lists socket's descriptors without instantiating them. Only
// the Standalone strategy can do this.
func Descriptors(ctx context.Context, r *Registry, socket string) ([]component.Descriptor, error) {
	strategy, name := r.Strategy(ctx)
	s, ok := strategy.(*Standalone)
	if !ok {
		return nil, fmt.Errorf("listing descriptors with the %s strategy: %w", name, ErrUnsupported)
	}
	return s.Descriptors(socket), nil
}

func closeAll[S any](hs []*handle.Handle[S]) error {
	var errs []error
	for _, h := range hs {
		if err := h.Close(); err != nil && !errors.Is(err, handle.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
