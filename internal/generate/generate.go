// Package generate produces component descriptors for every plug found under
// a set of scan roots. A pass resolves types only through an isolated linker
// context that sees the scan roots and explicit link targets, instantiates
// each plug through its registered factory, and asks the socket's metadata
// owner to describe it.
//
// A pass either yields every descriptor or fails as a whole.
package generate

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/plugboard/internal/component"
	"github.com/zjrosen/plugboard/internal/discover"
	"github.com/zjrosen/plugboard/internal/gctrack"
	"github.com/zjrosen/plugboard/internal/linker"
	"github.com/zjrosen/plugboard/internal/log"
	"github.com/zjrosen/plugboard/internal/plugerr"
	"github.com/zjrosen/plugboard/internal/tracing"
)

// Request names what to scan and what else may be linked.
type Request struct {
	Roots []discover.Root `yaml:"roots"`
	// Link lists import paths (or path prefixes) that plugs and sockets may
	// depend on besides the roots themselves.
	Link []string `yaml:"link,omitempty"`
}

func (r Request) allow() []string {
	out := make([]string, 0, len(r.Roots)+len(r.Link))
	for _, root := range r.Roots {
		out = append(out, root.ImportPath)
	}
	return append(out, r.Link...)
}

// Generated is one descriptor keyed by its implementation id.
type Generated struct {
	Implementation string `yaml:"implementation"`
	Text           string `yaml:"text"`
}

// Result is the output of one pass, sorted by implementation id.
type Result struct {
	PassID      string      `yaml:"pass_id"`
	Descriptors []Generated `yaml:"descriptors"`
}

// Map returns the descriptors keyed by implementation id.
func (r *Result) Map() map[string]string {
	m := make(map[string]string, len(r.Descriptors))
	for _, d := range r.Descriptors {
		m[d.Implementation] = d.Text
	}
	return m
}

// Option configures a Generator.
type Option func(*Generator)

// WithTable resolves types from t instead of linker.Default.
func WithTable(t *linker.Table) Option {
	return func(g *Generator) { g.table = t }
}

// WithInspector reuses an inspector, and with it its per-file cache.
func WithInspector(in *discover.Inspector) Option {
	return func(g *Generator) { g.inspector = in }
}

// WithTracer records spans on tr.
func WithTracer(tr trace.Tracer) Option {
	return func(g *Generator) { g.tracer = tr }
}

// WithCollectPolicy bounds the wait for a torn-down context to be collected.
func WithCollectPolicy(p gctrack.Policy) Option {
	return func(g *Generator) { g.collect = p }
}

// Generator runs generation passes. Passes are serialized.
type Generator struct {
	mu        sync.Mutex
	table     *linker.Table
	inspector *discover.Inspector
	tracer    trace.Tracer
	collect   gctrack.Policy
	contexts  gctrack.Tracker[linker.Context]
}

// New returns a Generator over linker.Default.
func New(opts ...Option) *Generator {
	g := &Generator{
		table:   linker.Default,
		tracer:  tracing.Noop(),
		collect: gctrack.DefaultPolicy,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.inspector == nil {
		g.inspector = discover.NewInspector()
	}
	return g
}

// Generate runs one pass.
func (g *Generator) Generate(ctx context.Context, req Request) (*Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(req.Roots) == 0 {
		return nil, fmt.Errorf("no scan roots")
	}
	passID := uuid.NewString()
	ctx, span := g.tracer.Start(ctx, tracing.SpanGenerate, trace.WithAttributes(
		attribute.String(tracing.AttrPassID, passID),
		attribute.Int(tracing.AttrRoots, len(req.Roots)),
		attribute.StringSlice(tracing.AttrLinks, req.Link),
	))
	defer span.End()

	descs, natives, err := g.pass(ctx, passID, req)
	if len(natives) > 0 {
		g.teardown(ctx, passID, natives)
	}
	if err != nil {
		tracing.Fail(span, err)
		span.SetAttributes(attribute.String(tracing.AttrErrorKind, plugerr.KindOf(err).String()))
		log.ErrorErr(log.CatGenerate, "generation pass failed", err, "pass", passID)
		return nil, err
	}

	span.SetAttributes(attribute.Int(tracing.AttrCount, len(descs)))
	log.Info(log.CatGenerate, "generation pass complete", "pass", passID, "descriptors", len(descs))
	return &Result{PassID: passID, Descriptors: descs}, nil
}

// pass owns the linkage context; it is unreachable once pass returns.
func (g *Generator) pass(ctx context.Context, passID string, req Request) (_ []Generated, natives []string, err error) {
	lc := g.table.Isolate(req.allow()...)
	defer func() {
		natives = lc.Natives()
		lc.Close()
		if len(natives) > 0 {
			g.contexts.Track(passID, lc)
		}
	}()

	found := make(map[string]discover.Marker)
	for _, root := range req.Roots {
		markers, err := g.inspector.Walk(ctx, root)
		if err != nil {
			return nil, nil, err
		}
		for _, m := range markers {
			if prev, dup := found[m.Plug]; dup {
				return nil, nil, plugerr.NewConfiguration(m.Plug,
					"declared by both %s and %s; scan roots must not overlap", prev.File, m.File)
			}
			found[m.Plug] = m
		}
	}
	trace.SpanFromContext(ctx).AddEvent(tracing.EventMarkersFound,
		trace.WithAttributes(attribute.Int(tracing.AttrCount, len(found))))

	ids := make([]string, 0, len(found))
	for id := range found {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	sockets := make(map[string]*linker.Socket)
	out := make([]Generated, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		text, err := g.describe(ctx, lc, sockets, found[id])
		if err != nil {
			return nil, nil, err
		}
		out = append(out, Generated{Implementation: id, Text: text})
	}
	return out, nil, nil
}

func (g *Generator) describe(ctx context.Context, lc *linker.Context, sockets map[string]*linker.Socket, m discover.Marker) (_ string, err error) {
	_, span := g.tracer.Start(ctx, tracing.SpanDescribe, trace.WithAttributes(
		attribute.String(tracing.AttrPlugID, m.Plug),
		attribute.String(tracing.AttrSocketID, m.Socket),
	))
	defer func() {
		tracing.Fail(span, err)
		span.End()
	}()

	plug, err := lc.LoadPlug(m.Plug)
	if err != nil {
		return "", linkFailure(m.Plug, err)
	}
	if plug.Abstract() {
		return "", plugerr.NewContract(m.Plug, "plug is abstract; only concrete types can implement %s", m.Socket)
	}
	socket, err := g.socket(lc, sockets, m)
	if err != nil {
		return "", err
	}
	if !plug.Implements(socket) {
		return "", plugerr.NewContract(m.Plug, "socket %s is not a supertype of plug %s", m.Socket, plug.Type)
	}
	if err := requireOwner(socket); err != nil {
		return "", err
	}

	inst, err := lc.Instantiate(plug)
	if err != nil {
		if le := (*linker.LinkError)(nil); errors.As(err, &le) {
			return "", linkFailure(m.Plug, err)
		}
		return "", plugerr.NewConstruction(m.Plug, err, "factory failed")
	}
	props, err := socket.Metadata(inst)
	if err != nil {
		if le := (*linker.LinkError)(nil); errors.As(err, &le) {
			return "", linkFailure(m.Plug, err)
		}
		return "", plugerr.NewConstruction(m.Plug, err,
			"unable to generate metadata for %s, make sure its metadata functions return simple constants", m.Plug)
	}

	text, err := component.Format(component.Descriptor{
		Name:           m.Plug,
		Implementation: m.Plug,
		Socket:         m.Socket,
		Properties:     props,
	})
	if err != nil {
		return "", plugerr.NewConstruction(m.Plug, err, "unable to serialize descriptor")
	}
	log.Debug(log.CatGenerate, "described plug", "plug", m.Plug, "socket", m.Socket, "properties", len(props))
	return text, nil
}

// owner loads a socket once per pass and checks that it can describe plugs.
func (g *Generator) socket(lc *linker.Context, sockets map[string]*linker.Socket, m discover.Marker) (*linker.Socket, error) {
	if s, ok := sockets[m.Socket]; ok {
		return s, nil
	}
	s, err := lc.LoadSocket(m.Socket)
	if err != nil {
		return nil, linkFailure(m.Plug, err)
	}
	sockets[m.Socket] = s
	return s, nil
}

func requireOwner(s *linker.Socket) error {
	if s.HasOwner() {
		return nil
	}
	return plugerr.NewConfiguration(s.ID,
		"socket has no metadata owner; register one with linker.Socket[%s](owner) in an init function of package %s",
		shortName(s.ID), linker.PackageOf(s.ID))
}

// linkFailure separates a dependency that is really absent from a native
// library still claimed by an earlier pass; both surface as link errors.
func linkFailure(plug string, err error) error {
	var le *linker.LinkError
	if !errors.As(err, &le) {
		return plugerr.NewConstruction(plug, err, "unable to load plug")
	}
	switch {
	case errors.Is(le.Err, linker.ErrNativeLinked):
		return plugerr.NewConstruction(plug, err,
			"unable to generate metadata for %s: native library %s is still linked, probably caused by a linkage context sticking around from a previous generation pass",
			plug, le.Native)
	case le.Missing():
		return plugerr.NewConstruction(plug, err,
			"unable to generate metadata for %s, missing transitive dependency %s", plug, le.ID)
	default:
		return plugerr.NewConstruction(plug, err, "unable to load plug")
	}
}

func (g *Generator) teardown(ctx context.Context, passID string, natives []string) {
	_, span := g.tracer.Start(ctx, tracing.SpanTeardown, trace.WithAttributes(
		attribute.String(tracing.AttrPassID, passID),
		attribute.StringSlice(tracing.AttrNatives, natives),
	))
	defer span.End()

	alive := g.contexts.Collect(g.collect)
	span.SetAttributes(attribute.StringSlice(tracing.AttrStillAlive, alive))
	if len(alive) > 0 {
		log.Warn(log.CatGenerate, "linkage context still reachable after teardown",
			"passes", strings.Join(alive, ","), "natives", strings.Join(natives, ","))
	}
}

func shortName(id string) string {
	return id[strings.LastIndexByte(id, '.')+1:]
}
