package registry

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"slices"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/plugboard/internal/component"
	"github.com/zjrosen/plugboard/internal/handle"
	"github.com/zjrosen/plugboard/internal/index"
	"github.com/zjrosen/plugboard/internal/linker"
	"github.com/zjrosen/plugboard/internal/log"
	"github.com/zjrosen/plugboard/internal/plugerr"
	"github.com/zjrosen/plugboard/internal/tracing"
)

// Artifact is a build artifact: a file tree holding a manifest and its
// descriptor directory.
type Artifact struct {
	Name string
	FS   fs.FS
}

// DirArtifact is the artifact rooted at dir on disk.
func DirArtifact(dir string) Artifact {
	return Artifact{Name: dir, FS: os.DirFS(dir)}
}

type entry struct {
	desc     component.Descriptor
	artifact string
	path     string
}

type resolved struct {
	instance any
	props    component.Properties
}

// outcome is the result of building one entry.
type outcome struct {
	entry
	resolved
	err error
}

// cell memoizes the instances for one socket.
type cell struct {
	once    sync.Once
	items   []resolved
	skipped int
}

// Standalone resolves sockets from the descriptor indexes of a fixed set of
// artifacts. Artifacts are scanned once when it is built; each socket is
// instantiated on its first lookup and the instances reused after that.
// A descriptor that cannot be parsed or instantiated is logged and skipped.
type Standalone struct {
	table    *linker.Table
	tracer   trace.Tracer
	bySocket map[string][]entry
	cells    sync.Map
	skipped  int
}

// NewStandalone scans artifacts and returns the strategy. Instantiation
// goes through t.
func NewStandalone(ctx context.Context, t *linker.Table, tracer trace.Tracer, artifacts ...Artifact) *Standalone {
	if tracer == nil {
		tracer = tracing.Noop()
	}
	s := &Standalone{table: t, tracer: tracer, bySocket: make(map[string][]entry)}

	_, span := tracer.Start(ctx, tracing.SpanScan)
	defer span.End()
	total := 0
	for _, a := range artifacts {
		total += s.scan(a)
	}
	span.SetAttributes(
		attribute.Int(tracing.AttrCount, total),
		attribute.Int(tracing.AttrSkipped, s.skipped),
	)
	log.Debug(log.CatRegistry, "artifacts scanned", "artifacts", len(artifacts), "descriptors", total, "skipped", s.skipped)
	return s
}

func (s *Standalone) scan(a Artifact) int {
	value, _, err := index.ReadManifest(a.FS)
	if err != nil {
		log.Warn(log.CatRegistry, "skipping artifact", "artifact", a.Name, "error", err.Error())
		return 0
	}
	n := 0
	for _, p := range index.Split(value) {
		e := entry{artifact: a.Name, path: p}
		data, err := fs.ReadFile(a.FS, path.Clean(p))
		if err != nil {
			s.skip(e, fmt.Errorf("reading descriptor: %w", err))
			continue
		}
		e.desc, err = component.Parse(string(data))
		if err != nil {
			s.skip(e, err)
			continue
		}
		s.bySocket[e.desc.Socket] = append(s.bySocket[e.desc.Socket], e)
		n++
	}
	return n
}

func (s *Standalone) skip(e entry, err error) {
	s.skipped++
	logSkip(e, err)
}

func logSkip(e entry, err error) {
	log.Warn(log.CatRegistry, "skipping component",
		"artifact", e.artifact, "path", e.path, "impl", e.desc.Implementation,
		"kind", plugerr.KindOf(err).String(), "error", err.Error())
}

// Sockets lists the socket ids that have at least one descriptor.
func (s *Standalone) Sockets() []string {
	out := make([]string, 0, len(s.bySocket))
	for id := range s.bySocket {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Descriptors returns the descriptors for socket without instantiating
// anything.
func (s *Standalone) Descriptors(socket string) []component.Descriptor {
	entries := s.bySocket[socket]
	out := make([]component.Descriptor, len(entries))
	for i, e := range entries {
		out[i] = e.desc
	}
	return out
}

// Lookup returns fresh handles over the memoized instances for socket.
// Closing them does nothing.
func (s *Standalone) Lookup(_ context.Context, socket string) ([]*handle.Handle[any], error) {
	c := s.cell(socket)
	out := make([]*handle.Handle[any], 0, len(c.items))
	for _, it := range c.items {
		out = append(out, handle.New(it.instance, it.props, nil))
	}
	return out, nil
}

// Skipped is the number of socket's descriptors that failed to instantiate.
func (s *Standalone) Skipped(socket string) int {
	return s.cell(socket).skipped
}

func (s *Standalone) cell(socket string) *cell {
	v, _ := s.cells.LoadOrStore(socket, &cell{})
	c := v.(*cell)
	c.once.Do(func() { s.resolve(socket, c) })
	return c
}

func (s *Standalone) resolve(socket string, c *cell) {
	sock, known := s.table.Socket(socket)
	for _, o := range s.build(sock, known, s.bySocket[socket]) {
		if o.err != nil {
			c.skipped++
			logSkip(o.entry, o.err)
			continue
		}
		c.items = append(c.items, o.resolved)
	}
	log.Debug(log.CatRegistry, "socket resolved", "socket", socket, "instances", len(c.items), "skipped", c.skipped)
}

func (s *Standalone) build(sock *linker.Socket, known bool, entries []entry) []outcome {
	out := make([]outcome, 0, len(entries))
	for _, e := range entries {
		o := outcome{entry: e}
		inst, err := s.table.Instantiate(e.desc.Implementation)
		switch {
		case err != nil:
			o.err = plugerr.NewConstruction(e.desc.Implementation, err, "unable to instantiate")
		case known && !sock.Accepts(inst):
			o.err = plugerr.NewContract(e.desc.Implementation, "%T does not implement %s", inst, sock.ID)
		default:
			o.resolved = resolved{instance: inst, props: e.desc.Properties}
		}
		out = append(out, o)
	}
	return out
}

// String names the strategy and its size, for diagnostics.
func (s *Standalone) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "standalone(%d sockets", len(s.bySocket))
	if s.skipped > 0 {
		fmt.Fprintf(&b, ", %d skipped", s.skipped)
	}
	b.WriteString(")")
	return b.String()
}
