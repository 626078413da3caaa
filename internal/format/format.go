// Package format renders tabular command output. Each output format is a
// plug of the Formatter socket, discovered through the descriptors embedded
// in this package, so the CLI resolves its own formatters the same way any
// consumer resolves plugs.
package format

import (
	"context"
	"embed"
	"fmt"
	"io"
	"io/fs"

	"github.com/zjrosen/plugboard/internal/component"
	"github.com/zjrosen/plugboard/internal/handle"
	"github.com/zjrosen/plugboard/internal/linker"
	"github.com/zjrosen/plugboard/internal/registry"
)

// ImportPath is this package's import path.
const ImportPath = "github.com/zjrosen/plugboard/internal/format"

// Table is a header row plus data rows. Every row has len(Columns) cells.
type Table struct {
	Columns []string
	Rows    [][]string
}

// Formatter writes a table in one output format.
type Formatter interface {
	// Name is the value accepted by --output.
	Name() string
	Description() string
	Render(w io.Writer, t Table) error
}

// Metadata is the Formatter socket's metadata owner.
func Metadata(f Formatter) (component.Properties, error) {
	return component.Props("id", f.Name(), "description", f.Description()), nil
}

// IDs of the socket and the built-in formatters.
var (
	SocketID = linker.IDOf[Formatter]()
	JSONID   = linker.IDOf[JSON]()
	YAMLID   = linker.IDOf[YAML]()
	TextID   = linker.IDOf[Text]()
)

func init() {
	linker.DefaultSocket(Metadata)
	linker.DefaultPlug(func() JSON { return JSON{Indent: "  "} })
	linker.DefaultPlug(func() YAML { return YAML{Indent: 2} })
	linker.DefaultPlug(func() Text { return Text{} })
}

//go:embed plug-manifest.yaml PLUG-INF
var artifact embed.FS

// Artifact is the build artifact carrying the formatter descriptors.
func Artifact() registry.Artifact {
	return registry.Artifact{Name: ImportPath, FS: artifact}
}

// FS exposes the embedded artifact files.
func FS() fs.FS {
	return artifact
}

// Lookup resolves the formatter named name through r.
func Lookup(ctx context.Context, r *registry.Registry, name string) (*handle.Handle[Formatter], error) {
	h, err := registry.ForID[Formatter](ctx, r, name)
	if err != nil {
		names, _ := Names(ctx, r)
		return nil, fmt.Errorf("output format %q (available: %v): %w", name, names, err)
	}
	return h, nil
}

// Names lists the formatter names r can resolve, sorted.
func Names(ctx context.Context, r *registry.Registry) ([]string, error) {
	hs, err := registry.Lookup[Formatter](ctx, r)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, h := range hs {
			_ = h.Close()
		}
	}()
	return registry.IDs(hs), nil
}

// records yields each row as column/value pairs in column order.
func records(t Table) [][][2]string {
	out := make([][][2]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		rec := make([][2]string, len(t.Columns))
		for i, col := range t.Columns {
			var v string
			if i < len(row) {
				v = row[i]
			}
			rec[i] = [2]string{col, v}
		}
		out = append(out, rec)
	}
	return out
}
