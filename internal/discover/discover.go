// Package discover finds plug declarations in Go source without compiling or
// running it. A plug is a type declaration whose doc comment carries the
// directive
//
//	//plug:socket github.com/acme/shapes.Shape
//
// naming the socket the type implements. A bare name (no dot) refers to a
// socket in the same package.
package discover

import (
	"bytes"
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/zjrosen/plugboard/internal/cachemanager"
	"github.com/zjrosen/plugboard/internal/log"
)

// Directive is the comment directive marking a plug.
const Directive = "plug:socket"

// Root is a source tree to scan and the import path of its top directory.
type Root struct {
	Dir        string `yaml:"dir" mapstructure:"dir"`
	ImportPath string `yaml:"import_path" mapstructure:"import_path"`
}

// Marker is one discovered plug/socket pair.
type Marker struct {
	Plug   string `yaml:"plug"`
	Socket string `yaml:"socket"`
	File   string `yaml:"file"`
}

type fileInput struct {
	path       string
	importPath string
}

// Inspector scans roots for markers. Results are cached per file, keyed by
// path, size and modification time, so repeated scans only parse files that
// changed.
type Inspector struct {
	cache  *cachemanager.InMemoryCacheManager[string, []Marker]
	files  *cachemanager.ReadThroughCache[string, []Marker, fileInput]
	parsed atomic.Int64
}

// NewInspector returns an Inspector with an empty cache.
func NewInspector() *Inspector {
	in := &Inspector{
		cache: cachemanager.NewInMemoryCacheManager[string, []Marker](
			"discover-markers", cachemanager.DefaultExpiration, cachemanager.DefaultCleanupInterval),
	}
	in.files = cachemanager.NewReadThroughCache[string, []Marker, fileInput](in.cache, in.inspect, false)
	return in
}

// Parsed is the number of files actually read and parsed so far.
func (in *Inspector) Parsed() int64 {
	return in.parsed.Load()
}

// Walk returns every marker under root, sorted by plug id.
func (in *Inspector) Walk(ctx context.Context, root Root) ([]Marker, error) {
	if root.ImportPath == "" {
		return nil, fmt.Errorf("scan root %s: import path is required", root.Dir)
	}
	var out []Marker
	err := filepath.WalkDir(root.Dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if p != root.Dir && skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !isSource(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root.Dir, filepath.Dir(p))
		if err != nil {
			return err
		}
		importPath := root.ImportPath
		if rel != "." {
			importPath = path.Join(root.ImportPath, filepath.ToSlash(rel))
		}
		key := strings.Join([]string{p, importPath, strconv.FormatInt(info.Size(), 10), strconv.FormatInt(info.ModTime().UnixNano(), 10)}, "|")
		markers, err := in.files.Get(ctx, key, fileInput{path: p, importPath: importPath}, cachemanager.DefaultExpiration)
		if err != nil {
			return err
		}
		out = append(out, markers...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", root.Dir, err)
	}
	slices.SortFunc(out, func(a, b Marker) int { return strings.Compare(a.Plug, b.Plug) })
	st := in.files.Stats()
	log.Debug(log.CatGenerate, "scanned root", "dir", root.Dir, "markers", len(out),
		"cache_hits", st.Hits, "cache_misses", st.Misses)
	return out, nil
}

// File inspects a single source file without the cache.
func (in *Inspector) File(ctx context.Context, path, importPath string) ([]Marker, error) {
	return in.inspect(ctx, fileInput{path: path, importPath: importPath})
}

func skipDir(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == "testdata" || name == "vendor"
}

func isSource(name string) bool {
	return strings.HasSuffix(name, ".go") && !strings.HasSuffix(name, "_test.go")
}

var directivePrefix = []byte("//" + Directive)

func (in *Inspector) inspect(_ context.Context, f fileInput) ([]Marker, error) {
	src, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}
	if !bytes.Contains(src, directivePrefix) {
		return nil, nil
	}
	in.parsed.Add(1)

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, f.path, src, parser.ParseComments|parser.SkipObjectResolution)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", f.path, err)
	}

	var markers []Marker
	for _, decl := range file.Decls {
		gd, ok := decl.(*ast.GenDecl)
		if !ok || gd.Tok != token.TYPE {
			continue
		}
		for _, spec := range gd.Specs {
			ts := spec.(*ast.TypeSpec)
			doc := ts.Doc
			if doc == nil && len(gd.Specs) == 1 {
				doc = gd.Doc
			}
			socket, found, err := socketDirective(doc, f.importPath)
			if err != nil {
				return nil, fmt.Errorf("%s: type %s: %w", fset.Position(ts.Pos()), ts.Name.Name, err)
			}
			if !found {
				continue
			}
			if ts.TypeParams != nil {
				return nil, fmt.Errorf("%s: type %s: generic types cannot be plugs", fset.Position(ts.Pos()), ts.Name.Name)
			}
			markers = append(markers, Marker{
				Plug:   f.importPath + "." + ts.Name.Name,
				Socket: socket,
				File:   f.path,
			})
		}
	}
	log.Debug(log.CatGenerate, "inspected source", "file", f.path, "markers", len(markers))
	return markers, nil
}

func socketDirective(doc *ast.CommentGroup, importPath string) (string, bool, error) {
	if doc == nil {
		return "", false, nil
	}
	var socket string
	for _, c := range doc.List {
		rest, ok := strings.CutPrefix(c.Text, "//"+Directive)
		if !ok {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) != 1 || rest[0] != ' ' && rest[0] != '\t' {
			return "", false, fmt.Errorf("malformed directive %q, want //%s <socket>", c.Text, Directive)
		}
		if socket != "" {
			return "", false, fmt.Errorf("more than one //%s directive", Directive)
		}
		socket = fields[0]
		if !strings.Contains(socket, ".") {
			socket = importPath + "." + socket
		}
	}
	return socket, socket != "", nil
}
