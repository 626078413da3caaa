// Package index maintains the descriptor index of a build artifact: the
// sorted, comma-joined list of descriptor files actually present under the
// artifact's PLUG-INF directory, stored as the Plug-Component attribute of
// its manifest.
package index

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
)

const (
	// Dir holds an artifact's descriptor files.
	Dir = "PLUG-INF"
	// ManifestFile sits at the artifact root.
	ManifestFile = "plug-manifest.yaml"
	// Attribute is the manifest key holding the index.
	Attribute = "Plug-Component"
	// Ext is the descriptor file extension.
	Ext = ".xml"
)

// FileName is the descriptor file name for an implementation id.
func FileName(id string) string {
	return strings.ReplaceAll(id, "/", ".") + Ext
}

// Compute lists the descriptor files in dir of fsys and joins their paths,
// sorted, with commas. A missing dir yields "". The result depends only on
// the directory listing, so unchanged input gives byte-identical output.
func Compute(fsys fs.FS, dir string) (string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("listing %s: %w", dir, err)
	}
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.HasSuffix(e.Name(), Ext) {
			continue
		}
		paths = append(paths, path.Join(dir, e.Name()))
	}
	slices.Sort(paths)
	return strings.Join(slices.Compact(paths), ","), nil
}

// Split parses an index value into descriptor paths.
func Split(value string) []string {
	var out []string
	for _, p := range strings.Split(value, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
