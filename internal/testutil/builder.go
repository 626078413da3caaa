// Package testutil builds throwaway artifacts for registry and CLI tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/plugboard/internal/component"
	"github.com/zjrosen/plugboard/internal/index"
)

// ArtifactBuilder accumulates descriptors and produces an artifact whose
// manifest indexes them.
type ArtifactBuilder struct {
	t        *testing.T
	descs    map[string]string
	manifest *string
	extra    map[string]string
}

// NewArtifactBuilder starts an empty artifact.
func NewArtifactBuilder(t *testing.T) *ArtifactBuilder {
	t.Helper()
	return &ArtifactBuilder{t: t, descs: make(map[string]string), extra: make(map[string]string)}
}

// WithDescriptor adds d, serialized the way the generator writes it.
func (b *ArtifactBuilder) WithDescriptor(d component.Descriptor) *ArtifactBuilder {
	b.t.Helper()
	text, err := component.Format(d)
	require.NoError(b.t, err)
	b.descs[d.Implementation] = text
	return b
}

// WithPlug adds a descriptor for impl under socket.
func (b *ArtifactBuilder) WithPlug(impl, socket string, opts ...PlugOption) *ArtifactBuilder {
	b.t.Helper()
	d := component.Descriptor{Name: impl, Implementation: impl, Socket: socket}
	for _, opt := range opts {
		opt(&d)
	}
	return b.WithDescriptor(d)
}

// WithRawDescriptor adds text verbatim as impl's descriptor file.
func (b *ArtifactBuilder) WithRawDescriptor(impl, text string) *ArtifactBuilder {
	b.descs[impl] = text
	return b
}

// WithManifestValue overrides the computed index value.
func (b *ArtifactBuilder) WithManifestValue(value string) *ArtifactBuilder {
	b.manifest = &value
	return b
}

// WithFile adds an arbitrary file at a slash-separated path.
func (b *ArtifactBuilder) WithFile(name, content string) *ArtifactBuilder {
	b.extra[name] = content
	return b
}

// Build writes the artifact to a temp directory and returns its root.
func (b *ArtifactBuilder) Build() string {
	b.t.Helper()
	root := b.t.TempDir()
	for name, content := range b.extra {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(b.t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(b.t, os.WriteFile(p, []byte(content), 0o644))
	}
	if len(b.descs) > 0 {
		_, err := index.WriteDescriptors(filepath.Join(root, index.Dir), b.descs)
		require.NoError(b.t, err)
	}
	value := b.manifest
	if value == nil {
		computed, err := index.Compute(os.DirFS(root), index.Dir)
		require.NoError(b.t, err)
		value = &computed
	}
	_, err := index.UpdateManifest(filepath.Join(root, index.ManifestFile), *value)
	require.NoError(b.t, err)
	return root
}

// BuildFS returns the artifact as an in-memory file system.
func (b *ArtifactBuilder) BuildFS() fstest.MapFS {
	b.t.Helper()
	root := b.Build()
	fsys := fstest.MapFS{}
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		fsys[filepath.ToSlash(rel)] = &fstest.MapFile{Data: data}
		return nil
	})
	require.NoError(b.t, err)
	return fsys
}
