package index

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/zjrosen/plugboard/internal/log"
)

// WriteStats counts what WriteDescriptors did.
type WriteStats struct {
	Written   int
	Unchanged int
	Removed   int
}

// Plan maps each implementation id to its descriptor file name. Two ids that
// differ only in "/" versus "." would share a file and are rejected.
func Plan(ids []string) (map[string]string, error) {
	files := make(map[string]string, len(ids))
	owner := make(map[string]string, len(ids))
	for _, id := range ids {
		name := FileName(id)
		if prev, ok := owner[name]; ok && prev != id {
			return nil, fmt.Errorf("%s and %s both map to descriptor file %s", prev, id, name)
		}
		owner[name] = id
		files[id] = name
	}
	return files, nil
}

// WriteDescriptors makes dir hold exactly the given descriptors, keyed by
// implementation id. Files whose content is already correct are left
// untouched; other *.xml files are removed.
func WriteDescriptors(dir string, descs map[string]string) (WriteStats, error) {
	var st WriteStats
	ids := make([]string, 0, len(descs))
	for id := range descs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	files, err := Plan(ids)
	if err != nil {
		return st, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return st, fmt.Errorf("creating %s: %w", dir, err)
	}

	keep := make(map[string]bool, len(files))
	for _, id := range ids {
		name := files[id]
		keep[name] = true
		changed, err := writeIfChanged(filepath.Join(dir, name), []byte(descs[id]))
		if err != nil {
			return st, err
		}
		if changed {
			st.Written++
		} else {
			st.Unchanged++
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return st, fmt.Errorf("listing %s: %w", dir, err)
	}
	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.HasSuffix(e.Name(), Ext) || keep[e.Name()] {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			return st, fmt.Errorf("removing stale descriptor: %w", err)
		}
		log.Info(log.CatIndex, "removed stale descriptor", "file", e.Name())
		st.Removed++
	}
	log.Debug(log.CatIndex, "descriptors written", "dir", dir,
		"written", st.Written, "unchanged", st.Unchanged, "removed", st.Removed)
	return st, nil
}

// writeIfChanged replaces path with data through a temp file, unless it
// already holds exactly data.
func writeIfChanged(path string, data []byte) (bool, error) {
	old, err := os.ReadFile(path)
	if err == nil && bytes.Equal(old, data) {
		return false, nil
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("reading %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path))
	if err != nil {
		return false, fmt.Errorf("writing %s: %w", path, err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return false, fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return false, fmt.Errorf("writing %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		_ = os.Remove(tmp.Name())
		return false, fmt.Errorf("writing %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return false, fmt.Errorf("writing %s: %w", path, err)
	}
	return true, nil
}
