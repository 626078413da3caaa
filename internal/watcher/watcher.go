// Package watcher signals, with debouncing, when files of interest change
// under a set of directories.
package watcher

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zjrosen/plugboard/internal/log"
)

// Watcher coalesces bursts of file events into single change signals.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	cfg       Config
	onChange  chan struct{}
	done      chan struct{}
}

// Config holds watcher options.
type Config struct {
	Dirs []string
	// Suffixes selects the files that matter, e.g. ".xml". Empty matches all.
	Suffixes []string
	// Recursive also watches subdirectories present at Start and created later.
	Recursive   bool
	DebounceDur time.Duration
}

// DefaultConfig watches dirs for descriptor files.
func DefaultConfig(dirs ...string) Config {
	return Config{
		Dirs:        dirs,
		Suffixes:    []string{".xml"},
		DebounceDur: 300 * time.Millisecond,
	}
}

// New creates a watcher. Nothing is watched until Start.
func New(cfg Config) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	return &Watcher{
		fsWatcher: fsw,
		cfg:       cfg,
		onChange:  make(chan struct{}, 1),
		done:      make(chan struct{}),
	}, nil
}

// Start begins watching. Missing directories are created first so that a
// descriptor dir can be watched before its first file is written.
func (w *Watcher) Start() (<-chan struct{}, error) {
	for _, dir := range w.cfg.Dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
		if err := w.add(dir); err != nil {
			return nil, err
		}
	}
	go w.loop()
	return w.onChange, nil
}

// Stop terminates the watcher and releases resources.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.fsWatcher.Close()
}

func (w *Watcher) add(dir string) error {
	if !w.cfg.Recursive {
		if err := w.fsWatcher.Add(dir); err != nil {
			return fmt.Errorf("watching directory %s: %w", dir, err)
		}
		return nil
	}
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.fsWatcher.Add(p); err != nil {
			return fmt.Errorf("watching directory %s: %w", p, err)
		}
		return nil
	})
}

func (w *Watcher) loop() {
	var (
		timer   *time.Timer
		pending bool
	)
	fire := func() <-chan time.Time {
		if timer != nil {
			return timer.C
		}
		return nil
	}

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if w.cfg.Recursive && event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.add(event.Name); err != nil {
						log.ErrorErr(log.CatWatcher, "watching new directory", err, "dir", event.Name)
					}
					continue
				}
			}
			if !w.relevant(event) {
				continue
			}
			log.Debug(log.CatWatcher, "change detected", "file", event.Name, "op", event.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.cfg.DebounceDur)
			} else {
				timer.Reset(w.cfg.DebounceDur)
			}
			pending = true

		case <-fire():
			if pending {
				select {
				case w.onChange <- struct{}{}:
				default:
				}
				pending = false
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.ErrorErr(log.CatWatcher, "watch error", err)

		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

// relevant keeps content changes to matching files, including removals so
// that deleted descriptors drop out of the index.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	if len(w.cfg.Suffixes) == 0 {
		return true
	}
	base := filepath.Base(event.Name)
	return slices.ContainsFunc(w.cfg.Suffixes, func(s string) bool { return strings.HasSuffix(base, s) })
}
