package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zjrosen/plugboard/internal/log"
	"github.com/zjrosen/plugboard/internal/pubsub"
	"github.com/zjrosen/plugboard/internal/watcher"
)

// Change is published after every recomputation of an artifact's index.
type Change struct {
	Root    string
	Value   string
	Changed bool
}

// Syncer keeps one artifact directory's manifest attribute in step with its
// descriptor files.
type Syncer struct {
	root   string
	broker *pubsub.Broker[Change]
}

// NewSyncer returns a Syncer for the artifact rooted at root.
func NewSyncer(root string) *Syncer {
	return &Syncer{root: root, broker: pubsub.NewBroker[Change]()}
}

// Subscribe streams changes until ctx is done or the Syncer is closed.
func (s *Syncer) Subscribe(ctx context.Context) <-chan pubsub.Event[Change] {
	return s.broker.Subscribe(ctx)
}

// Close ends all subscriptions.
func (s *Syncer) Close() {
	s.broker.Close()
}

// Sync recomputes the index and updates the manifest if it differs.
func (s *Syncer) Sync() (Change, error) {
	value, err := Compute(os.DirFS(s.root), Dir)
	if err != nil {
		return Change{}, err
	}
	changed, err := UpdateManifest(filepath.Join(s.root, ManifestFile), value)
	if err != nil {
		return Change{}, err
	}
	c := Change{Root: s.root, Value: value, Changed: changed}
	ev := pubsub.UpdatedEvent
	if value == "" {
		ev = pubsub.DeletedEvent
	}
	s.broker.Publish(ev, c)
	if changed {
		log.Info(log.CatIndex, "manifest updated", "root", s.root, "entries", len(Split(value)))
	}
	return c, nil
}

// Watch syncs once, then again after every burst of descriptor changes,
// until ctx is done.
func (s *Syncer) Watch(ctx context.Context, debounce time.Duration) error {
	if _, err := s.Sync(); err != nil {
		return err
	}
	cfg := watcher.DefaultConfig(filepath.Join(s.root, Dir))
	if debounce > 0 {
		cfg.DebounceDur = debounce
	}
	w, err := watcher.New(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()
	changes, err := w.Start()
	if err != nil {
		return fmt.Errorf("watching %s: %w", s.root, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changes:
			if _, err := s.Sync(); err != nil {
				log.ErrorErr(log.CatIndex, "index sync failed", err, "root", s.root)
			}
		}
	}
}
