package registry

import (
	"context"
	"sync"

	"github.com/zjrosen/plugboard/internal/component"
	"github.com/zjrosen/plugboard/internal/handle"
	"github.com/zjrosen/plugboard/internal/linker"
	"github.com/zjrosen/plugboard/internal/plugerr"
)

type harnessEntry struct {
	instance any
	props    component.Properties
}

// Harness is an in-memory table of instances keyed by socket, populated by
// tests. Lookup returns the registered instances themselves, in order.
type Harness struct {
	table   *linker.Table
	mu      sync.RWMutex
	entries map[string][]harnessEntry
}

// NewHarness returns an empty harness. Add derives properties through the
// socket owners in t; nil means linker.Default.
func NewHarness(t *linker.Table) *Harness {
	if t == nil {
		t = linker.Default
	}
	return &Harness{table: t, entries: make(map[string][]harnessEntry)}
}

// AddWithProperties registers instance under socket S with explicit
// properties.
func AddWithProperties[S any](h *Harness, instance S, props component.Properties) {
	id := linker.IDOf[S]()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[id] = append(h.entries[id], harnessEntry{instance: instance, props: props})
}

// Add registers instance under socket S, describing it with S's owner.
func Add[S any](h *Harness, instance S) error {
	id := linker.IDOf[S]()
	s, ok := h.table.Socket(id)
	if !ok || !s.HasOwner() {
		return plugerr.NewConfiguration(id, "no metadata owner registered; use AddWithProperties or register linker.Socket")
	}
	props, err := s.Metadata(instance)
	if err != nil {
		return plugerr.NewConstruction(id, err, "describing harness instance %T", instance)
	}
	AddWithProperties(h, instance, props)
	return nil
}

// Reset drops every registered instance.
func (h *Harness) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	clear(h.entries)
}

// Lookup returns handles over the instances registered for socket. Closing
// them has no effect on the harness.
func (h *Harness) Lookup(_ context.Context, socket string) ([]*handle.Handle[any], error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	entries := h.entries[socket]
	out := make([]*handle.Handle[any], 0, len(entries))
	for _, e := range entries {
		out = append(out, handle.New(e.instance, e.props, nil))
	}
	return out, nil
}
