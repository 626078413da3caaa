// Package gctrack waits, within a bound, for objects to be garbage collected.
package gctrack

import (
	"runtime"
	"time"
	"weak"
)

// Policy bounds a collection wait.
type Policy struct {
	// Pause between collection attempts.
	Pause time.Duration
	// Max total time to keep trying. Zero means a single attempt.
	Max time.Duration
}

// DefaultPolicy retries for up to two seconds.
var DefaultPolicy = Policy{Pause: 50 * time.Millisecond, Max: 2 * time.Second}

type tracked[T any] struct {
	label string
	ref   weak.Pointer[T]
}

// Tracker holds weak references to objects that should become unreachable.
type Tracker[T any] struct {
	refs []tracked[T]
}

// Track starts watching v. The tracker never keeps v alive.
func (t *Tracker[T]) Track(label string, v *T) {
	t.refs = append(t.refs, tracked[T]{label: label, ref: weak.Make(v)})
}

// Alive returns the labels of tracked objects not yet collected.
func (t *Tracker[T]) Alive() []string {
	var alive []string
	for _, r := range t.refs {
		if r.ref.Value() != nil {
			alive = append(alive, r.label)
		}
	}
	return alive
}

// Collect requests garbage collection until every tracked object is gone or
// the policy's bound is reached. It returns the labels still alive.
func (t *Tracker[T]) Collect(p Policy) []string {
	deadline := time.Now().Add(p.Max)
	for {
		runtime.GC()
		alive := t.Alive()
		if len(alive) == 0 {
			t.refs = nil
			return nil
		}
		if !time.Now().Add(p.Pause).Before(deadline) {
			return alive
		}
		time.Sleep(p.Pause)
	}
}
