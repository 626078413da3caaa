package gctrack

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type resource struct {
	name string
	buf  []byte
}

func trackDropped(tr *Tracker[resource], label string) {
	r := &resource{name: label, buf: make([]byte, 1024)}
	tr.Track(label, r)
}

func TestCollect_UnreachableObjects(t *testing.T) {
	var tr Tracker[resource]
	trackDropped(&tr, "a")
	trackDropped(&tr, "b")

	require.Empty(t, tr.Collect(Policy{Pause: 5 * time.Millisecond, Max: time.Second}))
	require.Empty(t, tr.Alive())
}

func TestCollect_BoundedWhenStillReachable(t *testing.T) {
	var tr Tracker[resource]
	held := &resource{name: "held"}
	tr.Track("held", held)

	start := time.Now()
	alive := tr.Collect(Policy{Pause: 10 * time.Millisecond, Max: 50 * time.Millisecond})
	require.Equal(t, []string{"held"}, alive)
	require.Less(t, time.Since(start), time.Second)
	runtime.KeepAlive(held)
}

func TestCollect_ZeroPolicyTriesOnce(t *testing.T) {
	var tr Tracker[resource]
	held := &resource{name: "held"}
	tr.Track("held", held)

	require.Equal(t, []string{"held"}, tr.Collect(Policy{}))
	runtime.KeepAlive(held)
}
