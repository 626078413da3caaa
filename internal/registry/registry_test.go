package registry

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/plugboard/internal/component"
	"github.com/zjrosen/plugboard/internal/handle"
	"github.com/zjrosen/plugboard/internal/index"
	"github.com/zjrosen/plugboard/internal/linker"
	"github.com/zjrosen/plugboard/internal/log"
	"github.com/zjrosen/plugboard/internal/plugerr"
	"github.com/zjrosen/plugboard/internal/testutil"
	"github.com/zjrosen/plugboard/internal/testutil/shapes"
)

// mockFramework is a testify mock of an external component framework.
type mockFramework struct{ mock.Mock }

func (m *mockFramework) Active() bool {
	args := m.Called()
	if f, ok := args.Get(0).(func() bool); ok {
		return f()
	}
	return args.Bool(0)
}

func (m *mockFramework) References(ctx context.Context, socket string) ([]Reference, error) {
	args := m.Called(ctx, socket)
	refs, _ := args.Get(0).([]Reference)
	return refs, args.Error(1)
}

type mockReference struct{ mock.Mock }

func (m *mockReference) Get() (any, error) {
	args := m.Called()
	return args.Get(0), args.Error(1)
}

func (m *mockReference) Properties() component.Properties {
	props, _ := m.Called().Get(0).(component.Properties)
	return props
}

func (m *mockReference) Release() error { return m.Called().Error(0) }

// captureLog routes log output to a buffer for the rest of the test.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	restore := log.InitWriter(&buf)
	t.Cleanup(restore)
	return &buf
}

// === Unit Tests: Harness ===

func TestHarness_ReturnsRegisteredInstances(t *testing.T) {
	h := NewHarness(shapes.Table())
	tri := &shapes.Triangle{}
	AddWithProperties[shapes.Shape](h, tri, component.Props("id", "custom"))
	require.NoError(t, Add[shapes.Shape](h, shapes.Square{}))

	hs, err := h.Lookup(context.Background(), shapes.SocketID)
	require.NoError(t, err)
	require.Len(t, hs, 2)
	require.Same(t, tri, hs[0].MustGet())
	require.Equal(t, component.Props("id", "custom"), hs[0].Properties())
	require.Equal(t, component.Props("id", "square", "sides", "4"), hs[1].Properties())

	require.NoError(t, hs[0].Close())
	again, err := h.Lookup(context.Background(), shapes.SocketID)
	require.NoError(t, err)
	require.Same(t, tri, again[0].MustGet(), "closing a harness handle leaves the harness alone")

	h.Reset()
	hs, err = h.Lookup(context.Background(), shapes.SocketID)
	require.NoError(t, err)
	require.Empty(t, hs)
}

func TestHarness_AddWithoutOwner(t *testing.T) {
	err := Add[shapes.Shape](NewHarness(linker.NewTable()), shapes.Circle{})
	require.ErrorIs(t, err, plugerr.ErrConfiguration)
}

// === Unit Tests: Live ===

func TestLive_ReleasesOnClose(t *testing.T) {
	ref := &mockReference{}
	ref.On("Get").Return(shapes.Circle{}, nil).Once()
	ref.On("Properties").Return(component.Props("id", "circle"))
	ref.On("Release").Return(nil).Once()
	fw := &mockFramework{}
	fw.On("Active").Return(true)
	fw.On("References", mock.Anything, shapes.SocketID).Return([]Reference{ref}, nil)

	r := New(WithFramework(fw), WithTable(shapes.Table()))
	hs, err := Lookup[shapes.Shape](context.Background(), r)
	require.NoError(t, err)
	require.Len(t, hs, 1)
	require.Equal(t, "circle", hs[0].ID())

	require.NoError(t, hs[0].Close())
	require.ErrorIs(t, hs[0].Close(), handle.ErrClosed)
	ref.AssertExpectations(t)
	fw.AssertExpectations(t)
}

func TestLive_FailedGetReleasesAcquired(t *testing.T) {
	good := &mockReference{}
	good.On("Get").Return(shapes.Circle{}, nil)
	good.On("Properties").Return(component.Properties(nil))
	good.On("Release").Return(nil).Once()
	bad := &mockReference{}
	bad.On("Get").Return(nil, errors.New("service unregistered"))
	fw := &mockFramework{}
	fw.On("References", mock.Anything, "s").Return([]Reference{good, bad}, nil)

	_, err := NewLive(fw).Lookup(context.Background(), "s")
	require.ErrorContains(t, err, "service unregistered")
	good.AssertExpectations(t)
	bad.AssertNotCalled(t, "Release")
}

// === Unit Tests: strategy precedence ===

func TestRegistry_Precedence(t *testing.T) {
	root := testutil.NewArtifactBuilder(t).WithShapes().Build()
	fw := &mockFramework{}
	active := atomic.Bool{}
	fw.On("Active").Return(func() bool { return active.Load() })
	fw.On("References", mock.Anything, shapes.SocketID).Return([]Reference{}, nil)

	r := New(WithTable(shapes.Table()), WithArtifacts(DirArtifact(root)), WithFramework(fw))
	ctx := context.Background()

	_, name := r.Strategy(ctx)
	require.Equal(t, StrategyStandalone, name)

	active.Store(true)
	_, name = r.Strategy(ctx)
	require.Equal(t, StrategyLive, name)

	restore := r.Install(NewHarness(shapes.Table()))
	_, name = r.Strategy(ctx)
	require.Equal(t, StrategyHarness, name)

	restore()
	active.Store(false)
	hs, err := r.Lookup(ctx, shapes.SocketID)
	require.NoError(t, err)
	require.Len(t, hs, 3)
}

// === Unit Tests: Standalone ===

func TestStandalone_PartialTolerance(t *testing.T) {
	buf := captureLog(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	entries := log.Subscribe(ctx)

	root := testutil.NewArtifactBuilder(t).
		WithPlug(shapes.CircleID, shapes.SocketID, testutil.Prop("id", "circle")).
		WithPlug(shapes.SquareID, shapes.SocketID, testutil.Prop("id", "square")).
		WithBrokenShape().
		Build()
	r := New(WithTable(shapes.Table()), WithArtifacts(DirArtifact(root)))

	hs, err := r.Lookup(context.Background(), shapes.SocketID)
	require.NoError(t, err)
	require.Len(t, hs, 2)
	require.Equal(t, []string{"circle", "square"}, IDs(hs))

	skips := 0
	for {
		select {
		case ev := <-entries:
			if strings.Contains(ev.Payload, "skipping component") {
				skips++
			}
			continue
		default:
		}
		break
	}
	require.Equal(t, 1, skips)
	require.Equal(t, 1, strings.Count(buf.String(), "skipping component"))
	require.Contains(t, buf.String(), "impl="+shapes.ImportPath+".Hexagon")
	require.Equal(t, 1, r.Standalone(context.Background()).Skipped(shapes.SocketID))
}

type counted struct{}

func (counted) Name() string { return "counted" }
func (counted) Sides() int   { return 1 }

func countingTable(calls *atomic.Int32) *linker.Table {
	tbl := shapes.Table()
	linker.RegisterPlug(tbl, func() counted {
		calls.Add(1)
		return counted{}
	})
	return tbl
}

const countedID = "github.com/zjrosen/plugboard/internal/registry.counted"

func TestStandalone_MemoizesInstances(t *testing.T) {
	var calls atomic.Int32
	fsys := testutil.NewArtifactBuilder(t).WithPlug(countedID, shapes.SocketID, testutil.Prop("id", "c")).BuildFS()
	r := New(WithTable(countingTable(&calls)), WithArtifacts(Artifact{Name: "mem", FS: fsys}))

	first, err := r.Lookup(context.Background(), shapes.SocketID)
	require.NoError(t, err)
	require.NoError(t, first[0].Close())

	second, err := r.Lookup(context.Background(), shapes.SocketID)
	require.NoError(t, err)
	require.Len(t, second, 1)
	require.False(t, second[0].Closed(), "every lookup gets fresh handles")
	require.Equal(t, int32(1), calls.Load())
}

func TestStandalone_ConcurrentFirstUse(t *testing.T) {
	var calls atomic.Int32
	fsys := testutil.NewArtifactBuilder(t).WithShapes().WithPlug(countedID, shapes.SocketID).BuildFS()
	r := New(WithTable(countingTable(&calls)), WithArtifacts(Artifact{Name: "mem", FS: fsys}))

	var wg sync.WaitGroup
	counts := make([]int, 32)
	for i := range counts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hs, err := r.Lookup(context.Background(), shapes.SocketID)
			if err == nil {
				counts[i] = len(hs)
			}
		}()
	}
	wg.Wait()

	for _, n := range counts {
		require.Equal(t, 4, n)
	}
	require.Equal(t, int32(1), r.builds.Load(), "artifacts are scanned once")
	require.Equal(t, int32(1), calls.Load(), "each plug is built once")
}

type notAShape struct{}

func TestStandalone_SkipsBadEntries(t *testing.T) {
	buf := captureLog(t)
	tbl := shapes.Table()
	linker.RegisterPlug(tbl, func() notAShape { return notAShape{} })

	good := testutil.NewArtifactBuilder(t).
		WithPlug(shapes.CircleID, shapes.SocketID).
		WithPlug("github.com/zjrosen/plugboard/internal/registry.notAShape", shapes.SocketID).
		WithRawDescriptor("x.Broken", `<component name="x.Broken"><service/></component>`).
		BuildFS()
	dangling := testutil.NewArtifactBuilder(t).WithManifestValue("PLUG-INF/gone.xml").BuildFS()
	badManifest := fstest.MapFS{index.ManifestFile: {Data: []byte("Plug-Component: [\n")}}
	empty := fstest.MapFS{}

	s := NewStandalone(context.Background(), tbl, nil,
		Artifact{Name: "good", FS: good},
		Artifact{Name: "dangling", FS: dangling},
		Artifact{Name: "bad-manifest", FS: badManifest},
		Artifact{Name: "empty", FS: empty},
	)
	require.Equal(t, []string{shapes.SocketID}, s.Sockets())
	require.Len(t, s.Descriptors(shapes.SocketID), 2)

	hs, err := s.Lookup(context.Background(), shapes.SocketID)
	require.NoError(t, err)
	require.Len(t, hs, 1)
	require.Equal(t, shapes.Circle{}, hs[0].MustGet())

	out := buf.String()
	require.Equal(t, 3, strings.Count(out, "skipping component"), out)
	require.Contains(t, out, "kind=structural")
	require.Contains(t, out, "kind=contract")
	require.Contains(t, out, "skipping artifact artifact=bad-manifest")
	require.Contains(t, s.String(), "2 skipped")
}

func TestStandalone_UnknownSocket(t *testing.T) {
	s := NewStandalone(context.Background(), shapes.Table(), nil)
	hs, err := s.Lookup(context.Background(), "example.com/none.Socket")
	require.NoError(t, err)
	require.Empty(t, hs)
}

// === Unit Tests: typed helpers ===

func shapesRegistry(t *testing.T) *Registry {
	t.Helper()
	fsys := testutil.NewArtifactBuilder(t).WithShapes().BuildFS()
	return New(WithTable(shapes.Table()), WithArtifacts(Artifact{Name: "shapes", FS: fsys}))
}

func TestLookup_Typed(t *testing.T) {
	hs, err := Lookup[shapes.Shape](context.Background(), shapesRegistry(t))
	require.NoError(t, err)

	sides := map[string]int{}
	for _, h := range hs {
		require.NoError(t, handle.Use(h, func(s shapes.Shape) error {
			sides[s.Name()] = s.Sides()
			return nil
		}))
	}
	require.Equal(t, map[string]int{"circle": 0, "square": 4, "triangle": 3}, sides)
}

func TestLookup_WrongInstanceType(t *testing.T) {
	ok := &mockReference{}
	ok.On("Get").Return(shapes.Circle{}, nil)
	ok.On("Properties").Return(component.Properties(nil))
	ok.On("Release").Return(nil).Once()
	odd := &mockReference{}
	odd.On("Get").Return(notAShape{}, nil)
	odd.On("Properties").Return(component.Properties(nil))
	odd.On("Release").Return(nil).Once()
	fw := &mockFramework{}
	fw.On("Active").Return(true)
	fw.On("References", mock.Anything, shapes.SocketID).Return([]Reference{ok, odd}, nil)

	_, err := Lookup[shapes.Shape](context.Background(), New(WithFramework(fw)))
	require.ErrorContains(t, err, "is not a shapes.Shape")
	ok.AssertExpectations(t)
	odd.AssertExpectations(t)
}

func TestForID(t *testing.T) {
	r := shapesRegistry(t)

	sq, err := ForID[shapes.Shape](context.Background(), r, "square")
	require.NoError(t, err)
	require.Equal(t, 4, sq.MustGet().Sides())

	_, err = ForID[shapes.Shape](context.Background(), r, "hexagon")
	require.ErrorIs(t, err, ErrNotFound)

	h := NewHarness(nil)
	AddWithProperties[shapes.Shape](h, shapes.Circle{}, component.Props("id", "round"))
	AddWithProperties[shapes.Shape](h, &shapes.Triangle{}, component.Props("id", "round"))
	defer r.Install(h)()
	_, err = ForID[shapes.Shape](context.Background(), r, "round")
	require.ErrorIs(t, err, ErrAmbiguous)
}

func TestByIDAndFilter(t *testing.T) {
	hs, err := Lookup[shapes.Shape](context.Background(), shapesRegistry(t))
	require.NoError(t, err)

	byID := ByID(hs)
	require.Len(t, byID, 3)
	require.Equal(t, "square", byID["square"].MustGet().Name())

	polygons := Filter(hs, func(p component.Properties) bool {
		sides, _ := p.Get("sides")
		return sides != "0"
	})
	require.Equal(t, []string{"square", "triangle"}, IDs(polygons))
	require.True(t, byID["circle"].Closed(), "filtered out handles are released")
}

func TestDescriptors(t *testing.T) {
	r := shapesRegistry(t)
	ds, err := Descriptors(context.Background(), r, shapes.SocketID)
	require.NoError(t, err)
	require.Len(t, ds, 3)

	defer r.Install(NewHarness(nil))()
	_, err = Descriptors(context.Background(), r, shapes.SocketID)
	require.ErrorIs(t, err, ErrUnsupported)
}
