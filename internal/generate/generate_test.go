package generate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/zjrosen/plugboard/internal/component"
	"github.com/zjrosen/plugboard/internal/discover"
	"github.com/zjrosen/plugboard/internal/gctrack"
	"github.com/zjrosen/plugboard/internal/linker"
	"github.com/zjrosen/plugboard/internal/markup"
	"github.com/zjrosen/plugboard/internal/plugerr"
	"github.com/zjrosen/plugboard/internal/testutil/shapes"
	"github.com/zjrosen/plugboard/internal/tracing"
)

const self = "github.com/zjrosen/plugboard/internal/generate"

type greeter interface{ Greet() string }

func greeterOwner(g greeter) (component.Properties, error) {
	return component.Props("greeting", g.Greet()), nil
}

type hello struct{}

func (hello) Greet() string { return "hello" }

type abstractGreeter interface{ greeter }

type mute struct{}

type grumpy struct{}

func (grumpy) Greet() string { return "no" }

type quiet interface{ Hush() }

type hush struct{}

func (hush) Hush() {}

type abstractQuiet interface{ quiet }

type beep interface{ Beep() string }

type bell struct{}

func (bell) Beep() string { return "ding\a" }

type moody interface{ Mood() string }

type fickle struct{}

func (fickle) Mood() string { return "?" }

type bound struct{}

func (bound) Greet() string { return "linked" }

type remoteCircle struct{ shapes.Circle }

var fastCollect = WithCollectPolicy(gctrack.Policy{Pause: 5 * time.Millisecond, Max: 2 * time.Second})

// root writes src as a single source file and returns it as a scan root for
// this package's import path, so markers name the types declared above.
func root(t *testing.T, src string) discover.Root {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugs.go"), []byte("package generate\n\n"+src), 0o644))
	return discover.Root{Dir: dir, ImportPath: self}
}

func shapesRoot() discover.Root {
	return discover.Root{Dir: filepath.Join("..", "testutil", "shapes"), ImportPath: shapes.ImportPath}
}

// === Unit Tests: successful passes ===

func TestGenerate_ShapesFixture(t *testing.T) {
	g := New(WithTable(shapes.Table()))
	res, err := g.Generate(context.Background(), Request{Roots: []discover.Root{shapesRoot()}})
	require.NoError(t, err)

	_, err = uuid.Parse(res.PassID)
	require.NoError(t, err)

	var ids []string
	for _, d := range res.Descriptors {
		ids = append(ids, d.Implementation)
	}
	require.Equal(t, []string{shapes.CircleID, shapes.SquareID, shapes.TriangleID}, ids)

	want := strings.Join([]string{
		`<component name="` + shapes.SquareID + `">`,
		`	<implementation class="` + shapes.SquareID + `"/>`,
		`	<service>`,
		`		<provide interface="` + shapes.SocketID + `"/>`,
		`	</service>`,
		`	<property name="id" type="String" value="square"/>`,
		`	<property name="sides" type="String" value="4"/>`,
		`</component>`,
	}, "\n")
	require.Equal(t, want, res.Map()[shapes.SquareID])

	d, err := component.Parse(res.Map()[shapes.TriangleID])
	require.NoError(t, err)
	require.Equal(t, component.Props("id", "triangle", "sides", "3"), d.Properties)
}

func TestGenerate_RepeatablePasses(t *testing.T) {
	g := New(WithTable(shapes.Table()))
	req := Request{Roots: []discover.Root{shapesRoot()}}

	first, err := g.Generate(context.Background(), req)
	require.NoError(t, err)
	second, err := g.Generate(context.Background(), req)
	require.NoError(t, err)

	require.NotEqual(t, first.PassID, second.PassID)
	require.Equal(t, first.Descriptors, second.Descriptors)
}

func TestGenerate_RequiresRoots(t *testing.T) {
	_, err := New().Generate(context.Background(), Request{})
	require.ErrorContains(t, err, "no scan roots")
}

func TestGenerate_OverlappingRoots(t *testing.T) {
	g := New(WithTable(shapes.Table()))
	_, err := g.Generate(context.Background(), Request{Roots: []discover.Root{shapesRoot(), shapesRoot()}})
	require.ErrorIs(t, err, plugerr.ErrConfiguration)
}

// === Unit Tests: isolation ===

func TestGenerate_SocketOutsideLinkTargets(t *testing.T) {
	tbl := shapes.Table()
	linker.RegisterPlug(tbl, func() remoteCircle { return remoteCircle{} })
	r := root(t, "//plug:socket "+shapes.SocketID+"\ntype remoteCircle struct{}\n")

	_, err := New(WithTable(tbl)).Generate(context.Background(), Request{Roots: []discover.Root{r}})
	require.ErrorIs(t, err, plugerr.ErrConstruction)
	require.ErrorContains(t, err, "unable to generate metadata for "+self+".remoteCircle, missing transitive dependency "+shapes.SocketID)
	require.ErrorIs(t, err, linker.ErrNotVisible)

	res, err := New(WithTable(tbl)).Generate(context.Background(), Request{
		Roots: []discover.Root{r},
		Link:  []string{shapes.ImportPath},
	})
	require.NoError(t, err)
	d, err := component.Parse(res.Map()[self+".remoteCircle"])
	require.NoError(t, err)
	require.Equal(t, shapes.SocketID, d.Socket)
	require.Equal(t, component.Props("id", "circle", "sides", "0"), d.Properties)
}

func TestGenerate_MissingTransitiveRequirement(t *testing.T) {
	tbl := linker.NewTable()
	linker.RegisterSocket(tbl, greeterOwner)
	linker.RegisterPlug(tbl, func() hello { return hello{} }, linker.Requires("github.com/acme/dict.Words"))
	r := root(t, "//plug:socket greeter\ntype hello struct{}\n")

	_, err := New(WithTable(tbl)).Generate(context.Background(), Request{
		Roots: []discover.Root{r},
		Link:  []string{"github.com/acme"},
	})
	require.ErrorIs(t, err, plugerr.ErrConstruction)
	require.ErrorContains(t, err, "missing transitive dependency github.com/acme/dict.Words")
}

func TestGenerate_UnregisteredPlug(t *testing.T) {
	tbl := linker.NewTable()
	linker.RegisterSocket(tbl, greeterOwner)
	r := root(t, "//plug:socket greeter\ntype ghost struct{}\n")

	_, err := New(WithTable(tbl)).Generate(context.Background(), Request{Roots: []discover.Root{r}})
	require.ErrorContains(t, err, "missing transitive dependency "+self+".ghost")
	require.ErrorIs(t, err, linker.ErrNotRegistered)
}

// === Unit Tests: contract and configuration ===

func TestGenerate_Failures(t *testing.T) {
	tests := []struct {
		name     string
		register func(*linker.Table)
		src      string
		kind     error
		want     string
	}{
		{
			name: "abstract plug",
			register: func(tbl *linker.Table) {
				linker.RegisterSocket(tbl, greeterOwner)
				linker.RegisterPlug(tbl, func() abstractGreeter { return hello{} })
			},
			src:  "//plug:socket greeter\ntype abstractGreeter interface{ greeter }\n",
			kind: plugerr.ErrContract,
			want: "plug is abstract",
		},
		{
			name: "socket not a supertype",
			register: func(tbl *linker.Table) {
				linker.RegisterSocket(tbl, greeterOwner)
				linker.RegisterPlug(tbl, func() mute { return mute{} })
			},
			src:  "//plug:socket greeter\ntype mute struct{}\n",
			kind: plugerr.ErrContract,
			want: "socket " + self + ".greeter is not a supertype of plug generate.mute",
		},
		{
			name: "socket without owner",
			register: func(tbl *linker.Table) {
				linker.RegisterSocket[quiet](tbl, nil)
				linker.RegisterPlug(tbl, func() hush { return hush{} })
			},
			src:  "//plug:socket quiet\ntype hush struct{}\n",
			kind: plugerr.ErrConfiguration,
			want: "register one with linker.Socket[quiet](owner) in an init function of package " + self,
		},
		{
			name: "abstract plug of a socket without owner",
			register: func(tbl *linker.Table) {
				linker.RegisterSocket[quiet](tbl, nil)
				linker.RegisterPlug(tbl, func() abstractQuiet { return hush{} })
			},
			src:  "//plug:socket quiet\ntype abstractQuiet interface{ quiet }\n",
			kind: plugerr.ErrContract,
			want: "plug is abstract",
		},
		{
			name: "unrelated plug of a socket without owner",
			register: func(tbl *linker.Table) {
				linker.RegisterSocket[quiet](tbl, nil)
				linker.RegisterPlug(tbl, func() mute { return mute{} })
			},
			src:  "//plug:socket quiet\ntype mute struct{}\n",
			kind: plugerr.ErrContract,
			want: "is not a supertype of plug generate.mute",
		},
		{
			name: "factory panics",
			register: func(tbl *linker.Table) {
				linker.RegisterSocket(tbl, greeterOwner)
				linker.RegisterPlug(tbl, func() grumpy { panic("no config file") })
			},
			src:  "//plug:socket greeter\ntype grumpy struct{}\n",
			kind: plugerr.ErrConstruction,
			want: "factory failed: panic: no config file",
		},
		{
			name: "metadata fails",
			register: func(tbl *linker.Table) {
				linker.RegisterSocket(tbl, func(moody) (component.Properties, error) {
					return nil, errors.New("depends on the weather")
				})
				linker.RegisterPlug(tbl, func() fickle { return fickle{} })
			},
			src:  "//plug:socket moody\ntype fickle struct{}\n",
			kind: plugerr.ErrConstruction,
			want: "make sure its metadata functions return simple constants",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl := linker.NewTable()
			tt.register(tbl)
			_, err := New(WithTable(tbl)).Generate(context.Background(), Request{Roots: []discover.Root{root(t, tt.src)}})
			require.ErrorIs(t, err, tt.kind)
			require.ErrorContains(t, err, tt.want)
		})
	}
}

func TestGenerate_MetadataOutsideTextFormat(t *testing.T) {
	tbl := linker.NewTable()
	linker.RegisterSocket(tbl, func(b beep) (component.Properties, error) {
		return component.Props("sound", b.Beep(), "raw", "\x00"), nil
	})
	linker.RegisterPlug(tbl, func() bell { return bell{} })
	r := root(t, "//plug:socket beep\ntype bell struct{}\n")

	res, err := New(WithTable(tbl)).Generate(context.Background(), Request{Roots: []discover.Root{r}})
	require.Nil(t, res)
	require.ErrorIs(t, err, plugerr.ErrConstruction)
	require.ErrorIs(t, err, markup.ErrInvalidText)
	require.ErrorContains(t, err, "unable to serialize descriptor")
}

func TestGenerate_FailureAbortsWholePass(t *testing.T) {
	tbl := linker.NewTable()
	linker.RegisterSocket(tbl, greeterOwner)
	linker.RegisterPlug(tbl, func() hello { return hello{} })
	linker.RegisterPlug(tbl, func() mute { return mute{} })
	r := root(t, "//plug:socket greeter\ntype hello struct{}\n\n//plug:socket greeter\ntype mute struct{}\n")

	res, err := New(WithTable(tbl)).Generate(context.Background(), Request{Roots: []discover.Root{r}})
	require.Error(t, err)
	require.Nil(t, res)
}

func TestGenerate_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(WithTable(shapes.Table())).Generate(ctx, Request{Roots: []discover.Root{shapesRoot()}})
	require.ErrorIs(t, err, context.Canceled)
}

// === Unit Tests: native linkage ===

func TestGenerate_NativeClaimReleasedBetweenPasses(t *testing.T) {
	tbl := linker.NewTable()
	linker.RegisterSocket(tbl, greeterOwner)
	linker.RegisterPlug(tbl, func() bound { return bound{} }, linker.Native("libgreet"))
	req := Request{Roots: []discover.Root{root(t, "//plug:socket greeter\ntype bound struct{}\n")}}

	g := New(WithTable(tbl), fastCollect)
	_, err := g.Generate(context.Background(), req)
	require.NoError(t, err)
	_, err = g.Generate(context.Background(), req)
	require.NoError(t, err, "teardown lets the previous context go")
}

func TestGenerate_StaleContextDisambiguated(t *testing.T) {
	tbl := linker.NewTable()
	linker.RegisterSocket(tbl, greeterOwner)
	p := linker.RegisterPlug(tbl, func() bound { return bound{} }, linker.Native("libgreet"))

	held := tbl.Isolate(self)
	_, err := held.LoadPlug(p.ID)
	require.NoError(t, err)

	_, err = New(WithTable(tbl), fastCollect).Generate(context.Background(), Request{
		Roots: []discover.Root{root(t, "//plug:socket greeter\ntype bound struct{}\n")},
	})
	require.ErrorIs(t, err, plugerr.ErrConstruction)
	require.ErrorIs(t, err, linker.ErrNativeLinked)
	require.ErrorContains(t, err, "linkage context sticking around from a previous generation pass")
	require.NotContains(t, err.Error(), "missing transitive dependency")
	runtime.KeepAlive(held)
}

// === Unit Tests: tracing ===

func TestGenerate_Spans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	g := New(WithTable(shapes.Table()), WithTracer(tp.Tracer("test")))
	_, err := g.Generate(context.Background(), Request{Roots: []discover.Root{shapesRoot()}})
	require.NoError(t, err)

	counts := map[string]int{}
	for _, s := range rec.Ended() {
		counts[s.Name()]++
	}
	require.Equal(t, map[string]int{tracing.SpanGenerate: 1, tracing.SpanDescribe: 3}, counts)
}
