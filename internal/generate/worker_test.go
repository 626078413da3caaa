package generate

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/zjrosen/plugboard/internal/discover"
	"github.com/zjrosen/plugboard/internal/plugerr"
	"github.com/zjrosen/plugboard/internal/testutil/shapes"
)

const workerEnv = "PLUGBOARD_TEST_GENERATE_WORKER"

// TestMain doubles as the worker process when re-executed by the tests below.
func TestMain(m *testing.M) {
	if os.Getenv(workerEnv) == "1" {
		if err := RunWorker(context.Background(), New(WithTable(shapes.Table())), os.Stdin, os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func testWorker() Worker {
	return Worker{Path: os.Args[0], Args: []string{"-test.run=^$"}, Env: []string{workerEnv + "=1"}}
}

func TestRunWorker_Reply(t *testing.T) {
	in, err := yaml.Marshal(Request{Roots: []discover.Root{shapesRoot()}})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, RunWorker(context.Background(), New(WithTable(shapes.Table())), bytes.NewReader(in), &out))

	var rep reply
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &rep))
	require.Nil(t, rep.Error)
	require.Len(t, rep.Result.Descriptors, 3)
}

func TestRunWorker_BadRequest(t *testing.T) {
	err := RunWorker(context.Background(), New(), strings.NewReader("roots: {"), &bytes.Buffer{})
	require.ErrorContains(t, err, "decoding request")
}

func TestWorker_Generate(t *testing.T) {
	abs, err := filepath.Abs(filepath.Join("..", "testutil", "shapes"))
	require.NoError(t, err)

	res, err := testWorker().Generate(context.Background(), Request{
		Roots: []discover.Root{{Dir: abs, ImportPath: shapes.ImportPath}},
	})
	require.NoError(t, err)

	local, err := New(WithTable(shapes.Table())).Generate(context.Background(), Request{Roots: []discover.Root{shapesRoot()}})
	require.NoError(t, err)
	require.Equal(t, local.Descriptors, res.Descriptors)
}

func TestWorker_ErrorKindSurvives(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ghost.go"), []byte("package shapes\n\n//plug:socket Shape\ntype Ghost struct{}\n"), 0o644))

	_, err := testWorker().Generate(context.Background(), Request{
		Roots: []discover.Root{{Dir: dir, ImportPath: shapes.ImportPath}},
	})
	require.ErrorIs(t, err, plugerr.ErrConstruction)
	require.ErrorContains(t, err, "missing transitive dependency "+shapes.ImportPath+".Ghost")
}

func TestWorker_UnclassifiedError(t *testing.T) {
	_, err := testWorker().Generate(context.Background(), Request{
		Roots: []discover.Root{{Dir: t.TempDir()}},
	})
	require.ErrorContains(t, err, "import path is required")
	require.Zero(t, plugerr.KindOf(err))
}

func TestWorker_ProcessFailure(t *testing.T) {
	_, err := Worker{Path: filepath.Join(t.TempDir(), "missing-binary")}.Generate(context.Background(), Request{})
	require.ErrorContains(t, err, "generation worker")
}
