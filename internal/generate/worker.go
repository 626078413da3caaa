package generate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zjrosen/plugboard/internal/log"
	"github.com/zjrosen/plugboard/internal/plugerr"
)

// A worker is a child process running a single pass, so that nothing a pass
// links outlives it. The request goes in on stdin and the reply comes back
// on stdout, both as YAML. Generation failures travel in the reply with their
// kind; a non-zero exit means the worker itself broke.

type reply struct {
	Result *Result    `yaml:"result,omitempty"`
	Error  *wireError `yaml:"error,omitempty"`
}

type wireError struct {
	Kind    plugerr.Kind `yaml:"kind"`
	Subject string       `yaml:"subject,omitempty"`
	Msg     string       `yaml:"msg"`
	Raw     string       `yaml:"raw,omitempty"`
	Cause   string       `yaml:"cause,omitempty"`
}

func toWire(err error) *wireError {
	var pe *plugerr.Error
	if !errors.As(err, &pe) {
		return &wireError{Msg: err.Error()}
	}
	w := &wireError{Kind: pe.Kind, Subject: pe.Subject, Msg: pe.Msg, Raw: pe.Raw}
	if pe.Err != nil {
		w.Cause = pe.Err.Error()
	}
	return w
}

func (w *wireError) err() error {
	if w.Kind == 0 {
		return errors.New(w.Msg)
	}
	pe := &plugerr.Error{Kind: w.Kind, Subject: w.Subject, Msg: w.Msg, Raw: w.Raw}
	if w.Cause != "" {
		pe.Err = errors.New(w.Cause)
	}
	return pe
}

// RunWorker serves one request read from r and writes the reply to w. It
// returns an error only if the exchange itself failed.
func RunWorker(ctx context.Context, g *Generator, r io.Reader, w io.Writer) error {
	var req Request
	if err := yaml.NewDecoder(r).Decode(&req); err != nil {
		return fmt.Errorf("decoding request: %w", err)
	}
	var rep reply
	res, err := g.Generate(ctx, req)
	if err != nil {
		rep.Error = toWire(err)
	} else {
		rep.Result = res
	}
	enc := yaml.NewEncoder(w)
	if err := enc.Encode(rep); err != nil {
		return fmt.Errorf("encoding reply: %w", err)
	}
	return enc.Close()
}

// Worker runs passes in child processes.
type Worker struct {
	// Path is the executable; Args must select its worker mode.
	Path string
	Args []string
	// Env is appended to the current environment.
	Env []string
}

// SelfWorker re-executes the running binary with args.
func SelfWorker(args ...string) (Worker, error) {
	exe, err := os.Executable()
	if err != nil {
		return Worker{}, fmt.Errorf("locating executable: %w", err)
	}
	return Worker{Path: exe, Args: args}, nil
}

// Generate runs req in a fresh child process.
func (wk Worker) Generate(ctx context.Context, req Request) (*Result, error) {
	in, err := yaml.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, wk.Path, wk.Args...)
	cmd.Env = append(os.Environ(), wk.Env...)
	cmd.Stdin = bytes.NewReader(in)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Debug(log.CatGenerate, "starting generation worker", "path", wk.Path, "args", strings.Join(wk.Args, " "))
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("generation worker: %w: %s", err, msg)
		}
		return nil, fmt.Errorf("generation worker: %w", err)
	}

	var rep reply
	if err := yaml.Unmarshal(stdout.Bytes(), &rep); err != nil {
		return nil, fmt.Errorf("decoding worker reply: %w", err)
	}
	if rep.Error != nil {
		return nil, rep.Error.err()
	}
	if rep.Result == nil {
		return nil, fmt.Errorf("generation worker sent an empty reply")
	}
	return rep.Result, nil
}
