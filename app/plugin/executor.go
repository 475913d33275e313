package plugin

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// Mode is the execution mode passed to a converter.
type Mode string

// ModeStream asks the converter for its full CSV output on stdout.
const ModeStream Mode = "stream"

// Executor runs one plugin.
type Executor struct {
	plugin *Plugin
}

// NewExecutor creates an executor for p.
func NewExecutor(p *Plugin) *Executor {
	return &Executor{plugin: p}
}

// Stream starts the converter for filePath and returns its stdout. Closing
// the stream waits for the process; a failed run is reported by Close with
// the converter's stderr.
func (e *Executor) Stream(ctx context.Context, filePath string) (io.ReadCloser, error) {
	cmd := exec.CommandContext(ctx, e.plugin.ExecPath,
		fmt.Sprintf("--mode=%s", ModeStream),
		fmt.Sprintf("--file=%s", filePath),
	)
	s := &stream{name: e.plugin.Manifest.Name, cmd: cmd}
	cmd.Stderr = &s.stderr
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("plugin %s: %w", s.name, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("plugin %s failed to start: %w", s.name, err)
	}
	s.out = out
	return s, nil
}

type stream struct {
	name   string
	cmd    *exec.Cmd
	out    io.ReadCloser
	stderr bytes.Buffer
	closed bool
	err    error
}

func (s *stream) Read(p []byte) (int, error) {
	return s.out.Read(p)
}

func (s *stream) Close() error {
	if s.closed {
		return s.err
	}
	s.closed = true
	// drain so the process is not blocked writing
	_, _ = io.Copy(io.Discard, s.out)
	if err := s.cmd.Wait(); err != nil {
		if msg := strings.TrimSpace(s.stderr.String()); msg != "" {
			s.err = fmt.Errorf("plugin %s failed: %w\nstderr: %s", s.name, err, msg)
		} else {
			s.err = fmt.Errorf("plugin %s failed: %w", s.name, err)
		}
	}
	return s.err
}
