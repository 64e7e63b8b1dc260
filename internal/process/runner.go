// Package process spawns external commands for deployment steps.
//
// Output of every spawned process is streamed line by line into a structured
// logger (stdout at info level, stderr at error level), tagged with the
// process id, and a bounded tail of each stream is kept for error reporting.
package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
)

const (
	// DefaultCaptureLimit is the number of trailing bytes kept per stream.
	DefaultCaptureLimit = 64 * 1024

	maxLineSize = 1024 * 1024

	truncatedMarker = " [truncated]"
)

// Command describes one external process invocation.
type Command struct {
	Name string
	Args []string
	Dir  string
	// Stdin is written to the process standard input when non-empty.
	Stdin string
}

// String renders the command line. Stdin is never included.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Result is the outcome of a process that was spawned and has exited.
type Result struct {
	PID      int
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runner spawns a command and waits for it to exit.
// A non-zero exit code is reported through Result, not as an error.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// SpawnError is returned when the executable could not be started at all.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %q: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// IsSpawnError reports whether err is or wraps a SpawnError.
func IsSpawnError(err error) bool {
	var spawnErr *SpawnError
	return errors.As(err, &spawnErr)
}

// ExecRunner implements Runner using os/exec.
type ExecRunner struct {
	logger       *slog.Logger
	captureLimit int
}

// ExecOption configures an ExecRunner.
type ExecOption func(*ExecRunner)

// WithCaptureLimit sets how many trailing bytes of each stream are kept.
func WithCaptureLimit(limit int) ExecOption {
	return func(r *ExecRunner) {
		r.captureLimit = limit
	}
}

// NewExecRunner creates a runner that logs process output to logger.
func NewExecRunner(logger *slog.Logger, opts ...ExecOption) *ExecRunner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &ExecRunner{
		logger:       logger,
		captureLimit: DefaultCaptureLimit,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run spawns cmd, streams its output and resolves with the exit code.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	if cmd.Name == "" {
		return nil, errors.New("command name can not be empty")
	}

	// nolint:gosec
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if cmd.Stdin != "" {
		c.Stdin = strings.NewReader(cmd.Stdin)
	}

	stdout, err := c.StdoutPipe()
	if err != nil {
		return nil, &SpawnError{Command: cmd.String(), Err: err}
	}
	stderr, err := c.StderrPipe()
	if err != nil {
		return nil, &SpawnError{Command: cmd.String(), Err: err}
	}

	if err := c.Start(); err != nil {
		r.logger.Error("process spawn failed",
			slog.String("command", cmd.String()),
			slog.String("dir", cmd.Dir),
			slog.String("error", err.Error()))
		return nil, &SpawnError{Command: cmd.String(), Err: err}
	}

	pid := c.Process.Pid
	logger := r.logger.With(slog.Int("pid", pid))
	logger.Info("process spawned",
		slog.String("command", cmd.String()),
		slog.String("dir", cmd.Dir))

	outTail := newTailBuffer(r.captureLimit)
	errTail := newTailBuffer(r.captureLimit)

	// Both pipes must be drained before Wait closes them.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		stream(stdout, outTail, func(line string) {
			logger.Info(line, slog.String("stream", "stdout"))
		})
	}()
	go func() {
		defer wg.Done()
		stream(stderr, errTail, func(line string) {
			logger.Error(line, slog.String("stream", "stderr"))
		})
	}()
	wg.Wait()

	waitErr := c.Wait()
	result := &Result{
		PID:    pid,
		Stdout: outTail.String(),
		Stderr: errTail.String(),
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			logger.Error("process wait failed", slog.String("error", waitErr.Error()))
			return result, fmt.Errorf("wait for %q: %w", cmd.String(), waitErr)
		}
		result.ExitCode = exitErr.ExitCode()
	}

	logger.Info("process exited", slog.Int("exit_code", result.ExitCode))
	return result, nil
}

// stream emits r line by line. Lines longer than maxLineSize are cut at
// that size and marked, and reading continues with the next line.
func stream(r io.Reader, tail *tailBuffer, emit func(string)) {
	reader := bufio.NewReaderSize(r, 64*1024)
	var (
		line      []byte
		truncated bool
	)
	flush := func() {
		text := string(line)
		if truncated {
			text += truncatedMarker
		}
		tail.WriteLine(text)
		emit(text)
		line = line[:0]
		truncated = false
	}
	for {
		chunk, isPrefix, err := reader.ReadLine()
		if err != nil {
			// Flush a long line cut short by the end of the stream.
			if len(line) > 0 || truncated {
				flush()
			}
			return
		}
		if room := maxLineSize - len(line); len(chunk) > room {
			chunk = chunk[:room]
			truncated = true
		}
		line = append(line, chunk...)
		if !isPrefix {
			flush()
		}
	}
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	limit int
	buf   []byte
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (b *tailBuffer) WriteLine(line string) {
	b.buf = append(b.buf, line...)
	b.buf = append(b.buf, '\n')
	if b.limit > 0 && len(b.buf) > b.limit {
		b.buf = b.buf[len(b.buf)-b.limit:]
	}
}

func (b *tailBuffer) String() string {
	return string(b.buf)
}

// DryRunner logs commands instead of spawning them.
type DryRunner struct {
	logger *slog.Logger
}

// NewDryRunner creates a Runner that never spawns a process.
func NewDryRunner(logger *slog.Logger) *DryRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &DryRunner{logger: logger}
}

// Run logs cmd and reports a successful exit.
func (r *DryRunner) Run(_ context.Context, cmd Command) (*Result, error) {
	r.logger.Info("dry run: command skipped",
		slog.String("command", cmd.String()),
		slog.String("dir", cmd.Dir))
	return &Result{}, nil
}

var (
	_ Runner = (*ExecRunner)(nil)
	_ Runner = (*DryRunner)(nil)
)
