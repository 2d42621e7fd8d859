// Package runner spawns external processes and streams their output line by line.
package runner

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"downloadflow/internal/consts"
	"downloadflow/internal/errs"
	"downloadflow/pkg/shellquote"
)

const (
	// waitDelay bounds how long Wait blocks on pipes after the process is killed.
	waitDelay = 5 * time.Second
	// scanBufSize is the initial line buffer size.
	scanBufSize = 64 * 1024
	// maxLineSize fits a full --dump-json document on one line.
	maxLineSize = 64 * 1024 * 1024
)

// LineFunc receives one output line without its terminator.
type LineFunc func(line string)

// ExitError is returned when the process exits with a non-zero code.
type ExitError struct {
	Name   string
	Code   int
	Stderr string // trailing part of stderr
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with code %d: %s", filepath.Base(e.Name), e.Code, e.Stderr)
}

// Runner executes external commands. The zero value is not usable; use New.
type Runner struct {
	log *slog.Logger
}

// New creates a runner.
func New(log *slog.Logger) *Runner {
	return &Runner{log: log.With(slog.String("package", "runner"))}
}

// Run executes name with args and returns the full stdout.
func (r *Runner) Run(ctx context.Context, name string, args ...string) (string, error) {
	var stdout bytes.Buffer

	err := r.exec(ctx, name, args, func(reader io.Reader) error {
		_, err := io.Copy(&stdout, reader)

		return err
	}, nil)

	return stdout.String(), err
}

// Stream executes name with args and calls onStdout and onStderr for every line.
// Lines end at \n or \r. Callbacks are never called concurrently and may be nil.
func (r *Runner) Stream(ctx context.Context, name string, args []string, onStdout, onStderr LineFunc) error {
	var mu sync.Mutex

	serialize := func(fn LineFunc) LineFunc {
		if fn == nil {
			return nil
		}

		return func(line string) {
			mu.Lock()
			defer mu.Unlock()

			fn(line)
		}
	}

	onStdout = serialize(onStdout)
	onStderr = serialize(onStderr)

	return r.exec(ctx, name, args, func(reader io.Reader) error {
		return scanLines(reader, onStdout)
	}, onStderr)
}

func (r *Runner) exec(
	ctx context.Context,
	name string,
	args []string,
	consumeStdout func(io.Reader) error,
	onStderr LineFunc,
) error {
	log := r.log.With(slog.String("binary", name))

	log.DebugContext(ctx, "executing", slog.String("cmd", shellquote.Join(name, args)))

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = waitDelay

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w %s: %w", errs.ErrSpawn, name, err)
	}

	var (
		wg        sync.WaitGroup
		tail      = newTailBuffer(consts.StderrTailLimit)
		stdoutErr error
	)

	wg.Go(func() {
		stdoutErr = consumeStdout(stdout)
		// keep draining so the child never blocks on a full pipe
		_, _ = io.Copy(io.Discard, stdout)
	})

	wg.Go(func() {
		_ = scanLines(stderr, func(line string) {
			tail.WriteLine(line)

			if onStderr != nil {
				onStderr(line)
			}
		})
		_, _ = io.Copy(io.Discard, stderr)
	})

	wg.Wait()

	err = cmd.Wait()

	if ctxErr := ctx.Err(); ctxErr != nil {
		log.DebugContext(ctx, "process stopped by context", slog.Any("error", ctxErr))

		return fmt.Errorf("run %s: %w", name, ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Name: name, Code: exitErr.ExitCode(), Stderr: tail.String()}
	}

	if err != nil {
		return fmt.Errorf("wait %s: %w", name, err)
	}

	if stdoutErr != nil {
		return fmt.Errorf("read stdout: %w", stdoutErr)
	}

	return nil
}

func scanLines(reader io.Reader, fn LineFunc) error {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, scanBufSize), maxLineSize)
	scanner.Split(splitLinesAny)

	for scanner.Scan() {
		if fn != nil {
			fn(scanner.Text())
		}
	}

	return scanner.Err()
}

// splitLinesAny is a bufio.SplitFunc that ends lines at \n, \r or \r\n.
func splitLinesAny(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	idx := bytes.IndexAny(data, "\r\n")
	if idx < 0 {
		if atEOF {
			return len(data), data, nil
		}

		return 0, nil, nil
	}

	if data[idx] == '\n' {
		return idx + 1, data[:idx], nil
	}

	// \r: need one more byte to tell \r from \r\n
	if idx+1 < len(data) {
		if data[idx+1] == '\n' {
			return idx + 2, data[:idx], nil
		}

		return idx + 1, data[:idx], nil
	}

	if atEOF {
		return idx + 1, data[:idx], nil
	}

	return 0, nil, nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	limit int
	buf   []byte
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (t *tailBuffer) WriteLine(line string) {
	t.buf = append(t.buf, line...)
	t.buf = append(t.buf, '\n')

	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = t.buf[over:]
	}
}

func (t *tailBuffer) String() string {
	return strings.ToValidUTF8(strings.TrimSpace(string(t.buf)), "")
}
