// Package execx runs external commands (docker, git, converters) and streams
// their output line by line to a log callback.
package execx

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// tailLines is the number of trailing output lines kept for error messages.
const tailLines = 20

// maxLineBytes bounds one streamed line. Longer lines arrive in pieces.
const maxLineBytes = 64 * 1024

// waitDelay bounds how long Wait keeps reading output after the process
// exits or is killed, for descendants still holding the pipes.
const waitDelay = 5 * time.Second

// Stream names passed to LogFunc.
const (
	Stdout = "stdout"
	Stderr = "stderr"
)

// LogFunc receives one line of subprocess output.
type LogFunc func(stream, line string)

// Cmd describes one subprocess invocation.
type Cmd struct {
	Name string
	Args []string
	Dir  string

	// Stdin is piped to the process when set.
	Stdin io.Reader

	// Interactive attaches the process to the terminal of the current
	// process. Output is then not streamed to Log.
	Interactive bool

	Log LogFunc
}

// String renders the command line for logging.
func (c Cmd) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Runner executes commands.
type Runner interface {
	Run(ctx context.Context, cmd Cmd) error
}

// ExitError reports a process that ran but exited non-zero.
type ExitError struct {
	Cmd  string
	Code int
	Tail []string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s: exit status %d", e.Cmd, e.Code)
	if len(e.Tail) > 0 {
		msg += ": " + strings.Join(e.Tail, "\n")
	}
	return msg
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Compile-time interface satisfaction check.
var _ Runner = ExecRunner{}

// Run starts the command and waits for it. Spawn failures are returned as-is,
// non-zero exits as *ExitError.
func (ExecRunner) Run(ctx context.Context, c Cmd) error {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = os.Environ()
	cmd.WaitDelay = waitDelay

	if c.Interactive {
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			return exitError(c, err, nil)
		}
		return nil
	}

	if c.Stdin != nil {
		cmd.Stdin = c.Stdin
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", c.Name, err)
	}

	tail := &tailBuffer{max: tailLines}
	var wg sync.WaitGroup
	wg.Go(func() { streamLines(stdoutPipe, Stdout, c.Log, tail) })
	wg.Go(func() { streamLines(stderrPipe, Stderr, c.Log, tail) })
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		return exitError(c, err, tail.lines())
	}
	return nil
}

func exitError(c Cmd, err error, tail []string) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Cmd: c.Name, Code: exitErr.ExitCode(), Tail: tail}
	}
	return fmt.Errorf("run %s: %w", c.Name, err)
}

// streamLines reads lines from r, forwards each to log and records it in tail.
// It always reads r to the end so the writer never blocks.
func streamLines(r io.Reader, stream string, log LogFunc, tail *tailBuffer) {
	br := bufio.NewReaderSize(r, maxLineBytes)
	partial := false
	for {
		chunk, err := br.ReadSlice('\n')
		full := errors.Is(err, bufio.ErrBufferFull)
		line := strings.TrimRight(string(chunk), "\r\n")
		// A newline left over from a split line is not a line of its own.
		if len(chunk) > 0 && !(partial && line == "") {
			tail.add(line)
			if log != nil {
				log(stream, line)
			}
		}
		partial = full
		if full {
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				io.Copy(io.Discard, r)
			}
			return
		}
	}
}

// tailBuffer keeps the last max lines written from both output streams.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []string
}

func (t *tailBuffer) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, line)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
}

func (t *tailBuffer) lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.buf...)
}
