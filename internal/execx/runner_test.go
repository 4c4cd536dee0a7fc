package execx

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"testing/iotest"
	"time"
)

func TestExecRunnerStreamsLines(t *testing.T) {
	var mu sync.Mutex
	var got []string
	err := ExecRunner{}.Run(context.Background(), Cmd{
		Name: "sh",
		Args: []string{"-c", "echo one; echo two 1>&2"},
		Log: func(stream, line string) {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, stream+":"+line)
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	joined := strings.Join(got, ",")
	if !strings.Contains(joined, "stdout:one") || !strings.Contains(joined, "stderr:two") {
		t.Errorf("streamed lines = %v", got)
	}
}

func TestExecRunnerPipesStdin(t *testing.T) {
	var got []string
	err := ExecRunner{}.Run(context.Background(), Cmd{
		Name:  "cat",
		Stdin: strings.NewReader("FROM alpine\nRUN true\n"),
		Log:   func(_, line string) { got = append(got, line) },
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(got) != 2 || got[0] != "FROM alpine" {
		t.Errorf("lines = %v", got)
	}
}

func TestExecRunnerExitError(t *testing.T) {
	err := ExecRunner{}.Run(context.Background(), Cmd{
		Name: "sh",
		Args: []string{"-c", "echo boom; exit 3"},
	})

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected *ExitError, got %T: %v", err, err)
	}
	if exitErr.Code != 3 {
		t.Errorf("exit code = %d, want 3", exitErr.Code)
	}
	if len(exitErr.Tail) != 1 || exitErr.Tail[0] != "boom" {
		t.Errorf("tail = %v", exitErr.Tail)
	}
}

func TestExecRunnerSpawnFailure(t *testing.T) {
	err := ExecRunner{}.Run(context.Background(), Cmd{Name: "definitely-not-a-binary-anvil"})
	if err == nil {
		t.Fatal("expected spawn error")
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		t.Error("spawn failure must not be reported as an exit error")
	}
}

func TestTailBufferKeepsLastLines(t *testing.T) {
	tb := &tailBuffer{max: 2}
	tb.add("a")
	tb.add("b")
	tb.add("c")
	got := tb.lines()
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Errorf("lines = %v, want [b c]", got)
	}
}

func TestRecorderCapturesStdin(t *testing.T) {
	rec := &Recorder{}
	err := rec.Run(context.Background(), Cmd{Name: "docker", Args: []string{"build", "-"}, Stdin: strings.NewReader("FROM x")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	calls := rec.Calls()
	if len(calls) != 1 || calls[0].Stdin != "FROM x" {
		t.Errorf("calls = %+v", calls)
	}
}

func TestExecRunnerSplitsOverlongLines(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var mu sync.Mutex
	var lines []string
	err := ExecRunner{}.Run(ctx, Cmd{
		Name: "sh",
		Args: []string{"-c", "head -c 3000000 /dev/zero | tr '\\0' a; echo; echo done"},
		Log: func(_, line string) {
			mu.Lock()
			defer mu.Unlock()
			lines = append(lines, line)
		},
	})
	if err != nil {
		t.Fatalf("Run: %v (ctx err %v)", err, ctx.Err())
	}

	total := 0
	for _, l := range lines[:len(lines)-1] {
		if len(l) > maxLineBytes {
			t.Fatalf("line of %d bytes exceeds %d", len(l), maxLineBytes)
		}
		total += len(l)
	}
	if total != 3000000 {
		t.Errorf("streamed %d bytes of the long line, want 3000000", total)
	}
	if lines[len(lines)-1] != "done" {
		t.Errorf("last line = %q, want done", lines[len(lines)-1])
	}
}

func TestStreamLinesDrainsOnReadError(t *testing.T) {
	r := io.MultiReader(strings.NewReader("first\nsecond"), iotest.ErrReader(errors.New("boom")))
	tail := &tailBuffer{max: 5}
	streamLines(r, Stdout, nil, tail)

	got := tail.lines()
	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Errorf("lines = %v", got)
	}
}
