package git_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"testing"

	"github.com/seantiz/anvil/internal/execx"
	"github.com/seantiz/anvil/internal/vcs/git"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCloneIsShallow(t *testing.T) {
	rec := &execx.Recorder{}
	c := git.New("", rec, testLogger())

	if err := c.Clone(context.Background(), "https://example.com/app.git", "/tmp/x"); err != nil {
		t.Fatalf("Clone: %v", err)
	}

	calls := rec.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	cmd := calls[0].Cmd
	if cmd.Name != "git" {
		t.Errorf("binary = %q, want git", cmd.Name)
	}
	want := []string{"clone", "--depth=1", "--quiet", "https://example.com/app.git", "/tmp/x"}
	if !slices.Equal(cmd.Args, want) {
		t.Errorf("args = %v, want %v", cmd.Args, want)
	}
}

func TestCloneWrapsFailure(t *testing.T) {
	rec := &execx.Recorder{Handler: func(context.Context, execx.Cmd) error {
		return &execx.ExitError{Cmd: "git", Code: 128}
	}}
	c := git.New("/usr/bin/git", rec, testLogger())

	err := c.Clone(context.Background(), "https://example.com/missing.git", "/tmp/y")
	var exitErr *execx.ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != 128 {
		t.Fatalf("expected wrapped exit error, got %v", err)
	}
	if rec.Calls()[0].Cmd.Name != "/usr/bin/git" {
		t.Error("custom binary not used")
	}
}
