package backend_test

import (
	"context"
	"errors"
	"testing"

	"github.com/seantiz/anvil/internal/backend"
)

// mockRuntime is a minimal ContainerRuntime used to verify the interface is
// implementable and the specs are usable.
type mockRuntime struct {
	runFn func(ctx context.Context, spec backend.RunSpec) (backend.RunResult, error)
}

func (m *mockRuntime) Build(_ context.Context, spec backend.BuildSpec) error {
	if spec.Recipe == "" && spec.RecipeFile == "" {
		return errors.New("no recipe")
	}
	return nil
}

func (m *mockRuntime) Run(ctx context.Context, spec backend.RunSpec) (backend.RunResult, error) {
	if m.runFn != nil {
		return m.runFn(ctx, spec)
	}
	return backend.RunResult{}, nil
}

func (m *mockRuntime) Capabilities() backend.Capabilities {
	return backend.Capabilities{Name: "mock"}
}

// Compile-time check that mockRuntime satisfies the ContainerRuntime interface.
var _ backend.ContainerRuntime = (*mockRuntime)(nil)

func TestContainerRuntime_Implementable(t *testing.T) {
	var rt backend.ContainerRuntime = &mockRuntime{}

	if err := rt.Build(context.Background(), backend.BuildSpec{Image: "app", Recipe: "FROM alpine\n"}); err != nil {
		t.Fatalf("Build returned unexpected error: %v", err)
	}
	if err := rt.Build(context.Background(), backend.BuildSpec{Image: "app"}); err == nil {
		t.Fatal("expected Build to reject a spec without a recipe")
	}

	result, err := rt.Run(context.Background(), backend.RunSpec{
		Image:   "app",
		Name:    "app-01h",
		Env:     []string{"A=1"},
		Volumes: []backend.Volume{{Host: "/tmp/x", Container: "/data"}},
	})
	if err != nil {
		t.Fatalf("Run returned unexpected error: %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %d", result.ExitCode)
	}
}

func TestContainerRuntime_RunError(t *testing.T) {
	rt := &mockRuntime{runFn: func(context.Context, backend.RunSpec) (backend.RunResult, error) {
		return backend.RunResult{ExitCode: 2}, errors.New("exit status 2")
	}}

	result, err := rt.Run(context.Background(), backend.RunSpec{Image: "app"})
	if err == nil {
		t.Fatal("expected error")
	}
	if result.ExitCode != 2 {
		t.Errorf("exit code = %d, want 2", result.ExitCode)
	}
}

func TestContainerRuntime_LogWriter(t *testing.T) {
	var lines []string
	rt := &mockRuntime{runFn: func(_ context.Context, spec backend.RunSpec) (backend.RunResult, error) {
		spec.LogWriter("hello")
		return backend.RunResult{}, nil
	}}
	rt.Run(context.Background(), backend.RunSpec{LogWriter: func(l string) { lines = append(lines, l) }})
	if len(lines) != 1 || lines[0] != "hello" {
		t.Errorf("lines = %v", lines)
	}
}
