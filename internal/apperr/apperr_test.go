package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMatchesKind(t *testing.T) {
	err := E(KindBuild, "shuffler", "docker build", ErrRecipeNotFound)
	wrapped := fmt.Errorf("init: %w", err)

	if !errors.Is(wrapped, KindBuild) {
		t.Error("expected wrapped error to match KindBuild")
	}
	if errors.Is(wrapped, KindRun) {
		t.Error("wrapped error must not match KindRun")
	}
	if !errors.Is(wrapped, ErrRecipeNotFound) {
		t.Error("expected cause to be reachable through the chain")
	}
	if KindOf(wrapped) != KindBuild {
		t.Errorf("KindOf = %q, want %q", KindOf(wrapped), KindBuild)
	}
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		err  *Error
		want string
	}{
		{E(KindLoad, "", "", ErrEmptyPath), "load: path is empty"},
		{E(KindRun, "app", "docker run", errors.New("exit status 2")), "app: run docker run: exit status 2"},
		{E(KindCleanup, "app", "", nil), "app: cleanup failed"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestKindOfPlainError(t *testing.T) {
	if k := KindOf(errors.New("plain")); k != "" {
		t.Errorf("KindOf(plain) = %q, want empty", k)
	}
}
