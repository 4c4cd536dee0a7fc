package manifest_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/seantiz/anvil/internal/manifest"
)

func mustRaw(t *testing.T, doc string) map[string]any {
	t.Helper()
	var raw map[string]any
	if err := json.Unmarshal([]byte(doc), &raw); err != nil {
		t.Fatalf("bad fixture: %v", err)
	}
	return raw
}

const validDocker = `{
	"name": "Shuffler",
	"version": "1.0.0",
	"description": "Shuffles references",
	"license": "MIT",
	"inputs": [{"type": "references", "filename": "in.json", "format": "json"}],
	"outputs": [{"type": "references", "filename": "out.json", "format": "json"}],
	"worker": {"type": "docker", "base": "node:18", "build": ["npm ci"], "command": "node shuffle.js", "environment": {"MODE": "{{config.mode}}"}}
}`

func TestValidateAcceptsValidManifest(t *testing.T) {
	if err := manifest.Validate(mustRaw(t, validDocker)); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateNamesEveryMissingField(t *testing.T) {
	err := manifest.Validate(map[string]any{"name": "x"})

	var verr *manifest.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	for _, field := range []string{"version", "description", "license", "inputs", "outputs", "worker"} {
		if !strings.Contains(err.Error(), `"`+field+`"`) {
			t.Errorf("error does not name %q: %s", field, err)
		}
	}
	if !strings.Contains(err.Error(), "the input array must be specified") {
		t.Errorf("missing inputs-array defect: %s", err)
	}
	if strings.Contains(err.Error(), `"name"`) {
		t.Errorf("present field reported missing: %s", err)
	}
}

func TestValidateDefectsJoinedWithComma(t *testing.T) {
	err := &manifest.ValidationError{Defects: []manifest.Defect{{Message: "a"}, {Message: "b"}}}
	if err.Error() != "a, b" {
		t.Errorf("Error() = %q, want %q", err.Error(), "a, b")
	}
	if (&manifest.ValidationError{}).OrNil() != nil {
		t.Error("empty error should be nil")
	}
}

func TestValidateInputs(t *testing.T) {
	tests := []struct {
		name   string
		inputs any
		want   []string
	}{
		{"nil", nil, []string{"inputs"}},
		{"empty", []any{}, nil},
		{"missing type", []any{map[string]any{}}, []string{"inputs[0].type"}},
		{"references", []any{map[string]any{"type": "references"}}, []string{"inputs[0].filename", "inputs[0].format"}},
		{"other", []any{map[string]any{"type": "other"}}, []string{"inputs[0].accepts"}},
		{"single object", map[string]any{"type": "text"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := fields(manifest.ValidateInputs(tt.inputs))
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("defect fields = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidateWorker(t *testing.T) {
	tests := []struct {
		name   string
		worker any
		want   []string
	}{
		{"docker ok", map[string]any{"type": "docker", "build": "make", "command": []any{"run"}}, nil},
		{"docker bad build", map[string]any{"type": "docker", "build": 3.0}, []string{"worker.build"}},
		{"docker bad command item", map[string]any{"type": "docker", "command": []any{"a", 1.0}}, []string{"worker.command"}},
		{"web without url", map[string]any{"type": "web"}, []string{"worker.url"}},
		{"web ok", map[string]any{"type": "web", "url": "https://x"}, nil},
		{"unknown type", map[string]any{"type": "lambda"}, []string{"worker.type"}},
		{"env not object", map[string]any{"type": "docker", "environment": "A=B"}, []string{"worker.environment"}},
		{"env non-string value", map[string]any{"type": "docker", "environment": map[string]any{"A": 1.0}}, []string{"worker.environment"}},
		{"env ok", map[string]any{"type": "docker", "environment": map[string]any{"A": "1"}}, nil},
		{"not an object", "docker", []string{"worker"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := fields(manifest.ValidateWorker(tt.worker))
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("defect fields = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidateOutputs(t *testing.T) {
	got := fields(manifest.ValidateOutputs([]any{map[string]any{"type": "text"}, map[string]any{"filename": "x"}}))
	if len(got) != 1 || got[0] != "outputs[1].type" {
		t.Errorf("defect fields = %v", got)
	}
}

func fields(defects []manifest.Defect) []string {
	var out []string
	for _, d := range defects {
		out = append(out, d.Field)
	}
	return out
}
