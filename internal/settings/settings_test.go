package settings_test

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/seantiz/anvil/internal/settings"
)

const shuffleSchema = `{
	"type": "object",
	"properties": {
		"shuffleOrder": {"type": "boolean", "default": true},
		"deletePercent": {"type": "number", "minimum": 0, "maximum": 100, "default": 20},
		"output": {
			"type": "object",
			"properties": {
				"format": {"type": "string", "default": "json"},
				"pretty": {"type": "boolean"}
			}
		}
	}
}`

func TestResolveEmptyInputYieldsDefaults(t *testing.T) {
	r := settings.NewResolver()
	got, err := r.Resolve("app1", json.RawMessage(shuffleSchema), nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := map[string]any{
		"shuffleOrder":  true,
		"deletePercent": 20.0,
		"output":        map[string]any{"format": "json"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveCallerWins(t *testing.T) {
	r := settings.NewResolver()
	got, err := r.Resolve("app1", json.RawMessage(shuffleSchema), map[string]any{
		"deletePercent": 50,
		"output":        map[string]any{"pretty": true},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := map[string]any{
		"shuffleOrder":  true,
		"deletePercent": 50.0,
		"output":        map[string]any{"format": "json", "pretty": true},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("merged mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveRejectsInvalid(t *testing.T) {
	r := settings.NewResolver()
	_, err := r.Resolve("app1", json.RawMessage(shuffleSchema), map[string]any{"deletePercent": 500})
	if err == nil {
		t.Fatal("expected validation error for out-of-range value")
	}
	_, err = r.Resolve("app1", json.RawMessage(shuffleSchema), map[string]any{"shuffleOrder": "yes"})
	if err == nil {
		t.Fatal("expected validation error for wrong type")
	}
}

func TestResolveWithoutSchema(t *testing.T) {
	r := settings.NewResolver()
	in := map[string]any{"anything": "goes"}
	got, err := r.Resolve("app1", nil, in)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if diff := cmp.Diff(in, got); diff != "" {
		t.Errorf("mismatch:\n%s", diff)
	}
}

func TestResolveBadSchema(t *testing.T) {
	r := settings.NewResolver()
	if _, err := r.Resolve("app1", json.RawMessage(`{"type": 12}`), nil); err == nil {
		t.Fatal("expected compile error")
	}
}

func TestResolveDefaultsNotShared(t *testing.T) {
	r := settings.NewResolver()
	first, err := r.Resolve("app1", json.RawMessage(shuffleSchema), nil)
	if err != nil {
		t.Fatal(err)
	}
	first["output"].(map[string]any)["format"] = "mutated"

	second, err := r.Resolve("app1", json.RawMessage(shuffleSchema), nil)
	if err != nil {
		t.Fatal(err)
	}
	if second["output"].(map[string]any)["format"] != "json" {
		t.Error("cached prototype was mutated by a previous result")
	}
}

func TestSchemaURL(t *testing.T) {
	if got := settings.SchemaURL("01ABC"); got != "anvil://apps/01ABC/config.json" {
		t.Errorf("SchemaURL = %q", got)
	}
}
