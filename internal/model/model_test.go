package model

import (
	"regexp"
	"testing"
)

// crockfordBase32 matches valid ULID strings (26 chars, Crockford Base32 alphabet).
var crockfordBase32 = regexp.MustCompile(`^[0123456789ABCDEFGHJKMNPQRSTVWXYZ]{26}$`)

func TestNewIDFormat(t *testing.T) {
	id := NewID()
	if !crockfordBase32.MatchString(id) {
		t.Errorf("NewID() = %q, does not match Crockford Base32 ULID format", id)
	}
}

func TestNewIDUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID()
		if seen[id] {
			t.Fatalf("NewID() produced duplicate: %s", id)
		}
		seen[id] = true
	}
}

func TestShortIDIsLowercase(t *testing.T) {
	if got := ShortID("01HZX0ABCD"); got != "01hzx0abcd" {
		t.Errorf("ShortID = %q, want %q", got, "01hzx0abcd")
	}
}

func TestValidTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{StateUnloaded, StateLoaded, true},
		{StateUnloaded, StateBuilt, false},
		{StateLoaded, StateBuilt, true},
		{StateLoaded, StateLoaded, true},
		{StateBuilt, StateBuilt, true},
		{StateBuilt, StateUnloaded, false},
		{"bogus", StateLoaded, false},
	}
	for _, tt := range tests {
		if got := ValidTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("ValidTransition(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestWorkerKinds(t *testing.T) {
	var w Worker = DockerWorker{}
	if w.Kind() != WorkerDocker {
		t.Errorf("DockerWorker kind = %q", w.Kind())
	}
	w = WebWorker{URL: "https://example.com"}
	if w.Kind() != WorkerWeb {
		t.Errorf("WebWorker kind = %q", w.Kind())
	}
}

func TestMountDataPath(t *testing.T) {
	if got := MountDataPath(DockerWorker{}); got != DefaultMountData {
		t.Errorf("default mount = %q, want %q", got, DefaultMountData)
	}
	if got := MountDataPath(DockerWorker{MountData: "/work"}); got != "/work" {
		t.Errorf("custom mount = %q, want /work", got)
	}
	if got := MountDataPath(WebWorker{}); got != DefaultMountData {
		t.Errorf("web mount = %q, want %q", got, DefaultMountData)
	}
}

func TestDescriptorAddsPathAndURL(t *testing.T) {
	spec := FileSpec{
		Type:     FileOther,
		Filename: "refs.csv",
		Fields:   map[string]any{"type": "other", "filename": "refs.csv"},
	}

	d := spec.Descriptor("/data/refs.csv", nil)
	if d["path"] != "/data/refs.csv" {
		t.Errorf("path = %v", d["path"])
	}
	if d["url"] != nil {
		t.Errorf("url = %v, want nil", d["url"])
	}
	if d["type"] != "other" {
		t.Errorf("type = %v, want other", d["type"])
	}
	if _, ok := spec.Fields["path"]; ok {
		t.Error("Descriptor must not modify the slot fields")
	}

	u := "https://files.example.com/1"
	d = spec.Descriptor("/data/refs.csv", &u)
	if d["url"] != u {
		t.Errorf("url = %v, want %q", d["url"], u)
	}
}
