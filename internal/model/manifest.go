package model

import (
	"encoding/json"
	"maps"
)

// Input and output file types.
const (
	FileReferences  = "references"
	FileSpreadsheet = "spreadsheet"
	FileText        = "text"
	FileOther       = "other"
)

// Worker type constants.
const (
	WorkerDocker = "docker"
	WorkerWeb    = "web"
)

// Default container mount points.
const (
	DefaultMountApp  = "/app"
	DefaultMountData = "/data"
)

// Manifest is the parsed description of an app. It is built once by the
// manifest package and must be treated as read-only afterwards.
type Manifest struct {
	Name        string
	Version     string
	Description string
	License     string
	Inputs      []FileSpec
	Outputs     []FileSpec
	Worker      Worker
	Config      json.RawMessage

	raw map[string]any
}

// NewManifest wraps a decoded manifest with the raw document it came from.
func NewManifest(m Manifest, raw map[string]any) Manifest {
	m.raw = raw
	return m
}

// Raw returns the JSON document the manifest was decoded from.
// Callers must not modify it.
func (m Manifest) Raw() map[string]any {
	return m.raw
}

// FileSpec declares one input or output slot.
type FileSpec struct {
	Type     string
	Filename string
	Required bool
	Format   string
	Accepts  []string

	// Fields holds every key of the slot declaration, including ones the
	// engine does not interpret, for exposure in templates.
	Fields map[string]any
}

// Descriptor returns the template view of the slot: its declared fields plus
// the in-container path and, for web runs, the reachable URL.
func (f FileSpec) Descriptor(path string, url *string) map[string]any {
	d := make(map[string]any, len(f.Fields)+2)
	maps.Copy(d, f.Fields)
	d["path"] = path
	if url != nil {
		d["url"] = *url
	} else {
		d["url"] = nil
	}
	return d
}

// Worker is the executable part of a manifest. It is either a DockerWorker or
// a WebWorker.
type Worker interface {
	Kind() string
	isWorker()
}

// DockerWorker builds and runs a container image.
type DockerWorker struct {
	Base        string
	Build       []string
	Command     Command
	Environment map[string]string
	MountApp    string
	MountData   string
}

// Kind implements Worker.
func (DockerWorker) Kind() string { return WorkerDocker }
func (DockerWorker) isWorker()    {}

// WebWorker delegates the work to a remote page the user is sent to.
type WebWorker struct {
	URL string
}

// Kind implements Worker.
func (WebWorker) Kind() string { return WorkerWeb }
func (WebWorker) isWorker()    {}

// Command is a docker worker command, declared either as an argument list or
// as a single shell-style line.
type Command struct {
	Args   []string
	Line   string
	IsLine bool
	Set    bool
}

// MountDataPath returns the data mount of the worker, or the default when the
// worker is not a docker worker.
func MountDataPath(w Worker) string {
	if d, ok := w.(DockerWorker); ok && d.MountData != "" {
		return d.MountData
	}
	return DefaultMountData
}
