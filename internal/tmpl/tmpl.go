// Package tmpl expands the placeholders an app manifest uses in its worker
// command, environment and URL.
//
// Two placeholder forms are recognized, {{ path }} and ${ path }, where path
// is a dotted lookup into the template context (numeric segments index
// arrays: inputs.0.path). Prefixing the path with "escape" query-escapes the
// value. Paths that resolve to nothing expand to the empty string.
package tmpl

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"

	"github.com/mattn/go-shellwords"
	"github.com/tidwall/gjson"

	"github.com/seantiz/anvil/internal/model"
)

// ErrNoCommand is returned when a docker worker declares no command.
var ErrNoCommand = errors.New("worker has no command")

var placeholder = regexp.MustCompile(`\{\{\s*(escape\s+)?([^{}]+?)\s*\}\}|\$\{\s*(escape\s+)?([^{}]+?)\s*\}`)

// Context is the data available to placeholders.
type Context struct {
	Manifest map[string]any
	Config   map[string]any
	Inputs   []map[string]any
	Outputs  []map[string]any

	// ReturnURL is where a web worker should send the user when done.
	ReturnURL string
}

func (c Context) document() map[string]any {
	inputs := c.Inputs
	if inputs == nil {
		inputs = []map[string]any{}
	}
	outputs := c.Outputs
	if outputs == nil {
		outputs = []map[string]any{}
	}
	return map[string]any{
		"manifest": c.Manifest,
		"config":   c.Config,
		"settings": c.Config,
		"inputs":   inputs,
		"outputs":  outputs,
		"finished": map[string]any{"url": c.ReturnURL},
	}
}

// Template expands strings against a fixed Context.
type Template struct {
	doc string
}

// New encodes ctx once for repeated lookups.
func New(ctx Context) (*Template, error) {
	data, err := json.Marshal(ctx.document())
	if err != nil {
		return nil, fmt.Errorf("encode template context: %w", err)
	}
	return &Template{doc: string(data)}, nil
}

// Lookup returns the string form of the value at path, or "".
func (t *Template) Lookup(path string) string {
	res := gjson.Get(t.doc, strings.TrimSpace(path))
	switch res.Type {
	case gjson.Null:
		return ""
	case gjson.String:
		return res.Str
	default:
		return res.Raw
	}
}

// Expand replaces every placeholder in s.
func (t *Template) Expand(s string) string {
	return placeholder.ReplaceAllStringFunc(s, func(match string) string {
		sub := placeholder.FindStringSubmatch(match)
		escape, path := sub[1], sub[2]
		if path == "" {
			escape, path = sub[3], sub[4]
		}
		v := t.Lookup(path)
		if escape != "" {
			v = url.QueryEscape(v)
		}
		return v
	})
}

// Command expands the worker command into an argument list. List commands
// are expanded per element with empty results dropped; line commands are
// expanded and then split by shell word rules.
func (t *Template) Command(cmd model.Command) ([]string, error) {
	switch {
	case !cmd.Set:
		return nil, ErrNoCommand
	case cmd.IsLine:
		args, err := shellwords.Parse(t.Expand(cmd.Line))
		if err != nil {
			return nil, fmt.Errorf("parse command %q: %w", cmd.Line, err)
		}
		return args, nil
	default:
		args := make([]string, 0, len(cmd.Args))
		for _, a := range cmd.Args {
			if v := t.Expand(a); v != "" {
				args = append(args, v)
			}
		}
		return args, nil
	}
}

// Environment expands environment values and returns KEY=VALUE pairs sorted
// by key. Values that expand to nothing or to "undefined" are dropped.
func (t *Template) Environment(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		v := t.Expand(env[k])
		if v == "" || v == "undefined" {
			continue
		}
		pairs = append(pairs, k+"="+v)
	}
	return pairs
}

// URL expands a web worker URL.
func (t *Template) URL(raw string) (string, error) {
	u := strings.TrimSpace(t.Expand(raw))
	if u == "" {
		return "", errors.New("cannot calculate worker URL")
	}
	return u, nil
}
