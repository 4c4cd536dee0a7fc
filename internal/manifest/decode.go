// Package manifest loads, validates and decodes app manifests.
package manifest

import (
	"encoding/json"
	"fmt"
	"maps"
	"regexp"
	"strings"

	"github.com/seantiz/anvil/internal/apperr"
	"github.com/seantiz/anvil/internal/model"
)

var (
	unsafeNameChars = regexp.MustCompile(`(?i)[^a-z0-9_\-]+`)
	leadingPunct    = regexp.MustCompile(`^[._\-]`)
	usableName      = regexp.MustCompile(`^[a-z0-9]`)
)

// SanitizeName turns a manifest name into something usable as a docker image
// and container name: runs of unsupported characters become "_", a single
// leading punctuation character is dropped and the result is lowercased.
func SanitizeName(name string) string {
	name = unsafeNameChars.ReplaceAllString(name, "_")
	name = leadingPunct.ReplaceAllString(name, "")
	return strings.ToLower(name)
}

// UsableName reports whether a sanitized name can serve as an image and
// container name, which must start with a letter or digit.
func UsableName(name string) bool {
	return usableName.MatchString(name)
}

// Decode converts a raw manifest document into a model.Manifest. It does not
// validate; fields of the wrong shape are ignored, except for an unknown
// worker type which is an error.
func Decode(raw map[string]any) (model.Manifest, error) {
	m := model.Manifest{
		Name:        stringField(raw, "name"),
		Version:     stringField(raw, "version"),
		Description: stringField(raw, "description"),
		License:     stringField(raw, "license"),
		Inputs:      decodeFileSpecs(raw["inputs"]),
		Outputs:     decodeFileSpecs(raw["outputs"]),
	}

	if cfg, ok := raw["config"]; ok && cfg != nil {
		data, err := json.Marshal(cfg)
		if err != nil {
			return model.Manifest{}, fmt.Errorf("encode config schema: %w", err)
		}
		m.Config = data
	}

	if w, ok := raw["worker"].(map[string]any); ok {
		worker, err := decodeWorker(w)
		if err != nil {
			return model.Manifest{}, err
		}
		m.Worker = worker
	}

	return model.NewManifest(m, raw), nil
}

func decodeWorker(w map[string]any) (model.Worker, error) {
	switch kind := stringField(w, "type"); kind {
	case model.WorkerDocker:
		dw := model.DockerWorker{
			Base:      stringField(w, "base"),
			MountApp:  stringField(w, "mountApp"),
			MountData: stringField(w, "mountData"),
		}
		if dw.MountApp == "" {
			dw.MountApp = model.DefaultMountApp
		}
		if dw.MountData == "" {
			dw.MountData = model.DefaultMountData
		}
		dw.Build, _ = stringList(w["build"])

		switch cmd := w["command"].(type) {
		case string:
			dw.Command = model.Command{Line: cmd, IsLine: true, Set: true}
		case []any:
			args, _ := stringList(cmd)
			dw.Command = model.Command{Args: args, Set: true}
		}

		if env, ok := w["environment"].(map[string]any); ok {
			dw.Environment = make(map[string]string, len(env))
			for k, v := range env {
				if s, ok := v.(string); ok {
					dw.Environment[k] = s
				}
			}
		}
		return dw, nil
	case model.WorkerWeb:
		return model.WebWorker{URL: stringField(w, "url")}, nil
	default:
		return nil, apperr.Errorf(apperr.KindValidation, "", "decode", "%w: %q", apperr.ErrUnknownWorker, kind)
	}
}

func decodeFileSpecs(v any) []model.FileSpec {
	if v == nil {
		return nil
	}
	items := castList(v)
	specs := make([]model.FileSpec, 0, len(items))
	for _, item := range items {
		fields, _ := item.(map[string]any)
		spec := model.FileSpec{
			Type:     stringField(fields, "type"),
			Filename: stringField(fields, "filename"),
			Format:   stringField(fields, "format"),
			Required: true,
			Fields:   maps.Clone(fields),
		}
		if spec.Fields == nil {
			spec.Fields = map[string]any{}
		}
		if req, ok := fields["required"].(bool); ok {
			spec.Required = req
		}
		spec.Accepts, _ = stringList(fields["accepts"])
		specs = append(specs, spec)
	}
	return specs
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// stringList accepts a string or a list of strings.
func stringList(v any) ([]string, bool) {
	switch v := v.(type) {
	case string:
		return []string{v}, true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}
