package manifest

import (
	"fmt"
	"strings"

	"github.com/seantiz/anvil/internal/model"
)

// requiredFields are the top-level keys every manifest must carry.
var requiredFields = []string{"name", "version", "description", "license", "inputs", "outputs", "worker"}

// Defect is one problem found in a manifest.
type Defect struct {
	Field   string
	Message string
}

func (d Defect) String() string { return d.Message }

// ValidationError aggregates every defect found in a manifest.
type ValidationError struct {
	Defects []Defect
}

func (e *ValidationError) Error() string {
	if len(e.Defects) == 0 {
		return "manifest validation failed"
	}
	msgs := make([]string, len(e.Defects))
	for i, d := range e.Defects {
		msgs[i] = d.Message
	}
	return strings.Join(msgs, ", ")
}

// OrNil returns nil when no defects were collected.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Defects) == 0 {
		return nil
	}
	return e
}

// Validate checks a raw manifest document and returns a *ValidationError
// listing every defect, or nil.
func Validate(raw map[string]any) error {
	return (&ValidationError{Defects: Check(raw)}).OrNil()
}

// Check returns all defects of a raw manifest document.
func Check(raw map[string]any) []Defect {
	var defects []Defect
	for _, field := range requiredFields {
		if _, ok := raw[field]; !ok {
			defects = append(defects, Defect{Field: field, Message: fmt.Sprintf("field %q is missing from manifest", field)})
		}
	}

	inputs, ok := raw["inputs"]
	if !ok {
		defects = append(defects, Defect{Field: "inputs", Message: "the input array must be specified, even if it is an empty array"})
	} else {
		defects = append(defects, ValidateInputs(inputs)...)
	}

	if worker, ok := raw["worker"]; ok {
		defects = append(defects, ValidateWorker(worker)...)
	}

	if outputs, ok := raw["outputs"]; ok {
		defects = append(defects, ValidateOutputs(outputs)...)
	}
	return defects
}

// ValidateInputs checks the inputs array (a single object is treated as a
// one-element array).
func ValidateInputs(v any) []Defect {
	if v == nil {
		return []Defect{{Field: "inputs", Message: "the input array must be specified, even if it is an empty array"}}
	}
	var defects []Defect
	for i, item := range castList(v) {
		field := fmt.Sprintf("inputs[%d]", i)
		in, _ := item.(map[string]any)
		if _, ok := in["type"]; !ok {
			defects = append(defects, Defect{Field: field + ".type", Message: fmt.Sprintf("input #%d should have a \"type\" field", i)})
			continue
		}
		switch in["type"] {
		case model.FileReferences:
			if _, ok := in["filename"]; !ok {
				defects = append(defects, Defect{Field: field + ".filename", Message: fmt.Sprintf("input #%d should specify a filename if the type is \"references\"", i)})
			}
			if _, ok := in["format"]; !ok {
				defects = append(defects, Defect{Field: field + ".format", Message: fmt.Sprintf("input #%d should specify a reference library format", i)})
			}
		case model.FileOther:
			if _, ok := in["accepts"]; !ok {
				defects = append(defects, Defect{Field: field + ".accepts", Message: fmt.Sprintf("input #%d should specify a glob or array of globs if the type is \"other\"", i)})
			}
		}
	}
	return defects
}

// ValidateOutputs checks the outputs array.
func ValidateOutputs(v any) []Defect {
	var defects []Defect
	for i, item := range castList(v) {
		out, _ := item.(map[string]any)
		if _, ok := out["type"]; !ok {
			defects = append(defects, Defect{Field: fmt.Sprintf("outputs[%d].type", i), Message: fmt.Sprintf("output #%d should have a \"type\" field", i)})
		}
	}
	return defects
}

// ValidateWorker checks the worker declaration.
func ValidateWorker(v any) []Defect {
	w, ok := v.(map[string]any)
	if !ok {
		return []Defect{{Field: "worker", Message: "worker must be an object"}}
	}

	var defects []Defect
	switch w["type"] {
	case model.WorkerDocker:
		for _, key := range []string{"build", "command"} {
			val, present := w[key]
			if !present || val == nil {
				continue
			}
			switch val := val.(type) {
			case string:
			case []any:
				if !allStrings(val) {
					defects = append(defects, Defect{Field: "worker." + key, Message: fmt.Sprintf("all worker.%s array items must be strings", key)})
				}
			default:
				defects = append(defects, Defect{Field: "worker." + key, Message: fmt.Sprintf("worker.%s must be a string or array of strings", key)})
			}
		}
	case model.WorkerWeb:
		if _, ok := w["url"]; !ok {
			defects = append(defects, Defect{Field: "worker.url", Message: "worker.url must be specified for web workers"})
		}
	default:
		defects = append(defects, Defect{Field: "worker.type", Message: "worker.type has an invalid worker type"})
	}

	if env, present := w["environment"]; present && env != nil {
		obj, ok := env.(map[string]any)
		switch {
		case !ok:
			defects = append(defects, Defect{Field: "worker.environment", Message: "worker.environment must be an object"})
		case !allStringValues(obj):
			defects = append(defects, Defect{Field: "worker.environment", Message: "worker.environment must be an object of string keys and values only"})
		}
	}
	return defects
}

func castList(v any) []any {
	if list, ok := v.([]any); ok {
		return list
	}
	return []any{v}
}

func allStrings(list []any) bool {
	for _, item := range list {
		if _, ok := item.(string); !ok {
			return false
		}
	}
	return true
}

func allStringValues(obj map[string]any) bool {
	for _, v := range obj {
		if _, ok := v.(string); !ok {
			return false
		}
	}
	return true
}
