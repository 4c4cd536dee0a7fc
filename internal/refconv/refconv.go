// Package refconv converts reference library files between formats before
// they are handed to an app.
package refconv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/mattn/go-shellwords"

	"github.com/seantiz/anvil/internal/execx"
)

var (
	// ErrUnsupportedFormat is returned for a format id not in the registry.
	ErrUnsupportedFormat = errors.New("unsupported reference format")
	// ErrNotConfigured is returned when no conversion command is set.
	ErrNotConfigured = errors.New("no reference converter configured")
)

// Format is a reference library file format.
type Format struct {
	ID   string
	Name string
}

var formats = []Format{
	{ID: "bibtex", Name: "BibTeX"},
	{ID: "csv", Name: "Comma Separated Values"},
	{ID: "endnoteXml", Name: "EndNote XML"},
	{ID: "json", Name: "JSON"},
	{ID: "medline", Name: "MEDLINE / PubMed"},
	{ID: "ris", Name: "RIS"},
	{ID: "tsv", Name: "Tab Separated Values"},
}

// Lookup finds a format by id.
func Lookup(id string) (Format, bool) {
	i := slices.IndexFunc(formats, func(f Format) bool { return f.ID == id })
	if i < 0 {
		return Format{}, false
	}
	return formats[i], true
}

// Supported lists every known format.
func Supported() []Format {
	return slices.Clone(formats)
}

// Converter rewrites the reference file src into dst in the given format.
type Converter interface {
	Convert(ctx context.Context, src, dst, format string) error
}

// ExecConverter converts by running an external command. The command is a
// shell-style line where {src}, {dst} and {format} are substituted per word.
type ExecConverter struct {
	argv   []string
	runner execx.Runner
	logger *slog.Logger
}

// NewExecConverter parses command. An empty command yields ErrNotConfigured.
func NewExecConverter(command string, runner execx.Runner, logger *slog.Logger) (*ExecConverter, error) {
	if strings.TrimSpace(command) == "" {
		return nil, ErrNotConfigured
	}
	argv, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse converter command: %w", err)
	}
	if len(argv) == 0 {
		return nil, ErrNotConfigured
	}
	return &ExecConverter{argv: argv, runner: runner, logger: logger}, nil
}

// Compile-time interface satisfaction check.
var _ Converter = (*ExecConverter)(nil)

// Convert implements Converter.
func (c *ExecConverter) Convert(ctx context.Context, src, dst, format string) error {
	f, ok := Lookup(format)
	if !ok {
		return fmt.Errorf("%w %q", ErrUnsupportedFormat, format)
	}

	r := strings.NewReplacer("{src}", src, "{dst}", dst, "{format}", f.ID)
	args := make([]string, len(c.argv)-1)
	for i, a := range c.argv[1:] {
		args[i] = r.Replace(a)
	}

	c.logger.Info("converting references", "src", src, "dst", dst, "format", f.Name)
	err := c.runner.Run(ctx, execx.Cmd{
		Name: c.argv[0],
		Args: args,
		Log: func(stream, line string) {
			c.logger.Debug("converter output", "stream", stream, "line", line)
		},
	})
	if err != nil {
		return fmt.Errorf("convert %s: %w", src, err)
	}
	return nil
}
