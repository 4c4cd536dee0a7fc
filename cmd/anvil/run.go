package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/seantiz/anvil/internal/api"
	"github.com/seantiz/anvil/internal/engine"
	"github.com/seantiz/anvil/internal/model"
	"github.com/seantiz/anvil/internal/objectstore"
	"github.com/seantiz/anvil/internal/resource"
	"github.com/seantiz/anvil/internal/store"
)

// omitSlot on the command line leaves an optional slot empty.
const omitSlot = "-"

type runFlags struct {
	inputs       []string
	outputs      []string
	settings     []string
	settingsFile string
	shell        string
	noClean      bool
	noWait       bool
	publish      bool
	skipValidate bool
	pollInterval time.Duration
	returnURL    string
	listen       string
}

func newRunCmd(g *globals) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run <locator>",
		Short: "Run an app once",
		Long: `Run an app once. Inputs and outputs are positional and match the
manifest's slots in order; pass "-" to leave an optional slot empty.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, g, f, args[0])
		},
	}
	fl := cmd.Flags()
	fl.StringArrayVarP(&f.inputs, "input", "i", nil, "input file path or URL, once per slot")
	fl.StringArrayVarP(&f.outputs, "output", "o", nil, "output file path or URL, once per slot")
	fl.StringArrayVar(&f.settings, "config", nil, "config value as key=value; values are parsed as JSON when possible")
	fl.StringVar(&f.settingsFile, "config-file", "", "JSON file with config values")
	fl.StringVar(&f.shell, "shell", "", "start an interactive shell in the worker instead of its command")
	fl.Lookup("shell").NoOptDefVal = engine.DefaultShell
	fl.BoolVar(&f.noClean, "no-clean", false, "keep the working directory")
	fl.BoolVar(&f.noWait, "no-wait", false, "do not wait for web worker outputs")
	fl.BoolVar(&f.publish, "publish-inputs", false, "upload local inputs to the object store before a web run")
	fl.BoolVar(&f.skipValidate, "skip-validate", false, "load the manifest without validating it")
	fl.DurationVar(&f.pollInterval, "poll-interval", 0, "web output poll interval (default from configuration)")
	fl.StringVar(&f.returnURL, "return-url", "", "URL web workers send the user to when done")
	fl.StringVar(&f.listen, "listen", "", "serve staging slots and the run's event stream on this address during the run")
	return cmd
}

func runApp(cmd *cobra.Command, g *globals, f *runFlags, locator string) error {
	ctx := cmd.Context()
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()

	eng, err := g.newEngine()
	if err != nil {
		return err
	}
	app, err := eng.Open(ctx, locator, engine.InitOptions{SkipValidate: f.skipValidate})
	if err != nil {
		return err
	}
	m := app.Manifest()

	inputs, err := slotResources(eng, f.inputs, m.Inputs)
	if err != nil {
		return fmt.Errorf("--input: %w", err)
	}
	outputs, err := slotResources(eng, f.outputs, m.Outputs)
	if err != nil {
		return fmt.Errorf("--output: %w", err)
	}
	settings, err := parseSettings(f.settingsFile, f.settings)
	if err != nil {
		return err
	}

	if f.publish {
		if err := g.publishInputs(ctx, inputs); err != nil {
			return err
		}
	}

	runID := eng.NewRunID()
	events, unsub := eng.Broker().Subscribe(runID)
	defer unsub()
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		printEvents(events, out, errOut)
	}()

	if f.listen != "" {
		stop, err := g.startServer(ctx, f.listen, eng.Broker())
		if err != nil {
			return err
		}
		defer stop()
		g.logger.Info("streaming run events", "run_id", runID, "path", "/v1/runs/"+runID+"/events")
	}

	res, err := app.Run(ctx, engine.RunOptions{
		RunID:        runID,
		Inputs:       inputs,
		Outputs:      outputs,
		Config:       settings,
		Shell:        f.shell,
		NoClean:      f.noClean,
		NoWait:       f.noWait,
		PollInterval: f.pollInterval,
		ReturnURL:    f.returnURL,
	})
	if err != nil {
		return err
	}
	if res.Watch != nil {
		fmt.Fprintf(out, "not waiting for outputs of run %s\n", res.RunID)
		return nil
	}
	<-printed

	for i, r := range res.Outputs {
		if r != nil {
			fmt.Fprintf(out, "output #%d: %s\n", i, r)
		}
	}
	return nil
}

func printEvents(events <-chan engine.Event, out, errOut io.Writer) {
	for ev := range events {
		switch ev.Type {
		case engine.EventRedirect:
			fmt.Fprintf(out, "open %s to complete the run\n", ev.URL)
		default:
			fmt.Fprintln(errOut, ev.Line)
		}
	}
}

// slotResources turns command line locators into positional resources.
func slotResources(eng *engine.Engine, locators []string, specs []model.FileSpec) ([]*resource.Resource, error) {
	list := make([]*resource.Resource, len(locators))
	for i, loc := range locators {
		if loc == omitSlot || loc == "" {
			continue
		}
		var opts []resource.Option
		if i < len(specs) && !specs[i].Required {
			opts = append(opts, resource.Optional())
		}
		r, err := eng.Resource(loc, opts...)
		if err != nil {
			return nil, fmt.Errorf("#%d: %w", i, err)
		}
		list[i] = r
	}
	return list, nil
}

// parseSettings merges the config file with key=value pairs. Dotted keys
// address nested objects.
func parseSettings(file string, pairs []string) (map[string]any, error) {
	settings := map[string]any{}
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("--config-file: %w", err)
		}
		if err := json.Unmarshal(data, &settings); err != nil {
			return nil, fmt.Errorf("--config-file %s: %w", file, err)
		}
	}
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("--config %q: expected key=value", pair)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		if err := setPath(settings, strings.Split(key, "."), v); err != nil {
			return nil, fmt.Errorf("--config %q: %w", pair, err)
		}
	}
	return settings, nil
}

func setPath(m map[string]any, path []string, v any) error {
	for _, k := range path[:len(path)-1] {
		next, ok := m[k].(map[string]any)
		if !ok {
			if _, exists := m[k]; exists {
				return fmt.Errorf("%s is not an object", k)
			}
			next = map[string]any{}
			m[k] = next
		}
		m = next
	}
	m[path[len(path)-1]] = v
	return nil
}

func (g *globals) publishInputs(ctx context.Context, inputs []*resource.Resource) error {
	s3 := g.cfg.S3
	if !s3.Enabled() {
		return errors.New("--publish-inputs needs s3_endpoint and s3_bucket configured")
	}
	p, err := objectstore.NewPublisher(objectstore.Config{
		Endpoint:  s3.Endpoint,
		AccessKey: s3.AccessKey,
		SecretKey: s3.SecretKey,
		Region:    s3.Region,
		UseSSL:    s3.UseSSL,
		Bucket:    s3.Bucket,
		URLTTL:    s3.URLTTL,
	}, g.logger)
	if err != nil {
		return err
	}
	return p.PublishAll(ctx, inputs)
}

// startServer runs the staging server in the background until stop is called.
func (g *globals) startServer(ctx context.Context, addr string, broker *engine.Broker) (stop func(), err error) {
	st, err := store.NewFSStore(g.cfg.StagingDir)
	if err != nil {
		return nil, err
	}
	srv := api.NewServer(addr, g.cfg.PublicURL, st, broker, g.logger)

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Run(ctx); err != nil {
			g.logger.Error("staging server failed", "error", err)
		}
	}()
	return func() {
		cancel()
		<-done
		st.Close()
	}, nil
}
