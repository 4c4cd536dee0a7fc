// Package config loads anvil settings from defaults, an optional YAML file
// and ANVIL_ environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/mattn/go-shellwords"
)

const envPrefix = "ANVIL_"

const (
	defaultListenAddr   = ":8080"
	defaultManifestFile = "anvil.json"
	defaultPollInterval = 2 * time.Second
	defaultHTTPTimeout  = 5 * time.Minute
	defaultURLTTL       = time.Hour
)

// Config holds anvil configuration.
type Config struct {
	LogLevel     string `koanf:"log_level"`
	CachePath    string `koanf:"cache_path"`
	ManifestFile string `koanf:"manifest_file"`

	DockerBin string   `koanf:"docker_bin"`
	GitBin    string   `koanf:"git_bin"`
	BuildArgs []string `koanf:"build_args"`
	RunArgs   []string `koanf:"run_args"`

	NoClean      bool          `koanf:"no_clean"`
	PollInterval time.Duration `koanf:"poll_interval"`
	HTTPTimeout  time.Duration `koanf:"http_timeout"`

	ListenAddr string `koanf:"listen_addr"`
	StagingDir string `koanf:"staging_dir"`
	PublicURL  string `koanf:"public_url"`

	RefconvCommand string `koanf:"refconv_command"`

	S3 S3Config `koanf:",squash"`
}

// S3Config locates the bucket local inputs are published to for web workers.
type S3Config struct {
	Endpoint  string        `koanf:"s3_endpoint"`
	AccessKey string        `koanf:"s3_access_key"`
	SecretKey string        `koanf:"s3_secret_key"`
	Region    string        `koanf:"s3_region"`
	UseSSL    bool          `koanf:"s3_use_ssl"`
	Bucket    string        `koanf:"s3_bucket"`
	URLTTL    time.Duration `koanf:"s3_url_ttl"`
}

// Enabled reports whether an object store is configured.
func (c S3Config) Enabled() bool {
	return c.Endpoint != "" && c.Bucket != ""
}

// Level returns the slog level for LogLevel.
func (c Config) Level() slog.Level {
	return parseLogLevel(c.LogLevel)
}

// Load reads configuration. path names an optional YAML file; empty skips it.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	for key, v := range defaults() {
		if err := k.Set(key, v); err != nil {
			return nil, fmt.Errorf("set default %s: %w", key, err)
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	// ANVIL_CACHE_PATH -> cache_path
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	for _, key := range []string{"build_args", "run_args"} {
		if err := splitWords(k, key); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

func defaults() map[string]any {
	return map[string]any{
		"log_level":     "info",
		"cache_path":    filepath.Join(os.TempDir(), "anvil-cache"),
		"manifest_file": defaultManifestFile,
		"docker_bin":    "docker",
		"git_bin":       "git",
		"build_args":    []string{},
		"run_args":      []string{},
		"no_clean":      false,
		"poll_interval": defaultPollInterval,
		"http_timeout":  defaultHTTPTimeout,
		"listen_addr":   defaultListenAddr,
		"staging_dir":   filepath.Join(os.TempDir(), "anvil-staging"),
		"s3_use_ssl":    true,
		"s3_url_ttl":    defaultURLTTL,
	}
}

// splitWords turns a string-valued list key (as set from the environment)
// into shell words.
func splitWords(k *koanf.Koanf, key string) error {
	s, ok := k.Get(key).(string)
	if !ok {
		return nil
	}
	words, err := shellwords.Parse(s)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	if words == nil {
		words = []string{}
	}
	return k.Set(key, words)
}

// Validate rejects settings the engine cannot work with.
func (c *Config) Validate() error {
	var errs []error
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval))
	}
	if c.HTTPTimeout < 0 {
		errs = append(errs, fmt.Errorf("http_timeout must not be negative, got %s", c.HTTPTimeout))
	}
	if c.ManifestFile == "" || strings.ContainsRune(c.ManifestFile, filepath.Separator) {
		errs = append(errs, fmt.Errorf("manifest_file must be a bare file name, got %q", c.ManifestFile))
	}
	if c.CachePath == "" {
		errs = append(errs, errors.New("cache_path must be set"))
	}
	if c.PublicURL != "" {
		if u, err := url.Parse(c.PublicURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("public_url must be an absolute URL, got %q", c.PublicURL))
		}
	}
	if c.S3.Endpoint != "" && c.S3.Bucket == "" {
		errs = append(errs, errors.New("s3_bucket must be set when s3_endpoint is"))
	}
	if c.S3.Enabled() && c.S3.URLTTL <= 0 {
		errs = append(errs, fmt.Errorf("s3_url_ttl must be positive, got %s", c.S3.URLTTL))
	}
	return errors.Join(errs...)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the given level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
