// Package config loads the run configuration of a trace session. Files are
// YAML; JSON configuration files decode unchanged since YAML is a superset.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/willibrandon/calltrace/pkg/inspect"
	"github.com/willibrandon/calltrace/pkg/instrumentation"
	"github.com/willibrandon/calltrace/pkg/recorder"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "CALLTRACE_"

// Defaults for an empty configuration
const (
	DefaultInput  = "input.json"
	DefaultOutput = "output.json"
	DefaultEntry  = "main.main"
	DefaultRoot   = "_start"
)

// Config is the run configuration
type Config struct {
	// Target is the program to trace
	Target string `yaml:"target"`
	// Args are passed to the target
	Args []string `yaml:"args"`
	// Input is the call-count oracle
	Input string `yaml:"input"`
	// Stdin is redirected to the target's standard input
	Stdin string `yaml:"stdin"`
	// Output is where the trace document is written
	Output   string `yaml:"output"`
	Compress string `yaml:"compress"`

	Entry       string `yaml:"entry"`
	Root        string `yaml:"root"`
	MaxDepth    int    `yaml:"max_depth"`
	MaxElements int    `yaml:"max_elements"`

	Verbose bool   `yaml:"verbose"`
	LogFile string `yaml:"log_file"`

	Include           []string `yaml:"include"`
	Exclude           []string `yaml:"exclude"`
	InstrumentRuntime bool     `yaml:"instrument_runtime"`

	// Redact lists name patterns whose values are replaced in the output
	Redact []string `yaml:"redact"`
	// IntegrityKey is a hex HMAC key; when set a digest file is written
	// next to the output
	IntegrityKey string `yaml:"integrity_key"`

	// Dlv is the path of the dlv binary
	Dlv string `yaml:"dlv"`
}

// Default returns the configuration used when no file is given
func Default() Config {
	return Config{
		Input:       DefaultInput,
		Output:      DefaultOutput,
		Entry:       DefaultEntry,
		Root:        DefaultRoot,
		MaxDepth:    inspect.DefaultMaxDepth,
		MaxElements: inspect.DefaultMaxElements,
	}
}

// Load reads the configuration file at path on top of the defaults. Relative
// target, input and stdin paths are resolved against the file's directory.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	for _, p := range []*string{&cfg.Target, &cfg.Input, &cfg.Stdin} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
	return cfg, nil
}

// ApplyEnvironment applies CALLTRACE_* environment variables on top of cfg
func ApplyEnvironment(cfg Config) (Config, error) {
	strs := map[string]*string{
		"TARGET":        &cfg.Target,
		"INPUT":         &cfg.Input,
		"STDIN":         &cfg.Stdin,
		"OUTPUT":        &cfg.Output,
		"COMPRESS":      &cfg.Compress,
		"ENTRY":         &cfg.Entry,
		"ROOT":          &cfg.Root,
		"LOG_FILE":      &cfg.LogFile,
		"INTEGRITY_KEY": &cfg.IntegrityKey,
		"DLV":           &cfg.Dlv,
	}
	for name, p := range strs {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			*p = v
		}
	}

	ints := map[string]*int{
		"MAX_DEPTH":    &cfg.MaxDepth,
		"MAX_ELEMENTS": &cfg.MaxElements,
	}
	for name, p := range ints {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return cfg, fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err)
			}
			*p = n
		}
	}

	if v, ok := os.LookupEnv(EnvPrefix + "VERBOSE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid %sVERBOSE: %w", EnvPrefix, err)
		}
		cfg.Verbose = b
	}
	if v := os.Getenv(EnvPrefix + "ARGS"); v != "" {
		cfg.Args = strings.Fields(v)
	}
	if v := os.Getenv(EnvPrefix + "REDACT"); v != "" {
		cfg.Redact = strings.Split(v, ",")
	}
	return cfg, nil
}

// Validate checks that cfg can drive a trace
func (c Config) Validate() error {
	var errs []error
	if c.Target == "" {
		errs = append(errs, errors.New("no target program"))
	}
	if c.Input == "" {
		errs = append(errs, errors.New("no oracle input"))
	}
	if c.Output == "" {
		errs = append(errs, errors.New("no output path"))
	}
	if c.Entry == "" {
		errs = append(errs, errors.New("no entry function"))
	}
	if c.MaxDepth <= 0 {
		errs = append(errs, fmt.Errorf("max_depth must be positive, got %d", c.MaxDepth))
	}
	if c.MaxElements <= 0 {
		errs = append(errs, fmt.Errorf("max_elements must be positive, got %d", c.MaxElements))
	}
	if _, err := recorder.ParseCompression(c.Compress); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.integrityKey(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c Config) integrityKey() ([]byte, error) {
	if c.IntegrityKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.IntegrityKey)
	if err != nil {
		return nil, fmt.Errorf("integrity_key must be hex: %w", err)
	}
	return key, nil
}

// RecorderOptions returns the file recorder settings of cfg
func (c Config) RecorderOptions() (recorder.FileRecorderOptions, error) {
	opts := recorder.DefaultFileRecorderOptions()
	compression, err := recorder.ParseCompression(c.Compress)
	if err != nil {
		return opts, err
	}
	opts.CompressionType = compression

	if len(c.Redact) > 0 {
		recorder.WithRedaction(c.Redact, "")(&opts.Security)
	}
	key, err := c.integrityKey()
	if err != nil {
		return opts, err
	}
	if key != nil {
		recorder.WithIntegrityCheck(key)(&opts.Security)
	}
	return opts, nil
}

// Instrumentation returns the callee filter options of cfg, with the
// instrumentation environment variables applied last
func (c Config) Instrumentation() instrumentation.Options {
	opts := instrumentation.DefaultOptions()
	if len(c.Include) > 0 {
		opts.IncludeFunctions = c.Include
	}
	if len(c.Exclude) > 0 {
		opts.ExcludeFunctions = c.Exclude
	}
	opts.InstrumentRuntime = c.InstrumentRuntime
	return instrumentation.LoadOptionsFromEnvironment(opts)
}

// FormatterOptions returns the value formatter bounds of cfg
func (c Config) FormatterOptions() []inspect.Option {
	return []inspect.Option{
		inspect.WithMaxDepth(c.MaxDepth),
		inspect.WithMaxElements(c.MaxElements),
	}
}
