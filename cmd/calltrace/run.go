package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/willibrandon/calltrace/pkg/config"
	"github.com/willibrandon/calltrace/pkg/debugger"
	"github.com/willibrandon/calltrace/pkg/inspect"
	"github.com/willibrandon/calltrace/pkg/instrumentation"
	"github.com/willibrandon/calltrace/pkg/logging"
	"github.com/willibrandon/calltrace/pkg/oracle"
	"github.com/willibrandon/calltrace/pkg/recorder"
	"github.com/willibrandon/calltrace/pkg/trace"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [flags] [-- target [args...]]",
		Short: "Trace a program against a call-count oracle",
		RunE:  runTrace,
	}
	f := cmd.Flags()
	f.StringP("config", "c", "", "Run configuration file (YAML or JSON)")
	f.StringP("input", "i", "", "Call-count oracle")
	f.StringP("output", "o", "", "Trace document to write")
	f.String("stdin", "", "File redirected to the target's standard input")
	f.String("entry", "", "Function tracing starts in")
	f.String("root", "", "Synthetic caller of the entry function")
	f.String("compress", "", "Trace compression: none|zstd")
	f.Int("max-depth", 0, "Value recursion bound")
	f.Int("max-elements", 0, "Array elements rendered per value")
	f.StringSlice("include", nil, "Callee patterns to instrument")
	f.StringSlice("exclude", nil, "Callee patterns never to instrument")
	f.StringSlice("redact", nil, "Variable name patterns whose values are redacted")
	f.String("integrity-key", "", "Hex HMAC key; writes a digest next to the trace")
	f.String("dlv", "", "Path of the dlv binary")
	f.String("log-file", "", "Debug log file")
	f.BoolP("verbose", "v", false, "Log at debug level on the console")
	return cmd
}

// resolveConfig layers defaults, the config file, the environment, then
// flags and positional arguments
func resolveConfig(flags *pflag.FlagSet, args []string) (config.Config, error) {
	cfg := config.Default()
	if path, _ := flags.GetString("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return cfg, err
		}
	}
	cfg, err := config.ApplyEnvironment(cfg)
	if err != nil {
		return cfg, err
	}

	strs := map[string]*string{
		"input":         &cfg.Input,
		"output":        &cfg.Output,
		"stdin":         &cfg.Stdin,
		"entry":         &cfg.Entry,
		"root":          &cfg.Root,
		"compress":      &cfg.Compress,
		"integrity-key": &cfg.IntegrityKey,
		"dlv":           &cfg.Dlv,
		"log-file":      &cfg.LogFile,
	}
	for name, p := range strs {
		if flags.Changed(name) {
			*p, _ = flags.GetString(name)
		}
	}
	if flags.Changed("max-depth") {
		cfg.MaxDepth, _ = flags.GetInt("max-depth")
	}
	if flags.Changed("max-elements") {
		cfg.MaxElements, _ = flags.GetInt("max-elements")
	}
	if flags.Changed("include") {
		cfg.Include, _ = flags.GetStringSlice("include")
	}
	if flags.Changed("exclude") {
		cfg.Exclude, _ = flags.GetStringSlice("exclude")
	}
	if flags.Changed("redact") {
		cfg.Redact, _ = flags.GetStringSlice("redact")
	}
	if flags.Changed("verbose") {
		cfg.Verbose, _ = flags.GetBool("verbose")
	}
	if len(args) > 0 {
		cfg.Target = args[0]
		cfg.Args = args[1:]
	}
	return cfg, cfg.Validate()
}

func runTrace(cmd *cobra.Command, args []string) (err error) {
	cfg, err := resolveConfig(cmd.Flags(), args)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logging.New(logging.Options{Verbose: cfg.Verbose, File: cfg.LogFile, Console: cmd.OutOrStdout()})
	if err != nil {
		return err
	}
	defer log.Close()
	logger := log.Logger

	orc, err := oracle.Load(cfg.Input)
	if err != nil {
		return err
	}
	logger.Info().Str("input", cfg.Input).Int("functions", orc.Len()).Msg("oracle loaded")

	recOpts, err := cfg.RecorderOptions()
	if err != nil {
		return err
	}
	rec, err := recorder.NewFileRecorderWithOptions(cfg.Output, recOpts)
	if err != nil {
		return fmt.Errorf("failed to create trace output: %w", err)
	}
	// The document is written even when tracing fails part way.
	defer func() {
		if cerr := rec.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("failed to write trace: %w", cerr))
			return
		}
		logger.Info().Str("output", rec.Path()).Int("captures", len(rec.Captures())).Msg("trace written")
	}()

	session, err := debugger.NewDelveSession(debugger.Options{
		Target:         cfg.Target,
		Args:           cfg.Args,
		Stdin:          cfg.Stdin,
		Dlv:            cfg.Dlv,
		MaxArrayValues: cfg.MaxElements,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			logger.Warn().Err(cerr).Msg("failed to close debugger session")
		}
	}()

	opts := append(cfg.FormatterOptions(), inspect.WithLogger(logger))
	ctrl, err := trace.New(session, orc, rec, trace.Options{
		Entry:     cfg.Entry,
		Root:      cfg.Root,
		Formatter: inspect.NewFormatter(opts...),
		Filter:    instrumentation.NewFilter(cfg.Instrumentation()),
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := ctrl.Run(ctx)
	stats := ctrl.Stats()
	logger.Info().
		Int("stops", stats.Stops).
		Int("captures", stats.Captures).
		Int("inconsistencies", stats.Inconsistencies).
		Int("failed_sites", stats.FailedSites).
		Msg("trace finished")
	return runErr
}
