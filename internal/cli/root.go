// Package cli implements dwctl, the operator CLI for pipelines, storage and
// local project checks.
package cli

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"dwpipe/internal/app"
	"dwpipe/internal/config"
	"dwpipe/internal/logger"
	"dwpipe/internal/provision"
)

// Deps lets tests replace what the commands build from the environment.
type Deps struct {
	Out    io.Writer
	Err    io.Writer
	Config func() *config.AppConfig
	// AppOptions are passed to app.New.
	AppOptions app.Options
	// BucketAPI builds the emulator client for provision.
	BucketAPI func(cfg config.EmulatorConfig) (provision.BucketAPI, error)
	// Container builds the optional Azurite container ensurer for provision.
	Container func(cfg *config.AppConfig, name string) (provision.ContainerEnsurer, error)
}

func (d *Deps) defaults() {
	if d.Out == nil {
		d.Out = os.Stdout
	}
	if d.Err == nil {
		d.Err = os.Stderr
	}
	if d.Config == nil {
		d.Config = config.Load
	}
	if d.BucketAPI == nil {
		d.BucketAPI = func(cfg config.EmulatorConfig) (provision.BucketAPI, error) {
			return provision.NewMinIO(cfg)
		}
	}
	if d.Container == nil {
		d.Container = newAzureContainer
	}
}

// Execute runs dwctl with process defaults and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := NewRootCmd(Deps{}).ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// NewRootCmd builds the command tree.
func NewRootCmd(d Deps) *cobra.Command {
	d.defaults()
	var logLevel string

	cmd := &cobra.Command{
		Use:          "dwctl",
		Short:        "Run and inspect data-warehouse extraction pipelines",
		SilenceUsage: true,
	}
	cmd.SetOut(d.Out)
	cmd.SetErr(d.Err)
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); defaults to LOG_LEVEL")

	env := &env{deps: d, logLevel: &logLevel}
	cmd.AddCommand(
		pipelinesCmd(env),
		validateCmd(env),
		runCmd(env),
		checkCmd(env),
		provisionCmd(env),
		storageCmd(env),
	)
	return cmd
}

// env resolves config, logger and the wired app lazily per command.
type env struct {
	deps     Deps
	logLevel *string
	cfg      *config.AppConfig
}

func (e *env) config() *config.AppConfig {
	if e.cfg == nil {
		e.cfg = e.deps.Config()
	}
	return e.cfg
}

func (e *env) logger() *slog.Logger {
	cfg := e.config()
	level := cfg.LogLevel
	if *e.logLevel != "" {
		level = *e.logLevel
	}
	return logger.New(e.deps.Err, level, cfg.Location())
}

func (e *env) app(ctx context.Context) (*app.App, error) {
	opts := e.deps.AppOptions
	if opts.Logger == nil {
		opts.Logger = e.logger()
	}
	return app.New(ctx, e.config(), opts)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
