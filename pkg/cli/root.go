package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sloppylopez/stablemock/pkg/cli/internal/output"
	"github.com/sloppylopez/stablemock/pkg/config"
	"github.com/sloppylopez/stablemock/pkg/logging"
	"github.com/sloppylopez/stablemock/pkg/orchestrator"
)

var (
	// Version is injected during build
	Version = "dev"
	// Commit is injected during build
	Commit = "none"
	// BuildDate is injected during build
	BuildDate = "unknown"
)

// annotationNoConfig marks commands that run without loading configuration.
const annotationNoConfig = "stablemock/no-config"

// globalOptions holds the persistent flags and the state built from them
// before a subcommand runs.
type globalOptions struct {
	configPath string
	root       string
	logLevel   string
	jsonOutput bool
	noColor    bool

	cfg    *config.Config
	log    *slog.Logger
	closer io.Closer
}

// NewRootCmd builds the command tree. Every call returns fresh flag state.
func NewRootCmd() *cobra.Command {
	g := &globalOptions{log: logging.Nop()}

	cmd := &cobra.Command{
		Use:   "stablemock",
		Short: "Detect dynamic request fields and stabilize recorded stubs",
		Long: `stablemock keeps record/playback HTTP stubs stable.

After a RECORD run it compares the request bodies captured for each endpoint,
finds fields whose values change between runs (timestamps, nonces, request
IDs) and stores ignore rules next to the test's mappings in
detected-fields.json. Before PLAYBACK it rewrites the mappings so those
fields match any value.

Configuration is read from stablemock.yaml in the working directory, the file
named by --config or STABLEMOCK_CONFIG, and STABLEMOCK_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true, // We handle errors in Execute()
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return g.setup(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return g.close()
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "", "Config file (default: stablemock.yaml in the working directory)")
	pf.StringVar(&g.root, "root", "", "Stub root directory (overrides the config file)")
	pf.StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.BoolVar(&g.jsonOutput, "json", false, "Output command results in JSON format")
	pf.BoolVar(&g.noColor, "no-color", false, "Disable colored output")

	cmd.AddCommand(
		newAnalyzeCmd(g),
		newRewriteCmd(g),
		newShowCmd(g),
		newMarkerCmd(g),
		newExportCmd(g),
		newConfigCmd(g),
		newVersionCmd(g),
	)
	return cmd
}

func (g *globalOptions) setup(cmd *cobra.Command) error {
	if g.noColor {
		output.DisableColor()
	}
	if cmd.Annotations[annotationNoConfig] == "true" {
		return nil
	}

	cfg, err := config.Load(g.configPath)
	if err != nil {
		return err
	}
	if g.root != "" {
		cfg.Root = g.root
		cfg.SetSource("root", config.SourceFlag)
	}
	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
		cfg.SetSource("logging.level", config.SourceFlag)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	g.cfg = cfg
	g.log, g.closer = cfg.Logger(cmd.ErrOrStderr())
	return nil
}

func (g *globalOptions) close() error {
	if g.closer == nil {
		return nil
	}
	err := g.closer.Close()
	g.closer = nil
	return err
}

func (g *globalOptions) orchestrator() (*orchestrator.Orchestrator, error) {
	return orchestrator.New(g.cfg, orchestrator.WithLogger(g.log))
}

// Execute runs the CLI with os.Args and exits non-zero on failure.
// This is called by main.main().
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := NewRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
