// Package main implements the indexd CLI: bootstrapping a workspace
// index and inspecting its status.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/indexd/internal/bootstrap"
	"github.com/fyrsmithlabs/indexd/internal/config"
	"github.com/fyrsmithlabs/indexd/internal/fingerprint"
	"github.com/fyrsmithlabs/indexd/internal/governor"
	"github.com/fyrsmithlabs/indexd/internal/logging"
	"github.com/fyrsmithlabs/indexd/internal/providers"
	"github.com/fyrsmithlabs/indexd/internal/recovery"
	"github.com/fyrsmithlabs/indexd/internal/sources"
)

var (
	configPath  string
	forceResume bool
	offline     bool
	watch       bool

	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "indexd",
	Short: "Incremental code-knowledge indexer",
	Long: `indexd builds and maintains a queryable knowledge index of a source
workspace: entities, relationships, summaries, and ingested history,
bootstrapped in resumable phases.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/indexd/config.yaml)")
	rootCmd.AddCommand(bootstrapCmd)
	rootCmd.AddCommand(statusCmd)
}

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap [path]",
	Short: "Build or resume the index for a workspace",
	Long: `Run the full indexing pipeline against a workspace. An interrupted
run leaves a recovery checkpoint and resumes from it when the workspace
has not changed in the meantime.

Examples:
  # Index the current directory
  indexd bootstrap

  # Resume even though files changed since the checkpoint
  indexd bootstrap --force-resume ~/src/project`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBootstrap,
}

var statusCmd = &cobra.Command{
	Use:   "status [path]",
	Short: "Show index status for a workspace",
	Long: `Report whether the workspace index is current, whether an interrupted
run is pending, and what the last run produced.

Examples:
  indexd status
  indexd status --watch ~/src/project`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	bootstrapCmd.Flags().BoolVar(&forceResume, "force-resume", false, "resume from checkpoint even if the workspace changed")
	bootstrapCmd.Flags().BoolVar(&offline, "offline", false, "use only offline providers")
	statusCmd.Flags().BoolVar(&watch, "watch", false, "keep running and report workspace changes")
}

// setup loads config and builds the logger and engine shared by all
// commands.
func setup() (*config.Config, *zap.Logger, *bootstrap.Engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, logger, bootstrap.NewEngine(logger), nil
}

// engineOptions maps file config and flags onto one run's options.
func engineOptions(cfg *config.Config, workspace string) bootstrap.Options {
	providerCfg := providers.Config{
		Extractor:         cfg.Providers.Extractor,
		Embedder:          cfg.Providers.Embedder,
		EmbedderDimension: cfg.Providers.EmbedderDimension,
		EmbedderRateLimit: cfg.Providers.EmbedderRateLimit,
		Synthesizer:       cfg.Providers.Synthesizer,
	}
	if offline {
		providerCfg.Extractor = "heuristic"
		providerCfg.Embedder = "static"
		providerCfg.Synthesizer = "heuristic"
	}
	// Negative tells the writer to use its built-in default; an explicit
	// config value, including 0 (every update), passes through.
	checkpointCfg := recovery.WriterConfig{
		FileInterval: -1,
		TimeInterval: cfg.Checkpoint.TimeInterval,
	}
	if cfg.Checkpoint.FileInterval != nil {
		checkpointCfg.FileInterval = *cfg.Checkpoint.FileInterval
	}
	return bootstrap.Options{
		Workspace:    workspace,
		IndexVersion: cfg.IndexVersion,
		ForceResume:  forceResume,
		Limits: governor.Limits{
			MaxWallTime:          cfg.Budget.MaxWallTime,
			MaxFilesPerPhase:     cfg.Budget.MaxFilesPerPhase,
			MaxTokensPerPhase:    cfg.Budget.MaxTokensPerPhase,
			MaxRetries:           cfg.Budget.MaxRetries,
			MaxConcurrentWorkers: cfg.Budget.Workers,
		},
		Fingerprint: fingerprint.Options{
			IncludeGlobs: cfg.Discovery.Include,
			ExcludeGlobs: cfg.Discovery.Exclude,
		},
		Checkpoint: checkpointCfg,
		Providers: providerCfg,
		Sources:   sources.Config{MaxCommits: cfg.Sources.MaxCommits},
	}
}

func workspaceArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "."
}

func runBootstrap(cmd *cobra.Command, args []string) error {
	cfg, logger, engine, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := engine.Bootstrap(ctx, engineOptions(cfg, workspaceArg(args)))
	if report != nil {
		printJSON(report)
	}
	return err
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, logger, engine, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := engineOptions(cfg, workspaceArg(args))
	status, err := engine.Status(ctx, opts)
	if err != nil {
		return err
	}
	printJSON(status)

	if !watch {
		return nil
	}

	watcher, err := fingerprint.NewWatcher(status.Workspace, logger)
	if err != nil {
		return err
	}
	go func() {
		for path := range watcher.Events() {
			fmt.Fprintf(os.Stdout, "changed: %s\n", path)
		}
	}()
	logger.Info("watching for workspace changes", zap.String("workspace", status.Workspace))
	return watcher.Run(ctx)
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "encoding output: %v\n", err)
		return
	}
	fmt.Println(string(data))
}
