package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xunniaona/RobloxServerListEndpoint/internal/app"
	"github.com/xunniaona/RobloxServerListEndpoint/internal/config"
	"github.com/xunniaona/RobloxServerListEndpoint/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the surface commands use, so tests can inject a fake.
type App interface {
	Run(ctx context.Context) (app.Report, error)
	Logger() *zap.Logger
	Close()
}

// rootOptions holds persistent flag values.
type rootOptions struct {
	configPath string
	placeID    int64
	maxPages   int
	output     string
}

// newApp is the application factory. Tests replace it.
var newApp = func(ctx context.Context, cfg config.Config) (App, error) {
	logger, err := logging.NewWithLevel(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return a, nil
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "serverlist",
		Short: "Snapshots the public server list of a Roblox place.",
		Long: `serverlist walks the paginated public server listing of one place,
keeps the servers that still have a free slot, and writes them to a JSON
snapshot file that is only replaced when its content changes.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Build the application once flags are parsed and before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			appInstance, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file (yaml, json, or toml)")
	flags.Int64Var(&opts.placeID, "place-id", 0, "place to snapshot (overrides target.place_id)")
	flags.IntVar(&opts.maxPages, "max-pages", 0, "page ceiling, 0 for unlimited (overrides crawl.max_pages)")
	flags.StringVarP(&opts.output, "output", "o", "", "snapshot file (overrides output.snapshot_path)")

	cmd.AddCommand(newFetchCmd())
	return cmd
}

// loadConfig reads the config and applies explicitly set flags on top.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	flags := cmd.Flags()
	if flags.Changed("place-id") {
		cfg.Target.PlaceID = opts.placeID
	}
	if flags.Changed("max-pages") {
		cfg.Crawl.MaxPages = opts.maxPages
	}
	if flags.Changed("output") {
		cfg.Output.SnapshotPath = opts.output
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err == nil {
		return
	}
	logger, lerr := logging.New(false)
	if lerr != nil {
		fmt.Fprintf(os.Stderr, "serverlist: %v\n", err)
		os.Exit(1)
	}
	logger.Fatal("Command execution failed", zap.Error(err))
}
