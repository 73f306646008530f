package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lockgraph/internal/service"
	"github.com/lockgraph/pkg/config"
	"github.com/lockgraph/pkg/utils"
)

// Version information (injected by build flags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Command line flags
var (
	configPath string
	verbose    bool
)

// binName returns the base name of the current executable
func binName() string {
	return filepath.Base(os.Args[0])
}

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "lockgraphd",
	Short: "Lock contention collection service",
	Long: `lockgraphd is a long-running service that collects profiler frames over
HTTP and serves lock contention trees built from them.

With archiving enabled it periodically exports the trees to object storage
and records a summary of every snapshot in a database.`,
	SilenceUsage: true,
	RunE:         runService,
}

// versionCmd shows version information
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("%s version %s\n", binName(), Version)
		fmt.Printf("  Git Commit: %s\n", GitCommit)
		fmt.Printf("  Build Time: %s\n", BuildTime)
		fmt.Printf("  Go Version: %s\n", runtime.Version())
		fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	bin := binName()
	rootCmd.Example = `  # Start service with config file
  ` + bin + ` -c /etc/lockgraph/config.yaml

  # Start with debug logging
  ` + bin + ` -c ./config.yaml -v`

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging, overrides log.level")
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")

	rootCmd.AddCommand(versionCmd)
}

func runService(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if verbose {
		cfg.Log.Level = "debug"
	}

	logger, closer, err := utils.OpenLogger(cfg.Log.Level, cfg.Log.Format, cfg.Log.Output)
	if err != nil {
		return fmt.Errorf("failed to open log: %w", err)
	}
	defer closer.Close()
	utils.SetGlobalLogger(logger)

	logger.Info("Starting lockgraphd...")
	logger.Info("Version: %s, Commit: %s, Built: %s", Version, GitCommit, BuildTime)
	logger.Info("Listen address: %s", cfg.Server.Addr)
	if cfg.Archive.Enabled {
		logger.Info("Archive: %s %s every %v to %s, database %s",
			cfg.Archive.Mode, cfg.Archive.Format, cfg.Archive.Interval, cfg.Storage.Type, cfg.Database.Type)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	svc, err := service.New(cfg, logger, service.WithVersion(Version))
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	if err := svc.Initialize(ctx); err != nil {
		svc.Stop()
		return fmt.Errorf("failed to initialize service: %w", err)
	}

	if err := svc.Start(ctx); err != nil {
		svc.Stop()
		return fmt.Errorf("failed to start service: %w", err)
	}

	logger.Info("Service started, waiting for frames...")

	select {
	case sig := <-sigChan:
		logger.Info("Received signal %v, initiating graceful shutdown...", sig)
	case <-svc.Done():
		logger.Warn("Service stopped on its own, shutting down...")
	}

	if err := svc.Stop(); err != nil {
		logger.Error("Error during shutdown: %v", err)
		return err
	}
	logger.Info("Service stopped")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
