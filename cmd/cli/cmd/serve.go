package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lockgraph/internal/service"
	"github.com/lockgraph/pkg/config"
	"github.com/lockgraph/pkg/utils"
)

var (
	// Serve command flags
	configPath string
	serveAddr  string
	replayPath string
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the contention trees over HTTP",
	Long: `Start an HTTP server that accepts profiler frames and serves the
resulting lock contention trees.

Endpoints:
  POST /api/v1/frames/:bucket   submit one raw frame
  POST /api/v1/reset            clear the collected data
  GET  /api/v1/tree/:mode       export a view (format, sep, depth, sort)
  GET  /api/v1/top/:mode        most contended threads or monitors
  GET  /api/v1/stats            ingest and refresh counters
  GET  /api/v1/history          archived snapshots, when archiving is on`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	binName := BinName()
	serveCmd.Example = `  # Serve with default settings on :8080
  ` + binName + ` serve

  # Preload a recording and listen on another port
  ` + binName + ` serve --addr :9090 --replay ./frames.bin.gz

  # Use a configuration file with archiving enabled
  ` + binName + ` serve -c ./configs/config.yaml`

	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address, overrides server.addr")
	serveCmd.Flags().StringVar(&replayPath, "replay", "", "Frame recording to load before serving")
}

// loadConfig loads path, or the defaults when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	log := GetLogger()
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	return serve(cfg, replayPath, log)
}

func serve(cfg *config.Config, replay string, log utils.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := service.New(cfg, log, service.WithVersion(Version))
	if err != nil {
		return err
	}
	if err := svc.Initialize(ctx); err != nil {
		svc.Stop()
		return fmt.Errorf("failed to initialize service: %w", err)
	}
	if replay != "" {
		if _, err := svc.Session().ReplayFile(ctx, "", replay); err != nil {
			svc.Stop()
			return fmt.Errorf("failed to replay %s: %w", replay, err)
		}
	}
	if err := svc.Start(ctx); err != nil {
		svc.Stop()
		return fmt.Errorf("failed to start service: %w", err)
	}
	log.Info("Listening on %s (session %s)", cfg.Server.Addr, svc.Session().ID())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		log.Info("Received signal %v, shutting down...", sig)
	case <-svc.Done():
		log.Warn("Service stopped unexpectedly")
	}
	return svc.Stop()
}
