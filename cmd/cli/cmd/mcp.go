package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lockgraph/internal/mcpserver"
	"github.com/lockgraph/internal/service"
	"github.com/lockgraph/internal/session"
)

var mcpReplay string

// mcpCmd represents the mcp command
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Expose a contention session to MCP clients over stdio",
	Long: `Run a Model Context Protocol server on stdin and stdout.

Tools:
  lock_contention_tree   render the threads or monitors view
  top_contended          most contended threads or monitors
  load_frames            replay a frame recording into the session
  reset_contention       clear the collected data
  session_stats          ingest and refresh counters`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := GetLogger().WithField("component", "mcp")
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}

		sc := service.SessionConfig(cfg.Session)
		sc.MaxRefresh = 0
		sess := session.New(sc, log)
		defer sess.Close()

		if mcpReplay != "" {
			if _, err := sess.ReplayFile(context.Background(), "", mcpReplay); err != nil {
				return fmt.Errorf("failed to replay %s: %w", mcpReplay, err)
			}
		}
		return mcpserver.New(sess, Version, log).ServeStdio()
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)

	mcpCmd.Example = `  # Start with an empty session
  ` + BinName() + ` mcp

  # Preload a recording
  ` + BinName() + ` mcp --replay ./frames.bin.gz`

	mcpCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	mcpCmd.Flags().StringVar(&mcpReplay, "replay", "", "Frame recording to load before serving")
}
