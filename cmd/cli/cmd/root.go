package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lockgraph/pkg/utils"
)

var (
	// Global flags
	verbose   bool
	logFormat string
	logger    utils.Logger = &utils.NullLogger{}
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "lockgraph",
	Short: "Lock contention call trees from JVM profiler frames",
	Long: `lockgraph turns the monitor events recorded by a JVM profiler agent into
lock contention call trees.

A tree can be viewed per thread (which monitors a thread waited for and who
held them) or per monitor (which threads waited for it and who held it).
Recordings can be replayed offline, served over HTTP or exposed to MCP
clients.

Logs go to stderr so exported trees can be piped from stdout.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := "info"
		if verbose {
			level = "debug"
		}
		l, _, err := utils.OpenLogger(level, logFormat, "stderr")
		if err != nil {
			return err
		}
		logger = l
		utils.SetGlobalLogger(l)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")

	binName := BinName()
	rootCmd.Example = `  # Print the thread view of a recording
  ` + binName + ` replay -f ./frames.bin.gz

  # Export both views as CSV and JSON
  ` + binName + ` replay -f ./frames.bin.zst --mode both --format csv,json -o ./out

  # Serve the HTTP API, preloaded with a recording
  ` + binName + ` serve --addr :8080 --replay ./frames.bin.gz

  # Expose the session to an MCP client over stdio
  ` + binName + ` mcp --replay ./frames.bin.gz`
}

// GetLogger returns the configured logger
func GetLogger() utils.Logger {
	return logger
}

// BinName returns the base name of the current executable
func BinName() string {
	return filepath.Base(os.Args[0])
}
