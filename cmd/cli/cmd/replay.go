package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/lockgraph/internal/formatter"
	"github.com/lockgraph/internal/lockcct"
	"github.com/lockgraph/internal/locks"
	"github.com/lockgraph/internal/server"
	"github.com/lockgraph/internal/session"
	"github.com/lockgraph/pkg/utils"
)

var (
	// Replay command flags
	replayFile      string
	replayMode      string
	replayFormats   string
	replayOutput    string
	replaySeparator string
	replayDepth     int
	replaySort      string
	replayTop       int
	replayTiming    bool
	twoTimestamps   bool
	noMonitorInfo   bool
	timerCounts     int64
)

// replayCmd represents the replay command
var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Build contention trees from a frame recording",
	Long: `Replay a recorded stream of profiler frames and export the resulting
lock contention trees.

A recording is a sequence of length-prefixed frames, optionally compressed
with gzip or zstd. The compression is detected from the content.

Supported formats: ` + strings.Join(formatter.Names(), ", ") + `

Without --output every format is printed to stdout. The pprof format is
binary and needs an output directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := replayFlags()
		if err != nil {
			return err
		}
		return runReplay(cmd.Context(), opts, cmd.OutOrStdout(), cmd.ErrOrStderr(), GetLogger())
	},
}

func init() {
	rootCmd.AddCommand(replayCmd)

	binName := BinName()
	replayCmd.Example = `  # Print the thread view as a table
  ` + binName + ` replay -f ./frames.bin.gz

  # Monitor view sorted by waits, two levels deep
  ` + binName + ` replay -f ./frames.bin --mode monitors --sort waits --depth 2

  # Write both views in several formats
  ` + binName + ` replay -f ./frames.bin.zst --mode both --format csv,json,pprof -o ./out

  # Ten most contended monitors
  ` + binName + ` replay -f ./frames.bin.gz --mode monitors --top 10`

	f := replayCmd.Flags()
	f.StringVarP(&replayFile, "file", "f", "", "Frame recording to replay (required)")
	f.StringVarP(&replayMode, "mode", "m", "threads", "View: threads, monitors or both")
	f.StringVar(&replayFormats, "format", "table", "Comma-separated output formats")
	f.StringVarP(&replayOutput, "output", "o", "", "Output directory; empty prints to stdout")
	f.StringVar(&replaySeparator, "sep", ",", "CSV field separator")
	f.IntVar(&replayDepth, "depth", 0, "Maximum tree depth below the root; 0 prints everything")
	f.StringVar(&replaySort, "sort", "time", "Child order: time, waits, name or none")
	f.IntVar(&replayTop, "top", 0, "Print only the N most contended entities of each view")
	f.BoolVar(&replayTiming, "timing", false, "Print phase timings to stderr")
	f.BoolVar(&twoTimestamps, "two-timestamps", false, "Frames carry a second timestamp per event")
	f.BoolVar(&noMonitorInfo, "no-monitor-info", false, "Frames were recorded without monitor details")
	f.Int64Var(&timerCounts, "timer-counts", int64(1e9), "Timer counts per second of the recording")
	replayCmd.MarkFlagRequired("file")
}

// replayOptions holds a parsed replay invocation.
type replayOptions struct {
	File      string
	Modes     []lockcct.Mode
	Formats   []string
	OutputDir string
	Export    formatter.Options
	Top       int
	Timing    bool
	Status    locks.Status
}

func replayFlags() (replayOptions, error) {
	status := locks.Status{
		TimerCountsPerSecond: timerCounts,
		CollectTwoTimestamps: twoTimestamps,
		MonitorInfo:          !noMonitorInfo,
	}
	opts := replayOptions{
		File:      replayFile,
		OutputDir: replayOutput,
		Top:       replayTop,
		Timing:    replayTiming,
		Status:    status,
		Export:    formatter.DefaultOptions(status),
	}

	modes, err := parseModes(replayMode)
	if err != nil {
		return opts, err
	}
	opts.Modes = modes
	opts.Formats = splitList(replayFormats)

	sortBy := replaySort
	if sortBy == "none" {
		sortBy = ""
	}
	if opts.Export.SortBy, err = lockcct.ParseSortBy(sortBy); err != nil {
		return opts, err
	}
	if replayDepth < 0 {
		return opts, fmt.Errorf("invalid depth %d", replayDepth)
	}
	opts.Export.MaxDepth = replayDepth
	opts.Export.Separator = replaySeparator
	return opts, nil
}

// parseModes parses a view name or "both".
func parseModes(s string) ([]lockcct.Mode, error) {
	if strings.EqualFold(s, "both") || strings.EqualFold(s, "all") {
		return []lockcct.Mode{lockcct.ModeThreads, lockcct.ModeMonitors}, nil
	}
	m, err := lockcct.ParseMode(s)
	if err != nil {
		return nil, err
	}
	return []lockcct.Mode{m}, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// runReplay replays o.File into a fresh session and exports its trees.
func runReplay(ctx context.Context, o replayOptions, stdout, stderr io.Writer, log utils.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(o.Formats) == 0 && o.Top == 0 {
		return fmt.Errorf("no output format given")
	}
	for _, name := range o.Formats {
		f, err := formatter.Get(name)
		if err != nil {
			return err
		}
		if o.OutputDir == "" && f.Name() == "pprof" {
			return fmt.Errorf("the pprof format needs an output directory (-o)")
		}
	}

	cfg := session.DefaultConfig()
	cfg.Status = o.Status
	cfg.MaxRefresh = 0
	sess := session.New(cfg, log)
	defer sess.Close()

	timer := utils.NewTimer("replay")
	var frames int
	err := timer.Time("ingest", func() error {
		var err error
		frames, err = sess.ReplayFile(ctx, "", o.File)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to replay %s: %w", o.File, err)
	}

	pt := timer.Start("snapshot")
	rt := sess.Tree(ctx)
	pt.Stop()
	if rt.Empty() {
		log.Warn("No lock contention in %d frames of %s", frames, o.File)
	}

	err = timer.Time("export", func() error {
		for _, mode := range o.Modes {
			root := rt.Root(mode)
			if o.Top > 0 {
				writeTop(stdout, server.TopEntities(root, mode, millisOf(o.Status), o.Top))
				continue
			}
			if err := exportMode(ctx, o, mode, root, stdout); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	timer.Log(log)
	if o.Timing {
		fmt.Fprint(stderr, timer.Summary())
	}
	return nil
}

func exportMode(ctx context.Context, o replayOptions, mode lockcct.Mode, root *lockcct.Node, stdout io.Writer) error {
	if o.OutputDir == "" {
		for _, name := range o.Formats {
			if err := formatter.Export(stdout, name, root, o.Export); err != nil {
				return err
			}
		}
		return nil
	}

	if err := os.MkdirAll(o.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	base := recordingBase(o.File)
	return formatter.ExportAll(ctx, o.Formats, root, o.Export, func(f formatter.Formatter) (io.WriteCloser, error) {
		path := filepath.Join(o.OutputDir, base+"-"+string(mode)+f.Extension())
		return os.Create(path)
	})
}

// recordingBase strips directories and recording extensions from path.
func recordingBase(path string) string {
	base := filepath.Base(path)
	for _, ext := range []string{".gz", ".zst", ".bin"} {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}

func millisOf(status locks.Status) func(int64) float64 {
	return func(counts int64) float64 {
		return float64(status.CountsToDuration(counts)) / float64(time.Millisecond)
	}
}

func writeTop(w io.Writer, top server.TopResponse) {
	fmt.Fprintf(w, "%s: %d waits\n", top.Mode.Title(), top.Waits)
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"#", "Name", "Time [ms]", "Waits", "Time [%]"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	for i, e := range top.Entities {
		table.Append([]string{
			strconv.Itoa(i + 1),
			e.Name,
			strconv.FormatFloat(e.TimeMs, 'f', 3, 64),
			strconv.FormatInt(e.Waits, 10),
			strconv.FormatFloat(e.Percent, 'f', 1, 64),
		})
	}
	table.Render()
}
