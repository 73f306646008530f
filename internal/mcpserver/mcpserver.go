// Package mcpserver exposes a contention session as Model Context Protocol
// tools, so an assistant can load recordings and inspect the trees.
package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/lockgraph/internal/formatter"
	"github.com/lockgraph/internal/lockcct"
	"github.com/lockgraph/internal/session"
	"github.com/lockgraph/pkg/utils"
)

const defaultTopN = 10

// Server registers the contention tools on an MCP server.
type Server struct {
	sess   *session.Session
	logger utils.Logger
	mcp    *server.MCPServer
}

// New creates the MCP server for sess.
func New(sess *session.Session, version string, logger utils.Logger) *Server {
	if logger == nil {
		logger = &utils.NullLogger{}
	}
	s := &Server{
		sess:   sess,
		logger: logger,
		mcp: server.NewMCPServer(
			"Lock Contention Analyzer",
			version,
			server.WithToolCapabilities(true),
		),
	}

	s.mcp.AddTool(mcp.NewTool("lock_contention_tree",
		mcp.WithDescription("Renders the lock contention call tree of the session, by thread or by monitor"),
		mcp.WithString("mode",
			mcp.Description("View to render: 'threads' or 'monitors' (default: 'threads')")),
		mcp.WithString("format",
			mcp.Description("Output format: 'table', 'csv', 'json', 'xml' or 'html' (default: 'table')")),
		mcp.WithNumber("depth",
			mcp.Description("Maximum depth below the root, 0 for the whole tree (default: 0)")),
		mcp.WithString("sort",
			mcp.Description("Child order: 'time', 'waits', 'name' or '' for natural order")),
	), s.handleTree)

	s.mcp.AddTool(mcp.NewTool("top_contended",
		mcp.WithDescription("Lists the threads or monitors with the most time spent waiting"),
		mcp.WithString("mode",
			mcp.Description("View to rank: 'threads' or 'monitors' (default: 'monitors')")),
		mcp.WithNumber("top_n",
			mcp.Description("Number of entries to return (default: 10)")),
	), s.handleTop)

	s.mcp.AddTool(mcp.NewTool("load_frames",
		mcp.WithDescription("Replays a recorded event frame file, optionally gzip or zstd compressed, into the session"),
		mcp.WithString("file_path",
			mcp.Required(),
			mcp.Description("Path to the frame recording")),
		mcp.WithString("bucket",
			mcp.Description("Ordering bucket the frames belong to (default: file path)")),
	), s.handleLoad)

	s.mcp.AddTool(mcp.NewTool("reset_contention",
		mcp.WithDescription("Discards all contention data collected so far"),
	), s.handleReset)

	s.mcp.AddTool(mcp.NewTool("session_stats",
		mcp.WithDescription("Reports ingest, builder and refresh counters of the session"),
	), s.handleStats)

	return s
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// ServeStdio serves the tools over stdin and stdout until the input closes.
func (s *Server) ServeStdio() error {
	s.logger.Info("Serving MCP tools on stdio for session %s", s.sess.ID())
	return server.ServeStdio(s.mcp)
}

func arguments(request mcp.CallToolRequest) (map[string]interface{}, bool) {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}, true
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	return args, ok
}

func stringArg(args map[string]interface{}, key, def string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return def
}

func intArg(args map[string]interface{}, key string, def int) int {
	if v, ok := args[key].(float64); ok {
		return int(v)
	}
	return def
}

func (s *Server) handleTree(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := arguments(request)
	if !ok {
		return mcp.NewToolResultError("Invalid arguments format"), nil
	}

	mode, err := lockcct.ParseMode(stringArg(args, "mode", string(lockcct.ModeThreads)))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	format := stringArg(args, "format", "table")
	if format == "pprof" {
		return mcp.NewToolResultError("pprof output is binary; use the HTTP API or the CLI"), nil
	}

	opts := formatter.DefaultOptions(s.sess.Status())
	opts.MaxDepth = intArg(args, "depth", 0)
	if opts.MaxDepth < 0 {
		return mcp.NewToolResultError("depth must not be negative"), nil
	}
	if opts.SortBy, err = lockcct.ParseSortBy(stringArg(args, "sort", "")); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	root := s.sess.Tree(ctx).Root(mode)
	var buf bytes.Buffer
	if err := formatter.Export(&buf, format, root, opts); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to render tree: %v", err)), nil
	}
	return mcp.NewToolResultText(buf.String()), nil
}

// hotspot is one ranked entry of top_contended.
type hotspot struct {
	Rank    int     `json:"rank"`
	Name    string  `json:"name"`
	TimeMs  float64 `json:"timeMs"`
	Waits   int64   `json:"waits"`
	Percent float64 `json:"percent"`
}

func (s *Server) handleTop(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := arguments(request)
	if !ok {
		return mcp.NewToolResultError("Invalid arguments format"), nil
	}

	mode, err := lockcct.ParseMode(stringArg(args, "mode", string(lockcct.ModeMonitors)))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	topN := intArg(args, "top_n", defaultTopN)
	if topN <= 0 {
		topN = defaultTopN
	}

	root := s.sess.Tree(ctx).Root(mode)
	hotspots := []hotspot{}
	for i, n := range lockcct.Top(root, topN) {
		if n.Time() == 0 && n.Waits() == 0 {
			continue
		}
		hotspots = append(hotspots, hotspot{
			Rank:    i + 1,
			Name:    n.Name(),
			TimeMs:  s.millis(n.Time()),
			Waits:   n.Waits(),
			Percent: n.TimeInPercent(),
		})
	}

	result, _ := json.MarshalIndent(map[string]interface{}{
		"mode":        mode,
		"totalTimeMs": s.millis(root.Time()),
		"totalWaits":  root.Waits(),
		"hotspots":    hotspots,
	}, "", "  ")
	return mcp.NewToolResultText(string(result)), nil
}

func (s *Server) millis(counts int64) float64 {
	return float64(s.sess.ToDuration(counts)) / float64(time.Millisecond)
}

func (s *Server) handleLoad(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := arguments(request)
	if !ok {
		return mcp.NewToolResultError("Invalid arguments format"), nil
	}

	path := stringArg(args, "file_path", "")
	if path == "" {
		return mcp.NewToolResultError("file_path is required"), nil
	}
	bucket := stringArg(args, "bucket", path)

	n, err := s.sess.ReplayFile(ctx, bucket, path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load frames: %v", err)), nil
	}
	total, waits := s.sess.Tree(ctx).Snapshot().TotalWait()

	result, _ := json.MarshalIndent(map[string]interface{}{
		"file":        path,
		"frames":      n,
		"totalTimeMs": s.millis(total),
		"totalWaits":  waits,
	}, "", "  ")
	return mcp.NewToolResultText(string(result)), nil
}

func (s *Server) handleReset(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.sess.Closed() {
		return mcp.NewToolResultError("session closed"), nil
	}
	if !s.sess.Reset() {
		return mcp.NewToolResultError("reset refused while a batch is in progress; retry later"), nil
	}
	return mcp.NewToolResultText("contention data discarded"), nil
}

func (s *Server) handleStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := json.MarshalIndent(s.sess.Stats(), "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(result)), nil
}
