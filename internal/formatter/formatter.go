// Package formatter exports contention trees in the formats offered to users:
// CSV, XML, HTML, JSON, a console table and pprof.
package formatter

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lockgraph/internal/lockcct"
	"github.com/lockgraph/internal/locks"
	apperrors "github.com/lockgraph/pkg/errors"
)

// ErrUnknownFormat is returned for a format name no formatter is registered
// under.
var ErrUnknownFormat = apperrors.New(apperrors.CodeInvalidInput, "unknown export format")

// Options control an export.
type Options struct {
	// Status converts timer counts into wall time.
	Status locks.Status
	// Separator is the CSV field separator, "," or ";".
	Separator string
	SortBy    lockcct.SortBy
	// MaxDepth limits the exported depth below the root; zero exports all.
	MaxDepth int
	// Title names the exported view; defaults to the root's name.
	Title string
}

// DefaultOptions exports the whole tree sorted by time.
func DefaultOptions(status locks.Status) Options {
	return Options{Status: status, Separator: ",", SortBy: lockcct.SortTime}
}

func (o Options) separator() string {
	if o.Separator == "" {
		return ","
	}
	return o.Separator
}

func (o Options) title(root *lockcct.Node) string {
	if o.Title != "" {
		return o.Title
	}
	return root.Name()
}

// Formatter writes a tree in one format.
type Formatter interface {
	Name() string
	ContentType() string
	// Extension is the file suffix, including the dot.
	Extension() string
	Format(w io.Writer, root *lockcct.Node, opts Options) error
}

// Registry manages formatter instances.
type Registry struct {
	formatters map[string]Formatter
}

// NewRegistry creates a registry holding every built-in formatter.
func NewRegistry() *Registry {
	r := &Registry{formatters: make(map[string]Formatter)}
	r.Register(&CSVFormatter{})
	r.Register(&XMLFormatter{})
	r.Register(&HTMLFormatter{})
	r.Register(&JSONFormatter{})
	r.Register(&TableFormatter{})
	r.Register(&PprofFormatter{})
	return r
}

// Register adds f, replacing any formatter of the same name.
func (r *Registry) Register(f Formatter) {
	r.formatters[f.Name()] = f
}

// Get returns the formatter registered under name.
func (r *Registry) Get(name string) (Formatter, error) {
	f, ok := r.formatters[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, apperrors.Wrap(apperrors.CodeInvalidInput, fmt.Sprintf("format %q", name), ErrUnknownFormat)
	}
	return f, nil
}

// Names lists the registered format names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.formatters))
	for name := range r.formatters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Export writes root to w in format.
func (r *Registry) Export(w io.Writer, format string, root *lockcct.Node, opts Options) error {
	f, err := r.Get(format)
	if err != nil {
		return err
	}
	if err := f.Format(w, root, opts); err != nil {
		return apperrors.Wrap(apperrors.CodeExportError, "export "+f.Name(), err)
	}
	return nil
}

// Opener returns the destination of one format's output.
type Opener func(f Formatter) (io.WriteCloser, error)

// ExportAll writes root in every format concurrently. Trees memoize their
// aggregates, so the formats share the computed values.
func (r *Registry) ExportAll(ctx context.Context, formats []string, root *lockcct.Node, opts Options, open Opener) error {
	fs := make([]Formatter, 0, len(formats))
	for _, name := range formats {
		f, err := r.Get(name)
		if err != nil {
			return err
		}
		fs = append(fs, f)
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, f := range fs {
		f := f
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			w, err := open(f)
			if err != nil {
				return err
			}
			if err := f.Format(w, root, opts); err != nil {
				w.Close()
				return apperrors.Wrap(apperrors.CodeExportError, "export "+f.Name(), err)
			}
			return w.Close()
		})
	}
	return g.Wait()
}

var std = NewRegistry()

// Get returns a built-in formatter by name.
func Get(name string) (Formatter, error) { return std.Get(name) }

// Names lists the built-in formats.
func Names() []string { return std.Names() }

// Export writes root to w using a built-in formatter.
func Export(w io.Writer, format string, root *lockcct.Node, opts Options) error {
	return std.Export(w, format, root, opts)
}

// ExportAll writes root in several built-in formats concurrently.
func ExportAll(ctx context.Context, formats []string, root *lockcct.Node, opts Options, open Opener) error {
	return std.ExportAll(ctx, formats, root, opts, open)
}

// Row is one exported line of a tree.
type Row struct {
	Depth   int
	Name    string
	Percent float64
	Time    int64
	Waits   int64
	Node    *lockcct.Node
}

// Rows flattens root depth first in export order.
func Rows(root *lockcct.Node, opts Options) []Row {
	var rows []Row
	lockcct.Walk(root, opts.SortBy, opts.MaxDepth, func(n *lockcct.Node, depth int) bool {
		rows = append(rows, Row{
			Depth:   depth,
			Name:    n.Name(),
			Percent: n.TimeInPercent(),
			Time:    n.Time(),
			Waits:   n.Waits(),
			Node:    n,
		})
		return true
	})
	return rows
}

func millis(status locks.Status, counts int64) float64 {
	return float64(status.CountsToDuration(counts)) / float64(time.Millisecond)
}

func formatMillis(status locks.Status, counts int64) string {
	return fmt.Sprintf("%.3f ms", millis(status, counts))
}

func formatPercent(p float64) string {
	return fmt.Sprintf("%.1f", p)
}
