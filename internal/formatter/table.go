package formatter

import (
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/lockgraph/internal/lockcct"
)

// TableFormatter renders the tree as a console table.
type TableFormatter struct{}

func (f *TableFormatter) Name() string        { return "table" }
func (f *TableFormatter) ContentType() string { return "text/plain; charset=utf-8" }
func (f *TableFormatter) Extension() string   { return ".txt" }

// Format renders every row of root with indented names.
func (f *TableFormatter) Format(w io.Writer, root *lockcct.Node, opts Options) error {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Name", "Time [%]", "Time", "Waits"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_LEFT,
		tablewriter.ALIGN_RIGHT,
		tablewriter.ALIGN_RIGHT,
		tablewriter.ALIGN_RIGHT,
	})

	for _, row := range Rows(root, opts) {
		table.Append([]string{
			strings.Repeat("  ", row.Depth) + row.Name,
			formatPercent(row.Percent),
			formatMillis(opts.Status, row.Time),
			strconv.FormatInt(row.Waits, 10),
		})
	}
	table.Render()
	return nil
}
