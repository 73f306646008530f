package formatter

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/lockgraph/internal/lockcct"
)

const csvIndent = "   "

// CSVFormatter writes one quoted line per node. Nesting is shown by
// indenting the name.
type CSVFormatter struct{}

func (f *CSVFormatter) Name() string        { return "csv" }
func (f *CSVFormatter) ContentType() string { return "text/csv; charset=utf-8" }
func (f *CSVFormatter) Extension() string   { return ".csv" }

// Format writes the header and every row of root.
func (f *CSVFormatter) Format(w io.Writer, root *lockcct.Node, opts Options) error {
	sep := opts.separator()
	if sep != "," && sep != ";" {
		return fmt.Errorf("unsupported CSV separator %q", sep)
	}

	bw := bufio.NewWriter(w)
	writeLine := func(fields ...string) {
		for i, field := range fields {
			if i > 0 {
				bw.WriteString(sep)
			}
			bw.WriteString(csvQuote(field))
		}
		bw.WriteString("\n")
	}

	writeLine("Name", "Time [%]", "Time", "Waits")
	for _, row := range Rows(root, opts) {
		writeLine(
			strings.Repeat(csvIndent, row.Depth)+row.Name,
			formatPercent(row.Percent),
			formatMillis(opts.Status, row.Time),
			strconv.FormatInt(row.Waits, 10),
		)
	}
	return bw.Flush()
}

func csvQuote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
