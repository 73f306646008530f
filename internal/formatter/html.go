package formatter

import (
	"html/template"
	"io"

	"github.com/lockgraph/internal/lockcct"
)

var htmlTemplate = template.Must(template.New("view").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
table { border-collapse: collapse; font-family: monospace; }
th, td { border: 1px solid #ccc; padding: 2px 8px; }
td.num { text-align: right; }
</style>
</head>
<body>
<h2>{{.Title}}</h2>
<table>
<tr><th>Name</th><th>Time [%]</th><th>Time</th><th>Waits</th></tr>
{{- range .Rows}}
<tr><td style="padding-left: {{.Indent}}em">{{.Name}}</td><td class="num">{{.Percent}}</td><td class="num">{{.Time}}</td><td class="num">{{.Waits}}</td></tr>
{{- end}}
</table>
</body>
</html>
`))

type htmlRow struct {
	Indent  int
	Name    string
	Percent string
	Time    string
	Waits   int64
}

// HTMLFormatter writes a standalone HTML table.
type HTMLFormatter struct{}

func (f *HTMLFormatter) Name() string        { return "html" }
func (f *HTMLFormatter) ContentType() string { return "text/html; charset=utf-8" }
func (f *HTMLFormatter) Extension() string   { return ".html" }

// Format renders every row of root; names are escaped by the template.
func (f *HTMLFormatter) Format(w io.Writer, root *lockcct.Node, opts Options) error {
	rows := Rows(root, opts)
	data := struct {
		Title string
		Rows  []htmlRow
	}{Title: opts.title(root), Rows: make([]htmlRow, 0, len(rows))}

	for _, row := range rows {
		data.Rows = append(data.Rows, htmlRow{
			Indent:  row.Depth * 2,
			Name:    row.Name,
			Percent: formatPercent(row.Percent),
			Time:    formatMillis(opts.Status, row.Time),
			Waits:   row.Waits,
		})
	}
	return htmlTemplate.Execute(w, data)
}
