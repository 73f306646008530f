package formatter

import (
	"encoding/xml"
	"io"

	"github.com/lockgraph/internal/lockcct"
)

type exportedView struct {
	XMLName xml.Name `xml:"ExportedView"`
	Name    string   `xml:"Name,attr"`
	Type    string   `xml:"type,attr"`
	Tree    xmlTree  `xml:"tree"`
}

type xmlTree struct {
	Nodes []*xmlNode `xml:"Node"`
}

type xmlNode struct {
	Name         string     `xml:"Name"`
	TimeRelative string     `xml:"Time_Relative"`
	Time         string     `xml:"Time"`
	Waits        int64      `xml:"Waits"`
	Children     []*xmlNode `xml:"Node"`
}

// XMLFormatter writes the tree as an ExportedView document.
type XMLFormatter struct{}

func (f *XMLFormatter) Name() string        { return "xml" }
func (f *XMLFormatter) ContentType() string { return "application/xml; charset=utf-8" }
func (f *XMLFormatter) Extension() string   { return ".xml" }

// Format writes root and its descendants as nested Node elements.
func (f *XMLFormatter) Format(w io.Writer, root *lockcct.Node, opts Options) error {
	// Rows come depth first, so a stack of open nodes rebuilds the nesting.
	var top *xmlNode
	var stack []*xmlNode
	for _, row := range Rows(root, opts) {
		n := &xmlNode{
			Name:         row.Name,
			TimeRelative: formatPercent(row.Percent) + "%",
			Time:         formatMillis(opts.Status, row.Time),
			Waits:        row.Waits,
		}
		stack = stack[:row.Depth]
		if row.Depth == 0 {
			top = n
		} else {
			parent := stack[row.Depth-1]
			parent.Children = append(parent.Children, n)
		}
		stack = append(stack, n)
	}

	view := exportedView{Name: opts.title(root), Type: "tree"}
	if top != nil {
		view.Tree.Nodes = []*xmlNode{top}
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", " ")
	if err := enc.Encode(view); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}
