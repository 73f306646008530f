package formatter

import (
	"io"

	"github.com/lockgraph/internal/lockcct"
	"github.com/lockgraph/pkg/writer"
)

// TreeNode is the JSON rendering of a tree node.
type TreeNode struct {
	Name     string      `json:"name"`
	Kind     string      `json:"kind"`
	Percent  float64     `json:"percent"`
	Time     int64       `json:"time"`
	TimeMs   float64     `json:"time_ms"`
	Waits    int64       `json:"waits"`
	Children []*TreeNode `json:"children,omitempty"`
}

// BuildTree converts root into nested TreeNodes honoring opts.
func BuildTree(root *lockcct.Node, opts Options) *TreeNode {
	var top *TreeNode
	var stack []*TreeNode
	for _, row := range Rows(root, opts) {
		n := &TreeNode{
			Name:    row.Name,
			Kind:    row.Node.Kind().String(),
			Percent: row.Percent,
			Time:    row.Time,
			TimeMs:  millis(opts.Status, row.Time),
			Waits:   row.Waits,
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
	return top
}

// JSONFormatter writes the tree as nested JSON objects.
type JSONFormatter struct{}

func (f *JSONFormatter) Name() string        { return "json" }
func (f *JSONFormatter) ContentType() string { return "application/json" }
func (f *JSONFormatter) Extension() string   { return ".json" }

// Format writes root as one pretty-printed JSON document.
func (f *JSONFormatter) Format(w io.Writer, root *lockcct.Node, opts Options) error {
	return writer.NewPrettyJSONWriter[*TreeNode]().Write(BuildTree(root, opts), w)
}
