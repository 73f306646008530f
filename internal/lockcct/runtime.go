package lockcct

import (
	"sort"
	"strings"

	"github.com/lockgraph/internal/locks"
	apperrors "github.com/lockgraph/pkg/errors"
)

// Mode selects the view a tree is built for.
type Mode string

const (
	ModeThreads  Mode = "threads"
	ModeMonitors Mode = "monitors"
)

// ParseMode parses a view name; the empty string selects threads.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "threads", "thread":
		return ModeThreads, nil
	case "monitors", "monitor":
		return ModeMonitors, nil
	}
	return "", apperrors.Newf(apperrors.CodeInvalidInput, "unknown view mode %q", s)
}

// Title is the display name of the view's root.
func (m Mode) Title() string {
	if m == ModeMonitors {
		return "Monitors"
	}
	return "Threads"
}

// Snapshotter produces immutable snapshots of live contention data.
type Snapshotter interface {
	Snapshot() *locks.Snapshot
}

// RuntimeNode wraps a snapshot and hands out the roots of both views.
type RuntimeNode struct {
	snap *locks.Snapshot
}

// NewRuntimeNode wraps snap.
func NewRuntimeNode(snap *locks.Snapshot) *RuntimeNode {
	if snap == nil {
		snap = &locks.Snapshot{}
	}
	return &RuntimeNode{snap: snap}
}

// AppRootNode snapshots s and wraps the copy.
func AppRootNode(s Snapshotter) *RuntimeNode {
	return NewRuntimeNode(s.Snapshot())
}

// Snapshot returns the wrapped snapshot.
func (r *RuntimeNode) Snapshot() *locks.Snapshot {
	return r.snap
}

// Empty reports whether the snapshot holds no data.
func (r *RuntimeNode) Empty() bool {
	return r.snap.Empty()
}

// Threads returns a fresh root of the threads view.
func (r *RuntimeNode) Threads() *Node {
	return &Node{kind: KindTop, mode: ModeThreads, snap: r.snap}
}

// Monitors returns a fresh root of the monitors view.
func (r *RuntimeNode) Monitors() *Node {
	return &Node{kind: KindTop, mode: ModeMonitors, snap: r.snap}
}

// Root returns the root of the requested view.
func (r *RuntimeNode) Root(mode Mode) *Node {
	if mode == ModeMonitors {
		return r.Monitors()
	}
	return r.Threads()
}

// SortBy names a child ordering.
type SortBy string

const (
	SortNone  SortBy = ""
	SortTime  SortBy = "time"
	SortWaits SortBy = "waits"
	SortName  SortBy = "name"
)

// ParseSortBy parses an ordering name.
func ParseSortBy(s string) (SortBy, error) {
	switch SortBy(strings.ToLower(s)) {
	case SortNone, SortTime, SortWaits, SortName:
		return SortBy(strings.ToLower(s)), nil
	}
	return SortNone, apperrors.Newf(apperrors.CodeInvalidInput, "unknown sort order %q", s)
}

// SortedChildren returns n's children ordered by by. Numeric orders are
// descending. Fixed-position children and nodes that forbid sorting keep
// their natural order.
func SortedChildren(n *Node, by SortBy) []*Node {
	children := n.Children()
	if by == SortNone || n.DoNotSortChildren() || len(children) < 2 {
		return children
	}
	out := make([]*Node, len(children))
	copy(out, children)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.FixedPosition() || b.FixedPosition() {
			return false
		}
		switch by {
		case SortWaits:
			return a.Waits() > b.Waits()
		case SortName:
			return a.Name() < b.Name()
		default:
			return a.Time() > b.Time()
		}
	})
	return out
}

// Walk visits n and its descendants depth first. maxDepth limits the depth
// below n; zero or less means unlimited. Returning false from fn skips the
// node's children.
func Walk(n *Node, by SortBy, maxDepth int, fn func(n *Node, depth int) bool) {
	walk(n, by, 0, maxDepth, fn)
}

func walk(n *Node, by SortBy, depth, maxDepth int, fn func(*Node, int) bool) {
	if !fn(n, depth) {
		return
	}
	if maxDepth > 0 && depth >= maxDepth {
		return
	}
	for _, c := range SortedChildren(n, by) {
		walk(c, by, depth+1, maxDepth, fn)
	}
}

// Top returns up to limit first-level nodes of root ordered by time.
func Top(root *Node, limit int) []*Node {
	nodes := SortedChildren(root, SortTime)
	if limit > 0 && len(nodes) > limit {
		nodes = nodes[:limit]
	}
	return nodes
}
