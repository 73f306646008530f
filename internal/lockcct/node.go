// Package lockcct builds the navigable contention tree over a locks.Snapshot.
//
// Node is a closed tagged variant. The Kind decides how children and
// aggregates are derived, and every switch over Kind is exhaustive. Children
// and aggregates are computed on first access and cached, so a tree costs
// nothing until it is walked.
package lockcct

import (
	"fmt"
	"sync"

	"github.com/lockgraph/internal/locks"
)

// Kind tags the variant of a Node.
type Kind int

const (
	// KindTop is the invisible root of a view.
	KindTop Kind = iota
	// KindThread is one thread in the threads view.
	KindThread
	// KindMonitor is one monitor in the monitors view.
	KindMonitor
	// KindThreads groups thread details under a monitor.
	KindThreads
	// KindMonitors groups monitor details under a thread.
	KindMonitors
	// KindThreadDetail is the wait against one counterparty thread.
	KindThreadDetail
	// KindMonitorDetail is the wait against one monitor.
	KindMonitorDetail
)

var kindNames = [...]string{"top", "thread", "monitor", "threads", "monitors", "thread_detail", "monitor_detail"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// Role distinguishes the two groups under a thread or monitor node.
type Role int

const (
	RoleNone Role = iota
	RoleWait
	RoleOwner
)

func (r Role) String() string {
	switch r {
	case RoleWait:
		return "wait"
	case RoleOwner:
		return "owner"
	default:
		return ""
	}
}

// Node is one position in a contention tree.
type Node struct {
	kind   Kind
	role   Role
	mode   Mode
	parent *Node

	// Payload; which field is set depends on kind.
	snap           *locks.Snapshot
	thread         *locks.ThreadStats
	monitor        *locks.MonitorStats
	threadDetails  []locks.ThreadDetail
	monitorDetails []locks.MonitorDetail
	threadDetail   *locks.ThreadDetail
	monitorDetail  *locks.MonitorDetail

	childrenOnce sync.Once
	children     []*Node

	aggOnce sync.Once
	time    int64
	waits   int64
}

// Kind returns the variant tag.
func (n *Node) Kind() Kind { return n.kind }

// Role returns the group role; RoleNone for non-group nodes.
func (n *Node) Role() Role { return n.role }

// Mode returns the view the node belongs to.
func (n *Node) Mode() Mode { return n.mode }

// Parent returns the parent node, nil for the root.
func (n *Node) Parent() *Node { return n.parent }

// Name returns the display name.
func (n *Node) Name() string {
	switch n.kind {
	case KindTop:
		return n.mode.Title()
	case KindThread:
		return n.thread.Thread.Name
	case KindMonitor:
		return n.monitor.Monitor.DisplayName()
	case KindThreads, KindMonitors:
		return n.role.String()
	case KindThreadDetail:
		return n.threadDetail.Thread.Name
	case KindMonitorDetail:
		return n.monitorDetail.Monitor.DisplayName()
	}
	panic(fmt.Sprintf("lockcct: unhandled kind %v", n.kind))
}

// Thread returns the thread the node stands for, if any.
func (n *Node) Thread() (locks.ThreadRef, bool) {
	switch n.kind {
	case KindThread:
		return n.thread.Thread, true
	case KindThreadDetail:
		return n.threadDetail.Thread, true
	}
	return locks.ThreadRef{}, false
}

// Monitor returns the monitor the node stands for, if any.
func (n *Node) Monitor() (locks.MonitorRef, bool) {
	switch n.kind {
	case KindMonitor:
		return n.monitor.Monitor, true
	case KindMonitorDetail:
		return n.monitorDetail.Monitor, true
	}
	return locks.MonitorRef{}, false
}

// Children returns the child nodes, computing them on first call.
func (n *Node) Children() []*Node {
	n.childrenOnce.Do(func() {
		n.children = n.computeChildren()
	})
	return n.children
}

// NChildren returns the number of children.
func (n *Node) NChildren() int {
	return len(n.Children())
}

// Child returns the i-th child, or nil when out of range.
func (n *Node) Child(i int) *Node {
	children := n.Children()
	if i < 0 || i >= len(children) {
		return nil
	}
	return children[i]
}

// IndexOfChild returns the position of child, or -1. A node from another
// tree matches the child at the same logical position.
func (n *Node) IndexOfChild(child *Node) int {
	children := n.Children()
	for i, c := range children {
		if c == child {
			return i
		}
	}
	for i, c := range children {
		if c.Equal(child) {
			return i
		}
	}
	return -1
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool {
	return n.NChildren() == 0
}

// Time returns the aggregated wait time in timer counts.
func (n *Node) Time() int64 {
	n.aggregate()
	return n.time
}

// Waits returns the aggregated number of wait episodes.
func (n *Node) Waits() int64 {
	n.aggregate()
	return n.waits
}

// TimeInPercent returns the node's share of its parent's time, scaled by the
// parent's own share. The root is always 100 and a zero parent yields 0.
func (n *Node) TimeInPercent() float64 {
	if n.parent == nil {
		return 100
	}
	parentTime := n.parent.Time()
	if parentTime == 0 {
		return 0
	}
	return n.parent.TimeInPercent() * float64(n.Time()) / float64(parentTime)
}

// FixedPosition reports whether the node keeps its place among its siblings
// regardless of the sort order.
func (n *Node) FixedPosition() bool {
	return n.kind == KindThreads || n.kind == KindMonitors
}

// DoNotSortChildren reports whether the children must keep their natural
// order.
func (n *Node) DoNotSortChildren() bool {
	return n.kind == KindThread || n.kind == KindMonitor
}

// Key identifies the node among its siblings.
func (n *Node) Key() string {
	switch n.kind {
	case KindTop:
		return string(n.mode)
	case KindThread:
		return threadKey(n.thread.Thread)
	case KindMonitor:
		return fmt.Sprintf("monitor:%d", n.monitor.Monitor.ID)
	case KindThreads, KindMonitors:
		return n.role.String()
	case KindThreadDetail:
		return threadKey(n.threadDetail.Thread)
	case KindMonitorDetail:
		return fmt.Sprintf("monitor:%d", n.monitorDetail.Monitor.ID)
	}
	panic(fmt.Sprintf("lockcct: unhandled kind %v", n.kind))
}

func threadKey(t locks.ThreadRef) string {
	return fmt.Sprintf("thread:%d:%d", t.ID, t.Gen)
}

// Equal reports whether o sits at the same logical position, possibly in
// another snapshot's tree.
func (n *Node) Equal(o *Node) bool {
	if n == o {
		return true
	}
	if n == nil || o == nil {
		return false
	}
	if n.kind != o.kind || n.Key() != o.Key() {
		return false
	}
	if n.parent == nil || o.parent == nil {
		return n.parent == nil && o.parent == nil
	}
	return n.parent.Equal(o.parent)
}

// Path returns the names from the first level below the root down to n.
func (n *Node) Path() []string {
	var path []string
	for cur := n; cur != nil && cur.parent != nil; cur = cur.parent {
		path = append([]string{cur.Name()}, path...)
	}
	return path
}

func (n *Node) String() string {
	return fmt.Sprintf("%s %q time=%d waits=%d", n.kind, n.Name(), n.Time(), n.Waits())
}

func (n *Node) computeChildren() []*Node {
	switch n.kind {
	case KindTop:
		return n.topChildren()
	case KindThread:
		var out []*Node
		if len(n.thread.Wait) > 0 {
			out = append(out, n.child(KindMonitors, RoleWait, func(c *Node) { c.monitorDetails = n.thread.Wait }))
		}
		if len(n.thread.Owner) > 0 {
			out = append(out, n.child(KindMonitors, RoleOwner, func(c *Node) { c.monitorDetails = n.thread.Owner }))
		}
		return out
	case KindMonitor:
		var out []*Node
		if len(n.monitor.Wait) > 0 {
			out = append(out, n.child(KindThreads, RoleWait, func(c *Node) { c.threadDetails = n.monitor.Wait }))
		}
		if len(n.monitor.Owner) > 0 {
			out = append(out, n.child(KindThreads, RoleOwner, func(c *Node) { c.threadDetails = n.monitor.Owner }))
		}
		return out
	case KindMonitors:
		out := make([]*Node, 0, len(n.monitorDetails))
		for i := range n.monitorDetails {
			d := &n.monitorDetails[i]
			out = append(out, n.child(KindMonitorDetail, RoleNone, func(c *Node) { c.monitorDetail = d }))
		}
		return out
	case KindThreads:
		return n.threadDetailChildren(n.threadDetails)
	case KindThreadDetail:
		return n.threadDetailChildren(n.threadDetail.Threads)
	case KindMonitorDetail:
		return n.threadDetailChildren(n.monitorDetail.Threads)
	}
	panic(fmt.Sprintf("lockcct: unhandled kind %v", n.kind))
}

func (n *Node) topChildren() []*Node {
	switch n.mode {
	case ModeMonitors:
		out := make([]*Node, 0, len(n.snap.Monitors))
		for i := range n.snap.Monitors {
			ms := &n.snap.Monitors[i]
			out = append(out, n.child(KindMonitor, RoleNone, func(c *Node) { c.monitor = ms }))
		}
		return out
	default:
		out := make([]*Node, 0, len(n.snap.Threads))
		for i := range n.snap.Threads {
			ts := &n.snap.Threads[i]
			out = append(out, n.child(KindThread, RoleNone, func(c *Node) { c.thread = ts }))
		}
		return out
	}
}

func (n *Node) threadDetailChildren(details []locks.ThreadDetail) []*Node {
	if len(details) == 0 {
		return nil
	}
	out := make([]*Node, 0, len(details))
	for i := range details {
		d := &details[i]
		out = append(out, n.child(KindThreadDetail, RoleNone, func(c *Node) { c.threadDetail = d }))
	}
	return out
}

func (n *Node) child(kind Kind, role Role, fill func(*Node)) *Node {
	c := &Node{kind: kind, role: role, mode: n.mode, parent: n}
	fill(c)
	return c
}

func (n *Node) aggregate() {
	n.aggOnce.Do(func() {
		switch n.kind {
		case KindTop:
			for _, c := range n.Children() {
				n.time += c.Time()
				n.waits += c.Waits()
			}
		case KindThread:
			n.time, n.waits = sumMonitorDetails(n.thread.Wait)
		case KindMonitor:
			n.time, n.waits = sumThreadDetails(n.monitor.Wait)
		case KindMonitors:
			n.time, n.waits = sumMonitorDetails(n.monitorDetails)
		case KindThreads:
			n.time, n.waits = sumThreadDetails(n.threadDetails)
		case KindThreadDetail:
			n.time, n.waits = n.threadDetail.WaitTime, n.threadDetail.Count
		case KindMonitorDetail:
			n.time, n.waits = n.monitorDetail.WaitTime, n.monitorDetail.Count
		default:
			panic(fmt.Sprintf("lockcct: unhandled kind %v", n.kind))
		}
	})
}

func sumMonitorDetails(details []locks.MonitorDetail) (time, waits int64) {
	for _, d := range details {
		time += d.WaitTime
		waits += d.Count
	}
	return time, waits
}

func sumThreadDetails(details []locks.ThreadDetail) (time, waits int64) {
	for _, d := range details {
		time += d.WaitTime
		waits += d.Count
	}
	return time, waits
}
