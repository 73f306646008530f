// Package protocol decodes and encodes the lock profiling event stream.
//
// A frame is a run of events, each starting with a one-byte code. All
// integers are big-endian and timestamps are 56-bit.
package protocol

import "fmt"

// EventCode identifies an event in a frame.
type EventCode byte

// Event codes understood by the decoder.
const (
	AdjustTime               EventCode = 5
	ResetCollectors          EventCode = 10
	NewThread                EventCode = 11
	SetFollowingEventsThread EventCode = 13
	MonitorEntry             EventCode = 22
	MonitorExit              EventCode = 23
	NewMonitor               EventCode = 28
)

func (c EventCode) String() string {
	switch c {
	case AdjustTime:
		return "ADJUST_TIME"
	case ResetCollectors:
		return "RESET_COLLECTORS"
	case NewThread:
		return "NEW_THREAD"
	case SetFollowingEventsThread:
		return "SET_FOLLOWING_EVENTS_THREAD"
	case MonitorEntry:
		return "METHOD_ENTRY_MONITOR"
	case MonitorExit:
		return "METHOD_EXIT_MONITOR"
	case NewMonitor:
		return "NEW_MONITOR"
	default:
		return fmt.Sprintf("EVENT_%d", byte(c))
	}
}

// NoThread is the current thread before any thread event was seen, and the
// owner reported when monitor info is off.
const NoThread = -1

// NoMonitor is the monitor id reported when monitor info is off.
const NoMonitor int32 = -1

// Listener receives decoded events. Batch brackets are issued by the caller
// of the decoder, not by the decoder itself.
type Listener interface {
	BatchStart()
	BatchStop()
	Reset()
	NewThread(threadID int, name, className string)
	NewMonitor(id int32, className string)
	MonitorEntry(threadID int, t0, t1 int64, monitorID int32, ownerThreadID int)
	MonitorExit(threadID int, t0, t1 int64, monitorID int32)
	TimeAdjust(threadID int, t0, t1 int64)
}

// Listeners fans every event out to each listener in order.
type Listeners []Listener

func (ls Listeners) BatchStart() {
	for _, l := range ls {
		l.BatchStart()
	}
}

func (ls Listeners) BatchStop() {
	for _, l := range ls {
		l.BatchStop()
	}
}

func (ls Listeners) Reset() {
	for _, l := range ls {
		l.Reset()
	}
}

func (ls Listeners) NewThread(threadID int, name, className string) {
	for _, l := range ls {
		l.NewThread(threadID, name, className)
	}
}

func (ls Listeners) NewMonitor(id int32, className string) {
	for _, l := range ls {
		l.NewMonitor(id, className)
	}
}

func (ls Listeners) MonitorEntry(threadID int, t0, t1 int64, monitorID int32, ownerThreadID int) {
	for _, l := range ls {
		l.MonitorEntry(threadID, t0, t1, monitorID, ownerThreadID)
	}
}

func (ls Listeners) MonitorExit(threadID int, t0, t1 int64, monitorID int32) {
	for _, l := range ls {
		l.MonitorExit(threadID, t0, t1, monitorID)
	}
}

func (ls Listeners) TimeAdjust(threadID int, t0, t1 int64) {
	for _, l := range ls {
		l.TimeAdjust(threadID, t0, t1)
	}
}
