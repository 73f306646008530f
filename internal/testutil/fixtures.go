// Package testutil provides utilities for testing.
package testutil

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/lockgraph/internal/protocol"
	"github.com/lockgraph/pkg/compression"
)

// Options is the frame layout used by the fixtures.
var Options = protocol.Options{MonitorInfo: true}

// ScenarioFrame announces T1 and T2 and monitor 100, then has T1 wait 500
// counts for the monitor held by T2.
func ScenarioFrame(t *testing.T) []byte {
	t.Helper()
	enc := protocol.NewEncoder(Options)
	enc.NewThread(1, "T1", "C").
		NewThread(2, "T2", "C").
		NewMonitor(100, "java.lang.Object").
		SetThread(1).
		MonitorEntry(1000, 100, 2).
		MonitorExit(1500, 100)
	if err := enc.Err(); err != nil {
		t.Fatalf("failed to encode scenario: %v", err)
	}
	return enc.Frame()
}

// ContentionFrame has thread waiter wait end-start counts on monitor held by
// owner. Both threads must have been announced.
func ContentionFrame(t *testing.T, waiter, owner int, monitor int32, start, end int64) []byte {
	t.Helper()
	enc := protocol.NewEncoder(Options)
	enc.SetThread(waiter).MonitorEntry(start, monitor, owner).MonitorExit(end, monitor)
	if err := enc.Err(); err != nil {
		t.Fatalf("failed to encode contention: %v", err)
	}
	return enc.Frame()
}

// Recording concatenates frames in the length-prefixed file layout.
func Recording(t *testing.T, frames ...[]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, f := range frames {
		if err := protocol.WriteFrame(&buf, f); err != nil {
			t.Fatalf("failed to write frame: %v", err)
		}
	}
	return buf.Bytes()
}

// WriteRecording writes frames to a file in a temp dir, compressed with c.
func WriteRecording(t *testing.T, c compression.Type, frames ...[]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "frames.bin"+c.Extension())
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create recording: %v", err)
	}
	defer f.Close()

	w, err := compression.NewWriter(f, c, compression.LevelFastest)
	if err != nil {
		t.Fatalf("failed to create writer: %v", err)
	}
	if _, err := w.Write(Recording(t, frames...)); err != nil {
		t.Fatalf("failed to write recording: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}
	return path
}
