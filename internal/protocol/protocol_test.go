package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/lockgraph/pkg/errors"
)

// recorder renders every call as a line.
type recorder struct {
	calls []string
}

func (r *recorder) add(format string, args ...interface{}) {
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
}

func (r *recorder) BatchStart() { r.add("batchStart") }
func (r *recorder) BatchStop()  { r.add("batchStop") }
func (r *recorder) Reset()      { r.add("reset") }
func (r *recorder) NewThread(id int, name, className string) {
	r.add("newThread %d %s %s", id, name, className)
}
func (r *recorder) NewMonitor(id int32, className string) {
	r.add("newMonitor %d %s", id, className)
}
func (r *recorder) MonitorEntry(thread int, t0, t1 int64, monitor int32, owner int) {
	r.add("entry %d %d %d %d %d", thread, t0, t1, monitor, owner)
}
func (r *recorder) MonitorExit(thread int, t0, t1 int64, monitor int32) {
	r.add("exit %d %d %d %d", thread, t0, t1, monitor)
}
func (r *recorder) TimeAdjust(thread int, t0, t1 int64) {
	r.add("adjust %d %d %d", thread, t0, t1)
}

var fullOpts = Options{MonitorInfo: true}

func TestDecoder_RoundTrip(t *testing.T) {
	enc := NewEncoder(fullOpts)
	enc.NewThread(1, "main", "java.lang.Thread").
		NewThread(2, "worker-1", "java.lang.Thread").
		NewMonitor(100, "java.lang.Object").
		SetThread(1).
		MonitorEntry(1000, 100, 2).
		AdjustTime(25, 99).
		MonitorExit(1500, 100).
		ResetCollectors()
	require.NoError(t, enc.Err())

	rec := &recorder{}
	dec := NewDecoder(fullOpts, nil)
	require.NoError(t, dec.Decode(enc.Frame(), rec))

	assert.Equal(t, []string{
		"newThread 1 main java.lang.Thread",
		"newThread 2 worker-1 java.lang.Thread",
		"newMonitor 100 java.lang.Object",
		"entry 1 1000 0 100 2",
		"adjust 1 25 0",
		"exit 1 1500 0 100",
		"reset",
	}, rec.calls)
	assert.Equal(t, 1, dec.CurrentThread())
}

func TestDecoder_Layouts(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want []string
	}{
		{
			name: "two timestamps",
			opts: Options{CollectTwoTimestamps: true, MonitorInfo: true},
			want: []string{"adjust 3 10 20", "entry 3 5 0 7 -1", "exit 3 9 0 7"},
		},
		{
			name: "no monitor info",
			opts: Options{},
			want: []string{"adjust 3 10 0", "entry 3 5 0 -1 -1", "exit 3 9 0 -1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := NewEncoder(tt.opts)
			enc.SetThread(3).AdjustTime(10, 20).MonitorEntry(5, 7, -1).MonitorExit(9, 7)

			rec := &recorder{}
			require.NoError(t, NewDecoder(tt.opts, nil).Decode(enc.Frame(), rec))
			assert.Equal(t, tt.want, rec.calls)
		})
	}
}

func TestDecoder_CurrentThreadSpansFrames(t *testing.T) {
	dec := NewDecoder(fullOpts, nil)
	rec := &recorder{}
	assert.Equal(t, NoThread, dec.CurrentThread())

	require.NoError(t, dec.Decode(NewEncoder(fullOpts).SetThread(4).Frame(), rec))
	require.NoError(t, dec.Decode(NewEncoder(fullOpts).MonitorExit(77, 1).Frame(), rec))
	assert.Equal(t, []string{"exit 4 77 0 1"}, rec.calls)
}

func TestDecoder_LargeTimestamp(t *testing.T) {
	enc := NewEncoder(fullOpts)
	enc.SetThread(1).MonitorExit(maxTimestamp, 1)
	require.NoError(t, enc.Err())

	rec := &recorder{}
	require.NoError(t, NewDecoder(fullOpts, nil).Decode(enc.Frame(), rec))
	assert.Equal(t, []string{fmt.Sprintf("exit 1 %d 0 1", int64(maxTimestamp))}, rec.calls)
}

func TestDecoder_Errors(t *testing.T) {
	valid := NewEncoder(fullOpts).NewThread(1, "T", "C").Frame()

	t.Run("unknown event", func(t *testing.T) {
		frame := append(append([]byte{}, valid...), 99, 1, 2)
		rec := &recorder{}
		err := NewDecoder(fullOpts, nil).Decode(frame, rec)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUnknownEvent))
		assert.False(t, errors.Is(err, ErrTruncatedFrame))
		assert.True(t, apperrors.IsProtocolError(err))
		assert.Len(t, rec.calls, 1, "events before the bad one are delivered")
	})

	t.Run("truncated payload", func(t *testing.T) {
		full := NewEncoder(fullOpts).SetThread(1).MonitorEntry(10, 2, 3).Frame()
		for cut := 4; cut < len(full); cut++ {
			rec := &recorder{}
			err := NewDecoder(fullOpts, nil).Decode(full[:cut], rec)
			require.Error(t, err, "cut at %d", cut)
			assert.True(t, errors.Is(err, ErrTruncatedFrame))
			assert.Empty(t, rec.calls)
		}
	})

	t.Run("truncated string", func(t *testing.T) {
		rec := &recorder{}
		err := NewDecoder(fullOpts, nil).Decode(valid[:len(valid)-1], rec)
		assert.True(t, errors.Is(err, ErrTruncatedFrame))
		assert.Empty(t, rec.calls)
	})

	t.Run("empty frame", func(t *testing.T) {
		assert.NoError(t, NewDecoder(fullOpts, nil).Decode(nil, &recorder{}))
	})
}

func TestEncoder_RangeErrors(t *testing.T) {
	tests := []struct {
		name string
		fn   func(e *Encoder)
	}{
		{"negative timestamp", func(e *Encoder) { e.MonitorExit(-1, 1) }},
		{"wide timestamp", func(e *Encoder) { e.AdjustTime(1<<56, 0) }},
		{"wide thread id", func(e *Encoder) { e.SetThread(70000) }},
		{"negative thread id", func(e *Encoder) { e.NewThread(-1, "x", "y") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEncoder(fullOpts)
			tt.fn(e)
			assert.Error(t, e.Err())
			e.Reset()
			assert.NoError(t, e.Err())
			assert.Equal(t, 0, e.Len())
		})
	}
}

func TestFrameIO(t *testing.T) {
	var buf bytes.Buffer
	frames := [][]byte{
		NewEncoder(fullOpts).NewThread(1, "a", "b").Frame(),
		{},
		NewEncoder(fullOpts).SetThread(1).MonitorExit(3, 4).Frame(),
	}
	for _, f := range frames {
		require.NoError(t, WriteFrame(&buf, f))
	}

	for _, want := range frames {
		got, err := ReadFrame(&buf)
		require.NoError(t, err)
		assert.Equal(t, len(want), len(got))
		assert.True(t, bytes.Equal(want, got))
	}
	_, err := ReadFrame(&buf)
	assert.Equal(t, io.EOF, err)

	var short bytes.Buffer
	require.NoError(t, WriteFrame(&short, []byte{1, 2, 3}))
	_, err = ReadFrame(bytes.NewReader(short.Bytes()[:5]))
	assert.True(t, errors.Is(err, ErrTruncatedFrame))
	_, err = ReadFrame(bytes.NewReader([]byte{0, 0}))
	assert.True(t, errors.Is(err, ErrTruncatedFrame))
}

func TestListenersFanOut(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	ls := Listeners{a, b}
	ls.BatchStart()
	ls.NewMonitor(1, "X")
	ls.TimeAdjust(1, 2, 3)
	ls.BatchStop()

	want := []string{"batchStart", "newMonitor 1 X", "adjust 1 2 3", "batchStop"}
	assert.Equal(t, want, a.calls)
	assert.Equal(t, want, b.calls)
}

func TestEventCodeString(t *testing.T) {
	assert.Equal(t, "METHOD_ENTRY_MONITOR", MonitorEntry.String())
	assert.Equal(t, "EVENT_99", EventCode(99).String())
}
