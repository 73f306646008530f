package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// maxTimestamp is the largest value a 56-bit timestamp can carry.
const maxTimestamp = 1<<56 - 1

// Encoder builds frames in the layout Decoder reads. It is used to record
// streams and to produce fixtures.
type Encoder struct {
	opts Options
	buf  bytes.Buffer
	err  error
}

// NewEncoder creates an encoder for the given layout.
func NewEncoder(opts Options) *Encoder {
	return &Encoder{opts: opts}
}

// Err returns the first encoding error.
func (e *Encoder) Err() error {
	return e.err
}

// Frame returns a copy of the bytes written since the last Reset.
func (e *Encoder) Frame() []byte {
	return append([]byte(nil), e.buf.Bytes()...)
}

// Len returns the size of the pending frame.
func (e *Encoder) Len() int {
	return e.buf.Len()
}

// Reset discards the pending frame and error.
func (e *Encoder) Reset() {
	e.buf.Reset()
	e.err = nil
}

func (e *Encoder) code(c EventCode) *Encoder {
	e.buf.WriteByte(byte(c))
	return e
}

func (e *Encoder) char(v int) *Encoder {
	if v < 0 || v > 0xFFFF {
		e.fail(fmt.Errorf("value %d does not fit in 16 bits", v))
		v = 0
	}
	_ = binary.Write(&e.buf, binary.BigEndian, uint16(v))
	return e
}

func (e *Encoder) int32(v int32) *Encoder {
	_ = binary.Write(&e.buf, binary.BigEndian, v)
	return e
}

func (e *Encoder) timestamp(ts int64) *Encoder {
	if ts < 0 || ts > maxTimestamp {
		e.fail(fmt.Errorf("timestamp %d does not fit in 56 bits", ts))
		ts = 0
	}
	for shift := 48; shift >= 0; shift -= 8 {
		e.buf.WriteByte(byte(ts >> uint(shift)))
	}
	return e
}

func (e *Encoder) string(s string) *Encoder {
	if len(s) > 0xFFFF {
		e.fail(fmt.Errorf("string of %d bytes is too long", len(s)))
		s = s[:0xFFFF]
	}
	e.char(len(s))
	e.buf.WriteString(s)
	return e
}

func (e *Encoder) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

// SetThread makes following events belong to thread.
func (e *Encoder) SetThread(thread int) *Encoder {
	return e.code(SetFollowingEventsThread).char(thread)
}

// NewThread announces a thread and makes it current.
func (e *Encoder) NewThread(thread int, name, className string) *Encoder {
	return e.code(NewThread).char(thread).string(name).string(className)
}

// NewMonitor announces a monitor.
func (e *Encoder) NewMonitor(hash int32, className string) *Encoder {
	return e.code(NewMonitor).int32(hash).string(className)
}

// ResetCollectors asks listeners to drop collected data.
func (e *Encoder) ResetCollectors() *Encoder {
	return e.code(ResetCollectors)
}

// AdjustTime shifts open episodes of the current thread.
func (e *Encoder) AdjustTime(t0, t1 int64) *Encoder {
	e.code(AdjustTime).timestamp(t0)
	if e.opts.CollectTwoTimestamps {
		e.timestamp(t1)
	}
	return e
}

// MonitorEntry records the current thread blocking on hash held by owner.
func (e *Encoder) MonitorEntry(t0 int64, hash int32, owner int) *Encoder {
	e.code(MonitorEntry).timestamp(t0)
	if e.opts.MonitorInfo {
		e.int32(hash).int32(int32(owner))
	}
	return e
}

// MonitorExit records the current thread acquiring hash.
func (e *Encoder) MonitorExit(t0 int64, hash int32) *Encoder {
	e.code(MonitorExit).timestamp(t0)
	if e.opts.MonitorInfo {
		e.int32(hash)
	}
	return e
}

// WriteFrame writes frame to w with a uint32 length prefix.
func WriteFrame(w io.Writer, frame []byte) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(frame))); err != nil {
		return err
	}
	_, err := w.Write(frame)
	return err
}

// ReadFrame reads one length-prefixed frame. It returns io.EOF at a clean
// end of stream.
func ReadFrame(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, ErrTruncatedFrame
		}
		return nil, err
	}
	frame := make([]byte, n)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, ErrTruncatedFrame
	}
	return frame, nil
}
