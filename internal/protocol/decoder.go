package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"

	apperrors "github.com/lockgraph/pkg/errors"
	"github.com/lockgraph/pkg/utils"
)

// Decoding errors, returned wrapped in a PROTOCOL_ERROR AppError.
var (
	ErrTruncatedFrame = errors.New("truncated frame")
	ErrUnknownEvent   = errors.New("unknown event code")
)

// Options mirror the session settings that change the frame layout.
type Options struct {
	// CollectTwoTimestamps adds a second timestamp to ADJUST_TIME.
	CollectTwoTimestamps bool
	// MonitorInfo adds the monitor hash and owner to monitor events.
	MonitorInfo bool
}

// reader wraps a frame and keeps the first read error.
type reader struct {
	*bytes.Reader
	err error
}

func (r *reader) read(v interface{}) {
	if r.err != nil {
		return
	}
	if err := binary.Read(r.Reader, binary.BigEndian, v); err != nil {
		r.err = err
	}
}

func (r *reader) char() int {
	var v uint16
	r.read(&v)
	return int(v)
}

func (r *reader) int32() int32 {
	var v int32
	r.read(&v)
	return v
}

func (r *reader) timestamp() int64 {
	var b [7]byte
	r.read(&b)
	var ts int64
	for _, c := range b {
		ts = ts<<8 | int64(c)
	}
	return ts
}

func (r *reader) string() string {
	n := r.char()
	if r.err != nil {
		return ""
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.Reader, buf); err != nil {
		r.err = err
		return ""
	}
	return string(buf)
}

// Decoder turns frames into listener calls. The current thread carries over
// from one frame to the next, so a Decoder must only be fed frames of one
// stream, in order.
type Decoder struct {
	opts          Options
	logger        utils.Logger
	currentThread int
}

// NewDecoder creates a decoder.
func NewDecoder(opts Options, logger utils.Logger) *Decoder {
	if logger == nil {
		logger = &utils.NullLogger{}
	}
	return &Decoder{opts: opts, logger: logger, currentThread: NoThread}
}

// CurrentThread returns the thread following events are attributed to.
func (d *Decoder) CurrentThread() int {
	return d.currentThread
}

// Decode delivers every event of frame to l. Decoding stops at the first
// malformed event; events before it have already been delivered.
func (d *Decoder) Decode(frame []byte, l Listener) error {
	r := &reader{Reader: bytes.NewReader(frame)}

	for r.Len() > 0 {
		pos := r.Size() - int64(r.Len())
		code, _ := r.ReadByte()

		switch EventCode(code) {
		case SetFollowingEventsThread:
			thread := r.char()
			if r.err == nil {
				d.currentThread = thread
			}
		case NewThread:
			thread := r.char()
			name := r.string()
			className := r.string()
			if r.err == nil {
				l.NewThread(thread, name, className)
				d.currentThread = thread
			}
		case NewMonitor:
			hash := r.int32()
			className := r.string()
			if r.err == nil {
				l.NewMonitor(hash, className)
			}
		case ResetCollectors:
			l.Reset()
		case AdjustTime:
			t0 := r.timestamp()
			var t1 int64
			if d.opts.CollectTwoTimestamps {
				t1 = r.timestamp()
			}
			if r.err == nil {
				l.TimeAdjust(d.currentThread, t0, t1)
			}
		case MonitorEntry:
			t0 := r.timestamp()
			hash, owner := NoMonitor, NoThread
			if d.opts.MonitorInfo {
				hash = r.int32()
				owner = int(r.int32())
			}
			if r.err == nil {
				l.MonitorEntry(d.currentThread, t0, 0, hash, owner)
			}
		case MonitorExit:
			t0 := r.timestamp()
			hash := NoMonitor
			if d.opts.MonitorInfo {
				hash = r.int32()
			}
			if r.err == nil {
				l.MonitorExit(d.currentThread, t0, 0, hash)
			}
		default:
			d.logger.Error("unknown event type %d at %d", code, pos)
			return apperrors.Wrap(apperrors.CodeProtocolError,
				EventCode(code).String(), ErrUnknownEvent)
		}

		if r.err != nil {
			return apperrors.Wrap(apperrors.CodeProtocolError,
				EventCode(code).String(), ErrTruncatedFrame)
		}
	}
	return nil
}
