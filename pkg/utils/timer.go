package utils

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Phase is one timed step of a pipeline run.
type Phase struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration"`
	done     bool
	start    time.Time
}

// PhaseTimer stops one phase. It is meant to be used with defer.
type PhaseTimer struct {
	timer *Timer
	phase *Phase
}

// Stop records the phase duration. Only the first call has effect.
func (pt *PhaseTimer) Stop() time.Duration {
	return pt.timer.stop(pt.phase)
}

// Timer records the phases of one run, such as the replay of a recording or
// the archiving of a snapshot. It is safe for concurrent use.
type Timer struct {
	mu     sync.Mutex
	name   string
	clock  Clock
	start  time.Time
	phases []*Phase
}

// TimerOption configures a Timer.
type TimerOption func(*Timer)

// WithClock sets the clock the timer reads.
func WithClock(clock Clock) TimerOption {
	return func(t *Timer) {
		if clock != nil {
			t.clock = clock
		}
	}
}

// NewTimer creates a timer named name.
func NewTimer(name string, opts ...TimerOption) *Timer {
	t := &Timer{name: name, clock: NewRealClock()}
	for _, opt := range opts {
		opt(t)
	}
	t.start = t.clock.Now()
	return t
}

// Start begins a phase. Restarting a finished phase name adds a new entry.
func (t *Timer) Start(name string) *PhaseTimer {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := &Phase{Name: name, start: t.clock.Now()}
	t.phases = append(t.phases, p)
	return &PhaseTimer{timer: t, phase: p}
}

func (t *Timer) stop(p *Phase) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !p.done {
		p.Duration = t.clock.Since(p.start)
		p.done = true
	}
	return p.Duration
}

// Time runs fn as phase name.
func (t *Timer) Time(name string, fn func() error) error {
	pt := t.Start(name)
	defer pt.Stop()
	return fn()
}

// Duration returns the summed duration of every finished phase called name.
func (t *Timer) Duration(name string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	var d time.Duration
	for _, p := range t.phases {
		if p.Name == name && p.done {
			d += p.Duration
		}
	}
	return d
}

// Total returns the time since the timer was created.
func (t *Timer) Total() time.Duration {
	return t.clock.Since(t.start)
}

// Phases returns copies of the finished phases in start order.
func (t *Timer) Phases() []Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Phase, 0, len(t.phases))
	for _, p := range t.phases {
		if p.done {
			out = append(out, Phase{Name: p.Name, Duration: p.Duration})
		}
	}
	return out
}

// Fields returns the phase durations in milliseconds, ready for
// Logger.WithFields.
func (t *Timer) Fields() map[string]interface{} {
	fields := map[string]interface{}{"total_ms": t.Total().Milliseconds()}
	for _, p := range t.Phases() {
		fields[p.Name+"_ms"] = p.Duration.Milliseconds()
	}
	return fields
}

// Summary renders the phases one per line.
func (t *Timer) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s:\n", t.name)
	for _, p := range t.Phases() {
		fmt.Fprintf(&sb, "  %-12s %v\n", p.Name, p.Duration)
	}
	fmt.Fprintf(&sb, "  %-12s %v\n", "total", t.Total())
	return sb.String()
}

// Log writes the timing as one debug entry of logger.
func (t *Timer) Log(logger Logger) {
	if logger == nil {
		return
	}
	logger.WithFields(t.Fields()).Debug("%s finished in %v", t.name, t.Total())
}
