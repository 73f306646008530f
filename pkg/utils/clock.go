// Package utils provides logging and clock helpers shared by every package.
package utils

import (
	"sync"
	"time"
)

// Clock abstracts time so snapshot stamps and refresh throttling can be
// tested deterministically.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	// NewTicker drives periodic work such as archiving and staleness checks.
	NewTicker(d time.Duration) *time.Ticker
}

// RealClock implements Clock using the standard time package.
type RealClock struct{}

// NewRealClock creates a new RealClock instance.
func NewRealClock() *RealClock {
	return &RealClock{}
}

func (c *RealClock) Now() time.Time                         { return time.Now() }
func (c *RealClock) Since(t time.Time) time.Duration        { return time.Since(t) }
func (c *RealClock) NewTicker(d time.Duration) *time.Ticker { return time.NewTicker(d) }

// MockClock is a manually advanced Clock. It is safe for concurrent use, so
// a test may advance it while a session goroutine reads it.
type MockClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockClock creates a MockClock starting at startTime.
func NewMockClock(startTime time.Time) *MockClock {
	return &MockClock{now: startTime}
}

// Now returns the mock current time.
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Since returns the duration since t in mock time.
func (c *MockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// NewTicker returns a real ticker; mock time does not drive it.
func (c *MockClock) NewTicker(d time.Duration) *time.Ticker {
	return time.NewTicker(d)
}

// Advance moves the mock clock forward by d.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Set moves the mock clock to t.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}
