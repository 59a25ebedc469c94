package clock

import (
	"sync"
	"time"
)

// Timer matches the timer contract used by the retry driver
// (github.com/cenkalti/backoff/v4 Timer).
type Timer interface {
	Start(duration time.Duration)
	Stop()
	C() <-chan time.Time
}

type Clock interface {
	Now() time.Time
	NewTimer() Timer
}

type realClock struct{}

// Real returns the wall clock.
func Real() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) NewTimer() Timer {
	return &realTimer{}
}

type realTimer struct {
	timer *time.Timer
}

func (t *realTimer) Start(duration time.Duration) {
	if t.timer == nil {
		t.timer = time.NewTimer(duration)
		return
	}
	t.timer.Reset(duration)
}

func (t *realTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *realTimer) C() <-chan time.Time {
	return t.timer.C
}

// Fake is a manually driven clock. Timers created from it fire immediately
// and advance the clock by the requested duration, so retry waits cost no
// real time while still being observable through Slept.
type Fake struct {
	mu    sync.Mutex
	now   time.Time
	slept []time.Duration
}

func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

// Slept returns every duration a timer was started with, in order.
func (f *Fake) Slept() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, len(f.slept))
	copy(out, f.slept)
	return out
}

// TotalSlept returns the sum of Slept.
func (f *Fake) TotalSlept() time.Duration {
	var total time.Duration
	for _, d := range f.Slept() {
		total += d
	}
	return total
}

func (f *Fake) NewTimer() Timer {
	return &fakeTimer{clock: f, ch: make(chan time.Time, 1)}
}

type fakeTimer struct {
	clock *Fake
	ch    chan time.Time
}

func (t *fakeTimer) Start(duration time.Duration) {
	t.clock.mu.Lock()
	t.clock.slept = append(t.clock.slept, duration)
	t.clock.now = t.clock.now.Add(duration)
	now := t.clock.now
	t.clock.mu.Unlock()

	select {
	case t.ch <- now:
	default:
	}
}

func (t *fakeTimer) Stop() {}

func (t *fakeTimer) C() <-chan time.Time {
	return t.ch
}
