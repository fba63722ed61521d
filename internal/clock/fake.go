package clock

import (
	"sync"
	"time"
)

// Fake is a manually advanced Clock for tests. Time stands still until
// Advance is called; due AfterFunc callbacks then run synchronously on
// the advancing goroutine, earliest deadline first, with Now reporting
// each callback's deadline.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	pending []*fakeTimer
	changed *sync.Cond
}

type fakeTimer struct {
	at    time.Time
	fn    func()
	ch    chan time.Time
	every time.Duration
}

// NewFake returns a Fake clock set to start.
func NewFake(start time.Time) *Fake {
	f := &Fake{now: start}
	f.changed = sync.NewCond(&f.mu)
	return f
}

// Now returns the current fake time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// AfterFunc registers fn to run once the clock passes now+d. A
// non-positive d runs fn in a new goroutine immediately.
func (f *Fake) AfterFunc(d time.Duration, fn func()) *Timer {
	if d <= 0 {
		go fn()
		return &Timer{stop: func() bool { return false }}
	}
	t := f.add(&fakeTimer{fn: fn}, d)
	return &Timer{stop: func() bool { return f.remove(t) }}
}

// After returns a channel that receives once the clock passes now+d.
func (f *Fake) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- f.Now()
		return ch
	}
	f.add(&fakeTimer{ch: ch}, d)
	return ch
}

// NewTicker returns a ticker firing every d of fake time.
func (f *Fake) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	ch := make(chan time.Time, 1)
	t := f.add(&fakeTimer{ch: ch, every: d}, d)
	return &Ticker{C: ch, stop: func() { f.remove(t) }}
}

func (f *Fake) add(t *fakeTimer, d time.Duration) *fakeTimer {
	f.mu.Lock()
	defer f.mu.Unlock()
	t.at = f.now.Add(d)
	f.pending = append(f.pending, t)
	f.changed.Broadcast()
	return t
}

func (f *Fake) remove(t *fakeTimer) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, p := range f.pending {
		if p == t {
			f.pending = append(f.pending[:i], f.pending[i+1:]...)
			f.changed.Broadcast()
			return true
		}
	}
	return false
}

// Advance moves the clock forward by d, firing everything that falls due.
// Callbacks must not call Advance themselves.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		f.mu.Lock()
		next := -1
		for i, p := range f.pending {
			if p.at.After(target) {
				continue
			}
			if next < 0 || p.at.Before(f.pending[next].at) {
				next = i
			}
		}
		if next < 0 {
			f.now = target
			f.mu.Unlock()
			return
		}
		t := f.pending[next]
		if t.at.After(f.now) {
			f.now = t.at
		}
		if t.every > 0 {
			t.at = t.at.Add(t.every)
		} else {
			f.pending = append(f.pending[:next], f.pending[next+1:]...)
		}
		fired := f.now
		f.mu.Unlock()

		if t.fn != nil {
			t.fn()
			continue
		}
		select {
		case t.ch <- fired:
		default:
		}
	}
}

// PendingCount returns the number of registered, unfired timers and tickers.
func (f *Fake) PendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// WaitForTimers blocks until at least n timers are pending. It closes the
// race between a goroutine arming a timer and the test advancing time.
func (f *Fake) WaitForTimers(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for len(f.pending) < n {
		f.changed.Wait()
	}
}
