package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/alfredjeanlab/gatekeeper/internal/clock"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var epoch = time.Date(2026, 1, 10, 22, 0, 0, 0, time.UTC)

func TestSchedule_Fires(t *testing.T) {
	c := clock.NewFake(epoch)
	s := New(c)
	var fired atomic.Int32
	s.Schedule("aa", epoch.Add(10*time.Minute), func() { fired.Add(1) })

	if at, ok := s.Deadline("aa"); !ok || !at.Equal(epoch.Add(10*time.Minute)) {
		t.Fatalf("Deadline = %v, %v", at, ok)
	}
	c.Advance(9 * time.Minute)
	if fired.Load() != 0 {
		t.Fatal("fired early")
	}
	c.Advance(time.Minute)
	if fired.Load() != 1 {
		t.Fatalf("fired = %d, want 1", fired.Load())
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d after fire", s.Len())
	}
}

func TestSchedule_ReplaceSupersedes(t *testing.T) {
	c := clock.NewFake(epoch)
	s := New(c)
	var first, second atomic.Int32
	s.Schedule("aa", epoch.Add(10*time.Minute), func() { first.Add(1) })
	s.Schedule("aa", epoch.Add(60*time.Minute), func() { second.Add(1) })

	c.Advance(30 * time.Minute)
	if first.Load() != 0 {
		t.Fatal("superseded callback fired")
	}
	c.Advance(30 * time.Minute)
	if second.Load() != 1 {
		t.Fatalf("replacement fired %d times, want 1", second.Load())
	}
}

func TestCancel(t *testing.T) {
	c := clock.NewFake(epoch)
	s := New(c)
	var fired atomic.Int32
	s.Schedule("aa", epoch.Add(time.Minute), func() { fired.Add(1) })
	if !s.Cancel("aa") {
		t.Fatal("Cancel reported nothing pending")
	}
	if s.Cancel("aa") {
		t.Error("second Cancel should report false")
	}
	c.Advance(time.Hour)
	if fired.Load() != 0 {
		t.Error("cancelled callback fired")
	}
}

func TestStop(t *testing.T) {
	c := clock.NewFake(epoch)
	s := New(c)
	var fired atomic.Int32
	s.Schedule("a", epoch.Add(time.Minute), func() { fired.Add(1) })
	s.Schedule("b", epoch.Add(2*time.Minute), func() { fired.Add(1) })
	s.Stop()
	s.Schedule("c", epoch.Add(time.Minute), func() { fired.Add(1) })
	c.Advance(time.Hour)
	if fired.Load() != 0 {
		t.Errorf("fired %d callbacks after Stop", fired.Load())
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d after Stop", s.Len())
	}
}

func TestSchedule_PastDeadline(t *testing.T) {
	s := New(clock.Real())
	done := make(chan struct{})
	s.Schedule("aa", time.Now().Add(-time.Second), func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("past deadline never fired")
	}
}
