package sched

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestDriverFiresTimers(t *testing.T) {
	d := New()
	var count atomic.Int64
	d.Schedule(1000, 0, func() { count.Add(1) })

	if err := d.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	d.Stop()

	got := count.Load()
	if got < 10 {
		t.Errorf("ticks = %d, want at least 10 in 50ms at 1kHz", got)
	}
}

func TestDoubleRunRejected(t *testing.T) {
	d := New()
	d.Schedule(100, 0, func() {})
	if err := d.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	defer d.Stop()
	if err := d.Run(); err != ErrAlreadyRunning {
		t.Errorf("second Run = %v, want ErrAlreadyRunning", err)
	}
}

func TestPriorityOrderWithinPass(t *testing.T) {
	d := New()
	var order []int
	done := make(chan struct{})
	d.Schedule(200, 1, func() {
		if len(order) < 10 {
			order = append(order, 1)
		}
	})
	d.Schedule(200, 5, func() {
		if len(order) < 10 {
			order = append(order, 5)
			if len(order) >= 10 {
				close(done)
			}
		}
	})

	if err := d.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
	d.Stop()

	// Both timers share a frequency, so each pass must run the
	// high-priority one first.
	for i := 0; i+1 < len(order); i += 2 {
		if order[i] != 5 {
			t.Fatalf("pass %d ran priority %d first, want 5 (order %v)", i/2, order[i], order)
		}
	}
}

func TestStopIsIdempotent(t *testing.T) {
	d := New()
	d.Schedule(100, 0, func() {})
	if err := d.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	d.Stop()
	d.Stop()
}
