package ring

import (
	"sync"
	"testing"
)

func TestNewPanicsOnBadDepth(t *testing.T) {
	for _, depth := range []int{0, -1, 3, 24} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("New(%d) did not panic", depth)
				}
			}()
			New[int](depth)
		}()
	}
}

func TestReserveCommitAdvance(t *testing.T) {
	r := New[int](4)

	if r.Len() != 0 {
		t.Fatalf("Len = %d, want 0", r.Len())
	}
	if r.Head() != nil {
		t.Fatal("Head on empty ring should be nil")
	}

	for i := 0; i < 4; i++ {
		slot := r.TryReserve()
		if slot == nil {
			t.Fatalf("TryReserve failed at %d", i)
		}
		*slot = i * 10
		r.Commit()
	}

	if r.TryReserve() != nil {
		t.Error("TryReserve on full ring should return nil")
	}

	for i := 0; i < 4; i++ {
		h := r.Head()
		if h == nil {
			t.Fatalf("Head nil at %d", i)
		}
		if *h != i*10 {
			t.Errorf("Head = %d, want %d", *h, i*10)
		}
		r.Advance()
	}

	if r.Len() != 0 {
		t.Errorf("Len after drain = %d, want 0", r.Len())
	}
}

func TestReserveIsIdempotentUntilCommit(t *testing.T) {
	r := New[int](2)
	a := r.TryReserve()
	b := r.TryReserve()
	if a != b {
		t.Error("second TryReserve before Commit should return the same slot")
	}
	r.Commit()
	c := r.TryReserve()
	if c == a {
		t.Error("TryReserve after Commit should return the next slot")
	}
}

func TestAbortReleasesSlot(t *testing.T) {
	r := New[int](2)
	slot := r.TryReserve()
	*slot = 7
	r.Abort()
	if r.Len() != 0 {
		t.Errorf("Len after Abort = %d, want 0", r.Len())
	}
	if got := r.Free(); got != 2 {
		t.Errorf("Free after Abort = %d, want 2", got)
	}
}

func TestAtAndTail(t *testing.T) {
	r := New[int](8)
	for i := 0; i < 5; i++ {
		s := r.TryReserve()
		*s = i
		r.Commit()
	}
	for i := 0; i < 5; i++ {
		p := r.At(i)
		if p == nil || *p != i {
			t.Errorf("At(%d) = %v, want %d", i, p, i)
		}
	}
	if r.At(5) != nil {
		t.Error("At past tail should be nil")
	}
	if tl := r.Tail(); tl == nil || *tl != 4 {
		t.Errorf("Tail = %v, want 4", tl)
	}
}

func TestWrapAround(t *testing.T) {
	r := New[int](4)
	for round := 0; round < 20; round++ {
		s := r.TryReserve()
		if s == nil {
			t.Fatalf("TryReserve failed at round %d", round)
		}
		*s = round
		r.Commit()
		h := r.Head()
		if h == nil || *h != round {
			t.Fatalf("round %d: Head = %v", round, h)
		}
		r.Advance()
	}
}

func TestReset(t *testing.T) {
	r := New[int](4)
	for i := 0; i < 3; i++ {
		s := r.TryReserve()
		*s = i
		r.Commit()
	}
	r.Reset()
	if r.Len() != 0 {
		t.Errorf("Len after Reset = %d, want 0", r.Len())
	}
	if r.Head() != nil {
		t.Error("Head after Reset should be nil")
	}
}

func TestConcurrentProducerConsumer(t *testing.T) {
	const n = 10000
	r := New[int](32)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < n; {
			slot := r.TryReserve()
			if slot == nil {
				continue
			}
			*slot = i
			r.Commit()
			i++
		}
	}()

	var got []int
	go func() {
		defer wg.Done()
		for len(got) < n {
			h := r.Head()
			if h == nil {
				continue
			}
			got = append(got, *h)
			r.Advance()
		}
	}()

	wg.Wait()

	for i, v := range got {
		if v != i {
			t.Fatalf("entry %d = %d, want %d (FIFO violated)", i, v, i)
		}
	}
}
