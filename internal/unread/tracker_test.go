package unread

import (
	"sync"
	"testing"
)

func TestIncrementAndReset(t *testing.T) {
	tr := New()
	if tr.Get("c1") != 0 {
		t.Fatalf("unknown chat count = %d, want 0", tr.Get("c1"))
	}
	tr.Increment("c1")
	if n := tr.Increment("c1"); n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
	if !tr.Reset("c1") {
		t.Error("Reset should report a change")
	}
	if tr.Reset("c1") {
		t.Error("second Reset should report no change")
	}
	if tr.Get("c1") != 0 {
		t.Errorf("count after reset = %d, want 0", tr.Get("c1"))
	}
}

func TestSetClampsNegative(t *testing.T) {
	tr := New()
	tr.Set("c1", 5)
	tr.Set("c2", -3)
	if tr.Get("c1") != 5 || tr.Get("c2") != 0 {
		t.Errorf("counts = %v", tr.Snapshot())
	}
	if tr.Add("c1", -2) != 5 {
		t.Error("Add with a negative delta must not lower the count")
	}
	if tr.Total() != 5 {
		t.Errorf("total = %d, want 5", tr.Total())
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := New()
	tr.Increment("c1")
	snap := tr.Snapshot()
	snap["c1"] = 99
	if tr.Get("c1") != 1 {
		t.Error("snapshot mutation leaked into tracker")
	}
}

func TestConcurrentIncrements(t *testing.T) {
	tr := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Increment("c1")
		}()
	}
	wg.Wait()
	if tr.Get("c1") != 50 {
		t.Errorf("count = %d, want 50", tr.Get("c1"))
	}
}
