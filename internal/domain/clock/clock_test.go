package clock

import (
	"sync"
	"testing"
	"time"
)

func TestMonotonic_StrictlyIncreasingWithFrozenBase(t *testing.T) {
	base := NewFixed(time.UnixMilli(1_000))
	m := NewMonotonic(base)

	a := m.NowMillis()
	b := m.NowMillis()
	c := m.NowMillis()
	if !(a < b && b < c) {
		t.Fatalf("expected strictly increasing stamps, got %d %d %d", a, b, c)
	}
	if a != 1_000 {
		t.Errorf("expected first stamp to equal base time, got %d", a)
	}
}

func TestMonotonic_FollowsBaseWhenAhead(t *testing.T) {
	base := NewFixed(time.UnixMilli(1_000))
	m := NewMonotonic(base)
	_ = m.NowMillis()
	base.Advance(time.Second)
	if got := m.NowMillis(); got != 2_000 {
		t.Errorf("expected 2000, got %d", got)
	}
}

func TestMonotonic_Observe(t *testing.T) {
	m := NewMonotonic(NewFixed(time.UnixMilli(10)))
	m.Observe(500)
	if got := m.NowMillis(); got != 501 {
		t.Errorf("expected 501 after observing 500, got %d", got)
	}
}

func TestMonotonic_ConcurrentUnique(t *testing.T) {
	m := NewMonotonic(NewFixed(time.UnixMilli(0)))
	const n = 200
	var (
		mu   sync.Mutex
		seen = make(map[int64]bool, n)
		wg   sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v := m.NowMillis()
			mu.Lock()
			seen[v] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(seen) != n {
		t.Errorf("expected %d unique stamps, got %d", n, len(seen))
	}
}
