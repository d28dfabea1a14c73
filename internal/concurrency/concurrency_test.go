package concurrency

import (
	"sync"
	"testing"
	"time"
)

func TestAdmitsUpToCapacity(t *testing.T) {
	g := New(2)

	if !g.TryAdmit(1) {
		t.Fatal("expected user 1 to be admitted")
	}
	if !g.TryAdmit(2) {
		t.Fatal("expected user 2 to be admitted")
	}
	if g.TryAdmit(3) {
		t.Fatal("expected user 3 to be rejected: at capacity")
	}
}

func TestAlreadyAdmittedUserAlwaysReenters(t *testing.T) {
	g := New(1)

	if !g.TryAdmit(1) {
		t.Fatal("expected user 1 to be admitted")
	}
	if !g.TryAdmit(1) {
		t.Error("expected already-admitted user to re-enter despite being at capacity")
	}
}

func TestReleaseFreesCapacity(t *testing.T) {
	g := New(1)
	g.TryAdmit(1)
	g.Release(1)

	if !g.TryAdmit(2) {
		t.Error("expected capacity to be freed after release")
	}
}

func TestPerUserSerialization(t *testing.T) {
	g := New(10)

	var mu sync.Mutex
	order := []int{}

	var wg sync.WaitGroup
	wg.Add(2)

	release1 := g.AcquireUserSlot(7)

	go func() {
		defer wg.Done()
		release2 := g.AcquireUserSlot(7) // should block until release1 is called
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
		release2()
	}()

	go func() {
		defer wg.Done()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
		release1()
	}()

	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("expected strict serialization [1 2], got %v", order)
	}
}

func TestDifferentUsersDoNotBlockEachOther(t *testing.T) {
	g := New(10)

	release1 := g.AcquireUserSlot(1)
	defer release1()

	done := make(chan struct{})
	go func() {
		release2 := g.AcquireUserSlot(2)
		release2()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("user 2 should not block on user 1's slot")
	}
}
