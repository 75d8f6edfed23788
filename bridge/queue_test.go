package bridge

import (
	"strings"
	"sync"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// FIFO and drain discipline
// ---------------------------------------------------------------------------

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue()

	var order []string
	chA := q.Submit(func() any { order = append(order, "A"); return "A" })
	chB := q.Submit(func() any { order = append(order, "B"); return "B" })

	if q.Len() != 2 {
		t.Fatalf("Len = %d, want 2", q.Len())
	}

	if !q.DrainOne() {
		t.Fatal("first drain should run an action")
	}
	if !q.DrainOne() {
		t.Fatal("second drain should run an action")
	}

	resA := <-chA
	resB := <-chB
	if resA.Value != "A" || resB.Value != "B" {
		t.Errorf("results = %v, %v; want A, B", resA.Value, resB.Value)
	}
	if len(order) != 2 || order[0] != "A" || order[1] != "B" {
		t.Errorf("execution order = %v, want [A B]", order)
	}
}

func TestQueue_DrainOne_EmptyIsNoOp(t *testing.T) {
	q := NewQueue()
	if q.DrainOne() {
		t.Error("draining an empty queue should be a no-op")
	}
}

func TestQueue_OneActionPerDrain(t *testing.T) {
	q := NewQueue()
	for i := 0; i < 3; i++ {
		q.Submit(func() any { return nil })
	}

	q.DrainOne()
	if q.Len() != 2 {
		t.Errorf("Len after one drain = %d, want 2 (at most one action per tick)", q.Len())
	}
}

// ---------------------------------------------------------------------------
// Do: blocking submit from producer goroutines
// ---------------------------------------------------------------------------

func TestQueue_Do_BlocksUntilDrained(t *testing.T) {
	q := NewQueue()

	done := make(chan struct{})
	go func() {
		value, err := q.Do(func() any { return 42 })
		if err != nil {
			t.Errorf("Do returned error: %v", err)
		}
		if value != 42 {
			t.Errorf("Do value = %v, want 42", value)
		}
		close(done)
	}()

	// Drive ticks until the producer observes its result.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-done:
			return
		case <-deadline:
			t.Fatal("Do never completed")
		default:
			q.DrainOne()
		}
	}
}

func TestQueue_Do_ManyProducers(t *testing.T) {
	q := NewQueue()

	const producers = 8
	var wg sync.WaitGroup
	wg.Add(producers)
	for i := 0; i < producers; i++ {
		go func(n int) {
			defer wg.Done()
			value, err := q.Do(func() any { return n })
			if err != nil {
				t.Errorf("Do returned error: %v", err)
			}
			if value != n {
				t.Errorf("Do value = %v, want %d", value, n)
			}
		}(i)
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-finished:
			return
		case <-deadline:
			t.Fatal("producers never finished")
		default:
			q.DrainOne()
		}
	}
}

// ---------------------------------------------------------------------------
// Panic recovery
// ---------------------------------------------------------------------------

func TestQueue_PanicRecovered(t *testing.T) {
	q := NewQueue()

	ch := q.Submit(func() any { panic("fragment went sideways") })
	q.DrainOne()

	res := <-ch
	if res.Err == nil {
		t.Fatal("panicking action should surface an error")
	}
	if !strings.Contains(res.Err.Error(), "fragment went sideways") {
		t.Errorf("Err = %q, should carry the panic value", res.Err)
	}
}

func TestQueue_PanicDoesNotPoisonQueue(t *testing.T) {
	q := NewQueue()

	q.Submit(func() any { panic("boom") })
	ch := q.Submit(func() any { return "fine" })

	q.DrainOne()
	q.DrainOne()

	res := <-ch
	if res.Err != nil || res.Value != "fine" {
		t.Errorf("action after a panic should run normally, got (%v, %v)", res.Value, res.Err)
	}
}
