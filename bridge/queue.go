// Package bridge connects the transport to the execution engine and the
// environment scanner: envelope routing, the action marshaling queue that
// defers host-mutating work onto the editor's update tick, and in-flight
// request bookkeeping.
package bridge

import (
	"fmt"
	"sync"
)

// Result holds the return value of one queued action.
type Result struct {
	Value any
	Err   error
}

// queuedAction is a unit of work with its single-shot result sink.
type queuedAction struct {
	fn   func() any
	done chan Result
}

// Queue is the thread-safe hand-off point between the network context and
// the host's single update thread. Producers enqueue from any goroutine;
// the host tick drains at most one action per call to DrainOne, keeping
// per-tick latency predictable. FIFO, unbounded.
type Queue struct {
	mu      sync.Mutex
	actions []*queuedAction
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Submit enqueues fn for execution on the host tick and returns the
// channel its single-shot result will be delivered on. Enqueue order is
// execution order, so callers that need cross-request FIFO must call
// Submit in arrival order.
func (q *Queue) Submit(fn func() any) <-chan Result {
	a := &queuedAction{
		fn:   fn,
		done: make(chan Result, 1),
	}

	q.mu.Lock()
	q.actions = append(q.actions, a)
	q.mu.Unlock()

	return a.done
}

// Do submits fn and blocks until it completes. Returns the function's
// result and any error (including recovered panics). Never call Do from
// the tick goroutine itself; the tick would deadlock waiting on its own
// drain.
func (q *Queue) Do(fn func() any) (any, error) {
	result := <-q.Submit(fn)
	return result.Value, result.Err
}

// DrainOne executes the oldest queued action, if any. Called exactly once
// per host tick, on the host thread. Reports whether an action ran.
func (q *Queue) DrainOne() bool {
	q.mu.Lock()
	if len(q.actions) == 0 {
		q.mu.Unlock()
		return false
	}
	a := q.actions[0]
	q.actions = q.actions[1:]
	q.mu.Unlock()

	a.done <- q.execute(a.fn)
	return true
}

// execute runs an action, recovering from panics so a misbehaving
// fragment can never take down the host process.
func (q *Queue) execute(fn func() any) Result {
	var result Result
	func() {
		defer func() {
			if r := recover(); r != nil {
				result.Err = fmt.Errorf("%v", r)
			}
		}()
		result.Value = fn()
	}()
	return result
}

// Len reports the number of pending actions.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.actions)
}
