package bridge

import (
	"sync"
	"time"

	"github.com/tliron/commonlog"
)

// pendingRequest tracks one in-flight command or query.
type pendingRequest struct {
	envType  string
	action   string
	received time.Time
}

// describe renders the request for log lines.
func (p *pendingRequest) describe() string {
	if p.action == "" {
		return p.envType
	}
	return p.envType + " " + p.action
}

// PendingStore is the dispatcher's in-flight request bookkeeping: a map
// from correlation id to pending entry, cleared on response or connection
// loss. Completing an entry exactly once is what enforces the
// one-response-per-request invariant.
type PendingStore struct {
	mu       sync.Mutex
	requests map[string]*pendingRequest
	log      commonlog.Logger
}

// NewPendingStore creates an empty store.
func NewPendingStore() *PendingStore {
	return &PendingStore{
		requests: make(map[string]*pendingRequest),
		log:      commonlog.GetLogger("tether.pending"),
	}
}

// Add registers an in-flight request. Reports false if the correlation id
// is already pending (a duplicate envelope).
func (s *PendingStore) Add(id, envType, action string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.requests[id]; exists {
		return false
	}
	s.requests[id] = &pendingRequest{
		envType:  envType,
		action:   action,
		received: time.Now(),
	}
	return true
}

// Describe renders an in-flight request for log lines.
func (s *PendingStore) Describe(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return "", false
	}
	return req.describe(), true
}

// Complete removes an in-flight entry. Reports false if the id is not
// pending — the response was already sent, or the entry was cleared on
// connection loss.
func (s *PendingStore) Complete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.requests[id]; !exists {
		return false
	}
	delete(s.requests, id)
	return true
}

// Clear drops every in-flight entry and reports how many were dropped.
// Called on connection loss; the orchestrator's side of those requests is
// gone.
func (s *PendingStore) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.requests)
	s.requests = make(map[string]*pendingRequest)
	return n
}

// Len reports the number of in-flight requests.
func (s *PendingStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// Sweep removes entries older than the TTL and reports how many were
// reclaimed. An entry this old means its response path was abandoned.
func (s *PendingStore) Sweep(ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-ttl)
	removed := 0
	for id, req := range s.requests {
		if req.received.Before(cutoff) {
			s.log.Warningf("reclaiming abandoned %s (id %s)", req.describe(), id)
			delete(s.requests, id)
			removed++
		}
	}
	return removed
}

// StartSweeper runs periodic TTL sweeps in the background.
// Returns a stop function.
func (s *PendingStore) StartSweeper(interval, ttl time.Duration) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				s.Sweep(ttl)
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	return func() { close(done) }
}
