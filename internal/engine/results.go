package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openpredict/marketd/internal/domain"
)

// ResultStore is the in-memory trade result retainer used when no shared
// cache is configured. Entries expire after their TTL, and the oldest
// entries are evicted once the store exceeds its size cap. A miss cannot
// distinguish an expired result from a request never seen, so lookups
// fail with ErrStaleRequest.
type ResultStore struct {
	mu      sync.Mutex
	results map[string]storedResult
	order   []string // insertion order, for size-cap eviction
	max     int
}

type storedResult struct {
	res       domain.TradeResult
	expiresAt time.Time
}

// NewResultStore creates a store evicting beyond max entries.
func NewResultStore(max int) *ResultStore {
	if max <= 0 {
		max = 1000
	}
	return &ResultStore{
		results: make(map[string]storedResult),
		max:     max,
	}
}

var _ domain.ResultCache = (*ResultStore)(nil)

// Put retains a result until its TTL expires or the size cap pushes it out.
func (s *ResultStore) Put(_ context.Context, res domain.TradeResult, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.results[res.RequestID]; !ok {
		s.order = append(s.order, res.RequestID)
	}
	s.results[res.RequestID] = storedResult{res: res, expiresAt: time.Now().Add(ttl)}

	for len(s.results) > s.max && len(s.order) > 0 {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.results, oldest)
	}
	return nil
}

// Get returns a retained result, or ErrStaleRequest when it is unknown or
// already expired.
func (s *ResultStore) Get(_ context.Context, requestID string) (domain.TradeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sr, ok := s.results[requestID]
	if !ok || time.Now().After(sr.expiresAt) {
		if ok {
			delete(s.results, requestID)
		}
		return domain.TradeResult{}, fmt.Errorf("results: request %s: %w", requestID, domain.ErrStaleRequest)
	}
	return sr.res, nil
}

// Cleanup drops expired entries. Called periodically by the sequencer.
func (s *ResultStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for id, sr := range s.results {
		if now.After(sr.expiresAt) {
			delete(s.results, id)
		}
	}
	if len(s.results) < len(s.order) {
		kept := s.order[:0]
		for _, id := range s.order {
			if _, ok := s.results[id]; ok {
				kept = append(kept, id)
			}
		}
		s.order = kept
	}
}
