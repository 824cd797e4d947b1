package tracestore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/bintelAI/ai-workflow/runtime"
)

// MemStore is a thread-safe in-memory Store. Results are held in their
// JSON form so a caller mutating a returned Result cannot change the
// archive.
type MemStore struct {
	mu     sync.RWMutex
	runs   map[string][]byte
	sums   map[string]RunSummary
	events map[string][]runtime.Event // runID -> events
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		runs:   make(map[string][]byte),
		sums:   make(map[string]RunSummary),
		events: make(map[string][]runtime.Event),
	}
}

func (s *MemStore) SaveRun(_ context.Context, res *runtime.Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("tracestore: marshal result: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[res.RunID] = data
	s.sums[res.RunID] = Summarize(res)
	return nil
}

func (s *MemStore) GetRun(_ context.Context, runID string) (*runtime.Result, error) {
	s.mu.RLock()
	data, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	var res runtime.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("tracestore: unmarshal result: %w", err)
	}
	return restore(&res), nil
}

func (s *MemStore) ListRuns(_ context.Context, limit int) ([]RunSummary, error) {
	s.mu.RLock()
	out := make([]RunSummary, 0, len(s.sums))
	for _, sum := range s.sums {
		out = append(out, sum)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Started.Equal(out[j].Started) {
			return out[i].Started.After(out[j].Started)
		}
		return out[i].RunID > out[j].RunID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) AppendEvent(_ context.Context, event runtime.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.RunID] = append(s.events[event.RunID], event)
	return nil
}

func (s *MemStore) Events(_ context.Context, runID string, afterSeq uint64, limit int) ([]runtime.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []runtime.Event
	for _, e := range s.events[runID] {
		if afterSeq > 0 && e.Seq <= afterSeq {
			continue
		}
		result = append(result, e)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *MemStore) LatestSeq(_ context.Context, runID string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var maxSeq uint64
	for _, e := range s.events[runID] {
		if e.Seq > maxSeq {
			maxSeq = e.Seq
		}
	}
	return maxSeq, nil
}

func (s *MemStore) Close() error { return nil }

var _ Store = (*MemStore)(nil)
