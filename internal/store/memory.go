package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/benefit-engine/internal/accumulator"
	"github.com/sells-group/benefit-engine/internal/model"
	"github.com/sells-group/benefit-engine/internal/plan"
	"github.com/sells-group/benefit-engine/internal/resilience"
)

// MemoryStore implements Store in process memory. Used by tests and the
// "memory" driver for one-off CLI runs.
type MemoryStore struct {
	mu        sync.RWMutex
	coverages map[string][]model.MemberCoverage
	rules     map[string][]plan.Rule
	records   map[model.AccumulatorKey]model.AccumulatorRecord
	entries   map[string]accumulator.Entry
	results   map[string]model.AdjudicationResult
	dlq       map[string]resilience.DLQEntry
	now       func() time.Time
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		coverages: make(map[string][]model.MemberCoverage),
		rules:     make(map[string][]plan.Rule),
		records:   make(map[model.AccumulatorKey]model.AccumulatorRecord),
		entries:   make(map[string]accumulator.Entry),
		results:   make(map[string]model.AdjudicationResult),
		dlq:       make(map[string]resilience.DLQEntry),
		now:       time.Now,
	}
}

func ruleKey(planID, code string) string { return planID + "/" + code }

func entryKey(lineID string, kind accumulator.EntryKind) string { return lineID + "|" + string(kind) }

func (s *MemoryStore) Ping(context.Context) error    { return nil }
func (s *MemoryStore) Migrate(context.Context) error { return nil }
func (s *MemoryStore) Close() error                  { return nil }

func (s *MemoryStore) PutCoverages(_ context.Context, covs []model.MemberCoverage) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range covs {
		list := s.coverages[c.MemberID]
		replaced := false
		for i, existing := range list {
			if existing.PlanID == c.PlanID && existing.CoverageStart.Equal(c.CoverageStart) {
				list[i] = c
				replaced = true
			}
		}
		if !replaced {
			list = append(list, c)
		}
		s.coverages[c.MemberID] = list
	}
	return int64(len(covs)), nil
}

func (s *MemoryStore) MemberCoverages(_ context.Context, memberID string) ([]model.MemberCoverage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.MemberCoverage(nil), s.coverages[memberID]...), nil
}

func (s *MemoryStore) PutRules(_ context.Context, rules []plan.Rule) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rules {
		k := ruleKey(r.PlanID, r.BenefitCode)
		list := s.rules[k]
		replaced := false
		for i, existing := range list {
			if existing.EffectiveDate.Equal(r.EffectiveDate) {
				list[i] = r
				replaced = true
			}
		}
		if !replaced {
			list = append(list, r)
		}
		s.rules[k] = list
	}
	return int64(len(rules)), nil
}

func (s *MemoryStore) BenefitRules(_ context.Context, planID, code string) ([]plan.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]plan.Rule(nil), s.rules[ruleKey(planID, code)]...), nil
}

func (s *MemoryStore) GetAccumulator(_ context.Context, key model.AccumulatorKey) (model.AccumulatorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	if !ok {
		return model.AccumulatorRecord{Key: key}, nil
	}
	return rec, nil
}

func (s *MemoryStore) ApplyEntry(_ context.Context, entry accumulator.Entry, expectedVersion int64) (accumulator.CommitStatus, *accumulator.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ek := entryKey(entry.ClaimLineID, entry.Kind)
	if existing, ok := s.entries[ek]; ok {
		return accumulator.AlreadyCommitted, &existing, nil
	}

	rec, ok := s.records[entry.Key]
	if !ok {
		rec = model.AccumulatorRecord{Key: entry.Key}
	}
	if rec.Version != expectedVersion {
		return accumulator.Conflict, nil, nil
	}

	rec = rec.Apply(entry.Delta)
	rec.Version++
	rec.LastUpdated = s.now().UTC()
	s.records[entry.Key] = rec
	s.entries[ek] = entry
	if entry.Result != nil {
		s.saveResultLocked(*entry.Result)
	}
	return accumulator.Committed, &entry, nil
}

func (s *MemoryStore) GetEntry(_ context.Context, claimLineID string, kind accumulator.EntryKind) (*accumulator.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[entryKey(claimLineID, kind)]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (s *MemoryStore) GetResult(_ context.Context, claimLineID string) (*model.AdjudicationResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[claimLineID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *MemoryStore) SaveResult(_ context.Context, r model.AdjudicationResult) error {
	if r.ClaimLineID == "" {
		return eris.New("memory: result has no claim_line_id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveResultLocked(r)
	return nil
}

func (s *MemoryStore) saveResultLocked(r model.AdjudicationResult) {
	if existing, ok := s.results[r.ClaimLineID]; ok && !replaceable(existing.Outcome) {
		return
	}
	s.results[r.ClaimLineID] = r
}

func (s *MemoryStore) ListResults(_ context.Context, filter ResultFilter) ([]model.AdjudicationResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.AdjudicationResult
	for _, r := range s.results {
		if filter.ClaimID != "" && r.ClaimID != filter.ClaimID {
			continue
		}
		if filter.MemberID != "" && r.MemberID != filter.MemberID {
			continue
		}
		if filter.Outcome != "" && r.Outcome != filter.Outcome {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AdjudicatedAt.Equal(out[j].AdjudicatedAt) {
			return out[i].AdjudicatedAt.After(out[j].AdjudicatedAt)
		}
		return out[i].ClaimLineID < out[j].ClaimLineID
	})
	if limit := defaultLimit(filter.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) EnqueueDLQ(_ context.Context, entry resilience.DLQEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	s.dlq[entry.ID] = entry
	return nil
}

func (s *MemoryStore) DequeueDLQ(_ context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	var out []resilience.DLQEntry
	for _, e := range s.dlq {
		if e.NextRetryAt.After(now) || !e.CanRetry() {
			continue
		}
		if filter.Topic != "" && e.Topic != filter.Topic {
			continue
		}
		if filter.ErrorType != "" && e.ErrorType != filter.ErrorType {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRetryAt.Before(out[j].NextRetryAt) })
	if limit := defaultLimit(filter.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) IncrementDLQRetry(_ context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.dlq[id]
	if !ok {
		return eris.Errorf("dlq_entry not found: %s", id)
	}
	e.RetryCount++
	e.NextRetryAt = nextRetryAt
	e.Error = lastErr
	e.LastFailedAt = s.now().UTC()
	s.dlq[id] = e
	return nil
}

func (s *MemoryStore) RemoveDLQ(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.dlq, id)
	return nil
}

func (s *MemoryStore) CountDLQ(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.dlq), nil
}
