package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/xela07ax/agentgov-engine/internal/domain"
)

// MemoryStore — стор в RAM: дефолт для разработки и тестов.
// Полный порядок по sequence_number гарантирован самим слайсом.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []domain.LedgerEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, entry domain.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if want := uint64(len(s.entries)) + 1; entry.SequenceNumber != want {
		return fmt.Errorf("memory store: sequence gap: got %d, want %d", entry.SequenceNumber, want)
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *MemoryStore) Tail(_ context.Context) (*domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.entries) == 0 {
		return nil, nil
	}
	e := s.entries[len(s.entries)-1]
	return &e, nil
}

func (s *MemoryStore) List(_ context.Context, f Filter, afterSeq uint64, limit int) ([]domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.LedgerEntry, 0, limit)
	for _, e := range s.entries {
		if e.SequenceNumber <= afterSeq {
			continue
		}
		if !matches(f, e) {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) Range(_ context.Context, from, to uint64) ([]domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.LedgerEntry
	for _, e := range s.entries {
		if e.SequenceNumber >= from && e.SequenceNumber <= to {
			out = append(out, e)
		}
	}
	return out, nil
}

func matches(f Filter, e domain.LedgerEntry) bool {
	if f.AgentID != "" && e.Record.AgentID() != f.AgentID {
		return false
	}
	if f.Tier != nil {
		// Tier-фильтр осмыслен только для записей-решений
		if e.Record.Decision == nil || e.Record.Decision.Tier != *f.Tier {
			return false
		}
	}
	if !f.From.IsZero() || !f.To.IsZero() {
		ts := e.Record.Timestamp()
		if !f.From.IsZero() && ts.Before(f.From) {
			return false
		}
		if !f.To.IsZero() && !ts.Before(f.To) {
			return false
		}
	}
	return true
}
