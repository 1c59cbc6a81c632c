package escalation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xela07ax/agentgov-engine/internal/domain"
)

// MemoryStore — эталонная реализация Store для тестов и dev-режима.
// CAS-семантика Resolve идентична постгресовой (UPDATE ... WHERE
// status='pending' ... RETURNING).
type MemoryStore struct {
	mu   sync.Mutex
	recs map[string]*domain.Escalation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string]*domain.Escalation)}
}

func (s *MemoryStore) Create(_ context.Context, esc domain.Escalation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[esc.EscalationID]; ok {
		return fmt.Errorf("escalation %s already exists", esc.EscalationID)
	}
	cp := esc
	s.recs[esc.EscalationID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, escalationID string) (*domain.Escalation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[escalationID]
	if !ok {
		return nil, domain.ErrEscalationNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) List(_ context.Context, status domain.EscalationStatus, limit int) ([]domain.Escalation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Escalation, 0, len(s.recs))
	for _, rec := range s.recs {
		if status != "" && rec.Status != status {
			continue
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].EscalationID < out[j].EscalationID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListExpired(_ context.Context, now time.Time, limit int) ([]domain.Escalation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Escalation
	for _, rec := range s.recs {
		if rec.Status != domain.EscalationPending {
			continue
		}
		if now.After(rec.SLADeadline) {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SLADeadline.Before(out[j].SLADeadline) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Resolve(_ context.Context, escalationID string, next domain.EscalationStatus, resolver string, at time.Time) (*domain.Escalation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.recs[escalationID]
	if !ok {
		return nil, domain.ErrEscalationNotFound
	}
	if err := rec.CanTransitionTo(next); err != nil {
		return nil, err
	}
	rec.Status = next
	rec.ResolverIdentity = resolver
	ts := at
	rec.ResolvedAt = &ts

	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) SetTicketRef(_ context.Context, escalationID, ticketRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[escalationID]
	if !ok {
		return domain.ErrEscalationNotFound
	}
	rec.TicketRef = ticketRef
	return nil
}
