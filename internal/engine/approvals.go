package engine

import (
	"context"
	"sync"

	"github.com/xela07ax/agentgov-engine/internal/domain"
	"github.com/xela07ax/agentgov-engine/internal/ledger"
)

// approvalIndex — счетчики прежних одобрений схожих действий
// (agent + operation + класс ресурса). Evaluator снижает risk score
// действиям с одобренной историей; индекс держит счет в памяти и
// восстанавливается из леджера при старте.
type approvalIndex struct {
	mu     sync.RWMutex
	counts map[string]int

	// Tier-2 решения, ждущие исхода: decision_id → ключ индекса
	pending map[string]string
}

func newApprovalIndex() *approvalIndex {
	return &approvalIndex{
		counts:  make(map[string]int),
		pending: make(map[string]string),
	}
}

func approvalKey(req *domain.ActionRequest) string {
	return req.AgentID + "\x00" + string(req.Operation) + "\x00" + req.ResourceType()
}

func (a *approvalIndex) Count(req *domain.ActionRequest) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.counts[approvalKey(req)]
}

// Record фиксирует автоодобрение (Tier 0/1)
func (a *approvalIndex) Record(req *domain.ActionRequest) {
	a.mu.Lock()
	a.counts[approvalKey(req)]++
	a.mu.Unlock()
}

// TrackPending запоминает эскалированное решение до его исхода
func (a *approvalIndex) TrackPending(decisionID string, req *domain.ActionRequest) {
	a.mu.Lock()
	a.pending[decisionID] = approvalKey(req)
	a.mu.Unlock()
}

// ResolvePending применяет исход эскалации: одобрение человеком
// считается прецедентом наравне с автоодобрением
func (a *approvalIndex) ResolvePending(decisionID string, approved bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	key, ok := a.pending[decisionID]
	if !ok {
		return
	}
	delete(a.pending, decisionID)
	if approved {
		a.counts[key]++
	}
}

// Warm проигрывает леджер с нуля: Tier 0/1 — сразу прецедент,
// Tier 2 — прецедент только при исходе approved
func (a *approvalIndex) Warm(ctx context.Context, ldg *ledger.Ledger) error {
	counts := make(map[string]int)
	pending := make(map[string]string)

	it := ldg.Query(ledger.Filter{})
	for {
		entry, err := it.Next(ctx)
		if err != nil {
			return err
		}
		if entry == nil {
			break
		}
		switch {
		case entry.Record.Decision != nil:
			dec := entry.Record.Decision
			key := approvalKey(&dec.Request)
			switch dec.Tier {
			case domain.TierAutoApprove, domain.TierAudited:
				counts[key]++
			case domain.TierEscalate:
				pending[dec.DecisionID] = key
			}
		case entry.Record.Outcome != nil:
			out := entry.Record.Outcome
			key, ok := pending[out.DecisionID]
			if !ok {
				continue
			}
			delete(pending, out.DecisionID)
			if out.Outcome == domain.OutcomeApproved {
				counts[key]++
			}
		}
	}

	a.mu.Lock()
	a.counts = counts
	a.pending = pending
	a.mu.Unlock()
	return nil
}
