package policy

import (
	"testing"
	"time"

	"github.com/xela07ax/agentgov-engine/internal/domain"
)

func f64(v float64) *float64 { return &v }

func testRequest(op domain.Operation, target string, cost *float64) *domain.ActionRequest {
	return &domain.ActionRequest{
		AgentID:          "agent-1",
		Namespace:        "team-a",
		Operation:        op,
		TargetResource:   target,
		EstimatedCostUSD: cost,
		RequestedAt:      time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC),
	}
}

func okBudget(limit, consumed float64) domain.BudgetState {
	return domain.BudgetState{
		AgentID:     "agent-1",
		Period:      domain.PeriodDaily,
		LimitUSD:    limit,
		ConsumedUSD: consumed,
	}
}

func TestEvaluateRules(t *testing.T) {
	e := NewEvaluator(DefaultRuleset())

	tests := []struct {
		name      string
		req       *domain.ActionRequest
		ectx      EvalContext
		wantTier  domain.Tier
		wantFirst string
	}{
		{
			name:      "namespace mismatch denies before everything",
			req:       testRequest("restart", "pod/web-1", f64(0)),
			ectx:      EvalContext{NamespaceValid: false},
			wantTier:  domain.TierDeny,
			wantFirst: domain.ReasonScopeViolation,
		},
		{
			name:      "suspended agent escalates even pre-approved ops",
			req:       testRequest("restart", "pod/web-1", f64(0)),
			ectx:      EvalContext{NamespaceValid: true, Suspended: true},
			wantTier:  domain.TierEscalate,
			wantFirst: domain.ReasonAutoApprovalSuspended,
		},
		{
			// Сценарий 2: restart pod из allowlist — Tier 0 вне зависимости от риска
			name:      "pre-approved operation",
			req:       testRequest("restart", "pod/web-1", nil),
			ectx:      EvalContext{NamespaceValid: true},
			wantTier:  domain.TierAutoApprove,
			wantFirst: domain.ReasonPreApproved,
		},
		{
			// access pod с историей: 10*0.5+10*0.3+10*0.2 = 10 < 30
			name:      "low risk auto-approves without budget",
			req:       testRequest(domain.OpAccess, "pod/web-1", nil),
			ectx:      EvalContext{NamespaceValid: true, PriorApprovals: 3},
			wantTier:  domain.TierAutoApprove,
			wantFirst: domain.ReasonLowRisk,
		},
		{
			// create service без истории: 40*0.5+40*0.3+90*0.2 = 50 — средний риск
			name:      "medium risk with budget reserves to tier 1",
			req:       testRequest(domain.OpCreate, "service/api", f64(10)),
			ectx:      EvalContext{NamespaceValid: true, Budget: okBudget(100, 0), CostUSD: f64(10)},
			wantTier:  domain.TierAudited,
			wantFirst: domain.ReasonMediumRiskReserved,
		},
		{
			// Сценарий 1: cost=10 при limit=100, consumed=95 → 105 > 100
			name:      "budget exceeded escalates",
			req:       testRequest(domain.OpCreate, "service/api", f64(10)),
			ectx:      EvalContext{NamespaceValid: true, Budget: okBudget(100, 95), CostUSD: f64(10)},
			wantTier:  domain.TierEscalate,
			wantFirst: domain.ReasonBudgetExceeded,
		},
		{
			// delete db без истории: 90*0.5+90*0.3+90*0.2 = 90 >= 70
			name:      "high risk escalates even with budget",
			req:       testRequest(domain.OpDelete, "db/billing", f64(5)),
			ectx:      EvalContext{NamespaceValid: true, Budget: okBudget(100, 0), CostUSD: f64(5)},
			wantTier:  domain.TierEscalate,
			wantFirst: domain.ReasonHighRisk,
		},
		{
			name:      "unknown cost fails safe to escalation",
			req:       testRequest(domain.OpCreate, "service/api", nil),
			ectx:      EvalContext{NamespaceValid: true, Budget: okBudget(100, 0), CostUSD: nil},
			wantTier:  domain.TierEscalate,
			wantFirst: domain.ReasonCostUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := e.Evaluate(tt.req, tt.ectx)
			if d.Tier != tt.wantTier {
				t.Fatalf("tier = %d, want %d (rationale %v, risk %.1f)", d.Tier, tt.wantTier, d.Rationale, d.RiskScore)
			}
			if len(d.Rationale) == 0 || d.Rationale[0] != tt.wantFirst {
				t.Fatalf("rationale = %v, want first %q", d.Rationale, tt.wantFirst)
			}
		})
	}
}

// Детерминизм: идентичный снапшот — идентичные tier и rationale
func TestEvaluateDeterministic(t *testing.T) {
	e := NewEvaluator(DefaultRuleset())

	reqs := []*domain.ActionRequest{
		testRequest(domain.OpDelete, "db/billing", f64(5)),
		testRequest(domain.OpCreate, "service/api", f64(10)),
		testRequest("restart", "pod/web-1", nil),
		testRequest(domain.OpAccess, "pod/web-1", nil),
	}
	ectx := EvalContext{NamespaceValid: true, Budget: okBudget(100, 50), CostUSD: f64(10)}

	for _, req := range reqs {
		first := e.Evaluate(req, ectx)
		for i := 0; i < 50; i++ {
			again := e.Evaluate(req, ectx)
			if again.Tier != first.Tier {
				t.Fatalf("%s: tier diverged: %d vs %d", req.TargetResource, again.Tier, first.Tier)
			}
			if len(again.Rationale) != len(first.Rationale) {
				t.Fatalf("%s: rationale diverged: %v vs %v", req.TargetResource, again.Rationale, first.Rationale)
			}
			for j := range first.Rationale {
				if again.Rationale[j] != first.Rationale[j] {
					t.Fatalf("%s: rationale diverged: %v vs %v", req.TargetResource, again.Rationale, first.Rationale)
				}
			}
			if again.RiskScore != first.RiskScore {
				t.Fatalf("%s: risk diverged: %v vs %v", req.TargetResource, again.RiskScore, first.RiskScore)
			}
		}
	}
}

func TestSLAClass(t *testing.T) {
	e := NewEvaluator(DefaultRuleset())

	d := e.Evaluate(testRequest(domain.OpDelete, "db/billing", f64(5)),
		EvalContext{NamespaceValid: true, Budget: okBudget(100, 0), CostUSD: f64(5)})
	if d.SLAClass != domain.SLADeletion {
		t.Fatalf("delete db: sla = %s, want deletion", d.SLAClass)
	}

	d = e.Evaluate(testRequest(domain.OpModify, "service/api", f64(5)),
		EvalContext{NamespaceValid: true, Budget: okBudget(100, 0), CostUSD: f64(5)})
	if d.SLAClass != domain.SLAStandard {
		t.Fatalf("modify service: sla = %s, want standard", d.SLAClass)
	}
}

func TestRulesetVersionStamped(t *testing.T) {
	rs := DefaultRuleset()
	e := NewEvaluator(rs)

	d := e.Evaluate(testRequest(domain.OpAccess, "pod/x", nil),
		EvalContext{NamespaceValid: true, PriorApprovals: 1})
	if d.RulesetVersion != rs.VersionID() {
		t.Fatalf("ruleset version %q not stamped, got %q", rs.VersionID(), d.RulesetVersion)
	}
}
