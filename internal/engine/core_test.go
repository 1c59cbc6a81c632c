package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/xela07ax/agentgov-engine/internal/budget"
	"github.com/xela07ax/agentgov-engine/internal/connectors"
	"github.com/xela07ax/agentgov-engine/internal/domain"
	"github.com/xela07ax/agentgov-engine/internal/escalation"
	"github.com/xela07ax/agentgov-engine/internal/ledger"
	"github.com/xela07ax/agentgov-engine/internal/policy"
	"github.com/xela07ax/agentgov-engine/internal/telemetry"
)

type stubAttestor struct {
	valid bool
	err   error
}

func (s *stubAttestor) VerifyNamespace(_ context.Context, _, _ string) (bool, error) {
	return s.valid, s.err
}

// silentTickets всегда успешно заводит тикет и никогда не решает его сам
type silentTickets struct{}

func (silentTickets) CreateTicket(_ context.Context, escalationID, _ string, _ map[string]string) (string, error) {
	return "TCK-" + escalationID, nil
}

func (silentTickets) PollStatus(_ context.Context, _ string) (connectors.TicketStatus, error) {
	return connectors.TicketPending, nil
}

type coreFixture struct {
	core     *Core
	attestor *stubAttestor
	ldg      *ledger.Ledger
	escStore *escalation.MemoryStore
	mgr      *escalation.Manager
	budget   *budget.Ledger
	suspend  *SuspendManager
}

// newCoreFixture собирает полный пайплайн на in-memory сторах и дефолтном
// ruleset; лимит бюджета 1000 USD/день на агента
func newCoreFixture(t *testing.T) *coreFixture {
	t.Helper()
	ldg, err := ledger.Open(context.Background(), ledger.NewMemoryStore(), zap.NewNop())
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}

	f := &coreFixture{
		attestor: &stubAttestor{valid: true},
		ldg:      ldg,
		escStore: escalation.NewMemoryStore(),
		suspend:  NewSuspendManager(nil, telemetry.NopEmitter{}, zap.NewNop()),
	}

	fanout := NewResolutionFanout(nil)
	f.mgr = escalation.NewManager(f.escStore, ldg, silentTickets{}, telemetry.NopEmitter{}, zap.NewNop(),
		escalation.WithNotifier(fanout))
	f.budget = budget.NewLedger(budget.Limits{LimitUSD: 1000, Period: domain.PeriodDaily}, zap.NewNop())

	f.core = NewCore(
		f.attestor,
		nil,
		f.budget,
		policy.NewEvaluator(policy.DefaultRuleset()),
		ldg,
		f.mgr,
		f.suspend,
		NewMetrics(nil),
		telemetry.NopEmitter{},
		zap.NewNop(),
	)
	fanout.Bind(f.core)
	return f
}

func costPtr(v float64) *float64 { return &v }

func request(agentID string, op domain.Operation, target string, cost *float64) *domain.ActionRequest {
	return &domain.ActionRequest{
		AgentID:          agentID,
		Namespace:        "team-a",
		Operation:        op,
		TargetResource:   target,
		EstimatedCostUSD: cost,
		Justification:    "routine maintenance",
	}
}

func ledgerDecisions(t *testing.T, ldg *ledger.Ledger) []domain.Decision {
	t.Helper()
	entries, err := ldg.Query(ledger.Filter{}).Collect(context.Background())
	if err != nil {
		t.Fatalf("collect ledger: %v", err)
	}
	var out []domain.Decision
	for _, e := range entries {
		if e.Record.Decision != nil {
			out = append(out, *e.Record.Decision)
		}
	}
	return out
}

func TestScopeViolationIsTier3Decision(t *testing.T) {
	f := newCoreFixture(t)
	f.attestor.valid = false

	res, err := f.core.ProcessAction(context.Background(), request("ag-1", domain.OpAccess, "pod/web-1", nil))
	if err != nil {
		t.Fatalf("scope violation must be a decision, not an error: %v", err)
	}
	if res.Decision.Tier != domain.TierDeny {
		t.Fatalf("tier = %d, want 3", res.Decision.Tier)
	}
	if res.Decision.Rationale[0] != domain.ReasonScopeViolation {
		t.Fatalf("rationale = %v", res.Decision.Rationale)
	}
	if res.Escalation != nil {
		t.Fatal("deny must not open an escalation")
	}
	// Отказ тоже фиксируется в леджере
	if got := ledgerDecisions(t, f.ldg); len(got) != 1 || got[0].Tier != domain.TierDeny {
		t.Fatalf("ledger decisions = %+v", got)
	}
}

func TestAttestationOutageReturnsUnavailable(t *testing.T) {
	f := newCoreFixture(t)
	f.attestor.err = errors.New("directory timeout")

	_, err := f.core.ProcessAction(context.Background(), request("ag-1", domain.OpAccess, "pod/web-1", nil))
	if !errors.Is(err, domain.ErrExternalUnavailable) {
		t.Fatalf("expected ErrExternalUnavailable, got %v", err)
	}
	// Без аттестации решение не выносится и ничего не пишется
	if f.ldg.TailSeq() != 0 {
		t.Fatalf("ledger must stay empty, tail=%d", f.ldg.TailSeq())
	}
}

func TestLowRiskAutoApproved(t *testing.T) {
	f := newCoreFixture(t)

	// access pod: 10*0.5 + 10*0.3 + 90*0.2 = 26, ниже порога 30
	res, err := f.core.ProcessAction(context.Background(), request("ag-1", domain.OpAccess, "pod/web-1", nil))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Decision.Tier != domain.TierAutoApprove {
		t.Fatalf("tier = %d, want 0 (risk %.1f)", res.Decision.Tier, res.Decision.RiskScore)
	}
	if res.Decision.Rationale[0] != domain.ReasonLowRisk {
		t.Fatalf("rationale = %v", res.Decision.Rationale)
	}
}

func TestOperationalVerbFromAllowlistReachable(t *testing.T) {
	f := newCoreFixture(t)

	// restart не взвешен в таблице деструктивности, но стоит в allowlist:
	// валидация обязана пропустить глагол до Evaluator
	res, err := f.core.ProcessAction(context.Background(), request("ag-1", "restart", "pod/web-1", nil))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Decision.Tier != domain.TierAutoApprove || res.Decision.Rationale[0] != domain.ReasonPreApproved {
		t.Fatalf("decision = tier %d %v", res.Decision.Tier, res.Decision.Rationale)
	}

	// Глагол вне ruleset отклоняется по-прежнему
	if _, err := f.core.ProcessAction(context.Background(), request("ag-1", "teleport", "pod/web-1", nil)); err == nil {
		t.Fatal("expected validation error for verb absent from ruleset")
	}
}

func TestPreApprovedBeatsRiskScore(t *testing.T) {
	f := newCoreFixture(t)

	// modify configmap имеет risk 54, но стоит в allowlist
	res, err := f.core.ProcessAction(context.Background(), request("ag-1", domain.OpModify, "configmap/app-cfg", nil))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Decision.Tier != domain.TierAutoApprove || res.Decision.Rationale[0] != domain.ReasonPreApproved {
		t.Fatalf("decision = tier %d %v", res.Decision.Tier, res.Decision.Rationale)
	}
}

func TestAuditedTierConsumesBudget(t *testing.T) {
	f := newCoreFixture(t)

	// create pod: risk 41, стоимость известна и влезает в лимит
	res, err := f.core.ProcessAction(context.Background(), request("ag-1", domain.OpCreate, "pod/worker", costPtr(200)))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Decision.Tier != domain.TierAudited {
		t.Fatalf("tier = %d, want 1", res.Decision.Tier)
	}
	if snap := f.budget.Snapshot("ag-1"); snap.ConsumedUSD != 200 {
		t.Fatalf("consumed = %.2f, want 200", snap.ConsumedUSD)
	}
}

func TestUnknownCostFailsSafeToEscalation(t *testing.T) {
	f := newCoreFixture(t)

	// create pod без стоимости и без оракула: неизвестное не равно нулю
	res, err := f.core.ProcessAction(context.Background(), request("ag-1", domain.OpCreate, "pod/worker", nil))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Decision.Tier != domain.TierEscalate || res.Decision.Rationale[0] != domain.ReasonCostUnknown {
		t.Fatalf("decision = tier %d %v", res.Decision.Tier, res.Decision.Rationale)
	}
	if res.Escalation == nil || res.Escalation.Status != domain.EscalationPending {
		t.Fatalf("escalation = %+v", res.Escalation)
	}
	if res.Escalation.DecisionID != res.Decision.DecisionID {
		t.Fatal("escalation must reference its decision")
	}
}

func TestBudgetExceededEscalatesWithoutPartialSpend(t *testing.T) {
	f := newCoreFixture(t)

	res, err := f.core.ProcessAction(context.Background(), request("ag-1", domain.OpCreate, "pod/worker", costPtr(5000)))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Decision.Tier != domain.TierEscalate || res.Decision.Rationale[0] != domain.ReasonBudgetExceeded {
		t.Fatalf("decision = tier %d %v", res.Decision.Tier, res.Decision.Rationale)
	}
	if snap := f.budget.Snapshot("ag-1"); snap.ConsumedUSD != 0 {
		t.Fatalf("partial spend detected: %.2f", snap.ConsumedUSD)
	}
}

func TestHighRiskEscalatesWithDeletionSLA(t *testing.T) {
	f := newCoreFixture(t)

	// delete db: 90*0.5 + 90*0.3 + 90*0.2 = 90, выше порога 70
	res, err := f.core.ProcessAction(context.Background(), request("ag-1", domain.OpDelete, "db/billing", costPtr(50)))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Decision.Tier != domain.TierEscalate || res.Decision.Rationale[0] != domain.ReasonHighRisk {
		t.Fatalf("decision = tier %d %v", res.Decision.Tier, res.Decision.Rationale)
	}
	if res.Decision.SLAClass != domain.SLADeletion {
		t.Fatalf("sla class = %s, want deletion", res.Decision.SLAClass)
	}
}

func TestSuspendedAgentBypassesAllowlist(t *testing.T) {
	f := newCoreFixture(t)
	if err := f.suspend.Suspend(context.Background(), "ag-1", "budget 90%"); err != nil {
		t.Fatalf("suspend: %v", err)
	}

	// Даже allowlist-операция уходит к человеку, пока агент под breaker'ом
	res, err := f.core.ProcessAction(context.Background(), request("ag-1", domain.OpModify, "configmap/app-cfg", nil))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Decision.Tier != domain.TierEscalate || res.Decision.Rationale[0] != domain.ReasonAutoApprovalSuspended {
		t.Fatalf("decision = tier %d %v", res.Decision.Tier, res.Decision.Rationale)
	}

	// Другие агенты не затронуты
	res, err = f.core.ProcessAction(context.Background(), request("ag-2", domain.OpModify, "configmap/app-cfg", nil))
	if err != nil {
		t.Fatalf("process ag-2: %v", err)
	}
	if res.Decision.Tier != domain.TierAutoApprove {
		t.Fatalf("ag-2 tier = %d, want 0", res.Decision.Tier)
	}
}

// Полный цикл прецедента: эскалация, одобрение человеком, повторный
// идентичный запрос проходит автоматически за счет сниженного risk score.
func TestApprovedEscalationBecomesPrecedent(t *testing.T) {
	f := newCoreFixture(t)
	req := request("ag-1", domain.OpAccess, "service/payments", nil)

	// access service без прецедентов: 10*0.5 + 40*0.3 + 90*0.2 = 35 → выше 30,
	// стоимость неизвестна → Tier 2
	res, err := f.core.ProcessAction(context.Background(), req)
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if res.Decision.Tier != domain.TierEscalate {
		t.Fatalf("first pass tier = %d, want 2", res.Decision.Tier)
	}

	if _, err := f.mgr.Resolve(context.Background(), res.Escalation.EscalationID, true, "operator@example.com"); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	// С прецедентом: 10*0.5 + 40*0.3 + 10*0.2 = 19 → ниже 30 → Tier 0
	res, err = f.core.ProcessAction(context.Background(), request("ag-1", domain.OpAccess, "service/payments", nil))
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if res.Decision.Tier != domain.TierAutoApprove || res.Decision.Rationale[0] != domain.ReasonLowRisk {
		t.Fatalf("precedent did not apply: tier %d %v (risk %.1f)",
			res.Decision.Tier, res.Decision.Rationale, res.Decision.RiskScore)
	}
}

// Отклоненная эскалация прецедентом не становится
func TestDeniedEscalationIsNotPrecedent(t *testing.T) {
	f := newCoreFixture(t)

	res, err := f.core.ProcessAction(context.Background(), request("ag-1", domain.OpAccess, "service/payments", nil))
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if _, err := f.mgr.Resolve(context.Background(), res.Escalation.EscalationID, false, "operator@example.com"); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	res, err = f.core.ProcessAction(context.Background(), request("ag-1", domain.OpAccess, "service/payments", nil))
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if res.Decision.Tier != domain.TierEscalate {
		t.Fatalf("denied outcome must not lower risk: tier %d", res.Decision.Tier)
	}
}

// Новый процесс восстанавливает прецеденты проигрыванием леджера
func TestWarmApprovalsReplaysPrecedents(t *testing.T) {
	f := newCoreFixture(t)

	res, err := f.core.ProcessAction(context.Background(), request("ag-1", domain.OpAccess, "service/payments", nil))
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if _, err := f.mgr.Resolve(context.Background(), res.Escalation.EscalationID, true, "operator@example.com"); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	// Второе ядро поверх того же леджера — имитация рестарта
	restarted := NewCore(
		f.attestor,
		nil,
		f.budget,
		policy.NewEvaluator(policy.DefaultRuleset()),
		f.ldg,
		f.mgr,
		NewSuspendManager(nil, telemetry.NopEmitter{}, zap.NewNop()),
		NewMetrics(nil),
		telemetry.NopEmitter{},
		zap.NewNop(),
	)
	if err := restarted.WarmApprovals(context.Background()); err != nil {
		t.Fatalf("warm: %v", err)
	}

	res, err = restarted.ProcessAction(context.Background(), request("ag-1", domain.OpAccess, "service/payments", nil))
	if err != nil {
		t.Fatalf("post-restart pass: %v", err)
	}
	if res.Decision.Tier != domain.TierAutoApprove {
		t.Fatalf("precedent lost on restart: tier %d", res.Decision.Tier)
	}
}

func TestValidateRequestRejectsMalformed(t *testing.T) {
	f := newCoreFixture(t)
	cases := []struct {
		name string
		req  *domain.ActionRequest
	}{
		{"missing agent", request("", domain.OpAccess, "pod/web-1", nil)},
		{"unknown operation", request("ag-1", "drop", "pod/web-1", nil)},
		{"missing target", request("ag-1", domain.OpAccess, "", nil)},
		{"negative cost", request("ag-1", domain.OpCreate, "pod/web-1", costPtr(-5))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.core.ProcessAction(context.Background(), tc.req); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
	if f.ldg.TailSeq() != 0 {
		t.Fatalf("malformed requests must not reach the ledger, tail=%d", f.ldg.TailSeq())
	}
}

func TestHandleAction(t *testing.T) {
	f := newCoreFixture(t)

	do := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/actions", bytes.NewBufferString(body))
		w := httptest.NewRecorder()
		f.core.HandleAction(w, req)
		return w
	}

	// Невалидный JSON
	if w := do("{not json"); w.Code != http.StatusBadRequest {
		t.Fatalf("malformed body: status %d, want 400", w.Code)
	}

	// Валидный запрос, scope violation: HTTP 200, tier 3 в теле
	f.attestor.valid = false
	w := do(`{"agent_id":"ag-1","namespace":"team-b","operation":"access","target_resource":"pod/web-1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("scope violation: status %d, want 200, body %s", w.Code, w.Body.String())
	}
	var res Result
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res.Decision.Tier != domain.TierDeny {
		t.Fatalf("response tier = %d, want 3", res.Decision.Tier)
	}

	// Недоступная аттестация: 503
	f.attestor.err = errors.New("directory timeout")
	w = do(`{"agent_id":"ag-1","namespace":"team-a","operation":"access","target_resource":"pod/web-1"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("attestation outage: status %d, want 503", w.Code)
	}
	if !strings.Contains(w.Body.String(), "error") {
		t.Fatalf("error body missing: %s", w.Body.String())
	}

	// GET запрещен
	req := httptest.NewRequest(http.MethodGet, "/v1/actions", nil)
	rec := httptest.NewRecorder()
	f.core.HandleAction(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET: status %d, want 405", rec.Code)
	}
}
