package policy

/*
Пакет policy реализует Policy Evaluator — чистую классификацию
ActionRequest в Tier. Evaluate не трогает ни часы, ни случайность:
идентичная тройка (запрос, снапшот бюджета, версия ruleset) обязана
давать идентичное решение. Все внешние факты (аттестация namespace,
блокировка агента, стоимость, история одобрений) собираются вызывающим
в EvalContext ДО оценки.
*/

import (
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/agentgov-engine/internal/domain"
)

// EvalContext — консистентный снимок состояния мира на момент оценки
type EvalContext struct {
	// Результат verify_namespace внешнего аттестатора (rule 1)
	NamespaceValid bool

	// Circuit breaker: автоодобрение агента приостановлено
	Suspended bool

	// Снапшот бюджета агента (budget.Ledger.Snapshot)
	Budget domain.BudgetState

	// Разрешенная стоимость: из запроса либо от Cost Oracle.
	// nil — стоимость неизвестна (оракул недоступен) → Fail-Safe в Tier 2
	CostUSD *float64

	// Число прежних одобрений схожих действий (agent+operation+resource class)
	PriorApprovals int
}

type Evaluator struct {
	ruleset *Ruleset

	now   func() time.Time
	newID func() string
}

type EvaluatorOption func(*Evaluator)

// WithClock и WithIDGen — для воспроизводимых тестов; на Tier и Rationale
// они не влияют (детерминизм определен по tier+rationale)
func WithClock(now func() time.Time) EvaluatorOption {
	return func(e *Evaluator) { e.now = now }
}

func WithIDGen(fn func() string) EvaluatorOption {
	return func(e *Evaluator) { e.newID = fn }
}

func NewEvaluator(rs *Ruleset, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		ruleset: rs,
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Evaluator) Ruleset() *Ruleset { return e.ruleset }

// Evaluate прогоняет запрос по правилам; первое совпавшее правило
// выигрывает, порядок фиксирован спецификацией ruleset'а.
// Недостижимая ветка падает в Tier 2 (fail toward human review).
func (e *Evaluator) Evaluate(req *domain.ActionRequest, ectx EvalContext) domain.Decision {
	rs := e.ruleset
	risk := rs.RiskScore(req, ectx.PriorApprovals)

	tier, rationale := e.classify(req, ectx, risk)

	return domain.Decision{
		DecisionID:     e.newID(),
		Request:        *req,
		Tier:           tier,
		Rationale:      rationale,
		RiskScore:      risk,
		RulesetVersion: rs.VersionID(),
		SLAClass:       rs.SLAClassFor(req.Operation, req.ResourceType()),
		DecidedAt:      e.now(),
	}
}

func (e *Evaluator) classify(req *domain.ActionRequest, ectx EvalContext, risk float64) (domain.Tier, []string) {
	rs := e.ruleset

	// Rule 1: чужой namespace — жесткий запрет, никакой тихой переадресации
	if !ectx.NamespaceValid {
		return domain.TierDeny, []string{domain.ReasonScopeViolation}
	}

	// Circuit breaker: агент под подозрением, автоодобрение выключено
	// до ревью человеком. Сильнее allowlist'а.
	if ectx.Suspended {
		return domain.TierEscalate, []string{domain.ReasonAutoApprovalSuspended}
	}

	// Rule 2: известная безопасная комбинация — Tier 0 независимо от risk score
	if rs.IsPreApproved(req.Operation, req.ResourceType()) {
		return domain.TierAutoApprove, []string{domain.ReasonPreApproved}
	}

	// Rule 3: низкий риск — Tier 0 (без списания бюджета)
	if risk < rs.LowThreshold {
		return domain.TierAutoApprove, []string{domain.ReasonLowRisk}
	}

	// Дальше стоимость обязательна: неизвестная стоимость не трактуется
	// как нулевая (Fail-Safe, не Fail-Open)
	if ectx.CostUSD == nil {
		return domain.TierEscalate, []string{domain.ReasonCostUnknown}
	}
	cost := *ectx.CostUSD

	canReserve := ectx.Budget.CanReserve(cost)

	// Rule 4: средний риск + бюджет влезает — Tier 1 (автоодобрение с аудитом)
	if risk < rs.EscalationThreshold && canReserve {
		return domain.TierAudited, []string{domain.ReasonMediumRiskReserved}
	}

	// Rule 5: бюджет не влезает — Tier 2 независимо от риска
	// (человек вправе перекрыть бюджет)
	if !canReserve {
		rationale := []string{domain.ReasonBudgetExceeded}
		if risk >= rs.EscalationThreshold {
			rationale = append(rationale, domain.ReasonHighRisk)
		}
		return domain.TierEscalate, rationale
	}

	// Rule 6: высокий риск — Tier 2
	if risk >= rs.EscalationThreshold {
		return domain.TierEscalate, []string{domain.ReasonHighRisk}
	}

	// Rule 7: недостижимо при исчерпывающих правилах; страхуемся в сторону
	// человека, не в сторону автоодобрения
	return domain.TierEscalate, []string{domain.ReasonUnclassifiedFallback}
}
