package engine

/*
Файл core.go — Hot Path движка управления: прием ActionRequest,
сбор внешних фактов, чистая классификация, фиксация в леджере и
диспетчеризация по tier.

Пайплайн: аттестация namespace → снапшот бюджета + circuit breaker →
Evaluate (чистая функция) → [Tier 1] фактическое списание бюджета →
append в Decision Ledger → [Tier 2] создание эскалации → телеметрия.
Оценка быстрая и синхронная, без точек отмены; единственное долгое
ожидание (человек) живет в escalation.Manager.
*/

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/agentgov-engine/internal/budget"
	"github.com/xela07ax/agentgov-engine/internal/domain"
	"github.com/xela07ax/agentgov-engine/internal/escalation"
	"github.com/xela07ax/agentgov-engine/internal/ledger"
	"github.com/xela07ax/agentgov-engine/internal/policy"
	"github.com/xela07ax/agentgov-engine/internal/telemetry"
)

// Result — итог обработки одного запроса: решение и, для Tier 2,
// заведенная эскалация
type Result struct {
	Decision   *domain.Decision   `json:"decision"`
	Escalation *domain.Escalation `json:"escalation,omitempty"`
}

type Core struct {
	attestor    policy.NamespaceAttestor
	oracle      policy.CostOracle // nil — оракула нет, неизвестная стоимость идет в Tier 2
	budget      *budget.Ledger
	evaluator   *policy.Evaluator
	ldg         *ledger.Ledger
	escalations *escalation.Manager
	suspend     *SuspendManager
	approvals   *approvalIndex
	metrics     *Metrics
	emitter     telemetry.Emitter
	logger      *zap.Logger
}

func NewCore(
	attestor policy.NamespaceAttestor,
	oracle policy.CostOracle,
	budgetLedger *budget.Ledger,
	evaluator *policy.Evaluator,
	ldg *ledger.Ledger,
	escalations *escalation.Manager,
	suspend *SuspendManager,
	metrics *Metrics,
	emitter telemetry.Emitter,
	logger *zap.Logger,
) *Core {
	return &Core{
		attestor:    attestor,
		oracle:      oracle,
		budget:      budgetLedger,
		evaluator:   evaluator,
		ldg:         ldg,
		escalations: escalations,
		suspend:     suspend,
		approvals:   newApprovalIndex(),
		metrics:     metrics,
		emitter:     emitter,
		logger:      logger.With(zap.String("mod", "core")),
	}
}

// WarmApprovals восстанавливает счетчики прежних одобрений из леджера.
// Вызывается один раз при старте, до приема трафика.
func (c *Core) WarmApprovals(ctx context.Context) error {
	return c.approvals.Warm(ctx, c.ldg)
}

// ProcessAction — единственный путь от намерения агента к решению.
// ScopeViolation выражается РЕШЕНИЕМ Tier 3, не ошибкой; ошибка
// возвращается только когда решение вынести нельзя (недоступна
// аттестация, сломана цепочка леджера).
func (c *Core) ProcessAction(ctx context.Context, req *domain.ActionRequest) (*Result, error) {
	if err := c.validateRequest(req); err != nil {
		c.metrics.ErrorTotal.WithLabelValues("bad_request").Inc()
		return nil, err
	}
	c.metrics.TotalRequests.WithLabelValues(req.AgentID, string(req.Operation)).Inc()
	start := time.Now()
	if req.RequestedAt.IsZero() {
		req.RequestedAt = start
	}

	// Внешняя аттестация — единственный авторитет по владению namespace.
	// Без её ответа решение вынести нельзя: подмена rationale на
	// scope_violation при сетевой ошибке запрещена.
	nsValid, err := c.attestor.VerifyNamespace(ctx, req.AgentID, req.Namespace)
	if err != nil {
		c.metrics.ErrorTotal.WithLabelValues("attestation").Inc()
		return nil, fmt.Errorf("namespace attestation failed: %w: %w", domain.ErrExternalUnavailable, err)
	}

	ectx := policy.EvalContext{
		NamespaceValid: nsValid,
		Suspended:      c.suspend.IsSuspended(req.AgentID),
		Budget:         c.budget.Snapshot(req.AgentID),
		CostUSD:        c.resolveCost(ctx, req),
		PriorApprovals: c.approvals.Count(req),
	}

	dec := c.evaluator.Evaluate(req, ectx)

	// Tier 1 списывает бюджет по-настоящему. Конкурент мог успеть
	// занять остаток между снапшотом и списанием — тогда честная
	// переоценка по свежему снапшоту, итогом будет Tier 2.
	if dec.Tier == domain.TierAudited {
		res, rerr := c.budget.CheckAndReserve(ctx, req.AgentID, *ectx.CostUSD)
		if rerr != nil {
			if !errors.Is(rerr, domain.ErrBudgetExceeded) {
				c.metrics.ErrorTotal.WithLabelValues("budget").Inc()
				return nil, fmt.Errorf("budget reservation failed: %w", rerr)
			}
			ectx.Budget = c.budget.Snapshot(req.AgentID)
			dec = c.evaluator.Evaluate(req, ectx)
		} else {
			c.metrics.BudgetUtilization.WithLabelValues(req.AgentID).Set(res.UtilizationPct)
		}
	}

	if _, err := c.ldg.Append(ctx, domain.LedgerRecord{Decision: &dec}); err != nil {
		if errors.Is(err, domain.ErrChainBroken) {
			c.metrics.ChainBreaksTotal.Inc()
			c.emitter.Emit(telemetry.Event{
				Type:     telemetry.EventChainBroken,
				TraceID:  extractTraceID(ctx),
				AgentID:  req.AgentID,
				Severity: telemetry.SeverityCritical,
				Payload:  map[string]interface{}{"decision_id": dec.DecisionID},
			})
		}
		c.metrics.ErrorTotal.WithLabelValues("ledger").Inc()
		return nil, fmt.Errorf("failed to record decision: %w", err)
	}

	result := &Result{Decision: &dec}
	switch dec.Tier {
	case domain.TierAutoApprove, domain.TierAudited:
		c.approvals.Record(req)
	case domain.TierEscalate:
		esc, eerr := c.escalations.CreateFromDecision(ctx, &dec)
		if eerr != nil {
			// Решение зафиксировано, но без эскалации его никто не
			// разрешит — это ошибка запроса, не тихая деградация
			c.metrics.ErrorTotal.WithLabelValues("escalation").Inc()
			return nil, fmt.Errorf("decision %s recorded but escalation failed: %w", dec.DecisionID, eerr)
		}
		c.approvals.TrackPending(dec.DecisionID, req)
		result.Escalation = esc
	}

	tierLabel := strconv.Itoa(int(dec.Tier))
	reason := domain.ReasonUnclassifiedFallback
	if len(dec.Rationale) > 0 {
		reason = dec.Rationale[0]
	}
	c.metrics.DecisionsTotal.WithLabelValues(tierLabel, reason).Inc()
	c.metrics.EvalDuration.WithLabelValues(tierLabel).Observe(time.Since(start).Seconds())

	c.emitter.Emit(telemetry.Event{
		Type:     telemetry.EventDecision,
		TraceID:  extractTraceID(ctx),
		AgentID:  req.AgentID,
		Severity: telemetry.SeverityInfo,
		Payload: map[string]interface{}{
			"decision_id": dec.DecisionID,
			"tier":        int(dec.Tier),
			"rationale":   dec.Rationale,
			"risk_score":  dec.RiskScore,
			"operation":   string(req.Operation),
			"target":      req.TargetResource,
		},
	})

	c.logger.Info("action evaluated",
		zap.String("trace_id", extractTraceID(ctx)),
		zap.String("agent_id", req.AgentID),
		zap.String("decision_id", dec.DecisionID),
		zap.Int("tier", int(dec.Tier)),
		zap.Strings("rationale", dec.Rationale))
	return result, nil
}

// NotifyResolution обновляет счетчики одобрений по исходу эскалации
// (вызывается слушателем решений и sweep'ом)
func (c *Core) NotifyResolution(decisionID string, outcome string) {
	c.approvals.ResolvePending(decisionID, outcome == domain.OutcomeApproved)
}

// resolveCost возвращает стоимость из запроса либо от оракула.
// nil = стоимость неизвестна: Evaluator маршрутизирует в Tier 2,
// нулевую стоимость подставлять запрещено (Fail-Safe, не Fail-Open).
func (c *Core) resolveCost(ctx context.Context, req *domain.ActionRequest) *float64 {
	if req.EstimatedCostUSD != nil {
		return req.EstimatedCostUSD
	}
	if c.oracle == nil {
		return nil
	}
	est, err := c.oracle.EstimateCost(ctx, req.Operation, req.TargetResource)
	if err != nil {
		c.logger.Warn("cost oracle unavailable, treating cost as unknown",
			zap.String("agent_id", req.AgentID), zap.Error(err))
		return nil
	}
	return &est
}

func (c *Core) validateRequest(req *domain.ActionRequest) error {
	if req.AgentID == "" {
		return fmt.Errorf("agent_id is required")
	}
	if req.Namespace == "" {
		return fmt.Errorf("namespace is required")
	}
	// Словарь глаголов задает активный ruleset, а не жесткий enum:
	// операционные глаголы из allowlist (restart, scale, ...) легитимны
	if !c.evaluator.Ruleset().KnownOperation(req.Operation) {
		return fmt.Errorf("unknown operation %q", req.Operation)
	}
	if req.TargetResource == "" {
		return fmt.Errorf("target_resource is required")
	}
	if req.EstimatedCostUSD != nil && *req.EstimatedCostUSD < 0 {
		return fmt.Errorf("estimated_cost_usd must be non-negative")
	}
	return nil
}

// HandleAction — HTTP-вход Data Plane: POST /v1/actions
func (c *Core) HandleAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Only POST allowed", http.StatusMethodNotAllowed)
		return
	}

	var req domain.ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	defer r.Body.Close()

	result, err := c.ProcessAction(r.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrExternalUnavailable), errors.Is(err, domain.ErrChainBroken):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
