package domain

import "time"

// Tier — уровень авторизации, итог классификации запроса
type Tier int

const (
	TierAutoApprove Tier = 0 // Автоматическое одобрение
	TierAudited     Tier = 1 // Автоодобрение + обязательная запись аудита (бюджет списан)
	TierEscalate    Tier = 2 // Требуется человек (HITL)
	TierDeny        Tier = 3 // Жесткий запрет
)

// Коды причин (rationale). Порядок в Decision.Rationale значим:
// первый код — сработавшее правило, дальше — уточнения.
const (
	ReasonScopeViolation        = "scope_violation"
	ReasonPreApproved           = "pre_approved_operation"
	ReasonLowRisk               = "low_risk_score"
	ReasonMediumRiskReserved    = "medium_risk_budget_reserved"
	ReasonBudgetExceeded        = "budget_exceeded"
	ReasonHighRisk              = "high_risk_score"
	ReasonCostUnknown           = "cost_unknown"
	ReasonAutoApprovalSuspended = "auto_approval_suspended"
	ReasonUnclassifiedFallback  = "unclassified_fallback"
)

// SLAClass определяет дедлайн эскалации по категории риска операции
type SLAClass string

const (
	SLAStandard SLAClass = "standard" // По умолчанию 4 часа
	SLADeletion SLAClass = "deletion" // Операции класса удаления данных: 1 час
)

// Decision — детерминированный результат оценки одного ActionRequest.
// Tier — чистая функция от (запрос, снапшот бюджета, версия ruleset):
// повторная оценка идентичного снапшота обязана дать идентичный Tier.
// Immutable после создания; попадает в Decision Ledger ровно один раз.
type Decision struct {
	DecisionID string        `json:"decision_id"`
	Request    ActionRequest `json:"request"`
	Tier       Tier          `json:"tier"`
	Rationale  []string      `json:"rationale"`

	// Снимок входов классификатора — для разбора решения без поднятия логов
	RiskScore      float64  `json:"risk_score"`
	RulesetVersion string   `json:"ruleset_version"`
	SLAClass       SLAClass `json:"sla_class"`

	DecidedAt time.Time `json:"decided_at"`
}

// EscalationOutcome — терминальная запись об исходе эскалации.
// Это НОВАЯ запись леджера со ссылкой на исходный decision_id, не мутация.
type EscalationOutcome struct {
	DecisionID       string    `json:"decision_id"`
	EscalationID     string    `json:"escalation_id"`
	AgentID          string    `json:"agent_id"`
	Outcome          string    `json:"outcome"` // approved | denied | denied_by_timeout
	ResolverIdentity string    `json:"resolver_identity"`
	ResolvedAt       time.Time `json:"resolved_at"`
}

const (
	OutcomeApproved        = "approved"
	OutcomeDenied          = "denied"
	OutcomeDeniedByTimeout = "denied_by_timeout"
)
