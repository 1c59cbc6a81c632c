package telemetry

import "time"

// Типы событий, уходящих во внешний SIEM/аудит-экспорт
const (
	EventDecision            = "decision"
	EventBudgetThreshold     = "budget_threshold"
	EventEscalationCreated   = "escalation_created"
	EventEscalationClosed    = "escalation_closed"
	EventChainBroken         = "ledger_chain_broken"
	EventAutonomyBelowTarget = "autonomy_below_target"
	EventAgentSuspended      = "agent_suspended"
	EventProposalValidated   = "proposal_validated"
)

const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Event — единица fire-and-forget экспорта
type Event struct {
	ID        string                 `json:"id"`       // UUID события
	TraceID   string                 `json:"trace_id"` // Сквозной ID запроса
	Type      string                 `json:"type"`
	AgentID   string                 `json:"agent_id"`
	Severity  string                 `json:"severity"`
	Payload   map[string]interface{} `json:"payload"`
	Timestamp time.Time              `json:"timestamp"`
}
