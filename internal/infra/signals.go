package infra

import "time"

// Источники резолюций: движок (sweep, тикеты) и консоль оператора.
// Слушатель движка дописывает запись исхода в леджер ТОЛЬКО для
// консольных сигналов — свои исходы он уже записал сам.
const (
	ResolutionOriginEngine  = "engine"
	ResolutionOriginConsole = "console"
)

// ResolutionSignal — wire-контракт канала RedisChanEscalationDecisions.
// Консоль публикует его после CAS-резолюции, движок — после finalize.
type ResolutionSignal struct {
	EscalationID string    `json:"escalation_id"`
	DecisionID   string    `json:"decision_id"`
	AgentID      string    `json:"agent_id"`
	Outcome      string    `json:"outcome"`
	Resolver     string    `json:"resolver"`
	ResolvedAt   time.Time `json:"resolved_at"`
	Origin       string    `json:"origin"`
}
