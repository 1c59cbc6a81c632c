package domain

// GovernanceStats — сводка для консоли оператора
type GovernanceStats struct {
	TotalDecisions     int64            `json:"total_decisions"`
	DecisionsByTier    map[string]int64 `json:"decisions_by_tier"`
	PendingEscalations int              `json:"pending_escalations"`

	// Доля решений без синхронного участия человека: (tier0 + tier1) / all.
	// nil — в окне нет ни одного решения (деление на ноль не маскируем нулем)
	AutonomyRate *float64 `json:"autonomy_rate"`

	SuspendedAgents int `json:"suspended_agents"`
}
