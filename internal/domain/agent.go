package domain

import "time"

type AgentStatus string

const (
	AgentActive AgentStatus = "active" // Полный доступ к автоодобрению

	// AgentSuspended — сработал circuit breaker (бюджет >= 90% или ручная
	// блокировка оператором). Автоодобрение приостановлено, все запросы
	// агента уходят в Tier 2 до снятия блокировки человеком.
	AgentSuspended AgentStatus = "suspended"
)

// Agent — регистрационная запись агента.
// Namespace здесь — источник истины для аттестации:
// заявленный в запросе namespace сверяется именно с этим полем.
type Agent struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Namespace string      `json:"namespace"`
	Status    AgentStatus `json:"status"`

	// Переопределение бюджета; nil — действует дефолт из конфига
	BudgetLimitUSD *float64      `json:"budget_limit_usd,omitempty"`
	BudgetPeriod   *BudgetPeriod `json:"budget_period,omitempty"`

	LastActivity time.Time `json:"last_activity"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
