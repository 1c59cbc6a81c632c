package domain

import "time"

// Operation определяет глагол действия агента
type Operation string

const (
	OpCreate Operation = "create"
	OpModify Operation = "modify"
	OpDelete Operation = "delete"
	OpAccess Operation = "access"
)

// ActionRequest — намерение агента выполнить операцию.
// Создается внешним вызывающим, потребляется Policy Evaluator ровно один раз,
// после этого не мутируется.
type ActionRequest struct {
	AgentID        string    `json:"agent_id"`
	Namespace      string    `json:"namespace"` // Заявленная зона владения агента
	Operation      Operation `json:"operation"`
	TargetResource string    `json:"target_resource"` // Напр. "pod/checkout-7f9c" или "db/billing"

	// Оценка стоимости в USD. nil — стоимость неизвестна,
	// тогда Evaluator обращается к Cost Oracle (Fail-Safe: нет оракула → Tier 2)
	EstimatedCostUSD *float64 `json:"estimated_cost_usd,omitempty"`

	Justification string    `json:"justification"`
	RequestedAt   time.Time `json:"requested_at"`
}

// ResourceType возвращает класс ресурса (префикс до первого '/').
// Используется для allowlist и расчета blast radius.
func (r *ActionRequest) ResourceType() string {
	for i := 0; i < len(r.TargetResource); i++ {
		if r.TargetResource[i] == '/' {
			return r.TargetResource[:i]
		}
	}
	return r.TargetResource
}
