package domain

import "time"

// BudgetPeriod — гранулярность учетного периода
type BudgetPeriod string

const (
	PeriodDaily   BudgetPeriod = "daily"
	PeriodMonthly BudgetPeriod = "monthly"
)

// BudgetState — изменяемый счетчик расходов одного агента.
// ConsumedUSD никогда не уменьшается внутри периода (кроме сброса на границе);
// обновления атомарны — lost update под конкурентными запросами недопустим.
type BudgetState struct {
	AgentID     string       `json:"agent_id"`
	Period      BudgetPeriod `json:"period"`
	LimitUSD    float64      `json:"limit_usd"`
	ConsumedUSD float64      `json:"consumed_usd"`
	PeriodStart time.Time    `json:"period_start"`
}

// Utilization возвращает процент использования лимита [0..100+]
func (b BudgetState) Utilization() float64 {
	if b.LimitUSD <= 0 {
		return 100
	}
	return b.ConsumedUSD / b.LimitUSD * 100
}

// CanReserve — чистая проверка «влезает ли сумма» по снапшоту.
// Именно её использует Evaluator, фактическое списание делает budget.Ledger.
func (b BudgetState) CanReserve(amountUSD float64) bool {
	return b.ConsumedUSD+amountUSD <= b.LimitUSD
}

// PeriodEnd вычисляет границу текущего периода
func (b BudgetState) PeriodEnd() time.Time {
	switch b.Period {
	case PeriodDaily:
		return b.PeriodStart.AddDate(0, 0, 1)
	default:
		return b.PeriodStart.AddDate(0, 1, 0)
	}
}

// Reservation — успешный результат check_and_reserve
type Reservation struct {
	AgentID        string  `json:"agent_id"`
	AmountUSD      float64 `json:"amount_usd"`
	UtilizationPct float64 `json:"utilization_pct"` // Новая утилизация после списания
}
