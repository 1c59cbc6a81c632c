package domain

import "errors"

// Таксономия ошибок ядра (spec: Error Handling Design).
// ScopeViolation и ChainBroken никогда не даунгрейдятся молча;
// BudgetExceeded и недоступность внешних систем — recoverable и
// маршрутизируются в СТОРОНУ более строгого tier, не более мягкого.
var (
	// ErrScopeViolation — namespace запроса не совпал с заявленным.
	// Всегда фатален для запроса (Tier 3), не ретраится.
	ErrScopeViolation = errors.New("namespace scope violation")

	// ErrBudgetExceeded — лимит исчерпан; НЕ ошибка приложения,
	// а маршрут в Tier 2 (человек может перекрыть бюджет).
	ErrBudgetExceeded = errors.New("budget exceeded")

	// ErrChainBroken — нарушение целостности hash-цепочки.
	// Останавливает запись в шард, поднимает алерт оператору. Не авточинится.
	ErrChainBroken = errors.New("ledger chain broken")

	// ErrAlreadyResolved — доброкачественный исход гонки за терминальный
	// переход эскалации. Проигравший трактует как информационный сигнал.
	ErrAlreadyResolved = errors.New("escalation already resolved")

	ErrInvalidTransition = errors.New("invalid escalation status transition")

	// ErrExternalUnavailable — тикетинг/телеметрия/cost-oracle недоступны.
	// Деградация graceful: решение все равно фиксируется.
	ErrExternalUnavailable = errors.New("external dependency unavailable")

	ErrEscalationNotFound = errors.New("escalation not found")
	ErrProposalNotFound   = errors.New("proposal not found")
)
