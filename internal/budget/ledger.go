package budget

/*
Пакет budget реализует Budget & Quota Ledger — атомарный учет расходов
по агентам, на который опирается Policy Evaluator.

Дисциплина конкурентности: per-key блокировка. Запросы одного агента
сериализуются на его собственном мьютексе (double-spend исключен),
разные агенты обрабатываются полностью параллельно.
*/

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xela07ax/agentgov-engine/internal/domain"
	"go.uber.org/zap"
)

// Пороговые отметки утилизации. Каждая стреляет не более одного раза
// за период; от 90% дополнительно рекомендуется circuit breaker
// (приостановка автоодобрения до ревью человеком).
var thresholds = []int{50, 75, 90, 100}

const breakerThreshold = 90

// ThresholdEvent — событие пересечения порога утилизации
type ThresholdEvent struct {
	AgentID            string
	Threshold          int
	UtilizationPct     float64
	RecommendedBreaker bool
	PeriodStart        time.Time
}

// Limits — действующие лимиты агента
type Limits struct {
	LimitUSD float64
	Period   domain.BudgetPeriod
}

// Store персистит состояние бюджета (переживание рестартов).
// Ошибки записи не блокируют резервирование — учет в памяти первичен.
type Store interface {
	SaveBudget(ctx context.Context, state domain.BudgetState) error
}

type agentBudget struct {
	mu    sync.Mutex
	state domain.BudgetState
	fired map[int]bool // Какие пороги уже стреляли в этом периоде
}

type Ledger struct {
	mu     sync.RWMutex
	agents map[string]*agentBudget

	defaults    Limits
	limitsFn    func(agentID string) (Limits, bool) // Переопределения per-agent
	onThreshold func(ThresholdEvent)
	store       Store
	now         func() time.Time
	logger      *zap.Logger
}

type Option func(*Ledger)

// WithLimitsFn подключает источник per-agent переопределений лимитов
func WithLimitsFn(fn func(agentID string) (Limits, bool)) Option {
	return func(l *Ledger) { l.limitsFn = fn }
}

// WithThresholdHook подключает получателя threshold-событий
func WithThresholdHook(fn func(ThresholdEvent)) Option {
	return func(l *Ledger) { l.onThreshold = fn }
}

func WithStore(s Store) Option {
	return func(l *Ledger) { l.store = s }
}

// WithClock — для детерминированных тестов границы периода
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func NewLedger(defaults Limits, logger *zap.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		agents:   make(map[string]*agentBudget),
		defaults: defaults,
		now:      time.Now,
		logger:   logger.With(zap.String("mod", "budget")),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CheckAndReserve атомарно списывает amount с текущего периода агента.
// Все-или-ничего: при превышении лимита частичного списания НЕ происходит,
// возвращается domain.ErrBudgetExceeded с текущей утилизацией.
func (l *Ledger) CheckAndReserve(ctx context.Context, agentID string, amountUSD float64) (domain.Reservation, error) {
	if amountUSD < 0 {
		return domain.Reservation{}, fmt.Errorf("budget: negative amount %.2f", amountUSD)
	}

	ab := l.agentBucket(agentID)

	ab.mu.Lock()
	defer ab.mu.Unlock()

	// Ролловер оцениваем по времени ПРИБЫТИЯ запроса: заявка, пришедшая
	// до границы, считается против старого периода
	l.rolloverLocked(ab)

	if !ab.state.CanReserve(amountUSD) {
		return domain.Reservation{}, fmt.Errorf("budget: agent %s at %.1f%% (limit %.2f, requested %.2f): %w",
			agentID, ab.state.Utilization(), ab.state.LimitUSD, amountUSD, domain.ErrBudgetExceeded)
	}

	ab.state.ConsumedUSD += amountUSD
	util := ab.state.Utilization()

	l.fireThresholdsLocked(ab, util)
	l.persistLocked(ctx, ab)

	return domain.Reservation{
		AgentID:        agentID,
		AmountUSD:      amountUSD,
		UtilizationPct: util,
	}, nil
}

// Snapshot возвращает неизменяемую копию состояния бюджета агента
// (с уже примененным ролловером) — консистентный вход для Evaluator.
func (l *Ledger) Snapshot(agentID string) domain.BudgetState {
	ab := l.agentBucket(agentID)

	ab.mu.Lock()
	defer ab.mu.Unlock()

	l.rolloverLocked(ab)
	return ab.state
}

// agentBucket достает или лениво создает бюджет агента
func (l *Ledger) agentBucket(agentID string) *agentBudget {
	l.mu.RLock()
	ab, ok := l.agents[agentID]
	l.mu.RUnlock()
	if ok {
		return ab
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	// Перепроверка под write-lock: бюджет мог создать конкурент
	if ab, ok = l.agents[agentID]; ok {
		return ab
	}

	limits := l.defaults
	if l.limitsFn != nil {
		if override, ok := l.limitsFn(agentID); ok {
			limits = override
		}
	}

	ab = &agentBudget{
		state: domain.BudgetState{
			AgentID:     agentID,
			Period:      limits.Period,
			LimitUSD:    limits.LimitUSD,
			PeriodStart: periodStart(l.now(), limits.Period),
		},
		fired: make(map[int]bool),
	}
	l.agents[agentID] = ab
	return ab
}

// rolloverLocked сбрасывает счетчик на границе периода.
// ConsumedUSD уменьшается ТОЛЬКО здесь.
func (l *Ledger) rolloverLocked(ab *agentBudget) {
	now := l.now()
	for !now.Before(ab.state.PeriodEnd()) {
		ab.state.PeriodStart = ab.state.PeriodEnd()
		ab.state.ConsumedUSD = 0
		ab.fired = make(map[int]bool)
	}
}

func (l *Ledger) fireThresholdsLocked(ab *agentBudget, util float64) {
	if l.onThreshold == nil {
		return
	}
	for _, t := range thresholds {
		if util >= float64(t) && !ab.fired[t] {
			ab.fired[t] = true
			l.onThreshold(ThresholdEvent{
				AgentID:            ab.state.AgentID,
				Threshold:          t,
				UtilizationPct:     util,
				RecommendedBreaker: t >= breakerThreshold,
				PeriodStart:        ab.state.PeriodStart,
			})
		}
	}
}

func (l *Ledger) persistLocked(ctx context.Context, ab *agentBudget) {
	if l.store == nil {
		return
	}
	if err := l.store.SaveBudget(ctx, ab.state); err != nil {
		// Учет в памяти первичен, падение базы не должно ронять Hot Path
		l.logger.Warn("budget persistence failed",
			zap.String("agent_id", ab.state.AgentID),
			zap.Error(err))
	}
}

// Restore заливает сохраненное состояние при старте (до первого запроса)
func (l *Ledger) Restore(states []domain.BudgetState) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for _, st := range states {
		// Протухшие периоды не восстанавливаем: агент начнет с чистого
		if !now.Before(st.PeriodEnd()) {
			continue
		}
		fired := make(map[int]bool)
		for _, t := range thresholds {
			if st.Utilization() >= float64(t) {
				fired[t] = true
			}
		}
		l.agents[st.AgentID] = &agentBudget{state: st, fired: fired}
	}
}

// periodStart выравнивает начало периода по календарной границе (UTC)
func periodStart(now time.Time, p domain.BudgetPeriod) time.Time {
	now = now.UTC()
	switch p {
	case domain.PeriodDaily:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
}
