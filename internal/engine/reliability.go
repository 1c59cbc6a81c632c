package engine

import (
	"context"
	"errors"
	"fmt"

	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/xela07ax/agentgov-engine/internal/connectors"
)

// ReliableTicketSystem оборачивает тикет-коннектор в retry, circuit
// breaker и rate limiter. Эскалации создаются людьми и для людей —
// пропускная способность тикет-системы конечна и её надо беречь.
type ReliableTicketSystem struct {
	next    connectors.TicketSystem
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	metrics *Metrics
}

type BreakerSettings struct {
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
}

func NewReliableTicketSystem(next connectors.TicketSystem, metrics *Metrics, bs BreakerSettings) *ReliableTicketSystem {
	if bs.MaxRequests == 0 {
		bs.MaxRequests = 3
	}
	if bs.Interval == 0 {
		bs.Interval = 5 * time.Second
	}
	if bs.Timeout == 0 {
		bs.Timeout = 30 * time.Second // Время, через которое CB попробует "закрыться"
	}

	w := &ReliableTicketSystem{next: next, metrics: metrics}

	w.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ticket-system",
		MaxRequests: bs.MaxRequests,
		Interval:    bs.Interval,
		Timeout:     bs.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Если более 5 ошибок подряд — открываемся (блокируем трафик)
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, _, to gobreaker.State) {
			if metrics == nil {
				return
			}
			state := 0.0
			if to == gobreaker.StateOpen {
				state = 1.0
			}
			metrics.CircuitBreakerState.WithLabelValues(name).Set(state)
		},
	})

	// Тикет-вендоры обычно лимитируют жестче, чем AI-коннекторы
	w.limiter = rate.NewLimiter(rate.Limit(10), 5)
	return w
}

func (w *ReliableTicketSystem) CreateTicket(ctx context.Context, escalationID, summary string, details map[string]string) (string, error) {
	var ref string
	err := w.call(ctx, func(callCtx context.Context) error {
		var callErr error
		ref, callErr = w.next.CreateTicket(callCtx, escalationID, summary, details)
		return callErr
	})
	return ref, err
}

func (w *ReliableTicketSystem) PollStatus(ctx context.Context, ticketRef string) (connectors.TicketStatus, error) {
	var status connectors.TicketStatus
	err := w.call(ctx, func(callCtx context.Context) error {
		var callErr error
		status, callErr = w.next.PollStatus(callCtx, ticketRef)
		return callErr
	})
	return status, err
}

func (w *ReliableTicketSystem) call(ctx context.Context, fn func(ctx context.Context) error) error {
	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("ticket rate limit exceeded: %w", err)
	}

	// 2. Circuit Breaker
	_, err := w.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(3),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Вендор попросил притормозить — уважаем его Retry-After
				var tErr *connectors.ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}

				// Сетевой лаг, 500-ка — стандартный экспоненциальный бэкофф
				return retry.BackOffDelay(n, err, config)
			}),
		)

		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return fn(tCtx)
		})
		return nil, retryErr
	})
	return err
}
