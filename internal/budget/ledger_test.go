package budget

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xela07ax/agentgov-engine/internal/domain"
	"go.uber.org/zap"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestCheckAndReserveExceeded(t *testing.T) {
	l := NewLedger(Limits{LimitUSD: 100, Period: domain.PeriodDaily}, zap.NewNop())

	// Доводим до consumed=95
	if _, err := l.CheckAndReserve(context.Background(), "agent-1", 95); err != nil {
		t.Fatalf("reserve 95: %v", err)
	}

	// 95 + 10 > 100 — отказ без частичного списания
	_, err := l.CheckAndReserve(context.Background(), "agent-1", 10)
	if !errors.Is(err, domain.ErrBudgetExceeded) {
		t.Fatalf("expected ErrBudgetExceeded, got %v", err)
	}

	snap := l.Snapshot("agent-1")
	if snap.ConsumedUSD != 95 {
		t.Fatalf("partial increment leaked: consumed=%v", snap.ConsumedUSD)
	}

	// Ровно в лимит — проходит
	res, err := l.CheckAndReserve(context.Background(), "agent-1", 5)
	if err != nil {
		t.Fatalf("reserve to exact limit: %v", err)
	}
	if res.UtilizationPct != 100 {
		t.Fatalf("utilization = %v, want 100", res.UtilizationPct)
	}
}

func TestNegativeAmountRejected(t *testing.T) {
	l := NewLedger(Limits{LimitUSD: 100, Period: domain.PeriodDaily}, zap.NewNop())
	if _, err := l.CheckAndReserve(context.Background(), "a", -1); err == nil {
		t.Fatal("expected error for negative amount")
	}
}

// Budget conservation: при конкурентных списаниях итог равен сумме
// УСПЕШНЫХ резервирований, без double counting и без lost update.
func TestConcurrentReservations(t *testing.T) {
	l := NewLedger(Limits{LimitUSD: 1000, Period: domain.PeriodMonthly}, zap.NewNop())

	const workers = 50
	const amount = 30.0 // 50*30=1500 > 1000, часть обязана отказать

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.CheckAndReserve(context.Background(), "agent-x", amount); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	snap := l.Snapshot("agent-x")
	want := float64(succeeded) * amount
	if snap.ConsumedUSD != want {
		t.Fatalf("consumed=%v, want %v (succeeded=%d)", snap.ConsumedUSD, want, succeeded)
	}
	if snap.ConsumedUSD > snap.LimitUSD {
		t.Fatalf("limit overrun: %v > %v", snap.ConsumedUSD, snap.LimitUSD)
	}
}

func TestThresholdEventsFireOncePerPeriod(t *testing.T) {
	var events []ThresholdEvent
	l := NewLedger(Limits{LimitUSD: 100, Period: domain.PeriodDaily}, zap.NewNop(),
		WithThresholdHook(func(e ThresholdEvent) { events = append(events, e) }))

	steps := []float64{40, 20, 15, 20, 5} // 40, 60, 75, 95, 100
	for _, s := range steps {
		if _, err := l.CheckAndReserve(context.Background(), "a", s); err != nil {
			t.Fatalf("reserve %v: %v", s, err)
		}
	}

	var got []int
	for _, e := range events {
		got = append(got, e.Threshold)
	}
	want := []int{50, 75, 90, 100}
	if len(got) != len(want) {
		t.Fatalf("thresholds fired %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("thresholds fired %v, want %v", got, want)
		}
	}

	// Breaker рекомендуется только от 90%
	for _, e := range events {
		if (e.Threshold >= 90) != e.RecommendedBreaker {
			t.Fatalf("threshold %d: RecommendedBreaker=%v", e.Threshold, e.RecommendedBreaker)
		}
	}
}

func TestPeriodRollover(t *testing.T) {
	now := time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)
	clock := now
	l := NewLedger(Limits{LimitUSD: 100, Period: domain.PeriodDaily}, zap.NewNop(),
		WithClock(func() time.Time { return clock }))

	if _, err := l.CheckAndReserve(context.Background(), "a", 90); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	// До границы периода: лимит держится
	if _, err := l.CheckAndReserve(context.Background(), "a", 20); !errors.Is(err, domain.ErrBudgetExceeded) {
		t.Fatalf("expected exceeded before rollover, got %v", err)
	}

	// Переходим границу суток — счетчик сбрасывается, пороги перевзводятся
	clock = now.Add(2 * time.Hour)
	res, err := l.CheckAndReserve(context.Background(), "a", 20)
	if err != nil {
		t.Fatalf("reserve after rollover: %v", err)
	}
	if res.UtilizationPct != 20 {
		t.Fatalf("utilization after rollover = %v, want 20", res.UtilizationPct)
	}

	snap := l.Snapshot("a")
	if !snap.PeriodStart.Equal(time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("period start not advanced: %v", snap.PeriodStart)
	}
}

func TestRestoreSkipsStalePeriods(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	l := NewLedger(Limits{LimitUSD: 100, Period: domain.PeriodDaily}, zap.NewNop(),
		WithClock(fixedClock(now)))

	l.Restore([]domain.BudgetState{
		{AgentID: "fresh", Period: domain.PeriodDaily, LimitUSD: 100, ConsumedUSD: 60,
			PeriodStart: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)},
		{AgentID: "stale", Period: domain.PeriodDaily, LimitUSD: 100, ConsumedUSD: 60,
			PeriodStart: time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)},
	})

	if got := l.Snapshot("fresh").ConsumedUSD; got != 60 {
		t.Fatalf("fresh consumed=%v, want 60", got)
	}
	if got := l.Snapshot("stale").ConsumedUSD; got != 0 {
		t.Fatalf("stale consumed=%v, want 0", got)
	}
}
