package connectors

import (
	"context"
	"fmt"
	"math/rand/v2" // Используем v2 для Go 1.25
	"sync"
	"time"
)

// MockTicketSystem — in-memory тикет-система для разработки и тестов.
// Имитирует сетевую задержку реального вендора; решения по тикетам
// выставляются вручную через Decide.
type MockTicketSystem struct {
	mu      sync.Mutex
	tickets map[string]TicketStatus
	seq     int

	// FailCreates > 0 заставляет столько следующих CreateTicket упасть —
	// для проверки retry/breaker обвязки
	FailCreates int
}

func NewMockTicketSystem() *MockTicketSystem {
	return &MockTicketSystem{tickets: make(map[string]TicketStatus)}
}

func (m *MockTicketSystem) CreateTicket(ctx context.Context, escalationID, summary string, _ map[string]string) (string, error) {
	// Имитируем задержку 50-300мс
	latency := time.Duration(50+rand.IntN(250)) * time.Millisecond
	select {
	case <-time.After(latency):
	case <-ctx.Done():
		return "", ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailCreates > 0 {
		m.FailCreates--
		return "", fmt.Errorf("ticket backend unavailable")
	}
	m.seq++
	ref := fmt.Sprintf("GOV-%d", m.seq)
	m.tickets[ref] = TicketPending
	return ref, nil
}

func (m *MockTicketSystem) PollStatus(ctx context.Context, ticketRef string) (TicketStatus, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	status, ok := m.tickets[ticketRef]
	if !ok {
		return "", fmt.Errorf("ticket %s not found", ticketRef)
	}
	return status, nil
}

// Decide проставляет решение по тикету, как это сделал бы человек в UI
func (m *MockTicketSystem) Decide(ticketRef string, status TicketStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickets[ticketRef] = status
}
