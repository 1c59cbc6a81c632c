package telemetry

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *captureSink) WriteBatch(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, batch...)
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestExporterDrainsOnStop(t *testing.T) {
	sink := &captureSink{}
	exp := NewExporter(sink, 1000, 10, time.Hour, zap.NewNop())
	exp.Start()

	for i := 0; i < 95; i++ {
		exp.Emit(Event{Type: EventDecision, AgentID: fmt.Sprintf("agent-%d", i)})
	}
	exp.Stop()

	if got := sink.count(); got != 95 {
		t.Fatalf("expected 95 events after drain, got %d", got)
	}
}

func TestExporterDropsWhenBufferFull(t *testing.T) {
	sink := &captureSink{}
	// Воркер не запущен: буфер из 3 слотов переполнится
	exp := NewExporter(sink, 3, 10, time.Hour, zap.NewNop())

	for i := 0; i < 10; i++ {
		exp.Emit(Event{Type: EventDecision})
	}
	if fill := exp.Fill(); fill != 3 {
		t.Fatalf("expected buffer fill 3, got %d", fill)
	}
}

func TestExporterRejectsAfterStop(t *testing.T) {
	sink := &captureSink{}
	exp := NewExporter(sink, 10, 10, time.Hour, zap.NewNop())
	exp.Start()
	exp.Stop()

	// Не должно паниковать записью в закрытый канал
	exp.Emit(Event{Type: EventDecision})
	if got := sink.count(); got != 0 {
		t.Fatalf("expected 0 events, got %d", got)
	}
}

// Остановка во время шквала Emit не должна ронять процесс отправкой
// в закрытый канал
func TestExporterStopDuringConcurrentEmit(t *testing.T) {
	sink := &captureSink{}
	exp := NewExporter(sink, 10, 10, time.Hour, zap.NewNop())
	exp.Start()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				exp.Emit(Event{Type: EventDecision})
			}
		}()
	}

	exp.Stop()
	wg.Wait()

	// Повторный Stop безопасен
	exp.Stop()
}

func TestExporterFlushesByBatchSize(t *testing.T) {
	sink := &captureSink{}
	exp := NewExporter(sink, 100, 5, time.Hour, zap.NewNop())
	exp.Start()
	defer exp.Stop()

	for i := 0; i < 5; i++ {
		exp.Emit(Event{Type: EventBudgetThreshold})
	}

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() < 5 {
		if time.Now().After(deadline) {
			t.Fatalf("batch was not flushed by size, got %d events", sink.count())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
