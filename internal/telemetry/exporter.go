package telemetry

/*
Файл exporter.go реализует fire-and-forget экспорт событий аудита
и телеметрии во внешние системы (SIEM, дашборды).

Ключевые особенности архитектуры:
- Non-blocking Emit: неблокирующий канал между Hot Path и воркером.
  Задержки и отказы экспорта НИКОГДА не блокируют Decision или переход
  эскалации — сбой логируется локально и событие сбрасывается.
- Batching: накопление в памяти и пакетная отправка по таймеру или при
  достижении лимита пачки.
- Drain Pattern & Graceful Shutdown: при остановке буфер вычитывается
  до конца через закрытие канала и sync.WaitGroup.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Sink — физический приемник пачек событий (SIEM-коннектор, БД, лог)
type Sink interface {
	WriteBatch(ctx context.Context, events []Event) error
}

// Emitter — то, что видят компоненты ядра
type Emitter interface {
	Emit(event Event)
}

type Exporter struct {
	ch     chan Event
	sink   Sink
	logger *zap.Logger
	wg     sync.WaitGroup

	batchSize     int
	flushInterval time.Duration

	// mu согласует Emit с закрытием канала в Stop: отправка в закрытый
	// канал — это паника, флага с паузой недостаточно
	mu     sync.RWMutex
	closed bool

	// Заполненность буфера для метрики backpressure
	fill int64
}

func NewExporter(sink Sink, bufferSize, batchSize int, flushInterval time.Duration, logger *zap.Logger) *Exporter {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 500 * time.Millisecond
	}
	return &Exporter{
		ch:            make(chan Event, bufferSize),
		sink:          sink,
		logger:        logger.With(zap.String("mod", "telemetry")),
		batchSize:     batchSize,
		flushInterval: flushInterval,
	}
}

func (e *Exporter) Start() {
	e.wg.Add(1)
	go e.worker()
}

// Stop запирает вход и ждет, пока воркер допишет остатки буфера
func (e *Exporter) Stop() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.ch) // Конкурентные Emit держат RLock и сюда не доберутся
	e.mu.Unlock()

	e.logger.Info("stopping telemetry exporter: flushing buffer...")
	e.wg.Wait()
	e.logger.Info("telemetry exporter stopped gracefully")
}

// Emit ставит событие в очередь. Load Shedding: при переполнении буфера
// событие не отправляется, факт потери фиксируется в локальном логе.
func (e *Exporter) Emit(event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.logger.Warn("telemetry event dropped: exporter is stopping",
			zap.String("type", event.Type))
		return
	}

	select {
	case e.ch <- event:
		atomic.AddInt64(&e.fill, 1)
	default:
		e.logger.Error("telemetry_buffer_overflow",
			zap.String("type", event.Type),
			zap.String("agent_id", event.AgentID),
			zap.String("trace_id", event.TraceID))
	}
}

// Fill возвращает текущую заполненность буфера (для Prometheus gauge)
func (e *Exporter) Fill() int64 {
	return atomic.LoadInt64(&e.fill)
}

func (e *Exporter) worker() {
	defer e.wg.Done()

	batch := make([]Event, 0, e.batchSize)
	ticker := time.NewTicker(e.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: основной контекст приложения может быть уже закрыт
		if err := e.sink.WriteBatch(context.Background(), batch); err != nil {
			// Ошибки экспорта глотаются после логирования — это контракт
			e.logger.Error("telemetry flush failed", zap.Int("batch", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case event, ok := <-e.ch:
			if !ok {
				flush() // Финальный сброс
				e.logger.Info("telemetry worker finished")
				return
			}
			atomic.AddInt64(&e.fill, -1)
			batch = append(batch, event)
			if len(batch) >= e.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// NopEmitter — заглушка для тестов и отключенной телеметрии
type NopEmitter struct{}

func (NopEmitter) Emit(Event) {}

// LogSink пишет события в локальный zap-лог: дефолтный приемник, когда
// внешний SIEM не сконфигурирован
type LogSink struct {
	Logger *zap.Logger
}

func (s LogSink) WriteBatch(_ context.Context, events []Event) error {
	for _, e := range events {
		s.Logger.Info("telemetry",
			zap.String("type", e.Type),
			zap.String("agent_id", e.AgentID),
			zap.String("severity", e.Severity),
			zap.Any("payload", e.Payload))
	}
	return nil
}
