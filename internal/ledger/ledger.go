package ledger

/*
Пакет ledger реализует Decision Ledger — append-only журнал решений
с hash-цепочкой (tamper evidence).

Дисциплина записи строже бюджетной: единственный writer под мьютексом,
потому что конкурентные неупорядоченные append'ы ломают целостность
цепочки. Sequence number строго монотонен и без дыр.

Разрыв цепочки (ChainBroken) — жесткий стоп записи в шард и алерт
оператору; автоматически не чинится никогда.
*/

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/xela07ax/agentgov-engine/internal/domain"
	"go.uber.org/zap"
)

// GenesisHash — prev_hash первой записи
const GenesisHash = "genesis"

// Store — физическое хранение записей. Все вызовы Append идут под
// writer-локом Ledger, поэтому стор может быть простым.
type Store interface {
	Append(ctx context.Context, entry domain.LedgerEntry) error
	Tail(ctx context.Context) (*domain.LedgerEntry, error)

	// List возвращает записи с sequence_number > afterSeq, подходящие под
	// фильтр, в порядке возрастания seq, не более limit штук
	List(ctx context.Context, f Filter, afterSeq uint64, limit int) ([]domain.LedgerEntry, error)

	// Range отдает записи [from, to] без фильтра — для verify_chain
	Range(ctx context.Context, from, to uint64) ([]domain.LedgerEntry, error)
}

// Filter — параметры выборки query(agent_id?, tier?, time_range?)
type Filter struct {
	AgentID string
	Tier    *domain.Tier
	From    time.Time
	To      time.Time
}

type Ledger struct {
	mu       sync.Mutex
	store    Store
	lastSeq  uint64
	lastHash string
	poisoned bool

	onBreak func(seq uint64, detail string) // Алерт оператору
	logger  *zap.Logger
}

type Option func(*Ledger)

func WithBreakHook(fn func(seq uint64, detail string)) Option {
	return func(l *Ledger) { l.onBreak = fn }
}

// Open поднимает леджер над стором, восстанавливая позицию хвоста
func Open(ctx context.Context, store Store, logger *zap.Logger, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		store:    store,
		lastHash: GenesisHash,
		logger:   logger.With(zap.String("mod", "ledger")),
	}
	for _, opt := range opts {
		opt(l)
	}

	tail, err := store.Tail(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: read tail: %w", err)
	}
	if tail != nil {
		l.lastSeq = tail.SequenceNumber
		l.lastHash = tail.EntryHash
	}
	return l, nil
}

// EntryHash считает хэш записи: sha256(seq ‖ record ‖ prev_hash).
// json.Marshal структур детерминирован (порядок полей фиксирован),
// map'ов в LedgerRecord нет.
func EntryHash(seq uint64, rec domain.LedgerRecord, prevHash string) string {
	body, _ := json.Marshal(rec)
	h := sha256.New()
	fmt.Fprintf(h, "%d|", seq)
	h.Write(body)
	fmt.Fprintf(h, "|%s", prevHash)
	return hex.EncodeToString(h.Sum(nil))
}

// Append добавляет запись в хвост цепочки. Перед записью хвост стора
// сверяется с ожидаемым: расхождение означает вмешательство или потерю
// записи — ErrChainBroken, шард закрывается для записи.
func (l *Ledger) Append(ctx context.Context, rec domain.LedgerRecord) (domain.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.poisoned {
		return domain.LedgerEntry{}, fmt.Errorf("ledger: writes halted: %w", domain.ErrChainBroken)
	}

	tail, err := l.store.Tail(ctx)
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("ledger: read tail: %w", err)
	}

	switch {
	case tail == nil && l.lastSeq != 0:
		return domain.LedgerEntry{}, l.poison(l.lastSeq, "tail vanished from store")
	case tail != nil && (tail.SequenceNumber != l.lastSeq || tail.EntryHash != l.lastHash):
		return domain.LedgerEntry{}, l.poison(tail.SequenceNumber,
			fmt.Sprintf("tail mismatch: store seq=%d hash=%s, writer seq=%d hash=%s",
				tail.SequenceNumber, tail.EntryHash, l.lastSeq, l.lastHash))
	}

	entry := domain.LedgerEntry{
		SequenceNumber: l.lastSeq + 1,
		Record:         rec,
		PrevHash:       l.lastHash,
	}
	entry.EntryHash = EntryHash(entry.SequenceNumber, entry.Record, entry.PrevHash)

	if err := l.store.Append(ctx, entry); err != nil {
		// Стор не принял запись — позиция writer'а не продвигается
		return domain.LedgerEntry{}, fmt.Errorf("ledger: append seq %d: %w", entry.SequenceNumber, err)
	}

	l.lastSeq = entry.SequenceNumber
	l.lastHash = entry.EntryHash
	return entry, nil
}

// poison вызывается под l.mu
func (l *Ledger) poison(seq uint64, detail string) error {
	l.poisoned = true
	l.logger.Error("LEDGER CHAIN BROKEN — writes halted",
		zap.Uint64("seq", seq), zap.String("detail", detail))
	if l.onBreak != nil {
		l.onBreak(seq, detail)
	}
	return fmt.Errorf("ledger: %s: %w", detail, domain.ErrChainBroken)
}

// Poisoned сообщает, остановлена ли запись в шард
func (l *Ledger) Poisoned() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.poisoned
}

// TailSeq возвращает номер последней записи
func (l *Ledger) TailSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSeq
}

// VerifyChain пересчитывает хэши диапазона [from, to] и проверяет сцепку.
// from == 0 трактуется как начало цепочки. Используется периодическими
// integrity-аудитами и внешним read-only API.
func (l *Ledger) VerifyChain(ctx context.Context, from, to uint64) (bool, error) {
	if from == 0 {
		from = 1
	}
	if to < from {
		return true, nil
	}

	prevHash := GenesisHash
	if from > 1 {
		prev, err := l.store.Range(ctx, from-1, from-1)
		if err != nil {
			return false, fmt.Errorf("ledger: verify: read seq %d: %w", from-1, err)
		}
		if len(prev) != 1 {
			return false, nil // Дыра перед диапазоном
		}
		prevHash = prev[0].EntryHash
	}

	expectSeq := from
	for expectSeq <= to {
		batch, err := l.store.Range(ctx, expectSeq, min(to, expectSeq+255))
		if err != nil {
			return false, fmt.Errorf("ledger: verify: read range: %w", err)
		}
		if len(batch) == 0 {
			return false, nil // Дыра в нумерации
		}
		for _, e := range batch {
			if e.SequenceNumber != expectSeq {
				return false, nil
			}
			if e.PrevHash != prevHash {
				return false, nil
			}
			if EntryHash(e.SequenceNumber, e.Record, e.PrevHash) != e.EntryHash {
				return false, nil
			}
			prevHash = e.EntryHash
			expectSeq++
		}
	}
	return true, nil
}

// Query возвращает ленивый, перезапускаемый итератор по записям,
// упорядоченный по sequence_number
func (l *Ledger) Query(f Filter) *Iterator {
	return &Iterator{store: l.store, filter: f, batchSize: 256}
}

// Iterator вычитывает записи постранично. Позиция — последний отданный
// sequence_number, поэтому итерацию можно перезапустить с Resume().
type Iterator struct {
	store     Store
	filter    Filter
	batchSize int

	afterSeq uint64
	buf      []domain.LedgerEntry
	idx      int
	done     bool
}

// Resume продолжает итерацию после заданного sequence_number
func (it *Iterator) Resume(afterSeq uint64) {
	it.afterSeq = afterSeq
	it.buf = nil
	it.idx = 0
	it.done = false
}

// Next возвращает следующую запись или (nil, nil) в конце последовательности
func (it *Iterator) Next(ctx context.Context) (*domain.LedgerEntry, error) {
	for {
		if it.idx < len(it.buf) {
			e := it.buf[it.idx]
			it.idx++
			it.afterSeq = e.SequenceNumber
			return &e, nil
		}
		if it.done {
			return nil, nil
		}

		batch, err := it.store.List(ctx, it.filter, it.afterSeq, it.batchSize)
		if err != nil {
			return nil, fmt.Errorf("ledger: query: %w", err)
		}
		if len(batch) < it.batchSize {
			it.done = true
		}
		if len(batch) == 0 {
			return nil, nil
		}
		it.buf = batch
		it.idx = 0
	}
}

// Collect вычитывает весь остаток итератора (утилита для консоли и тестов)
func (it *Iterator) Collect(ctx context.Context) ([]domain.LedgerEntry, error) {
	var out []domain.LedgerEntry
	for {
		e, err := it.Next(ctx)
		if err != nil {
			return nil, err
		}
		if e == nil {
			return out, nil
		}
		out = append(out, *e)
	}
}
