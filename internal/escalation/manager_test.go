package escalation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/agentgov-engine/internal/connectors"
	"github.com/xela07ax/agentgov-engine/internal/domain"
	"github.com/xela07ax/agentgov-engine/internal/ledger"
	"github.com/xela07ax/agentgov-engine/internal/telemetry"
)

// quietTickets не ходит по сети и не вносит задержек в тесты
type quietTickets struct {
	mu      sync.Mutex
	created int
	fail    bool
	status  connectors.TicketStatus
}

func (q *quietTickets) CreateTicket(_ context.Context, escalationID, _ string, _ map[string]string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fail {
		return "", errors.New("backend down")
	}
	q.created++
	return "TICKET-" + escalationID, nil
}

func (q *quietTickets) PollStatus(_ context.Context, _ string) (connectors.TicketStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.status == "" {
		return connectors.TicketPending, nil
	}
	return q.status, nil
}

type fixture struct {
	mgr     *Manager
	store   *MemoryStore
	ldg     *ledger.Ledger
	tickets *quietTickets
	now     time.Time
	nowMu   sync.Mutex
}

func (f *fixture) setNow(t time.Time) {
	f.nowMu.Lock()
	f.now = t
	f.nowMu.Unlock()
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ldg, err := ledger.Open(context.Background(), ledger.NewMemoryStore(), zap.NewNop())
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	f := &fixture{
		store:   NewMemoryStore(),
		ldg:     ldg,
		tickets: &quietTickets{},
		now:     time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time {
		f.nowMu.Lock()
		defer f.nowMu.Unlock()
		return f.now
	}
	all := append([]Option{WithClock(clock)}, opts...)
	f.mgr = NewManager(f.store, ldg, f.tickets, telemetry.NopEmitter{}, zap.NewNop(), all...)
	return f
}

func tier2Decision(id string) *domain.Decision {
	return &domain.Decision{
		DecisionID: id,
		Request: domain.ActionRequest{
			AgentID:        "ag-1",
			Namespace:      "team-a",
			Operation:      domain.OpDelete,
			TargetResource: "vm/worker-3",
		},
		Tier:      domain.TierEscalate,
		Rationale: []string{domain.ReasonHighRisk},
		SLAClass:  domain.SLAStandard,
	}
}

func outcomeEntries(t *testing.T, ldg *ledger.Ledger) []domain.EscalationOutcome {
	t.Helper()
	entries, err := ldg.Query(ledger.Filter{}).Collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	var out []domain.EscalationOutcome
	for _, e := range entries {
		if e.Record.Outcome != nil {
			out = append(out, *e.Record.Outcome)
		}
	}
	return out
}

func TestCreateFromDecisionSetsSLADeadline(t *testing.T) {
	f := newFixture(t)

	esc, err := f.mgr.CreateFromDecision(context.Background(), tier2Decision("dec-1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if esc.Status != domain.EscalationPending {
		t.Fatalf("expected pending, got %s", esc.Status)
	}
	if want := f.now.Add(4 * time.Hour); !esc.SLADeadline.Equal(want) {
		t.Fatalf("standard sla deadline = %v, want created_at+4h %v", esc.SLADeadline, want)
	}
	if esc.TicketRef == "" {
		t.Fatal("expected ticket ref to be attached")
	}

	// Класс удаления данных живет 1 час
	dec := tier2Decision("dec-2")
	dec.SLAClass = domain.SLADeletion
	esc, err = f.mgr.CreateFromDecision(context.Background(), dec)
	if err != nil {
		t.Fatalf("create deletion-class: %v", err)
	}
	if want := f.now.Add(1 * time.Hour); !esc.SLADeadline.Equal(want) {
		t.Fatalf("deletion sla deadline = %v, want created_at+1h %v", esc.SLADeadline, want)
	}
}

func TestCreateSurvivesTicketFailure(t *testing.T) {
	f := newFixture(t)
	f.tickets.fail = true

	esc, err := f.mgr.CreateFromDecision(context.Background(), tier2Decision("dec-1"))
	if err != nil {
		t.Fatalf("escalation must survive ticket backend failure: %v", err)
	}
	got, err := f.mgr.Get(context.Background(), esc.EscalationID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.EscalationPending || got.TicketRef != "" {
		t.Fatalf("expected pending without ticket, got %+v", got)
	}
}

func TestCreateRejectsNonTier2(t *testing.T) {
	f := newFixture(t)
	dec := tier2Decision("dec-1")
	dec.Tier = domain.TierAutoApprove
	if _, err := f.mgr.CreateFromDecision(context.Background(), dec); err == nil {
		t.Fatal("expected error for non-tier-2 decision")
	}
}

func TestResolveAppendsOutcomeEntry(t *testing.T) {
	f := newFixture(t)
	esc, err := f.mgr.CreateFromDecision(context.Background(), tier2Decision("dec-1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	resolved, err := f.mgr.Resolve(context.Background(), esc.EscalationID, true, "operator@example.com")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != domain.EscalationApproved {
		t.Fatalf("status = %s, want approved", resolved.Status)
	}
	if resolved.ResolvedAt == nil {
		t.Fatal("resolved_at must be set on terminal status")
	}

	outs := outcomeEntries(t, f.ldg)
	if len(outs) != 1 {
		t.Fatalf("expected 1 outcome entry, got %d", len(outs))
	}
	if outs[0].DecisionID != "dec-1" || outs[0].Outcome != domain.OutcomeApproved {
		t.Fatalf("outcome entry wrong: %+v", outs[0])
	}
	if outs[0].ResolverIdentity != "operator@example.com" {
		t.Fatalf("resolver = %q", outs[0].ResolverIdentity)
	}
}

func TestSecondResolutionFailsAlreadyResolved(t *testing.T) {
	f := newFixture(t)
	esc, _ := f.mgr.CreateFromDecision(context.Background(), tier2Decision("dec-1"))

	if _, err := f.mgr.Resolve(context.Background(), esc.EscalationID, false, "alice"); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if _, err := f.mgr.Resolve(context.Background(), esc.EscalationID, true, "bob"); !errors.Is(err, domain.ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}
}

func TestSweepTimesOutExpiredPending(t *testing.T) {
	f := newFixture(t)
	esc, _ := f.mgr.CreateFromDecision(context.Background(), tier2Decision("dec-1"))

	// До дедлайна sweep ничего не трогает
	f.setNow(f.now.Add(3 * time.Hour))
	f.mgr.SweepTimeouts(context.Background())
	got, _ := f.mgr.Get(context.Background(), esc.EscalationID)
	if got.Status != domain.EscalationPending {
		t.Fatalf("sweep before deadline must keep pending, got %s", got.Status)
	}

	// created_at + 4h + 1m: просрочено
	f.setNow(f.now.Add(61 * time.Minute))
	f.mgr.SweepTimeouts(context.Background())

	got, _ = f.mgr.Get(context.Background(), esc.EscalationID)
	if got.Status != domain.EscalationTimedOut {
		t.Fatalf("expected timed_out, got %s", got.Status)
	}
	outs := outcomeEntries(t, f.ldg)
	if len(outs) != 1 || outs[0].Outcome != domain.OutcomeDeniedByTimeout {
		t.Fatalf("expected denied_by_timeout outcome entry, got %+v", outs)
	}
	if outs[0].ResolverIdentity != "system/sla-sweep" {
		t.Fatalf("resolver = %q", outs[0].ResolverIdentity)
	}
}

// Ровно один из {человек, sweep} выигрывает терминальный переход,
// проигравший всегда получает AlreadyResolved.
func TestResolutionRaceExclusivity(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := newFixture(t)
		esc, _ := f.mgr.CreateFromDecision(context.Background(), tier2Decision("dec-1"))
		f.setNow(f.now.Add(5 * time.Hour)) // Дедлайн прошел

		var wg sync.WaitGroup
		var humanErr error

		wg.Add(2)
		go func() {
			defer wg.Done()
			_, humanErr = f.mgr.Resolve(context.Background(), esc.EscalationID, true, "alice")
		}()
		go func() {
			defer wg.Done()
			f.mgr.SweepTimeouts(context.Background())
		}()
		wg.Wait()

		got, _ := f.mgr.Get(context.Background(), esc.EscalationID)
		outs := outcomeEntries(t, f.ldg)

		switch got.Status {
		case domain.EscalationApproved:
			if humanErr != nil {
				t.Fatalf("human won but got error: %v", humanErr)
			}
		case domain.EscalationTimedOut:
			if !errors.Is(humanErr, domain.ErrAlreadyResolved) {
				t.Fatalf("sweep won but human got %v, want ErrAlreadyResolved", humanErr)
			}
		default:
			t.Fatalf("unexpected terminal status %s", got.Status)
		}
		if len(outs) != 1 {
			t.Fatalf("exactly one outcome entry expected, got %d", len(outs))
		}
	}
}

func TestPollTicketsAppliesExternalDecision(t *testing.T) {
	f := newFixture(t)
	esc, _ := f.mgr.CreateFromDecision(context.Background(), tier2Decision("dec-1"))

	f.tickets.status = connectors.TicketDenied
	f.mgr.PollTickets(context.Background())

	got, _ := f.mgr.Get(context.Background(), esc.EscalationID)
	if got.Status != domain.EscalationDenied {
		t.Fatalf("expected denied via ticket poll, got %s", got.Status)
	}
	if got.ResolverIdentity != "ticket/"+esc.TicketRef {
		t.Fatalf("resolver = %q", got.ResolverIdentity)
	}
}
