package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/xela07ax/agentgov-engine/internal/domain"
	"github.com/xela07ax/agentgov-engine/internal/ledger"
)

// LedgerHandler — read-only доступ к hash-цепочке решений.
// Консоль из леджера только читает: писать в цепочку может один движок.
type LedgerHandler struct {
	ldg *ledger.Ledger
}

func NewLedgerHandler(ldg *ledger.Ledger) *LedgerHandler {
	return &LedgerHandler{ldg: ldg}
}

// Query отдает записи леджера постранично
// GET /v1/ledger?agent_id=...&tier=1&from=...&to=...&after_seq=0&limit=100
func (h *LedgerHandler) Query(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var f ledger.Filter
	f.AgentID = q.Get("agent_id")

	if raw := q.Get("tier"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > 3 {
			http.Error(w, "tier must be 0..3", http.StatusBadRequest)
			return
		}
		t := domain.Tier(n)
		f.Tier = &t
	}
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "from must be RFC3339", http.StatusBadRequest)
			return
		}
		f.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "to must be RFC3339", http.StatusBadRequest)
			return
		}
		f.To = t
	}

	afterSeq, _ := strconv.ParseUint(q.Get("after_seq"), 10, 64)
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	it := h.ldg.Query(f)
	it.Resume(afterSeq)

	entries := make([]domain.LedgerEntry, 0, limit)
	for len(entries) < limit {
		e, err := it.Next(r.Context())
		if err != nil {
			http.Error(w, "ledger read failed", http.StatusInternalServerError)
			return
		}
		if e == nil {
			break
		}
		entries = append(entries, *e)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

// VerifyResponse — итог проверки целостности диапазона
type VerifyResponse struct {
	From  uint64 `json:"from"`
	To    uint64 `json:"to"`
	Valid bool   `json:"valid"`
}

// Verify пересчитывает хэши диапазона цепочки
// GET /v1/ledger/verify?from=1&to=500 (to по умолчанию — хвост)
func (h *LedgerHandler) Verify(w http.ResponseWriter, r *http.Request) {
	from, _ := strconv.ParseUint(r.URL.Query().Get("from"), 10, 64)
	to, _ := strconv.ParseUint(r.URL.Query().Get("to"), 10, 64)
	if to == 0 {
		to = h.ldg.TailSeq()
	}

	valid, err := h.ldg.VerifyChain(r.Context(), from, to)
	if err != nil {
		http.Error(w, "verification failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(VerifyResponse{From: from, To: to, Valid: valid})
}
