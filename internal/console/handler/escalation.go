package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/agentgov-engine/internal/console/service"
	"github.com/xela07ax/agentgov-engine/internal/domain"
	"github.com/xela07ax/agentgov-engine/internal/infra/auth"
)

type EscalationHandler struct {
	service *service.GovernanceService
}

func NewEscalationHandler(s *service.GovernanceService) *EscalationHandler {
	return &EscalationHandler{service: s}
}

// List возвращает очередь эскалаций
// GET /v1/escalations?status=pending&limit=50
func (h *EscalationHandler) List(w http.ResponseWriter, r *http.Request) {
	status := domain.EscalationStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = domain.EscalationPending // Дефолт для удобства админки
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 100
	}

	list, err := h.service.ListEscalations(r.Context(), status, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}

func (h *EscalationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	esc, err := h.service.GetEscalation(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrEscalationNotFound) {
			http.Error(w, "escalation not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(esc)
}

type DecideRequest struct {
	Approved bool   `json:"approved"`
	Comment  string `json:"comment"`
}

// Decide — вердикт оператора по эскалации.
// Проигрыш гонки со sweep (дедлайн истек раньше) отдаем как 409.
func (h *EscalationHandler) Decide(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req DecideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// ReviewerID кладет auth.Middleware (авторизованный оператор)
	reviewerID := auth.UserIDFrom(r.Context())
	if reviewerID == "" {
		http.Error(w, "reviewer identity is required", http.StatusUnauthorized)
		return
	}

	esc, err := h.service.DecideEscalation(r.Context(), id, req.Approved, reviewerID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrAlreadyResolved):
			http.Error(w, "escalation already resolved", http.StatusConflict)
		case errors.Is(err, domain.ErrEscalationNotFound):
			http.Error(w, "escalation not found", http.StatusNotFound)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(esc)
}
