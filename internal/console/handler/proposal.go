package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/agentgov-engine/internal/console/service"
	"github.com/xela07ax/agentgov-engine/internal/domain"
	"github.com/xela07ax/agentgov-engine/internal/improve"
	"github.com/xela07ax/agentgov-engine/internal/infra/auth"
)

type ProposalHandler struct {
	service *service.ProposalService
}

func NewProposalHandler(s *service.ProposalService) *ProposalHandler {
	return &ProposalHandler{service: s}
}

// SubmitResponse — предложение вместе с Pareto-вердиктом
type SubmitResponse struct {
	Proposal domain.Proposal      `json:"proposal"`
	Pareto   improve.ParetoReport `json:"pareto"`
}

func (h *ProposalHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var p domain.Proposal
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	saved, report, err := h.service.Submit(r.Context(), p)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(SubmitResponse{Proposal: saved, Pareto: report})
}

func (h *ProposalHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 100
	}

	list, err := h.service.List(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}

func (h *ProposalHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	p, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrProposalNotFound) {
			http.Error(w, "proposal not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(p)
}

// SubmitReview принимает свидетельство ревью и возвращает проверку
// его глубины (время против сложности, engagement)
func (h *ProposalHandler) SubmitReview(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var rec domain.ReviewRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if rec.ReviewerID == "" {
		rec.ReviewerID = auth.UserIDFrom(r.Context())
	}

	report, err := h.service.SubmitReview(r.Context(), id, rec)
	if err != nil {
		if errors.Is(err, domain.ErrProposalNotFound) {
			http.Error(w, "proposal not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

func (h *ProposalHandler) Reviews(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	list, err := h.service.Reviews(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}

// Portfolio — жадный отбор предложений в бюджет внедрения
// GET /v1/proposals/portfolio?budget_usd=500
func (h *ProposalHandler) Portfolio(w http.ResponseWriter, r *http.Request) {
	budget, err := strconv.ParseFloat(r.URL.Query().Get("budget_usd"), 64)
	if err != nil || budget < 0 {
		http.Error(w, "budget_usd is required", http.StatusBadRequest)
		return
	}

	selected, err := h.service.SelectPortfolio(r.Context(), budget)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(selected)
}
