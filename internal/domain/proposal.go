package domain

import "time"

// Proposal — предложенное агентом изменение политики или общей инфраструктуры.
// Metrics обязан включать КАЖДУЮ сторону, чьи ресурсы затрагиваются
// (молчаливый пропуск затронутой стороны недопустим).
type Proposal struct {
	ProposalID       string `json:"proposal_id"`
	SubmitterAgentID string `json:"submitter_agent_id"`

	// Сторона → подписанная дельта ценности, напр. {"team_a": +50, "team_b": +10}
	Metrics map[string]float64 `json:"metrics"`

	ImplementationCostUSD float64 `json:"implementation_cost_usd"`
	ComplexityScore       float64 `json:"complexity_score"` // 0–100

	SubmittedAt time.Time `json:"submitted_at"`
}

// ReviewDecision — вердикт ревьюера
type ReviewDecision string

const (
	ReviewApproved ReviewDecision = "approved"
	ReviewRejected ReviewDecision = "rejected"
)

// ReviewRecord — свидетельство того, что человек изучил Proposal.
// Инвариант: ReviewEndedAt >= ReviewStartedAt.
type ReviewRecord struct {
	ProposalID string `json:"proposal_id"`
	ReviewerID string `json:"reviewer_id"`

	ReviewStartedAt time.Time `json:"review_started_at"`
	ReviewEndedAt   time.Time `json:"review_ended_at"`

	QuestionsAsked     int  `json:"questions_asked"`
	DocumentsReviewed  int  `json:"documents_reviewed"`
	CommentLengthChars int  `json:"comment_length_chars"`
	ConcernsRaised     bool `json:"concerns_raised"`

	Decision ReviewDecision `json:"decision"`
}

// DurationMinutes — фактическое время ревью в минутах
func (r *ReviewRecord) DurationMinutes() float64 {
	return r.ReviewEndedAt.Sub(r.ReviewStartedAt).Minutes()
}
