package improve

import (
	"fmt"

	"github.com/xela07ax/agentgov-engine/internal/domain"
)

// Границы добросовестного ревью, производные от complexity_score
const (
	MinMinutesPerComplexity = 0.5
	MaxMinutesPerComplexity = 3.0

	// Превышение верхней границы более чем вдвое трактуется как
	// заброшенное ревью, а не как углубленная проверка
	AbandonmentFactor = 2.0

	MinEngagementScore     = 2
	EngagementCommentChars = 100
)

// Коды нарушений review-проверки
const (
	IssueReviewTooShort         = "review_too_short"
	IssueReviewExcessive        = "review_excessive"
	IssueInsufficientEngagement = "insufficient_engagement"
)

// ReviewReport — итог проверки добросовестности ревью.
// Ожидаемые границы возвращаются всегда, чтобы ревьюер видел норматив.
type ReviewReport struct {
	ProposalID string  `json:"proposal_id"`
	ReviewerID string  `json:"reviewer_id"`
	OK         bool    `json:"ok"`
	Issues     []Issue `json:"issues,omitempty"`

	ExpectedMinMinutes float64 `json:"expected_min_minutes"`
	ExpectedMaxMinutes float64 `json:"expected_max_minutes"`
	ActualMinutes      float64 `json:"actual_minutes"`
	EngagementScore    int     `json:"engagement_score"` // 0..4
}

// ValidateReview проверяет, что человек осмысленно работал с предложением,
// а не проштамповал его и не забросил на полпути.
func (v *Validator) ValidateReview(p domain.Proposal, r domain.ReviewRecord) ReviewReport {
	rep := ReviewReport{
		ProposalID:         p.ProposalID,
		ReviewerID:         r.ReviewerID,
		ExpectedMinMinutes: p.ComplexityScore * MinMinutesPerComplexity,
		ExpectedMaxMinutes: p.ComplexityScore * MaxMinutesPerComplexity,
		ActualMinutes:      r.DurationMinutes(),
	}

	if rep.ActualMinutes < rep.ExpectedMinMinutes {
		rep.Issues = append(rep.Issues, Issue{
			Code: IssueReviewTooShort,
			Detail: fmt.Sprintf("review took %.1f min, expected at least %.1f min for complexity %.0f: suspected rubber-stamp",
				rep.ActualMinutes, rep.ExpectedMinMinutes, p.ComplexityScore),
		})
	}
	if rep.ActualMinutes > rep.ExpectedMaxMinutes*AbandonmentFactor {
		rep.Issues = append(rep.Issues, Issue{
			Code: IssueReviewExcessive,
			Detail: fmt.Sprintf("review took %.1f min, more than %.1f min (2x upper bound %.1f): suspected abandonment",
				rep.ActualMinutes, rep.ExpectedMaxMinutes*AbandonmentFactor, rep.ExpectedMaxMinutes),
		})
	}

	rep.EngagementScore = engagementScore(r)
	if rep.EngagementScore < MinEngagementScore {
		rep.Issues = append(rep.Issues, Issue{
			Code: IssueInsufficientEngagement,
			Detail: fmt.Sprintf("engagement score %d < required %d (questions=%d, documents=%d, comment_chars=%d, concerns_on_reject=%t)",
				rep.EngagementScore, MinEngagementScore,
				r.QuestionsAsked, r.DocumentsReviewed, r.CommentLengthChars,
				r.Decision == domain.ReviewRejected && r.ConcernsRaised),
		})
	}

	sortIssues(rep.Issues)
	rep.OK = len(rep.Issues) == 0

	v.emitValidated(p, "review", rep.OK, rep.Issues)
	return rep
}

// engagementScore — по одному баллу за каждый признак реальной работы
func engagementScore(r domain.ReviewRecord) int {
	score := 0
	if r.QuestionsAsked > 0 {
		score++
	}
	if r.DocumentsReviewed > 0 {
		score++
	}
	if r.CommentLengthChars > EngagementCommentChars {
		score++
	}
	if r.Decision == domain.ReviewRejected && r.ConcernsRaised {
		score++
	}
	return score
}
