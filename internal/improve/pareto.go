package improve

/*
Пакет improve реализует Cooperative Improvement Validator — независимую
подсистему проверки предложений агентов по изменению политики или общей
инфраструктуры.

Две независимые проверки, обе обязаны пройти до принятия Proposal:
 1. Pareto-improvement — экономическая состоятельность: никто не стал
    хуже, хотя бы кто-то стал лучше, чистая выгода положительна, ROI
    не ниже минимального порога.
 2. Review diligence — добросовестность человеческого ревью (review.go).

Проверки разделены сознательно: предложение может быть экономически
здравым, но проштампованным без чтения, либо экономически провальным,
но добросовестно отревьюенным и справедливо отклоненным. Оба режима
отказа должны детектироваться по отдельности.
*/

import (
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/xela07ax/agentgov-engine/internal/domain"
	"github.com/xela07ax/agentgov-engine/internal/telemetry"
)

const (
	// MinROI — минимальная доходность предложения (20% сверх затрат)
	MinROI = 1.2
)

// Коды нарушений pareto-проверки
const (
	IssuePartyWorseOff    = "party_worse_off"
	IssueNoImprovement    = "no_improvement"
	IssueNonPositiveValue = "non_positive_net_benefit"
	IssueROIBelowMinimum  = "roi_below_minimum"
)

// Issue — одно нарушение с деталью "факт против ожидания".
// Вызывающему нужен ПОЛНЫЙ список нарушений, не первое попавшееся:
// деталь показывается автору/ревьюеру для самокоррекции.
type Issue struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

// ParetoReport — итог экономической проверки предложения
type ParetoReport struct {
	ProposalID string  `json:"proposal_id"`
	OK         bool    `json:"ok"`
	Issues     []Issue `json:"issues,omitempty"`

	TotalValue float64 `json:"total_value"` // Сумма положительных дельт
	NetBenefit float64 `json:"net_benefit"` // TotalValue - ImplementationCostUSD
	ROI        float64 `json:"roi"`         // +Inf при нулевой стоимости
}

// Validator связывает чистые проверки с телеметрией и логом
type Validator struct {
	minROI  float64
	emitter telemetry.Emitter
	logger  *zap.Logger
}

type Option func(*Validator)

func WithMinROI(roi float64) Option {
	return func(v *Validator) {
		if roi > 0 {
			v.minROI = roi
		}
	}
}

func NewValidator(emitter telemetry.Emitter, logger *zap.Logger, opts ...Option) *Validator {
	v := &Validator{
		minROI:  MinROI,
		emitter: emitter,
		logger:  logger.With(zap.String("mod", "improve")),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidatePareto проверяет предложение на взаимную выгоду.
// Metrics обязан включать каждую затронутую сторону — пустая карта
// означает "никому не лучше" и проваливается как отсутствие улучшения.
func (v *Validator) ValidatePareto(p domain.Proposal) ParetoReport {
	rep := ParetoReport{ProposalID: p.ProposalID}

	allZero := true
	for party, delta := range p.Metrics {
		if delta < 0 {
			rep.Issues = append(rep.Issues, Issue{
				Code:   IssuePartyWorseOff,
				Detail: fmt.Sprintf("party %q delta %.2f < 0: pareto requires no party worse off", party, delta),
			})
		}
		if delta != 0 {
			allZero = false
		}
		if delta > 0 {
			rep.TotalValue += delta
		}
	}
	if allZero {
		rep.Issues = append(rep.Issues, Issue{
			Code:   IssueNoImprovement,
			Detail: "all metric deltas are zero: no party is better off",
		})
	}

	rep.NetBenefit = rep.TotalValue - p.ImplementationCostUSD
	if rep.NetBenefit <= 0 {
		rep.Issues = append(rep.Issues, Issue{
			Code: IssueNonPositiveValue,
			Detail: fmt.Sprintf("total value %.2f - cost %.2f = %.2f: net benefit must be positive",
				rep.TotalValue, p.ImplementationCostUSD, rep.NetBenefit),
		})
	}

	if p.ImplementationCostUSD == 0 {
		rep.ROI = math.Inf(1)
	} else {
		rep.ROI = rep.TotalValue / p.ImplementationCostUSD
	}
	if rep.ROI < v.minROI {
		rep.Issues = append(rep.Issues, Issue{
			Code: IssueROIBelowMinimum,
			Detail: fmt.Sprintf("roi %.3f < required %.2f (total value %.2f / cost %.2f)",
				rep.ROI, v.minROI, rep.TotalValue, p.ImplementationCostUSD),
		})
	}

	// Детерминизм отчета: map-обход не упорядочен
	sortIssues(rep.Issues)
	rep.OK = len(rep.Issues) == 0

	v.emitValidated(p, "pareto", rep.OK, rep.Issues)
	return rep
}

// SelectWithinBudget отбирает подмножество экономически состоятельных
// предложений жадно по убыванию ROI в пределах общего бюджета внедрения.
func (v *Validator) SelectWithinBudget(proposals []domain.Proposal, budgetUSD float64) []domain.Proposal {
	type scored struct {
		p   domain.Proposal
		roi float64
	}
	candidates := make([]scored, 0, len(proposals))
	for _, p := range proposals {
		rep := v.ValidatePareto(p)
		if rep.OK {
			candidates = append(candidates, scored{p: p, roi: rep.ROI})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].roi != candidates[j].roi {
			return candidates[i].roi > candidates[j].roi
		}
		return candidates[i].p.ProposalID < candidates[j].p.ProposalID
	})

	var selected []domain.Proposal
	remaining := budgetUSD
	for _, c := range candidates {
		if c.p.ImplementationCostUSD > remaining {
			continue
		}
		selected = append(selected, c.p)
		remaining -= c.p.ImplementationCostUSD
	}
	return selected
}

func (v *Validator) emitValidated(p domain.Proposal, check string, ok bool, issues []Issue) {
	severity := telemetry.SeverityInfo
	if !ok {
		severity = telemetry.SeverityWarning
	}
	codes := make([]string, 0, len(issues))
	for _, is := range issues {
		codes = append(codes, is.Code)
	}
	v.emitter.Emit(telemetry.Event{
		Type:     telemetry.EventProposalValidated,
		AgentID:  p.SubmitterAgentID,
		Severity: severity,
		Payload: map[string]interface{}{
			"proposal_id": p.ProposalID,
			"check":       check,
			"ok":          ok,
			"issues":      codes,
		},
	})
}

func sortIssues(issues []Issue) {
	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].Code != issues[j].Code {
			return issues[i].Code < issues[j].Code
		}
		return issues[i].Detail < issues[j].Detail
	})
}
