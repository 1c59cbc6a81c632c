package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/xela07ax/agentgov-engine/internal/domain"
	"gopkg.in/yaml.v3"
)

// PreApprovedRule — известная безопасная комбинация операция+класс ресурса
type PreApprovedRule struct {
	Operation    string `yaml:"operation" json:"operation"`
	ResourceType string `yaml:"resource_type" json:"resource_type"`
}

// RiskWeights — веса слагаемых risk score. Точные значения — настраиваемая
// политика, не константы кода: двухпороговая схема 30/70 лишь дефолт.
type RiskWeights struct {
	Destructiveness float64 `yaml:"destructiveness" json:"destructiveness"`
	BlastRadius     float64 `yaml:"blast_radius" json:"blast_radius"`
	NoPriorApproval float64 `yaml:"no_prior_approval" json:"no_prior_approval"`
}

// Ruleset — версионированный, неизменяемый набор правил классификатора.
// Передается в Evaluate() явно; пороги никогда не мутируются по ходу
// оценки — этого требует свойство детерминизма.
type Ruleset struct {
	Version string `yaml:"version" json:"version"`

	LowThreshold        float64 `yaml:"low_threshold" json:"low_threshold"`               // Дефолт 30
	EscalationThreshold float64 `yaml:"escalation_threshold" json:"escalation_threshold"` // Дефолт 70

	Weights RiskWeights `yaml:"weights" json:"weights"`

	// Баллы деструктивности по глаголу операции (0–100)
	Destructiveness map[string]float64 `yaml:"destructiveness" json:"destructiveness"`

	// Баллы blast radius по классу ресурса (0–100)
	BlastRadius        map[string]float64 `yaml:"blast_radius_scores" json:"blast_radius_scores"`
	BlastRadiusDefault float64            `yaml:"blast_radius_default" json:"blast_radius_default"`

	PreApproved []PreApprovedRule `yaml:"pre_approved" json:"pre_approved"`

	// Классы ресурсов, удаление которых относится к deletion-классу SLA (1ч)
	DeletionClassResources []string `yaml:"deletion_class_resources" json:"deletion_class_resources"`

	// hash канонического содержимого; вместе с Version идентифицирует
	// ruleset в Decision для воспроизводимости
	hash string
}

// DefaultRuleset возвращает задокументированные дефолты
func DefaultRuleset() *Ruleset {
	rs := &Ruleset{
		Version:             "default-v1",
		LowThreshold:        30,
		EscalationThreshold: 70,
		Weights: RiskWeights{
			Destructiveness: 0.5,
			BlastRadius:     0.3,
			NoPriorApproval: 0.2,
		},
		Destructiveness: map[string]float64{
			string(domain.OpAccess): 10,
			string(domain.OpCreate): 40,
			string(domain.OpModify): 60,
			string(domain.OpDelete): 90,
		},
		BlastRadius: map[string]float64{
			"pod":       10,
			"configmap": 20,
			"service":   40,
			"namespace": 70,
			"db":        90,
			"cluster":   90,
		},
		BlastRadiusDefault: 50,
		PreApproved: []PreApprovedRule{
			{Operation: "restart", ResourceType: "pod"},
			{Operation: "rotate", ResourceType: "logs"},
			{Operation: "renew", ResourceType: "certificate"},
			{Operation: "modify", ResourceType: "configmap"},
			{Operation: "scale", ResourceType: "deployment"},
		},
		DeletionClassResources: []string{"db", "volume", "bucket", "backup"},
	}
	rs.seal()
	return rs
}

// LoadRuleset читает ruleset из yaml-файла. Отсутствующие пороги и веса
// добиваются дефолтами, чтобы урезанный файл не открывал автоодобрение.
func LoadRuleset(path string) (*Ruleset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ruleset: read %s: %w", path, err)
	}

	rs := DefaultRuleset()
	if err := yaml.Unmarshal(data, rs); err != nil {
		return nil, fmt.Errorf("ruleset: parse %s: %w", path, err)
	}
	if err := rs.validate(); err != nil {
		return nil, err
	}
	rs.seal()
	return rs, nil
}

func (rs *Ruleset) validate() error {
	if rs.LowThreshold < 0 || rs.EscalationThreshold > 100 {
		return fmt.Errorf("ruleset: thresholds out of [0,100]")
	}
	if rs.LowThreshold >= rs.EscalationThreshold {
		return fmt.Errorf("ruleset: low_threshold %.1f must be below escalation_threshold %.1f",
			rs.LowThreshold, rs.EscalationThreshold)
	}
	sum := rs.Weights.Destructiveness + rs.Weights.BlastRadius + rs.Weights.NoPriorApproval
	if sum <= 0 {
		return fmt.Errorf("ruleset: risk weights sum %.2f, must be positive", sum)
	}
	return nil
}

// seal фиксирует hash содержимого
func (rs *Ruleset) seal() {
	canonical, _ := yaml.Marshal(rs)
	h := sha256.Sum256(canonical)
	rs.hash = hex.EncodeToString(h[:8])
}

// VersionID — идентификатор версии ruleset для Decision
func (rs *Ruleset) VersionID() string {
	return rs.Version + "@" + rs.hash
}

// KnownOperation сообщает, умеет ли ruleset классифицировать глагол:
// либо он взвешен в таблице деструктивности, либо фигурирует в allowlist
// (операционные глаголы restart/rotate/renew/scale живут только там)
func (rs *Ruleset) KnownOperation(op domain.Operation) bool {
	if _, ok := rs.Destructiveness[string(op)]; ok {
		return true
	}
	for _, r := range rs.PreApproved {
		if r.Operation == string(op) {
			return true
		}
	}
	return false
}

// IsPreApproved проверяет allowlist
func (rs *Ruleset) IsPreApproved(op domain.Operation, resourceType string) bool {
	for _, r := range rs.PreApproved {
		if r.Operation == string(op) && r.ResourceType == resourceType {
			return true
		}
	}
	return false
}

// SLAClassFor определяет категорию SLA для операции
func (rs *Ruleset) SLAClassFor(op domain.Operation, resourceType string) domain.SLAClass {
	if op != domain.OpDelete {
		return domain.SLAStandard
	}
	for _, cls := range rs.DeletionClassResources {
		if cls == resourceType {
			return domain.SLADeletion
		}
	}
	return domain.SLAStandard
}

// RiskScore — взвешенная сумма факторов (0–100).
// Чистая функция от запроса и числа прежних схожих одобрений.
func (rs *Ruleset) RiskScore(req *domain.ActionRequest, priorApprovals int) float64 {
	d, ok := rs.Destructiveness[string(req.Operation)]
	if !ok {
		d = 70 // Неизвестный глагол трактуем консервативно
	}

	b, ok := rs.BlastRadius[req.ResourceType()]
	if !ok {
		b = rs.BlastRadiusDefault
	}

	p := 90.0 // Отсутствие прежних схожих одобрений
	if priorApprovals > 0 {
		p = 10
	}

	w := rs.Weights
	total := w.Destructiveness + w.BlastRadius + w.NoPriorApproval
	return (d*w.Destructiveness + b*w.BlastRadius + p*w.NoPriorApproval) / total
}
