package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/xela07ax/agentgov-engine/internal/domain"
)

func writeRuleset(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ruleset.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write ruleset: %v", err)
	}
	return path
}

func TestLoadRulesetOverridesDefaults(t *testing.T) {
	path := writeRuleset(t, `
version: team-a-v2
low_threshold: 20
escalation_threshold: 60
pre_approved:
  - operation: restart
    resource_type: pod
`)

	rs, err := LoadRuleset(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if rs.LowThreshold != 20 || rs.EscalationThreshold != 60 {
		t.Fatalf("thresholds = %.0f/%.0f, want 20/60", rs.LowThreshold, rs.EscalationThreshold)
	}
	// Веса не заданы в файле — остаются дефолтными, не нулевыми
	if rs.Weights.Destructiveness == 0 {
		t.Fatal("weights lost defaults")
	}
	if !rs.IsPreApproved("restart", "pod") {
		t.Fatal("pre_approved list not applied")
	}
}

func TestLoadRulesetRejectsInvertedThresholds(t *testing.T) {
	path := writeRuleset(t, `
version: broken
low_threshold: 80
escalation_threshold: 40
`)
	if _, err := LoadRuleset(path); err == nil {
		t.Fatal("expected validation error for inverted thresholds")
	}
}

func TestVersionIDChangesWithContent(t *testing.T) {
	a := DefaultRuleset()

	b := DefaultRuleset()
	b.LowThreshold = 25
	b.seal()

	if a.VersionID() == b.VersionID() {
		t.Fatalf("version id must change with content: %s", a.VersionID())
	}
}

func TestKnownOperationCoversAllowlistVerbs(t *testing.T) {
	rs := DefaultRuleset()

	for _, op := range []domain.Operation{domain.OpAccess, domain.OpDelete, "restart", "scale", "rotate", "renew"} {
		if !rs.KnownOperation(op) {
			t.Fatalf("operation %q must be classifiable", op)
		}
	}
	if rs.KnownOperation("teleport") {
		t.Fatal("verb absent from weights and allowlist must be unknown")
	}
}

func TestRiskScoreUnknownOperationIsConservative(t *testing.T) {
	rs := DefaultRuleset()
	req := &domain.ActionRequest{Operation: "teleport", TargetResource: "pod/x"}

	known := rs.RiskScore(&domain.ActionRequest{Operation: domain.OpAccess, TargetResource: "pod/x"}, 0)
	unknown := rs.RiskScore(req, 0)
	if unknown <= known {
		t.Fatalf("unknown verb score %.1f should exceed access score %.1f", unknown, known)
	}
}
