package agent

import (
	"strings"
	"testing"

	"github.com/opspilot/opspilot/internal/capability"
	"github.com/opspilot/opspilot/internal/core"
)

func TestBuildSystemPromptOnlyEnabledFamilies(t *testing.T) {
	caps := capability.Set{
		core.FamilyMetrics:   true,
		core.FamilyIncidents: true,
	}
	p := BuildSystemPrompt(caps)

	if !strings.Contains(p, "Datadog") || !strings.Contains(p, "PagerDuty") {
		t.Error("missing enabled family sections")
	}
	if strings.Contains(p, "Kubernetes") || strings.Contains(p, "SQS") {
		t.Error("prompt mentions disabled integrations")
	}
	if !strings.HasPrefix(p, "You are an expert SRE assistant") {
		t.Error("missing header")
	}
}

func TestBuildSystemPromptNoIntegrations(t *testing.T) {
	p := BuildSystemPrompt(capability.Set{})
	if !strings.Contains(p, "No monitoring integrations are configured") {
		t.Errorf("missing fallback guidance:\n%s", p)
	}
	if strings.Contains(p, "Available integrations") {
		t.Error("fallback prompt should not advertise integrations")
	}
}

func TestBuildSystemPromptAllFamilies(t *testing.T) {
	caps := capability.Set{}
	for _, f := range core.Families() {
		caps[f] = true
	}
	p := BuildSystemPrompt(caps)
	for _, want := range []string{"Datadog", "PagerDuty", "Kubernetes", "SQS"} {
		if !strings.Contains(p, want) {
			t.Errorf("missing %s section", want)
		}
	}
}
