package core

import (
	"testing"
)

func testPolicy(t *testing.T, mode string) *DispatchPolicy {
	t.Helper()
	p, err := NewDispatchPolicy(mode, DefaultScenarios())
	if err != nil {
		t.Fatalf("NewDispatchPolicy: %v", err)
	}
	return p
}

func TestDecidePerThreshold(t *testing.T) {
	p := testPolicy(t, DispatchPerThreshold)

	tests := []struct {
		name     string
		prev     InteractionState
		next     InteractionState
		reported bool
		want     string // expected severity, "" for no action
	}{
		{"delivered to opened", StateDelivered, StateOpened, false, ""},
		{"opened to clicked", StateOpened, StateClicked, false, SeverityClick},
		{"clicked to submitted", StateClicked, StateSubmitted, false, SeveritySubmit},
		{"jump pending to submitted earns only the deeper one", StatePending, StateSubmitted, false, SeveritySubmit},
		{"jump pending to clicked", StatePending, StateClicked, false, SeverityClick},
		{"no transition", StateClicked, StateClicked, false, ""},
		{"reported suppresses click", StateOpened, StateClicked, true, ""},
		{"reported suppresses submit", StateClicked, StateSubmitted, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action := p.Decide(tt.prev, tt.next, tt.reported, "Password Reset", false)
			if tt.want == "" {
				if action != nil {
					t.Fatalf("got action %+v, want none", action)
				}
				return
			}
			if action == nil {
				t.Fatalf("got no action, want severity %s", tt.want)
			}
			if action.Severity != tt.want {
				t.Errorf("severity = %s, want %s", action.Severity, tt.want)
			}
			if action.Escalate {
				t.Error("per-threshold mode never escalates")
			}
		})
	}
}

func TestDecidePerThresholdFiresPerCrossing(t *testing.T) {
	p := testPolicy(t, DispatchPerThreshold)

	// hasAssignment does not gate per-threshold mode
	action := p.Decide(StateClicked, StateSubmitted, false, "Password Reset", true)
	if action == nil || action.Severity != SeveritySubmit {
		t.Fatalf("got %+v, want submit action", action)
	}
}

func TestDecideOnce(t *testing.T) {
	p := testPolicy(t, DispatchOnce)

	action := p.Decide(StateOpened, StateClicked, false, "Invoice Payment", false)
	if action == nil || action.Severity != SeverityClick || action.Escalate {
		t.Fatalf("first crossing: got %+v, want non-escalating click action", action)
	}

	// second click-level crossing with an assignment already out: nothing
	if action := p.Decide(StateOpened, StateClicked, false, "Invoice Payment", true); action != nil {
		t.Fatalf("repeat click crossing: got %+v, want none", action)
	}

	// a deeper crossing upgrades the existing assignment
	action = p.Decide(StateClicked, StateSubmitted, false, "Invoice Payment", true)
	if action == nil || action.Severity != SeveritySubmit || !action.Escalate {
		t.Fatalf("submit crossing: got %+v, want escalating submit action", action)
	}
}

func TestDecideReport(t *testing.T) {
	p := testPolicy(t, DispatchPerThreshold)

	action := p.DecideReport()
	if action == nil {
		t.Fatal("got no action, want report acknowledgment")
	}
	if action.Severity != SeverityReport {
		t.Errorf("severity = %s, want %s", action.Severity, SeverityReport)
	}
	if action.ContentKey != "positive-reinforcement/report-ack" {
		t.Errorf("content key = %s", action.ContentKey)
	}
	if action.Escalate {
		t.Error("report acknowledgment never escalates")
	}
}

func TestContentKey(t *testing.T) {
	p := testPolicy(t, DispatchPerThreshold)

	tests := []struct {
		scenario string
		severity string
		want     string
	}{
		{"Password Reset", SeverityClick, "password-reset/awareness-note"},
		{"Password Reset", SeveritySubmit, "password-reset/full-module"},
		{"Invoice Payment", SeveritySubmit, "invoice-payment/full-module"},
		{"Document Review", SeverityClick, "document-review/awareness-note"},
		{"Unheard Of Scenario", SeverityClick, "it-notification/awareness-note"},
		{"Unheard Of Scenario", SeveritySubmit, "it-notification/full-module"},
	}
	for _, tt := range tests {
		if got := p.ContentKey(tt.scenario, tt.severity); got != tt.want {
			t.Errorf("ContentKey(%q, %q) = %q, want %q", tt.scenario, tt.severity, got, tt.want)
		}
	}
}

func TestNewDispatchPolicyRejectsUnknownMode(t *testing.T) {
	if _, err := NewDispatchPolicy("always", DefaultScenarios()); err == nil {
		t.Error("expected error for unknown mode")
	}
}
