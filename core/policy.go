package core

import (
	"fmt"
)

// Severity of a training action, keyed to how far the recipient got.
const (
	SeverityClick  = "click"
	SeveritySubmit = "submit"
	SeverityReport = "report"
)

// DispatchMode selects how repeat threshold crossings are handled.
//
//	per-threshold: a fresh action fires at the first crossing of each
//	               threshold (clicked, then submitted).
//	once:          a single action per campaign; a later, deeper crossing
//	               escalates the severity of the existing assignment.
const (
	DispatchPerThreshold = "per-threshold"
	DispatchOnce         = "once"
)

var DISPATCH_MODES = []string{DispatchPerThreshold, DispatchOnce}

// TrainingAction is what the engine emits towards the training-delivery
// collaborator. Escalate means "upgrade the existing assignment" rather
// than "create a new one".
type TrainingAction struct {
	CampaignId int    `json:"campaign_id"`
	TargetId   int    `json:"target_id"`
	Recipient  string `json:"recipient"`
	ContentKey string `json:"content_key"`
	Severity   string `json:"severity"`
	Escalate   bool   `json:"escalate"`
}

// DispatchPolicy decides which training action, if any, a state
// transition earns. It is a pure function of its inputs: same transition,
// same scenario, same answer.
type DispatchPolicy struct {
	mode      string
	scenarios map[string]string
}

func NewDispatchPolicy(mode string, scenarios map[string]string) (*DispatchPolicy, error) {
	if !stringExists(mode, DISPATCH_MODES) {
		return nil, fmt.Errorf("unknown dispatch mode: %s", mode)
	}
	return &DispatchPolicy{mode: mode, scenarios: scenarios}, nil
}

// Decide maps a linear state transition to zero-or-one training action.
// reported suppresses remedial training entirely; hasAssignment tells the
// policy whether this target was already dispatched to in this campaign.
func (p *DispatchPolicy) Decide(prev InteractionState, next InteractionState, reported bool, scenario string, hasAssignment bool) *TrainingAction {
	if reported || next <= prev {
		return nil
	}

	crossedClick := prev < StateClicked && next >= StateClicked
	crossedSubmit := prev < StateSubmitted && next >= StateSubmitted
	if !crossedClick && !crossedSubmit {
		return nil
	}

	// A jump across both thresholds in one event earns only the deeper one.
	severity := SeverityClick
	if crossedSubmit {
		severity = SeveritySubmit
	}

	switch p.mode {
	case DispatchOnce:
		if hasAssignment {
			if severity == SeveritySubmit {
				return &TrainingAction{ContentKey: p.ContentKey(scenario, severity), Severity: severity, Escalate: true}
			}
			return nil
		}
	}

	return &TrainingAction{ContentKey: p.ContentKey(scenario, severity), Severity: severity}
}

// DecideReport handles the side-channel report flag: the recipient did
// the right thing, so they get a positive-reinforcement acknowledgment
// instead of remedial content. The ack is scenario-independent; firing
// at most once is enforced by the ledger marker and the assignment guard.
func (p *DispatchPolicy) DecideReport() *TrainingAction {
	return &TrainingAction{ContentKey: "positive-reinforcement/report-ack", Severity: SeverityReport}
}

// ContentKey builds the training content key for a scenario and severity.
// Unknown scenarios fall back to the generic IT notification module.
func (p *DispatchPolicy) ContentKey(scenario string, severity string) string {
	base, ok := p.scenarios[scenario]
	if !ok || base == "" {
		base = "it-notification"
	}
	switch severity {
	case SeveritySubmit:
		return base + "/full-module"
	default:
		return base + "/awareness-note"
	}
}

// DefaultScenarios is the scenario catalog shipped with the tracker,
// mapping campaign scenario names to training content key bases.
func DefaultScenarios() map[string]string {
	return map[string]string{
		"Password Reset":  "password-reset",
		"Invoice Payment": "invoice-payment",
		"Document Review": "document-review",
		"IT Notification": "it-notification",
	}
}

func stringExists(s string, slice []string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
