package database

import (
	"testing"
)

func TestTrainingAssignmentGuard(t *testing.T) {
	d := testDB(t)

	a, err := d.CreateTrainingAssignment(1, 7, "password-reset/awareness-note", "click")
	if err != nil {
		t.Fatalf("CreateTrainingAssignment: %v", err)
	}
	if a.Id == 0 || a.AssignedAt == 0 {
		t.Fatalf("got %+v", a)
	}

	if _, err := d.CreateTrainingAssignment(1, 7, "password-reset/awareness-note", "click"); err != ErrAlreadyAssigned {
		t.Errorf("got %v, want ErrAlreadyAssigned", err)
	}

	// a different severity is a separate slot
	if _, err := d.CreateTrainingAssignment(1, 7, "password-reset/full-module", "submit"); err != nil {
		t.Errorf("submit severity: %v", err)
	}
	// and so is a different target
	if _, err := d.CreateTrainingAssignment(1, 8, "password-reset/awareness-note", "click"); err != nil {
		t.Errorf("other target: %v", err)
	}
}

func TestEscalateTraining(t *testing.T) {
	d := testDB(t)

	if _, err := d.EscalateTraining(7, "x/full-module", "submit"); err == nil {
		t.Error("expected error escalating with no assignment")
	}

	d.CreateTrainingAssignment(1, 7, "password-reset/awareness-note", "click")
	a, err := d.EscalateTraining(7, "password-reset/full-module", "submit")
	if err != nil {
		t.Fatalf("EscalateTraining: %v", err)
	}
	if a.ContentKey != "password-reset/full-module" || a.Severity != "submit" {
		t.Errorf("got %+v", a)
	}

	assignments, _ := d.ListTargetTraining(7)
	if len(assignments) != 1 {
		t.Fatalf("target has %d assignments, want 1 upgraded in place", len(assignments))
	}
}

func TestCompleteTraining(t *testing.T) {
	d := testDB(t)

	a, _ := d.CreateTrainingAssignment(1, 7, "password-reset/awareness-note", "click")

	done, err := d.CompleteTraining(a.Id)
	if err != nil {
		t.Fatalf("CompleteTraining: %v", err)
	}
	if done.CompletedAt == 0 {
		t.Fatal("completion time not recorded")
	}

	// completing twice keeps the original timestamp
	again, err := d.CompleteTraining(a.Id)
	if err != nil {
		t.Fatalf("CompleteTraining: %v", err)
	}
	if again.CompletedAt != done.CompletedAt {
		t.Error("completion time was overwritten")
	}

	if _, err := d.CompleteTraining(999); err == nil {
		t.Error("expected error for unknown assignment")
	}
}
