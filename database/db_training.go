package database

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/buntdb"
)

const TrainingTable = "training"

// ErrAlreadyAssigned is returned when a target already holds a training
// assignment and the dispatch mode does not allow another one.
var ErrAlreadyAssigned = fmt.Errorf("training already assigned")

type TrainingAssignment struct {
	Id          int    `json:"id"`
	CampaignId  int    `json:"campaign_id"`
	TargetId    int    `json:"target_id"`
	ContentKey  string `json:"content_key"`
	Severity    string `json:"severity"`
	AssignedAt  int64  `json:"assigned_at"`
	CompletedAt int64  `json:"completed_at"`
}

func (d *Database) trainingInit() {
	d.db.CreateIndex("training_id", TrainingTable+":*", buntdb.IndexJSON("id"))
	d.db.CreateIndex("training_campaign", TrainingTable+":*", buntdb.IndexJSON("campaign_id"))
	d.db.CreateIndex("training_target", TrainingTable+":*", buntdb.IndexJSON("target_id"))
}

// CreateTrainingAssignment stores a new assignment, guarded so a target
// gets at most one per severity. The guard key lives in the same
// transaction as the row.
func (d *Database) CreateTrainingAssignment(campaign_id int, target_id int, content_key string, severity string) (*TrainingAssignment, error) {
	a := &TrainingAssignment{
		CampaignId: campaign_id,
		TargetId:   target_id,
		ContentKey: content_key,
		Severity:   severity,
		AssignedAt: time.Now().UTC().Unix(),
	}

	err := d.db.Update(func(tx *buntdb.Tx) error {
		guard := fmt.Sprintf("assigned:%d:%s", target_id, severity)
		if _, err := tx.Get(guard); err == nil {
			return ErrAlreadyAssigned
		} else if err != buntdb.ErrNotFound {
			return err
		}

		id, err := d.nextIdTx(tx, TrainingTable)
		if err != nil {
			return err
		}
		a.Id = id

		if _, _, err := tx.Set(guard, fmt.Sprintf("%d", id), nil); err != nil {
			return err
		}
		jf, _ := json.Marshal(a)
		_, _, err = tx.Set(d.genIndex(TrainingTable, id), string(jf), nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// EscalateTraining upgrades a target's existing assignment to harsher
// content instead of creating a second one ("dispatch once, escalate
// severity" mode).
func (d *Database) EscalateTraining(target_id int, content_key string, severity string) (*TrainingAssignment, error) {
	assignments, err := d.ListTargetTraining(target_id)
	if err != nil {
		return nil, err
	}
	if len(assignments) == 0 {
		return nil, fmt.Errorf("no training assignment to escalate for target %d", target_id)
	}

	a := assignments[len(assignments)-1]
	a.ContentKey = content_key
	a.Severity = severity
	a.AssignedAt = time.Now().UTC().Unix()

	if err := d.trainingUpdate(a.Id, a); err != nil {
		return nil, err
	}
	return a, nil
}

// CompleteTraining is called by the training-delivery collaborator once
// the recipient finished the content.
func (d *Database) CompleteTraining(id int) (*TrainingAssignment, error) {
	a, err := d.getTraining(id)
	if err != nil {
		return nil, err
	}
	if a.CompletedAt != 0 {
		return a, nil
	}
	a.CompletedAt = time.Now().UTC().Unix()

	if err := d.trainingUpdate(a.Id, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (d *Database) ListTraining(campaign_id int) ([]*TrainingAssignment, error) {
	assignments := []*TrainingAssignment{}
	err := d.db.View(func(tx *buntdb.Tx) error {
		tx.AscendEqual("training_campaign", d.getPivot(map[string]int{"campaign_id": campaign_id}), func(key, val string) bool {
			a := &TrainingAssignment{}
			if err := json.Unmarshal([]byte(val), a); err == nil {
				assignments = append(assignments, a)
			}
			return true
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return assignments, nil
}

func (d *Database) ListTargetTraining(target_id int) ([]*TrainingAssignment, error) {
	assignments := []*TrainingAssignment{}
	err := d.db.View(func(tx *buntdb.Tx) error {
		tx.AscendEqual("training_target", d.getPivot(map[string]int{"target_id": target_id}), func(key, val string) bool {
			a := &TrainingAssignment{}
			if err := json.Unmarshal([]byte(val), a); err == nil {
				assignments = append(assignments, a)
			}
			return true
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return assignments, nil
}

func (d *Database) getTraining(id int) (*TrainingAssignment, error) {
	a := &TrainingAssignment{}
	err := d.db.View(func(tx *buntdb.Tx) error {
		found := false
		err := tx.AscendEqual("training_id", d.getPivot(map[string]int{"id": id}), func(key, val string) bool {
			json.Unmarshal([]byte(val), a)
			found = true
			return false
		})
		if !found {
			return fmt.Errorf("%w: training assignment %d", ErrNotFound, id)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (d *Database) trainingUpdate(id int, a *TrainingAssignment) error {
	jf, _ := json.Marshal(a)

	err := d.db.Update(func(tx *buntdb.Tx) error {
		tx.Set(d.genIndex(TrainingTable, id), string(jf), nil)
		return nil
	})
	return err
}
