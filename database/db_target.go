package database

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/buntdb"
)

const TargetTable = "targets"

type Target struct {
	Id         int              `json:"id"`
	CampaignId int              `json:"campaign_id"`
	Recipient  string           `json:"recipient"`
	State      string           `json:"state"`
	Reported   bool             `json:"reported"`
	StateTimes map[string]int64 `json:"state_times"`
	CreateTime int64            `json:"create_time"`
	UpdateTime int64            `json:"update_time"`
}

func (d *Database) targetsInit() {
	d.db.CreateIndex("targets_id", TargetTable+":*", buntdb.IndexJSON("id"))
	d.db.CreateIndex("targets_campaign", TargetTable+":*", buntdb.IndexJSON("campaign_id"))
}

func (d *Database) CreateTarget(campaign_id int, recipient string) (*Target, error) {
	id, err := d.getNextId(TargetTable)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC().Unix()
	t := &Target{
		Id:         id,
		CampaignId: campaign_id,
		Recipient:  recipient,
		State:      "pending",
		Reported:   false,
		StateTimes: map[string]int64{"pending": now},
		CreateTime: now,
		UpdateTime: now,
	}

	jf, _ := json.Marshal(t)

	err = d.db.Update(func(tx *buntdb.Tx) error {
		tx.Set(d.genIndex(TargetTable, id), string(jf), nil)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (d *Database) GetTarget(id int) (*Target, error) {
	t := &Target{}
	err := d.db.View(func(tx *buntdb.Tx) error {
		found := false
		err := tx.AscendEqual("targets_id", d.getPivot(map[string]int{"id": id}), func(key, val string) bool {
			json.Unmarshal([]byte(val), t)
			found = true
			return false
		})
		if !found {
			return fmt.Errorf("%w: target %d", ErrNotFound, id)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (d *Database) ListTargets(campaign_id int) ([]*Target, error) {
	targets := []*Target{}
	err := d.db.View(func(tx *buntdb.Tx) error {
		tx.AscendEqual("targets_campaign", d.getPivot(map[string]int{"campaign_id": campaign_id}), func(key, val string) bool {
			t := &Target{}
			if err := json.Unmarshal([]byte(val), t); err == nil {
				targets = append(targets, t)
			}
			return true
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return targets, nil
}

// SetTargetState records the target entering a new interaction state.
// Callers are responsible for only ever moving the state forward; the
// entry timestamp for a state is written once and never overwritten.
func (d *Database) SetTargetState(id int, state string) (*Target, error) {
	t, err := d.GetTarget(id)
	if err != nil {
		return nil, err
	}
	t.State = state
	if t.StateTimes == nil {
		t.StateTimes = make(map[string]int64)
	}
	if _, ok := t.StateTimes[state]; !ok {
		t.StateTimes[state] = time.Now().UTC().Unix()
	}
	t.UpdateTime = time.Now().UTC().Unix()

	if err := d.targetsUpdate(t.Id, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (d *Database) SetTargetReported(id int) (*Target, error) {
	t, err := d.GetTarget(id)
	if err != nil {
		return nil, err
	}
	t.Reported = true
	t.UpdateTime = time.Now().UTC().Unix()

	if err := d.targetsUpdate(t.Id, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (d *Database) targetsUpdate(id int, t *Target) error {
	jf, _ := json.Marshal(t)

	err := d.db.Update(func(tx *buntdb.Tx) error {
		tx.Set(d.genIndex(TargetTable, id), string(jf), nil)
		return nil
	})
	return err
}
