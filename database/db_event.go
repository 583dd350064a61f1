package database

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/buntdb"
)

const EventTable = "events"

// seenPrefix keys mark which (target, purpose) pairs already produced a
// causing event. The marker is written in the same transaction as the
// event row, so the "first event wins" decision is atomic.
const seenPrefix = "seen"

// Event is one accepted interaction, appended to the ledger and never
// mutated. Causing is true only for the first event of its purpose for a
// target; replays and mail-client prefetch duplicates land with false.
type Event struct {
	Id         int    `json:"id"`
	Nonce      string `json:"nonce"`
	CampaignId int    `json:"campaign_id"`
	TargetId   int    `json:"target_id"`
	Purpose    string `json:"purpose"`
	Causing    bool   `json:"causing"`
	Audit      bool   `json:"audit"`
	IPHash     string `json:"ip_hash"`
	UserAgent  string `json:"useragent"`
	CreateTime int64  `json:"create_time"`
}

func (d *Database) eventsInit() {
	d.db.CreateIndex("events_id", EventTable+":*", buntdb.IndexJSON("id"))
	d.db.CreateIndex("events_campaign", EventTable+":*", buntdb.IndexJSON("campaign_id"))
	d.db.CreateIndex("events_target", EventTable+":*", buntdb.IndexJSON("target_id"))
}

// RecordEvent appends an interaction event. When audit is false the event
// competes for the idempotency marker and the returned flag says whether
// this event won it (first of its purpose for the target). Audit events
// are recorded as-is and never cause anything.
func (d *Database) RecordEvent(nonce string, campaign_id int, target_id int, purpose string, ip_hash string, useragent string, audit bool) (*Event, error) {
	e := &Event{
		Nonce:      nonce,
		CampaignId: campaign_id,
		TargetId:   target_id,
		Purpose:    purpose,
		Causing:    false,
		Audit:      audit,
		IPHash:     ip_hash,
		UserAgent:  useragent,
		CreateTime: time.Now().UTC().Unix(),
	}

	err := d.db.Update(func(tx *buntdb.Tx) error {
		id, err := d.nextIdTx(tx, EventTable)
		if err != nil {
			return err
		}
		e.Id = id

		if !audit {
			marker := fmt.Sprintf("%s:%d:%s", seenPrefix, target_id, purpose)
			if _, err := tx.Get(marker); err == buntdb.ErrNotFound {
				if _, _, err := tx.Set(marker, e.Nonce, nil); err != nil {
					return err
				}
				e.Causing = true
			} else if err != nil {
				return err
			}
		}

		jf, _ := json.Marshal(e)
		_, _, err = tx.Set(d.genIndex(EventTable, e.Id), string(jf), nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (d *Database) ListEvents(campaign_id int) ([]*Event, error) {
	events := []*Event{}
	err := d.db.View(func(tx *buntdb.Tx) error {
		tx.AscendEqual("events_campaign", d.getPivot(map[string]int{"campaign_id": campaign_id}), func(key, val string) bool {
			e := &Event{}
			if err := json.Unmarshal([]byte(val), e); err == nil {
				events = append(events, e)
			}
			return true
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (d *Database) ListTargetEvents(target_id int) ([]*Event, error) {
	events := []*Event{}
	err := d.db.View(func(tx *buntdb.Tx) error {
		tx.AscendEqual("events_target", d.getPivot(map[string]int{"target_id": target_id}), func(key, val string) bool {
			e := &Event{}
			if err := json.Unmarshal([]byte(val), e); err == nil {
				events = append(events, e)
			}
			return true
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}
