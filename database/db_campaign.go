package database

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/buntdb"
)

const CampaignTable = "campaigns"

const (
	CampaignStatusDraft  = "draft"
	CampaignStatusActive = "active"
	CampaignStatusClosed = "closed"
)

type Campaign struct {
	Id         int    `json:"id"`
	Name       string `json:"name"`
	Scenario   string `json:"scenario"`
	Status     string `json:"status"`
	LandingURL string `json:"landing_url"`
	CreateTime int64  `json:"create_time"`
	UpdateTime int64  `json:"update_time"`
}

func (d *Database) campaignsInit() {
	d.db.CreateIndex("campaigns_id", CampaignTable+":*", buntdb.IndexJSON("id"))
	d.db.CreateIndex("campaigns_status", CampaignTable+":*", buntdb.IndexJSON("status"))
}

func (d *Database) CreateCampaign(name string, scenario string, landing_url string) (*Campaign, error) {
	id, err := d.getNextId(CampaignTable)
	if err != nil {
		return nil, err
	}

	c := &Campaign{
		Id:         id,
		Name:       name,
		Scenario:   scenario,
		Status:     CampaignStatusDraft,
		LandingURL: landing_url,
		CreateTime: time.Now().UTC().Unix(),
		UpdateTime: time.Now().UTC().Unix(),
	}

	jf, _ := json.Marshal(c)

	err = d.db.Update(func(tx *buntdb.Tx) error {
		tx.Set(d.genIndex(CampaignTable, id), string(jf), nil)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (d *Database) GetCampaign(id int) (*Campaign, error) {
	c := &Campaign{}
	err := d.db.View(func(tx *buntdb.Tx) error {
		found := false
		err := tx.AscendEqual("campaigns_id", d.getPivot(map[string]int{"id": id}), func(key, val string) bool {
			json.Unmarshal([]byte(val), c)
			found = true
			return false
		})
		if !found {
			return fmt.Errorf("%w: campaign %d", ErrNotFound, id)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (d *Database) ListCampaigns() ([]*Campaign, error) {
	campaigns := []*Campaign{}
	err := d.db.View(func(tx *buntdb.Tx) error {
		tx.Ascend("campaigns_id", func(key, val string) bool {
			c := &Campaign{}
			if err := json.Unmarshal([]byte(val), c); err == nil {
				campaigns = append(campaigns, c)
			}
			return true
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return campaigns, nil
}

// SetCampaignStatus moves a campaign along draft -> active -> closed.
// Campaigns never reopen and drafts cannot be closed without running.
func (d *Database) SetCampaignStatus(id int, status string) (*Campaign, error) {
	c, err := d.GetCampaign(id)
	if err != nil {
		return nil, err
	}

	legal := map[string]string{
		CampaignStatusDraft:  CampaignStatusActive,
		CampaignStatusActive: CampaignStatusClosed,
	}
	if next, ok := legal[c.Status]; !ok || next != status {
		return nil, fmt.Errorf("illegal campaign status change: %s -> %s", c.Status, status)
	}

	c.Status = status
	c.UpdateTime = time.Now().UTC().Unix()

	if err := d.campaignsUpdate(c.Id, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (d *Database) campaignsUpdate(id int, c *Campaign) error {
	jf, _ := json.Marshal(c)

	err := d.db.Update(func(tx *buntdb.Tx) error {
		tx.Set(d.genIndex(CampaignTable, id), string(jf), nil)
		return nil
	})
	return err
}
