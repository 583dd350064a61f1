package database

import (
	"encoding/json"
	"errors"
	"strconv"

	"github.com/tidwall/buntdb"
)

// ErrNotFound marks a lookup of a record that does not exist, as opposed
// to the store itself failing. Callers branch on it with errors.Is.
var ErrNotFound = errors.New("not found")

type Database struct {
	path string
	db   *buntdb.DB
}

func NewDatabase(path string) (*Database, error) {
	var err error
	d := &Database{
		path: path,
	}

	d.db, err = buntdb.Open(path)
	if err != nil {
		return nil, err
	}

	d.campaignsInit()
	d.targetsInit()
	d.eventsInit()
	d.trainingInit()

	d.db.Shrink()
	return d, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) Flush() {
	d.db.Shrink()
}

func (d *Database) genIndex(table_name string, id int) string {
	return table_name + ":" + strconv.Itoa(id)
}

func (d *Database) getNextId(table_name string) (int, error) {
	var id int = 1
	var err error
	err = d.db.Update(func(tx *buntdb.Tx) error {
		var s_id string
		if s_id, err = tx.Get(table_name + ":0:id"); err == nil {
			if id, err = strconv.Atoi(s_id); err != nil {
				return err
			}
		}
		tx.Set(table_name+":0:id", strconv.Itoa(id+1), nil)
		return nil
	})
	return id, err
}

// nextIdTx allocates an id inside an already open write transaction, for
// rows that must be created atomically with other keys (the event ledger).
func (d *Database) nextIdTx(tx *buntdb.Tx, table_name string) (int, error) {
	id := 1
	if s_id, err := tx.Get(table_name + ":0:id"); err == nil {
		var aerr error
		if id, aerr = strconv.Atoi(s_id); aerr != nil {
			return 0, aerr
		}
	}
	if _, _, err := tx.Set(table_name+":0:id", strconv.Itoa(id+1), nil); err != nil {
		return 0, err
	}
	return id, nil
}

func (d *Database) getPivot(t interface{}) string {
	pivot, _ := json.Marshal(t)
	return string(pivot)
}
