package process

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

var errNoRecord = errors.New("no process record")

// record identifies a launched node process. The command line guards
// against a recycled pid being mistaken for the node.
type record struct {
	PID     int32     `json:"pid"`
	Cmdline string    `json:"cmdline"`
	Started time.Time `json:"started"`
}

// store keeps process records in a badger db under the network's
// daemon/state directory. The db is only held open for one call so
// separate invocations of the runner can share it.
type store struct {
	dir string
}

func newStore(dir string) *store {
	return &store{dir: filepath.Clean(dir)}
}

func nodeKey(nodeID int) []byte {
	return []byte(fmt.Sprintf("node:%d", nodeID))
}

func (s *store) withDB(fn func(db *badger.DB) error) error {
	opts := badger.DefaultOptions(s.dir)
	opts.Logger = nil
	opts = opts.WithValueLogFileSize(1 << 20)
	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("couldn't open process registry %s: %w", s.dir, err)
	}
	ferr := fn(db)
	if err := db.Close(); err != nil && ferr == nil {
		return err
	}
	return ferr
}

func (s *store) put(nodeID int, rec record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.withDB(func(db *badger.DB) error {
		return db.Update(func(txn *badger.Txn) error {
			return txn.Set(nodeKey(nodeID), data)
		})
	})
}

// get returns errNoRecord when the node was never started.
func (s *store) get(nodeID int) (record, error) {
	var rec record
	err := s.withDB(func(db *badger.DB) error {
		return db.View(func(txn *badger.Txn) error {
			item, err := txn.Get(nodeKey(nodeID))
			if err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					return errNoRecord
				}
				return err
			}
			return item.Value(func(v []byte) error {
				return json.Unmarshal(v, &rec)
			})
		})
	})
	return rec, err
}

func (s *store) delete(nodeID int) error {
	return s.withDB(func(db *badger.DB) error {
		return db.Update(func(txn *badger.Txn) error {
			return txn.Delete(nodeKey(nodeID))
		})
	})
}
