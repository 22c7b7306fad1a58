package gateway

// chainrecord.go is the gateway's best-effort record of confirmed blocks,
// keyed uniquely by block_hash. Its job is idempotency: the first
// confirmation for a block is recorded and forwarded, every later one is a
// no-op. It is not a ledger; nodes own those.

import (
	"encoding/json"
	"path/filepath"

	"gitlab.com/NebulousLabs/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/water-bottle-afk/aurex/modules"
	"github.com/water-bottle-afk/aurex/persist"
)

var bucketConfirmations = []byte("Confirmations") // block_hash → BlockConfirmation

var chainRecordMetadata = persist.Metadata{
	Header:  "Aurex Gateway Chain Record",
	Version: "1.0",
}

// A chainRecord is the gateway's confirmation store.
type chainRecord struct {
	db *persist.BoltDatabase
}

// openChainRecord opens (creating if necessary) the chain record in dir.
func openChainRecord(dir string) (*chainRecord, error) {
	db, err := persist.OpenDatabase(chainRecordMetadata, filepath.Join(dir, "chain_record.db"))
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketConfirmations)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &chainRecord{db: db}, nil
}

// Close releases the store file.
func (cr *chainRecord) Close() error {
	return cr.db.Close()
}

// Record stores a confirmation if its block_hash is new, reporting whether
// this call was the first. Duplicate inserts change nothing.
func (cr *chainRecord) Record(conf modules.BlockConfirmation) (bool, error) {
	if conf.BlockHash == "" {
		return false, errors.New("confirmation carries no block hash")
	}
	value, err := json.Marshal(conf)
	if err != nil {
		return false, errors.AddContext(err, "unable to encode confirmation")
	}
	first := false
	err = cr.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketConfirmations)
		if bucket.Get([]byte(conf.BlockHash)) != nil {
			return nil
		}
		first = true
		return bucket.Put([]byte(conf.BlockHash), value)
	})
	return first, err
}

// Count returns the number of recorded confirmations.
func (cr *chainRecord) Count() (int, error) {
	count := 0
	err := cr.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(bucketConfirmations).Stats().KeyN
		return nil
	})
	return count, err
}
