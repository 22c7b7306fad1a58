package persist

import (
	"errors"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	// ErrNilEntry is returned when a bucket lookup finds no value for a key.
	ErrNilEntry = errors.New("entry does not exist")
	// ErrNilBucket is returned when an expected bucket is missing.
	ErrNilBucket = errors.New("bucket does not exist")
)

// BoltDatabase is a persist-level wrapper for a bolt database, with a
// metadata header that identifies the file and gates incompatible versions.
type BoltDatabase struct {
	Metadata
	*bolt.DB
}

// updateMetadata sets the contents of the metadata bucket to the database's
// own metadata.
func (db *BoltDatabase) updateMetadata(tx *bolt.Tx) error {
	bucket, err := tx.CreateBucketIfNotExists([]byte("Metadata"))
	if err != nil {
		return err
	}
	err = bucket.Put([]byte("Header"), []byte(db.Header))
	if err != nil {
		return err
	}
	err = bucket.Put([]byte("Version"), []byte(db.Version))
	if err != nil {
		return err
	}
	return nil
}

// checkMetadata confirms that the metadata in the database is correct. If
// there is no metadata, correct metadata is inserted, which makes opening a
// fresh file and reopening an existing one the same operation.
func (db *BoltDatabase) checkMetadata(md Metadata) error {
	err := db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte("Metadata"))
		if bucket == nil {
			return db.updateMetadata(tx)
		}
		header := bucket.Get([]byte("Header"))
		if string(header) != md.Header {
			return ErrBadHeader
		}
		version := bucket.Get([]byte("Version"))
		if string(version) != md.Version {
			return ErrBadVersion
		}
		return nil
	})
	return err
}

// OpenDatabase opens a database filename and checks its metadata.
func OpenDatabase(md Metadata, filename string) (*BoltDatabase, error) {
	// A timeout keeps a second process contending for the file lock from
	// hanging indefinitely.
	db, err := bolt.Open(filename, 0600, &bolt.Options{Timeout: 3 * time.Second})
	if err != nil {
		return nil, err
	}
	boltDB := &BoltDatabase{
		Metadata: md,
		DB:       db,
	}
	err = boltDB.checkMetadata(md)
	if err != nil {
		db.Close()
		return nil, err
	}
	return boltDB, nil
}
