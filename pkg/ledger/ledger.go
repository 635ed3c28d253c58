// Package ledger persists the cross-ceremony history the Chain Validator
// needs but a single KSR/SKR pair can't provide on its own: every KSR id
// ever accepted (spec §4.3's KSR-ID check). Grounded on the teacher's
// pkg/store bbolt backend — same single-bucket View/Update shape, adapted
// from an arbitrary key/value store to a single append-only id history.
package ledger

import (
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("ksr_ids")

// ErrKeyNotFound mirrors the teacher's store.ErrKeyNotFound sentinel.
var ErrKeyNotFound = errors.New("ledger: id not found")

// Ledger is the bbolt-backed history of accepted KSR ids, keyed by id and
// storing the acceptance timestamp as the value.
type Ledger struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the ledger database at path.
func Open(path string) (*Ledger, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: create bucket: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Seen reports whether id has already been accepted by a prior ceremony
// (spec §4.3's KSR-ID: "current_request.id ≠ any id observed in prior
// responses, within retained history").
func (l *Ledger) Seen(id string) (bool, error) {
	var found bool
	err := l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		found = b.Get([]byte(id)) != nil
		return nil
	})
	return found, err
}

// Record appends id to the history, stamped with when it was accepted.
// Recording an id that is already present is not an error: its stored
// timestamp is overwritten with acceptedAt.
func (l *Ledger) Record(id string, acceptedAt time.Time) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		stamp, err := acceptedAt.UTC().MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put([]byte(id), stamp)
	})
}

// AcceptedAt returns when id was recorded, or ErrKeyNotFound if it never
// was.
func (l *Ledger) AcceptedAt(id string) (time.Time, error) {
	var t time.Time
	err := l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		v := b.Get([]byte(id))
		if v == nil {
			return ErrKeyNotFound
		}
		return t.UnmarshalBinary(v)
	})
	return t, err
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}
