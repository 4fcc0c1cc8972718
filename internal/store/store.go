package store

import (
	"encoding/binary"
	"errors"
	"time"

	bolt "go.etcd.io/bbolt"

	"whisperd/internal/clock"
	"whisperd/internal/domain"
)

var (
	bucketUsers      = []byte("users")
	bucketDMs        = []byte("dms")
	bucketMessages   = []byte("messages")
	bucketMsgIndex   = []byte("messages_by_dm")
	bucketReactions  = []byte("reactions")
	bucketReactIndex = []byte("reactions_by_message")
	bucketRelations  = []byte("relations")
)

// ErrNotFound is returned when a record a caller asserted to exist is
// missing. Handlers check existence first, so it surfaces as an internal
// error.
var ErrNotFound = errors.New("store: record not found")

// Bolt persists users, relations, DMs, messages and reactions in a bbolt
// database. Every exported method runs inside one bbolt transaction and is
// therefore atomic; a returned error means the transaction rolled back.
type Bolt struct {
	db  *bolt.DB
	now func() time.Time
}

// Open creates or opens the database at path and ensures all buckets
// exist.
func Open(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{
			bucketUsers, bucketDMs, bucketMessages, bucketMsgIndex,
			bucketReactions, bucketReactIndex, bucketRelations,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Bolt{db: db, now: clock.NowTime}, nil
}

// Close releases the database file.
func (s *Bolt) Close() error { return s.db.Close() }

func itob(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func btoi(b []byte) uint64 { return binary.BigEndian.Uint64(b) }

// relationKey length-prefixes the source name so no pair of usernames can
// alias another pair's key, whatever bytes the names contain.
func relationKey(from, to string) []byte {
	k := make([]byte, 0, len(from)+len(to)+8)
	k = append(k, itob(uint64(len(from)))...)
	k = append(k, from...)
	k = append(k, to...)
	return k
}

func splitRelationKey(k []byte) (from, to string) {
	n := btoi(k[:8])
	return string(k[8 : 8+n]), string(k[8+n:])
}

var _ domain.Store = (*Bolt)(nil)
