package store

import (
	"bytes"
	"encoding/json"
	"math"
	"time"

	bolt "go.etcd.io/bbolt"

	"whisperd/internal/clock"
	"whisperd/internal/domain"
)

// msgRecord is the storage shape of a message. Reactions live in their own
// bucket; TsNano duplicates the timestamp for index-key maintenance.
type msgRecord struct {
	domain.Message
	TsNano uint64 `json:"ts_nano"`
}

// indexNano converts a timestamp to the index key ordinal. UnixNano wraps
// past the year 2262, so out-of-range cursors are clamped to the ends of
// the key space instead of sorting into the middle of it.
func indexNano(t time.Time) uint64 {
	if !t.After(time.Unix(0, 0)) {
		return 0
	}
	if !t.Before(time.Unix(0, math.MaxInt64)) {
		return math.MaxUint64
	}
	return uint64(t.UnixNano())
}

// msgIndexKey orders messages by (dm, timestamp, id), which makes the
// highest key per DM the latest message and gives cursor pagination the id
// tie-break for free.
func msgIndexKey(dmID int64, tsNano, msgID uint64) []byte {
	k := make([]byte, 0, 24)
	k = append(k, itob(uint64(dmID))...)
	k = append(k, itob(tsNano)...)
	k = append(k, itob(msgID)...)
	return k
}

// CreateMessage inserts a message with a server-assigned UTC timestamp.
// deleteAfter > 0 records the self-destruct deadline. Returns the full
// message DTO with an empty reaction list.
func (s *Bolt) CreateMessage(dmID int64, sender, message, signature string, deleteAfter time.Duration) (domain.Message, error) {
	t := s.now()
	var out domain.Message
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMessages)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		rec := msgRecord{
			Message: domain.Message{
				ID:        int64(seq),
				DMID:      dmID,
				Sender:    sender,
				Message:   message,
				Signature: signature,
				Timestamp: clock.Format(t),
			},
			TsNano: uint64(t.UnixNano()),
		}
		if deleteAfter > 0 {
			dt := clock.Format(t.Add(deleteAfter))
			rec.DeleteTimestamp = &dt
		}
		raw, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := b.Put(itob(seq), raw); err != nil {
			return err
		}
		if err := tx.Bucket(bucketMsgIndex).Put(msgIndexKey(dmID, rec.TsNano, seq), itob(seq)); err != nil {
			return err
		}
		out = rec.Message
		out.Reactions = []domain.Reaction{}
		return nil
	})
	return out, err
}

// GetMessage returns a message with its reactions.
func (s *Bolt) GetMessage(id int64) (domain.Message, error) {
	var out domain.Message
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		out, err = messageWithReactions(tx, uint64(id))
		return err
	})
	return out, err
}

// MessageExists reports whether the message id is known.
func (s *Bolt) MessageExists(id int64) (bool, error) {
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		ok = tx.Bucket(bucketMessages).Get(itob(uint64(id))) != nil
		return nil
	})
	return ok, err
}

// MessageInUserDM reports whether the message belongs to a DM the user is
// a member of.
func (s *Bolt) MessageInUserDM(id int64, username string) (bool, error) {
	var in bool
	err := s.db.View(func(tx *bolt.Tx) error {
		var rec msgRecord
		if err := getMessage(tx, uint64(id), &rec); err != nil {
			if err == ErrNotFound {
				return nil
			}
			return err
		}
		var dm dmRecord
		if err := getDM(tx, rec.DMID, &dm); err != nil {
			if err == ErrNotFound {
				return nil
			}
			return err
		}
		for _, u := range dm.Users {
			if u == username {
				in = true
				break
			}
		}
		return nil
	})
	return in, err
}

// Messages returns up to limit messages with timestamp strictly before
// cursor, newest first, with reactions attached.
func (s *Bolt) Messages(dmID int64, cursor time.Time, limit int) ([]domain.Message, error) {
	out := []domain.Message{}
	if limit <= 0 {
		return out, nil
	}
	err := s.db.View(func(tx *bolt.Tx) error {
		prefix := itob(uint64(dmID))
		upper := msgIndexKey(dmID, indexNano(cursor), 0)

		c := tx.Bucket(bucketMsgIndex).Cursor()
		k, v := c.Seek(upper)
		if k == nil {
			k, v = c.Last()
		} else {
			k, v = c.Prev()
		}
		for ; k != nil && bytes.HasPrefix(k, prefix); k, v = c.Prev() {
			m, err := messageWithReactions(tx, btoi(v))
			if err != nil {
				return err
			}
			out = append(out, m)
			if len(out) == limit {
				break
			}
		}
		return nil
	})
	return out, err
}

// PinnedMessages returns every pinned message in the DM, newest first,
// with reactions attached.
func (s *Bolt) PinnedMessages(dmID int64) ([]domain.Message, error) {
	out := []domain.Message{}
	err := s.db.View(func(tx *bolt.Tx) error {
		prefix := itob(uint64(dmID))
		c := tx.Bucket(bucketMsgIndex).Cursor()
		k, v := seekPrefixLast(c, prefix)
		for ; k != nil && bytes.HasPrefix(k, prefix); k, v = c.Prev() {
			var rec msgRecord
			if err := getMessage(tx, btoi(v), &rec); err != nil {
				return err
			}
			if !rec.Pinned {
				continue
			}
			m, err := attachReactions(tx, rec)
			if err != nil {
				return err
			}
			out = append(out, m)
		}
		return nil
	})
	return out, err
}

// UpdateMessage applies an edit and/or pin change. The timestamp is never
// touched, so the index stays valid.
func (s *Bolt) UpdateMessage(id int64, patch domain.MessagePatch) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var rec msgRecord
		if err := getMessage(tx, uint64(id), &rec); err != nil {
			return err
		}
		if patch.Message != nil {
			rec.Message.Message = *patch.Message
		}
		if patch.Signature != nil {
			rec.Signature = *patch.Signature
		}
		if patch.Pinned != nil {
			rec.Pinned = *patch.Pinned
		}
		return putMessage(tx, rec)
	})
}

// DeleteMessage removes the message, its index entry and its reactions.
func (s *Bolt) DeleteMessage(id int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var rec msgRecord
		if err := getMessage(tx, uint64(id), &rec); err != nil {
			return err
		}
		if err := tx.Bucket(bucketMessages).Delete(itob(uint64(id))); err != nil {
			return err
		}
		if err := tx.Bucket(bucketMsgIndex).Delete(msgIndexKey(rec.DMID, rec.TsNano, uint64(id))); err != nil {
			return err
		}
		return deleteReactionsOf(tx, uint64(id))
	})
}

// latestMessage returns the newest message in the DM, if any.
func latestMessage(tx *bolt.Tx, dmID int64) (domain.Message, bool, error) {
	prefix := itob(uint64(dmID))
	c := tx.Bucket(bucketMsgIndex).Cursor()
	k, v := seekPrefixLast(c, prefix)
	if k == nil || !bytes.HasPrefix(k, prefix) {
		return domain.Message{}, false, nil
	}
	m, err := messageWithReactions(tx, btoi(v))
	if err != nil {
		return domain.Message{}, false, err
	}
	return m, true, nil
}

// seekPrefixLast positions the cursor at the greatest key with the given
// 8-byte prefix (or the greatest key below it).
func seekPrefixLast(c *bolt.Cursor, prefix []byte) ([]byte, []byte) {
	next := itob(btoi(prefix) + 1)
	k, _ := c.Seek(next)
	if k == nil {
		return c.Last()
	}
	return c.Prev()
}

func messageWithReactions(tx *bolt.Tx, id uint64) (domain.Message, error) {
	var rec msgRecord
	if err := getMessage(tx, id, &rec); err != nil {
		return domain.Message{}, err
	}
	return attachReactions(tx, rec)
}

func attachReactions(tx *bolt.Tx, rec msgRecord) (domain.Message, error) {
	reactions, err := reactionsOf(tx, uint64(rec.ID))
	if err != nil {
		return domain.Message{}, err
	}
	m := rec.Message
	m.Reactions = reactions
	return m, nil
}

func getMessage(tx *bolt.Tx, id uint64, rec *msgRecord) error {
	raw := tx.Bucket(bucketMessages).Get(itob(id))
	if raw == nil {
		return ErrNotFound
	}
	return json.Unmarshal(raw, rec)
}

func putMessage(tx *bolt.Tx, rec msgRecord) error {
	rec.Reactions = nil
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketMessages).Put(itob(uint64(rec.ID)), raw)
}
