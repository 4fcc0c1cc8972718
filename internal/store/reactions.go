package store

import (
	"bytes"
	"encoding/json"

	bolt "go.etcd.io/bbolt"

	"whisperd/internal/domain"
)

// reactionRecord is the storage shape of a reaction. MessageID never
// appears on the wire; it only backs deletion and the per-message index.
type reactionRecord struct {
	domain.Reaction
	MessageID int64 `json:"message_id"`
}

func reactIndexKey(messageID, reactionID uint64) []byte {
	k := make([]byte, 0, 16)
	k = append(k, itob(messageID)...)
	k = append(k, itob(reactionID)...)
	return k
}

// CreateReaction inserts a reaction on the message and returns its id.
func (s *Bolt) CreateReaction(messageID int64, sender, reaction, signature string) (int64, error) {
	var id int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReactions)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		id = int64(seq)
		rec := reactionRecord{
			Reaction: domain.Reaction{
				ID:        id,
				Sender:    sender,
				Reaction:  reaction,
				Signature: signature,
			},
			MessageID: messageID,
		}
		raw, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := b.Put(itob(seq), raw); err != nil {
			return err
		}
		return tx.Bucket(bucketReactIndex).Put(reactIndexKey(uint64(messageID), seq), itob(seq))
	})
	return id, err
}

// GetReaction returns the reaction by id.
func (s *Bolt) GetReaction(id int64) (domain.Reaction, error) {
	var rec reactionRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketReactions).Get(itob(uint64(id)))
		if raw == nil {
			return ErrNotFound
		}
		return json.Unmarshal(raw, &rec)
	})
	return rec.Reaction, err
}

// ReactionExists reports whether the reaction id is known.
func (s *Bolt) ReactionExists(id int64) (bool, error) {
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		ok = tx.Bucket(bucketReactions).Get(itob(uint64(id))) != nil
		return nil
	})
	return ok, err
}

// DeleteReaction removes the reaction and returns the id of the message it
// was attached to.
func (s *Bolt) DeleteReaction(id int64) (int64, error) {
	var messageID int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReactions)
		raw := b.Get(itob(uint64(id)))
		if raw == nil {
			return ErrNotFound
		}
		var rec reactionRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		messageID = rec.MessageID
		if err := b.Delete(itob(uint64(id))); err != nil {
			return err
		}
		return tx.Bucket(bucketReactIndex).Delete(reactIndexKey(uint64(messageID), uint64(id)))
	})
	return messageID, err
}

// reactionsOf returns the message's reactions in insertion order.
func reactionsOf(tx *bolt.Tx, messageID uint64) ([]domain.Reaction, error) {
	out := []domain.Reaction{}
	prefix := itob(messageID)
	b := tx.Bucket(bucketReactions)
	c := tx.Bucket(bucketReactIndex).Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		raw := b.Get(v)
		if raw == nil {
			return nil, ErrNotFound
		}
		var rec reactionRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, err
		}
		out = append(out, rec.Reaction)
	}
	return out, nil
}

// deleteReactionsOf removes every reaction attached to the message. Keys
// are collected before deleting so the cursor never walks a mutating
// bucket.
func deleteReactionsOf(tx *bolt.Tx, messageID uint64) error {
	prefix := itob(messageID)
	var keys, ids [][]byte
	c := tx.Bucket(bucketReactIndex).Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
		ids = append(ids, append([]byte(nil), v...))
	}
	b := tx.Bucket(bucketReactions)
	idx := tx.Bucket(bucketReactIndex)
	for i := range keys {
		if err := b.Delete(ids[i]); err != nil {
			return err
		}
		if err := idx.Delete(keys[i]); err != nil {
			return err
		}
	}
	return nil
}
