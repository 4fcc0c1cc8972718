package store

import (
	"encoding/json"

	bolt "go.etcd.io/bbolt"

	"whisperd/internal/domain"
)

// CreateUser inserts a new user with default profile fields. The caller
// has already checked uniqueness and key validity.
func (s *Bolt) CreateUser(username, publicKey, spk, sig, ownStorage string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		u := domain.User{
			ID:           int64(id),
			Username:     username,
			PublicKey:    publicKey,
			SPK:          spk,
			Sig:          sig,
			Status:       "online",
			OwnStorage:   ownStorage,
			X3DHRequests: []json.RawMessage{},
		}
		raw, err := json.Marshal(u)
		if err != nil {
			return err
		}
		return b.Put([]byte(username), raw)
	})
}

// GetUser returns the full user record.
func (s *Bolt) GetUser(username string) (domain.User, error) {
	var u domain.User
	err := s.db.View(func(tx *bolt.Tx) error {
		return getUser(tx, username, &u)
	})
	return u, err
}

// UserExists reports whether username is registered.
func (s *Bolt) UserExists(username string) (bool, error) {
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		ok = tx.Bucket(bucketUsers).Get([]byte(username)) != nil
		return nil
	})
	return ok, err
}

// ListUsers returns every user record.
func (s *Bolt) ListUsers() ([]domain.User, error) {
	var out []domain.User
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(_, v []byte) error {
			var u domain.User
			if err := json.Unmarshal(v, &u); err != nil {
				return err
			}
			out = append(out, u)
			return nil
		})
	})
	return out, err
}

// UpdateUser applies patch to the stored user.
func (s *Bolt) UpdateUser(username string, patch domain.UserPatch) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var u domain.User
		if err := getUser(tx, username, &u); err != nil {
			return err
		}
		if patch.SPK != nil {
			u.SPK = *patch.SPK
		}
		if patch.Sig != nil {
			u.Sig = *patch.Sig
		}
		if patch.Status != nil {
			u.Status = *patch.Status
		}
		if patch.Biography != nil {
			u.Biography = *patch.Biography
		}
		if patch.ProfilePicture != nil {
			u.ProfilePicture = *patch.ProfilePicture
		}
		if patch.OwnStorage != nil {
			u.OwnStorage = *patch.OwnStorage
		}
		return putUser(tx, u)
	})
}

// AppendX3DH appends a bundle to the target's offline inbox.
func (s *Bolt) AppendX3DH(username string, payload json.RawMessage) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var u domain.User
		if err := getUser(tx, username, &u); err != nil {
			return err
		}
		u.X3DHRequests = append(u.X3DHRequests, payload)
		return putUser(tx, u)
	})
}

// TakeX3DH returns the user's queued bundles and clears the inbox in the
// same transaction, so each bundle is handed out exactly once.
func (s *Bolt) TakeX3DH(username string) ([]json.RawMessage, error) {
	var out []json.RawMessage
	err := s.db.Update(func(tx *bolt.Tx) error {
		var u domain.User
		if err := getUser(tx, username, &u); err != nil {
			return err
		}
		out = u.X3DHRequests
		u.X3DHRequests = []json.RawMessage{}
		return putUser(tx, u)
	})
	return out, err
}

func getUser(tx *bolt.Tx, username string, u *domain.User) error {
	raw := tx.Bucket(bucketUsers).Get([]byte(username))
	if raw == nil {
		return ErrNotFound
	}
	return json.Unmarshal(raw, u)
}

func putUser(tx *bolt.Tx, u domain.User) error {
	raw, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketUsers).Put([]byte(u.Username), raw)
}
